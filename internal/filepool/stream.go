package filepool

import (
	"io"
	"time"

	"github.com/sandover/plasmite-go"
)

const (
	defaultFetchTimeout = time.Second
	pollInterval        = 10 * time.Millisecond
)

// cursor is the shared state machine behind both stream flavors. It
// holds no file handle of its own; each advance asks the pool for the
// first record past the last seen seq, polling until the per-fetch
// timeout runs out.
type cursor struct {
	pool      *Pool
	lastSeq   uint64
	remaining *uint64
	timeout   time.Duration
	jsonOnly  bool
	closed    bool
}

func newCursor(pool *Pool, sinceSeq, maxMessages, timeoutMs *uint64, jsonOnly bool) *cursor {
	c := &cursor{pool: pool, timeout: defaultFetchTimeout, jsonOnly: jsonOnly}
	if sinceSeq != nil {
		c.lastSeq = *sinceSeq
	}
	if maxMessages != nil {
		budget := *maxMessages
		c.remaining = &budget
	}
	if timeoutMs != nil {
		c.timeout = time.Duration(*timeoutMs) * time.Millisecond
	}
	return c
}

// advance blocks for at most the fetch timeout. io.EOF means no item
// within the timeout or a spent budget; the cursor stays usable.
func (c *cursor) advance() (record, []byte, error) {
	if c.closed {
		return record{}, nil, plasmite.ClosedError("stream")
	}
	if c.remaining != nil && *c.remaining == 0 {
		return record{}, nil, io.EOF
	}
	deadline := time.Now().Add(c.timeout)
	for {
		rec, payload, ok, err := c.pool.nextAfter(c.lastSeq, c.jsonOnly)
		if err != nil {
			return record{}, nil, err
		}
		if ok {
			c.lastSeq = rec.seq
			if c.remaining != nil {
				*c.remaining--
			}
			return rec, payload, nil
		}
		if !time.Now().Before(deadline) {
			return record{}, nil, io.EOF
		}
		time.Sleep(pollInterval)
	}
}

func (c *cursor) close() {
	c.closed = true
}

// Stream delivers JSON message envelopes in strictly increasing seq
// order.
type Stream struct {
	cursor
}

var (
	_ plasmite.Stream      = (*Stream)(nil)
	_ plasmite.Lite3Stream = (*Lite3Stream)(nil)
)

func (p *Pool) OpenStream(sinceSeq, maxMessages, timeoutMs *uint64) (plasmite.Stream, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, plasmite.ClosedError("pool")
	}
	return &Stream{cursor: *newCursor(p, sinceSeq, maxMessages, timeoutMs, true)}, nil
}

func (s *Stream) NextJSON() ([]byte, error) {
	_, payload, err := s.advance()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Stream) Close() {
	s.close()
}

// Lite3Stream delivers binary frames in strictly increasing seq order.
// JSON records are included; their payload is the envelope bytes.
type Lite3Stream struct {
	cursor
}

func (p *Pool) OpenLite3Stream(sinceSeq, maxMessages, timeoutMs *uint64) (plasmite.Lite3Stream, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, plasmite.ClosedError("pool")
	}
	return &Lite3Stream{cursor: *newCursor(p, sinceSeq, maxMessages, timeoutMs, false)}, nil
}

func (s *Lite3Stream) Next() (*plasmite.Lite3Frame, error) {
	rec, payload, err := s.advance()
	if err != nil {
		return nil, err
	}
	return &plasmite.Lite3Frame{
		Seq:         rec.seq,
		TimestampNs: rec.timestampNs,
		Flags:       rec.flags,
		Payload:     payload,
	}, nil
}

func (s *Lite3Stream) Close() {
	s.close()
}
