package plasmite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// stubStream replays canned envelopes then io.EOF.
type stubStream struct {
	envelopes [][]byte
	pos       int
	closed    bool
}

func (s *stubStream) NextJSON() ([]byte, error) {
	if s.pos >= len(s.envelopes) {
		return nil, io.EOF
	}
	raw := s.envelopes[s.pos]
	s.pos++
	return raw, nil
}

func (s *stubStream) Close() { s.closed = true }

// stubPool hands out one stubStream and records the cursor bounds it was
// asked for.
type stubPool struct {
	stream    *stubStream
	sinceSeq  *uint64
	maxMsgs   *uint64
	timeoutMs *uint64
	openErr   error
}

func (p *stubPool) AppendJSON([]byte, []string, Durability) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (p *stubPool) Append(any, []string, ...AppendOption) (*Message, error) {
	return nil, errors.New("not implemented")
}
func (p *stubPool) AppendLite3([]byte, Durability) (uint64, error) {
	return 0, errors.New("not implemented")
}
func (p *stubPool) GetJSON(uint64) ([]byte, error)    { return nil, errors.New("not implemented") }
func (p *stubPool) Get(uint64) (*Message, error)      { return nil, errors.New("not implemented") }
func (p *stubPool) GetLite3(uint64) (*Lite3Frame, error) {
	return nil, errors.New("not implemented")
}

func (p *stubPool) OpenStream(sinceSeq, maxMessages, timeoutMs *uint64) (Stream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.sinceSeq = sinceSeq
	p.maxMsgs = maxMessages
	p.timeoutMs = timeoutMs
	return p.stream, nil
}

func (p *stubPool) OpenLite3Stream(sinceSeq, maxMessages, timeoutMs *uint64) (Lite3Stream, error) {
	return nil, errors.New("not implemented")
}

func (p *stubPool) Close() {}

func envelope(t *testing.T, seq uint64, at time.Time, data string, tags ...string) []byte {
	t.Helper()
	raw, err := EncodeMessage(seq, at, []byte(data), tags)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	return raw
}

func TestTailPassThroughPushesBoundsDown(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `{"n":1}`),
		envelope(t, 2, base, `{"n":2}`),
	}}}

	since := uint64(0)
	max := uint64(2)
	tailer, err := Tail(pool, TailOptions{SinceSeq: &since, MaxMessages: &max, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	defer tailer.Close()

	if pool.sinceSeq == nil || *pool.sinceSeq != 0 {
		t.Error("since_seq not forwarded to cursor")
	}
	if pool.maxMsgs == nil || *pool.maxMsgs != 2 {
		t.Error("max not pushed down for unfiltered tail")
	}
	if pool.timeoutMs == nil || *pool.timeoutMs != 200 {
		t.Errorf("timeout not forwarded: %v", pool.timeoutMs)
	}

	ctx := context.Background()
	for want := uint64(1); want <= 2; want++ {
		msg, err := tailer.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if msg.Seq != want {
			t.Fatalf("seq = %d, want %d", msg.Seq, want)
		}
	}
	if _, err := tailer.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF after budget, got %v", err)
	}
}

func TestTailFilterCountsKeptMessagesOnly(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `{"n":1}`, "keep"),
		envelope(t, 2, base, `{"n":2}`, "other"),
		envelope(t, 3, base, `{"n":3}`, "keep", "other"),
		envelope(t, 4, base, `{"n":4}`, "keep"),
	}}}

	max := uint64(2)
	tailer, err := Tail(pool, TailOptions{MaxMessages: &max, Tags: []string{"keep"}})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	defer tailer.Close()

	if pool.maxMsgs != nil {
		t.Error("cursor must stay unbounded when a tag filter is set")
	}

	ctx := context.Background()
	var got []uint64
	for {
		msg, err := tailer.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, msg.Seq)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("kept seqs = %v, want [1 3]", got)
	}
}

func TestTailClosedFailsWithUsage(t *testing.T) {
	pool := &stubPool{stream: &stubStream{}}
	tailer, err := Tail(pool, TailOptions{})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	tailer.Close()
	tailer.Close()
	if !pool.stream.closed {
		t.Error("underlying cursor not released")
	}

	_, err = tailer.Next(context.Background())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrorUsage {
		t.Fatalf("expected Usage error on closed tailer, got %v", err)
	}
}

func TestTailHonorsContextCancellation(t *testing.T) {
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, time.Now().UTC(), `1`),
	}}}
	tailer, err := Tail(pool, TailOptions{})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	defer tailer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tailer.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTailPropagatesOpenFailure(t *testing.T) {
	pool := &stubPool{openErr: fmt.Errorf("cursor open: %w", ClosedError("pool"))}
	if _, err := Tail(pool, TailOptions{}); err == nil {
		t.Fatal("expected open error")
	}
}
