package plasmite

import (
	"context"
	"io"
	"time"
)

// Tailer delivers live messages from a pool cursor, optionally filtered
// by tag membership. It is a pull-based state machine: each Next call
// performs at most one boundary fetch per candidate message and there
// is no read-ahead.
type Tailer struct {
	stream    Stream
	matcher   func(*Message) bool
	max       *uint64
	delivered uint64
	closed    bool
}

// Tail opens a cursor on pool bounded by opts. When opts.Tags is empty
// the tailer is a pure pass-through: no tag matching runs and the max
// bound is pushed down to the cursor. With a filter, only kept messages
// count toward opts.MaxMessages, so the cursor itself stays unbounded
// in count.
func Tail(pool Pool, opts TailOptions) (*Tailer, error) {
	cursorMax := opts.MaxMessages
	t := &Tailer{max: opts.MaxMessages}
	if len(opts.Tags) > 0 {
		cursorMax = nil
		required := append([]string(nil), opts.Tags...)
		t.matcher = func(m *Message) bool { return m.HasTags(required) }
	}

	stream, err := pool.OpenStream(opts.SinceSeq, cursorMax, timeoutMillis(opts.Timeout))
	if err != nil {
		return nil, err
	}
	t.stream = stream
	return t, nil
}

// Next returns the next kept message. It returns io.EOF once the kept
// count reaches the bound or the cursor reports nothing further before
// its timeout; a tailer that has been closed fails with the Usage
// closed error.
func (t *Tailer) Next(ctx context.Context) (*Message, error) {
	if t.closed {
		return nil, ClosedError("tailer")
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if t.max != nil && t.delivered >= *t.max {
			return nil, io.EOF
		}
		raw, err := t.stream.NextJSON()
		if err != nil {
			return nil, err
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		if t.matcher != nil && !t.matcher(msg) {
			continue
		}
		t.delivered++
		return msg, nil
	}
}

// Close releases the underlying cursor. Safe to call more than once.
func (t *Tailer) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.stream.Close()
}

func timeoutMillis(timeout time.Duration) *uint64 {
	if timeout <= 0 {
		return nil
	}
	ms := uint64(timeout.Milliseconds())
	return &ms
}
