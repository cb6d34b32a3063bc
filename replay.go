package plasmite

import (
	"context"
	"io"
	"time"
)

// Replayer delivers messages with their original inter-message timing
// scaled by a speed factor. Filtering works exactly as in Tailer; the
// pacing baseline is the timestamp of the last delivered (post-filter)
// message, so filtered-out messages never contribute to a delay.
type Replayer struct {
	stream    Stream
	matcher   func(*Message) bool
	max       *uint64
	delivered uint64
	speed     float64
	prev      time.Time
	hasPrev   bool
	closed    bool

	// sleep is swapped out by pacing tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Replay opens a pacing cursor on pool. opts.Speed must be positive;
// a non-positive speed is a local validation error.
func Replay(pool Pool, opts ReplayOptions) (*Replayer, error) {
	if opts.Speed <= 0 {
		return nil, InvalidArgumentError("replay speed must be positive")
	}

	cursorMax := opts.MaxMessages
	r := &Replayer{
		max:   opts.MaxMessages,
		speed: opts.Speed,
		sleep: sleepFor,
	}
	if len(opts.Tags) > 0 {
		cursorMax = nil
		required := append([]string(nil), opts.Tags...)
		r.matcher = func(m *Message) bool { return m.HasTags(required) }
	}

	stream, err := pool.OpenStream(opts.SinceSeq, cursorMax, timeoutMillis(opts.Timeout))
	if err != nil {
		return nil, err
	}
	r.stream = stream
	return r, nil
}

// Next returns the next kept message after its scaled delay. The first
// delivered message is yielded immediately; each later one waits
// (messageTime - prevDeliveredTime) / speed, clamped at zero. Delays
// hold no lock or native resource and are cancelled by ctx.
func (r *Replayer) Next(ctx context.Context) (*Message, error) {
	if r.closed {
		return nil, ClosedError("replayer")
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if r.max != nil && r.delivered >= *r.max {
			return nil, io.EOF
		}
		raw, err := r.stream.NextJSON()
		if err != nil {
			return nil, err
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		if r.matcher != nil && !r.matcher(msg) {
			continue
		}

		if r.hasPrev {
			delta := msg.Time.Sub(r.prev)
			if delta > 0 {
				delay := time.Duration(float64(delta) / r.speed)
				if delay > 0 {
					if err := r.sleep(ctx, delay); err != nil {
						return nil, err
					}
				}
			}
		}
		r.prev = msg.Time
		r.hasPrev = true
		r.delivered++
		return msg, nil
	}
}

// Close releases the underlying cursor. Safe to call more than once.
func (r *Replayer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.stream.Close()
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
