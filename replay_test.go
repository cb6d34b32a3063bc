package plasmite

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func newRecordingReplayer(t *testing.T, pool Pool, opts ReplayOptions) (*Replayer, *[]time.Duration) {
	t.Helper()
	r, err := Replay(pool, opts)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestReplayRejectsNonPositiveSpeed(t *testing.T) {
	pool := &stubPool{stream: &stubStream{}}
	for _, speed := range []float64{0, -1} {
		if _, err := Replay(pool, ReplayOptions{Speed: speed}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("speed %v: expected ErrInvalidArgument, got %v", speed, err)
		}
	}
}

func TestReplayScalesInterMessageDelays(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `1`),
		envelope(t, 2, base.Add(100*time.Millisecond), `2`),
		envelope(t, 3, base.Add(300*time.Millisecond), `3`),
	}}}

	r, slept := newRecordingReplayer(t, pool, ReplayOptions{Speed: 2})
	defer r.Close()

	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		msg, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if msg.Seq != want {
			t.Fatalf("seq = %d, want %d", msg.Seq, want)
		}
	}
	if _, err := r.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF after drain, got %v", err)
	}

	// First message is immediate; the two gaps (100ms, 200ms) halve at
	// speed 2.
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestReplayPacesAgainstDeliveredMessagesOnly(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `1`, "keep"),
		envelope(t, 2, base.Add(100*time.Millisecond), `2`),
		envelope(t, 3, base.Add(300*time.Millisecond), `3`, "keep"),
	}}}

	r, slept := newRecordingReplayer(t, pool, ReplayOptions{Speed: 1, Tags: []string{"keep"}})
	defer r.Close()

	ctx := context.Background()
	first, err := r.Next(ctx)
	if err != nil || first.Seq != 1 {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := r.Next(ctx)
	if err != nil || second.Seq != 3 {
		t.Fatalf("second = %v, %v", second, err)
	}

	// The skipped message must not reset the baseline: seq 3 waits its
	// full 300ms distance from seq 1.
	if len(*slept) != 1 || (*slept)[0] != 300*time.Millisecond {
		t.Fatalf("slept %v, want [300ms]", *slept)
	}
}

func TestReplayClampsBackwardsTimestamps(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `1`),
		envelope(t, 2, base.Add(-time.Second), `2`),
	}}}

	r, slept := newRecordingReplayer(t, pool, ReplayOptions{Speed: 1})
	defer r.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := r.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if len(*slept) != 0 {
		t.Fatalf("backwards timestamp caused a sleep: %v", *slept)
	}
}

func TestReplayClosedFailsWithUsage(t *testing.T) {
	pool := &stubPool{stream: &stubStream{}}
	r, err := Replay(pool, ReplayOptions{Speed: 1})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	r.Close()

	_, err = r.Next(context.Background())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrorUsage {
		t.Fatalf("expected Usage error on closed replayer, got %v", err)
	}
}

func TestReplaySleepIsCancellable(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	pool := &stubPool{stream: &stubStream{envelopes: [][]byte{
		envelope(t, 1, base, `1`),
		envelope(t, 2, base.Add(time.Hour), `2`),
	}}}

	r, err := Replay(pool, ReplayOptions{Speed: 1})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Next(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay sleep did not observe cancellation")
	}
}
