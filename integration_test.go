package plasmite_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sandover/plasmite-go"
	"github.com/sandover/plasmite-go/internal/filepool"
)

func newSeededPool(t *testing.T) plasmite.Pool {
	t.Helper()
	client, err := filepool.NewClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)

	pool, err := client.Pool(plasmite.PoolRefName("events"), plasmite.DefaultPoolSizeBytes)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for i, tags := range [][]string{{"a"}, {"b"}, {"a", "b"}} {
		if _, err := pool.Append(map[string]int{"n": i + 1}, tags); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return pool
}

func TestTailOverFilePool(t *testing.T) {
	pool := newSeededPool(t)

	tailer, err := plasmite.Tail(pool, plasmite.TailOptions{
		Tags:    []string{"a"},
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	defer tailer.Close()

	ctx := context.Background()
	var seqs []uint64
	for {
		msg, err := tailer.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		seqs = append(seqs, msg.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 3 {
		t.Fatalf("tagged seqs = %v, want [1 3]", seqs)
	}
}

func TestReplayOverFilePool(t *testing.T) {
	pool := newSeededPool(t)

	// Appends above land within microseconds of each other, so even at
	// real speed the replay drains promptly.
	replayer, err := plasmite.Replay(pool, plasmite.ReplayOptions{
		Speed:   1,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	defer replayer.Close()

	ctx := context.Background()
	var seqs []uint64
	for {
		msg, err := replayer.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		seqs = append(seqs, msg.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("replayed seqs = %v, want [1 2 3]", seqs)
	}
}
