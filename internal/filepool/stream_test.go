package filepool

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sandover/plasmite-go"
)

func seedPool(t *testing.T, n int) plasmite.Pool {
	t.Helper()
	client := newTestClient(t)
	pool, err := client.CreatePool(plasmite.PoolRefName("feed"), plasmite.DefaultPoolSizeBytes)
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	t.Cleanup(pool.Close)
	for i := 0; i < n; i++ {
		if _, err := pool.Append(map[string]any{"i": i}, nil); err != nil {
			t.Fatalf("seed append %d failed: %v", i, err)
		}
	}
	return pool
}

func zero() *uint64 { v := uint64(0); return &v }

func TestStreamDeliversInOrder(t *testing.T) {
	pool := seedPool(t, 3)

	stream, err := pool.OpenStream(nil, nil, zero())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	var prev uint64
	for i := 0; i < 3; i++ {
		raw, err := stream.NextJSON()
		if err != nil {
			t.Fatalf("NextJSON %d failed: %v", i, err)
		}
		msg, err := plasmite.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.Seq <= prev {
			t.Fatalf("seq not increasing: %d after %d", msg.Seq, prev)
		}
		prev = msg.Seq
	}
	if _, err := stream.NextJSON(); err != io.EOF {
		t.Fatalf("expected EOF after drain, got %v", err)
	}
}

func TestStreamSinceSeqIsExclusive(t *testing.T) {
	pool := seedPool(t, 3)

	since := uint64(2)
	stream, err := pool.OpenStream(&since, nil, zero())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	raw, err := stream.NextJSON()
	if err != nil {
		t.Fatalf("NextJSON failed: %v", err)
	}
	msg, err := plasmite.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Seq != 3 {
		t.Fatalf("expected first seq 3 for since=2, got %d", msg.Seq)
	}
}

func TestStreamMaxMessagesBudget(t *testing.T) {
	pool := seedPool(t, 5)

	budget := uint64(2)
	stream, err := pool.OpenStream(nil, &budget, zero())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	for i := 0; i < 2; i++ {
		if _, err := stream.NextJSON(); err != nil {
			t.Fatalf("NextJSON %d failed: %v", i, err)
		}
	}
	if _, err := stream.NextJSON(); err != io.EOF {
		t.Fatalf("expected EOF after budget spent, got %v", err)
	}
	// Spent budget is sticky, not a crash.
	if _, err := stream.NextJSON(); err != io.EOF {
		t.Fatalf("expected EOF again, got %v", err)
	}
}

func TestStreamTimeoutReportsNoItem(t *testing.T) {
	pool := seedPool(t, 0)

	timeoutMs := uint64(30)
	stream, err := pool.OpenStream(nil, nil, &timeoutMs)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	start := time.Now()
	if _, err := stream.NextJSON(); err != io.EOF {
		t.Fatalf("expected EOF on empty pool, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("timeout returned too early: %v", elapsed)
	}

	// A later append is picked up by the same cursor.
	if _, err := pool.AppendJSON([]byte(`{"late":true}`), nil, plasmite.DurabilityFast); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := stream.NextJSON(); err != nil {
		t.Fatalf("expected late append, got %v", err)
	}
}

func TestClosedStreamFailsDeterministically(t *testing.T) {
	pool := seedPool(t, 1)

	stream, err := pool.OpenStream(nil, nil, zero())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	stream.Close()
	stream.Close() // idempotent

	for i := 0; i < 2; i++ {
		_, err := stream.NextJSON()
		var perr *plasmite.Error
		if !errors.As(err, &perr) || perr.Kind != plasmite.ErrorUsage {
			t.Fatalf("expected Usage closed error, got %v", err)
		}
	}
}

func TestLite3StreamSeesAllRecords(t *testing.T) {
	client := newTestClient(t)
	pool, err := client.CreatePool(plasmite.PoolRefName("mixed"), plasmite.DefaultPoolSizeBytes)
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	defer pool.Close()

	if _, err := pool.AppendJSON([]byte(`{"kind":"json"}`), nil, plasmite.DurabilityFast); err != nil {
		t.Fatalf("append json failed: %v", err)
	}
	if _, err := pool.AppendLite3([]byte{1, 2, 3}, plasmite.DurabilityFast); err != nil {
		t.Fatalf("append lite3 failed: %v", err)
	}

	stream, err := pool.OpenLite3Stream(nil, nil, zero())
	if err != nil {
		t.Fatalf("OpenLite3Stream failed: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}
	second, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second.Seq != 2 || string(second.Payload) != "\x01\x02\x03" {
		t.Fatalf("unexpected second frame: seq=%d payload=%x", second.Seq, second.Payload)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	// The JSON stream skips the binary record entirely.
	jsonStream, err := pool.OpenStream(nil, nil, zero())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer jsonStream.Close()
	raw, err := jsonStream.NextJSON()
	if err != nil {
		t.Fatalf("NextJSON failed: %v", err)
	}
	msg, err := plasmite.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", msg.Seq)
	}
	if _, err := jsonStream.NextJSON(); err != io.EOF {
		t.Fatalf("expected EOF past binary record, got %v", err)
	}
}
