// Package plasmite defines the Go client surface for plasmite pools:
// named, append-only message containers with monotonically increasing
// sequence numbers.
//
// The package holds the backend-agnostic contracts and value types. The
// production backend in the native package binds libplasmite over its C
// ABI; internal/filepool provides a pure-Go backend for development and
// tests. Both satisfy the same interfaces, so delivery policies
// ([Tail], [Replay]) and the conformance runner work against either.
//
// Example usage:
//
//	client, err := native.NewClient(dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	pool, err := client.Pool(plasmite.PoolRefName("events"), plasmite.DefaultPoolSizeBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	msg, err := pool.Append(map[string]any{"task": "resize"}, []string{"cookbook"})
//
// All resources must be released with Close. Close is idempotent; any
// operation on a closed wrapper fails with a Usage-kind [*Error] rather
// than reaching the boundary with a stale handle.
package plasmite

// Client owns a handle scoped to one pool directory and opens pools
// within it.
type Client interface {
	// CreatePool creates a new pool. It fails with kind AlreadyExists
	// if the pool is already present.
	CreatePool(ref PoolRef, sizeBytes uint64) (Pool, error)

	// OpenPool opens an existing pool. It fails with kind NotFound if
	// no such pool exists.
	OpenPool(ref PoolRef) (Pool, error)

	// Pool opens the pool if it exists and creates it otherwise.
	Pool(ref PoolRef, sizeBytes uint64) (Pool, error)

	// Close releases the client handle. Safe to call more than once.
	Close()
}

// Pool owns a handle scoped to one named pool.
type Pool interface {
	// AppendJSON appends a raw JSON payload with the given tags and
	// returns the stored message envelope bytes.
	AppendJSON(payload []byte, tags []string, durability Durability) ([]byte, error)

	// Append marshals value to JSON, appends it, and decodes the
	// stored envelope.
	Append(value any, tags []string, opts ...AppendOption) (*Message, error)

	// AppendLite3 appends a pre-encoded Lite3 payload and returns the
	// assigned sequence number.
	AppendLite3(payload []byte, durability Durability) (uint64, error)

	// GetJSON returns the envelope bytes for seq, or kind NotFound.
	GetJSON(seq uint64) ([]byte, error)

	// Get returns the decoded message for seq.
	Get(seq uint64) (*Message, error)

	// GetLite3 returns the binary frame for seq.
	GetLite3(seq uint64) (*Lite3Frame, error)

	// OpenStream opens a forward-only cursor. Nil bounds are absent:
	// sinceSeq delivers only messages with a greater seq, maxMessages
	// caps the item count, timeoutMs bounds how long a single fetch
	// may wait for a new message.
	OpenStream(sinceSeq, maxMessages, timeoutMs *uint64) (Stream, error)

	// OpenLite3Stream is OpenStream for binary frames.
	OpenLite3Stream(sinceSeq, maxMessages, timeoutMs *uint64) (Lite3Stream, error)

	// Close releases the pool handle. Safe to call more than once.
	Close()
}

// Stream is a stateful, forward-only read cursor delivering JSON
// message envelopes in strictly increasing seq order.
type Stream interface {
	// NextJSON blocks for at most the cursor's timeout and returns the
	// next envelope. It returns io.EOF when nothing is available
	// before the timeout or the cursor's budget is spent; the caller
	// decides whether to open a fresh cursor and keep waiting.
	NextJSON() ([]byte, error)

	// Close releases the cursor. Safe to call more than once.
	Close()
}

// Lite3Stream is Stream for binary frames.
type Lite3Stream interface {
	Next() (*Lite3Frame, error)
	Close()
}
