package plasmite

import "time"

// Durability controls how strong a persistence guarantee an append
// waits for. It crosses the boundary opaquely.
type Durability uint32

const (
	// DurabilityFast returns as soon as the append is locally durable.
	DurabilityFast Durability = 0
	// DurabilityFlush returns only after the stronger persistence
	// guarantee of the underlying engine.
	DurabilityFlush Durability = 1
)

// DefaultPoolSizeBytes is the pool size used when a manifest or caller
// does not specify one.
const DefaultPoolSizeBytes uint64 = 1024 * 1024

// PoolRef names a pool. A ref without a path separator resolves to
// <pool-dir>/<name>.plasmite; a ref containing a separator is used as a
// filesystem path.
type PoolRef string

// PoolRefName refers to a pool by name inside the client's directory.
func PoolRefName(name string) PoolRef { return PoolRef(name) }

// PoolRefPath refers to a pool by filesystem path.
func PoolRefPath(path string) PoolRef { return PoolRef(path) }

// AppendConfig carries per-append settings.
type AppendConfig struct {
	Durability Durability
}

// AppendOption mutates an AppendConfig.
type AppendOption func(*AppendConfig)

// WithDurability sets the append durability mode.
func WithDurability(d Durability) AppendOption {
	return func(cfg *AppendConfig) {
		cfg.Durability = d
	}
}

// ApplyAppendOptions resolves options against the defaults.
func ApplyAppendOptions(opts ...AppendOption) AppendConfig {
	cfg := AppendConfig{Durability: DurabilityFast}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// TailOptions bound and filter a Tail.
type TailOptions struct {
	// SinceSeq delivers only messages with seq greater than this value.
	SinceSeq *uint64

	// MaxMessages stops the tail after this many kept messages.
	MaxMessages *uint64

	// Tags keeps only messages carrying every listed tag. Empty means
	// no filtering at all.
	Tags []string

	// Timeout bounds each underlying fetch. Zero means the backend
	// default of one second.
	Timeout time.Duration
}

// ReplayOptions bound, filter, and pace a Replay.
type ReplayOptions struct {
	// Speed scales original inter-message timing: 2 plays twice as
	// fast, 0.5 at half speed. Must be positive.
	Speed float64

	SinceSeq    *uint64
	MaxMessages *uint64
	Tags        []string
	Timeout     time.Duration
}
