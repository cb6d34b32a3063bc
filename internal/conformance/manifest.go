// Package conformance interprets JSON conformance manifests: ordered
// step lists exercising pool operations against a live client, with
// per-step expectations on results and on typed errors. The interpreter
// is fail-fast; the first step whose expectation does not hold aborts
// the run with a message naming the step.
package conformance

import (
	"encoding/json"
	"fmt"
	"os"
)

// SupportedVersion is the only manifest format version this
// interpreter accepts.
const SupportedVersion = 0

// Manifest is the top-level document.
type Manifest struct {
	ConformanceVersion *int   `json:"conformance_version"`
	Workdir            string `json:"workdir"`
	Steps              []Step `json:"steps"`
}

// Step is one operation plus its expectation. Input stays raw; each
// operation decodes the fields it requires and rejects what is missing.
type Step struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Pool   string          `json:"pool"`
	Input  json.RawMessage `json:"input"`
	Expect *Expect         `json:"expect"`
}

// Expect holds every expectation shape a step may carry. Which fields
// are meaningful depends on the op; unknown combinations are ignored
// rather than rejected, matching the reference runners.
type Expect struct {
	Error             *ErrorExpect     `json:"error"`
	Seq               *uint64          `json:"seq"`
	Data              json.RawMessage  `json:"data"`
	Tags              *[]string        `json:"tags"`
	Messages          *[]MessageExpect `json:"messages"`
	MessagesUnordered *[]MessageExpect `json:"messages_unordered"`
	Names             *[]string        `json:"names"`
	FileSize          *uint64          `json:"file_size"`
	RingSize          *uint64          `json:"ring_size"`
	Bounds            *BoundsExpect    `json:"bounds"`
}

// ErrorExpect describes the typed error a step is supposed to fail
// with. Kind is required; the rest are optional refinements. The
// has_* fields assert presence only, never value.
type ErrorExpect struct {
	Kind            string  `json:"kind"`
	MessageContains *string `json:"message_contains"`
	HasPath         *bool   `json:"has_path"`
	HasSeq          *bool   `json:"has_seq"`
	HasOffset       *bool   `json:"has_offset"`
}

// MessageExpect matches one tailed message. A nil Tags means "do not
// check tags".
type MessageExpect struct {
	Data json.RawMessage `json:"data"`
	Tags *[]string       `json:"tags"`
}

// BoundsExpect matches pool bounds. Raw values distinguish an absent
// key (no check) from an explicit null (must be empty).
type BoundsExpect struct {
	Oldest json.RawMessage `json:"oldest"`
	Newest json.RawMessage `json:"newest"`
}

// Load reads and validates a manifest file. Validation covers only the
// frame: version, workdir default, step shape. Per-op input checking
// happens at execution time so that a bad later step does not mask
// earlier results.
func Load(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(content)
}

// Parse validates manifest bytes.
func Parse(content []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest json: %w", err)
	}
	if manifest.ConformanceVersion == nil {
		return nil, fmt.Errorf("missing conformance_version")
	}
	if *manifest.ConformanceVersion != SupportedVersion {
		return nil, fmt.Errorf("unsupported conformance_version: %d", *manifest.ConformanceVersion)
	}
	if manifest.Workdir == "" {
		manifest.Workdir = "work"
	}
	for i, step := range manifest.Steps {
		if step.Op == "" {
			return nil, stepError(i, step.ID, "missing op")
		}
		if step.Expect != nil && step.Expect.Messages != nil && step.Expect.MessagesUnordered != nil {
			return nil, stepError(i, step.ID, "expect.messages and expect.messages_unordered are mutually exclusive")
		}
	}
	return &manifest, nil
}

// stepError formats the fail-fast message every step failure uses.
func stepError(index int, id string, message string) error {
	if id != "" {
		return fmt.Errorf("step %d (%s): %s", index, id, message)
	}
	return fmt.Errorf("step %d: %s", index, message)
}

func stepErrorf(index int, id string, format string, args ...any) error {
	return stepError(index, id, fmt.Sprintf(format, args...))
}
