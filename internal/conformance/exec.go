package conformance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/sandover/plasmite-go"
)

// resolveBin locates the external plasmite binary. PLASMITE_BIN wins
// over the configured path so CI can redirect without touching config.
func (r *Runner) resolveBin() (string, error) {
	if value := os.Getenv("PLASMITE_BIN"); value != "" {
		return value, nil
	}
	if r.binPath != "" {
		return r.binPath, nil
	}
	return "", errors.New("plasmite binary not found; set PLASMITE_BIN or configure bin_path")
}

// execFeed appends one message through a separate plasmite process.
// spawn_poke runs several of these concurrently to exercise real
// multi-writer behavior.
func (r *Runner) execFeed(workdir, pool string, payload []byte, tags []string) error {
	bin, err := r.resolveBin()
	if err != nil {
		return err
	}
	args := []string{"--dir", workdir, "feed", pool, string(payload)}
	for _, tag := range tags {
		args = append(args, "--tag", tag)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// execPoolInfo shells out for the pool summary. A failing process that
// prints an error JSON document on stderr yields the typed error it
// describes, so expectation matching works the same as for in-process
// failures.
func (r *Runner) execPoolInfo(workdir, pool string) (*PoolInfo, error) {
	bin, err := r.resolveBin()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(bin, "--dir", workdir, "pool", "info", pool, "--json")
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if perr, parseErr := parseErrorJSON(exitErr.Stderr); parseErr == nil {
				return nil, perr
			}
		}
		return nil, fmt.Errorf("pool info failed: %w", err)
	}
	return parsePoolInfoJSON(output)
}

// parseErrorJSON decodes the {"error": {...}} document the plasmite
// CLI prints on failure.
func parseErrorJSON(data []byte) (*plasmite.Error, error) {
	if len(data) == 0 {
		return nil, errors.New("empty error output")
	}
	var payload struct {
		Error *struct {
			Kind    string  `json:"kind"`
			Message string  `json:"message"`
			Path    string  `json:"path"`
			Seq     *uint64 `json:"seq"`
			Offset  *uint64 `json:"offset"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.Error == nil {
		return nil, errors.New("missing error object")
	}
	return plasmite.NewError(
		int32(plasmite.KindFromLabel(payload.Error.Kind)),
		payload.Error.Message,
		payload.Error.Path,
		payload.Error.Seq,
		payload.Error.Offset,
	), nil
}

func parsePoolInfoJSON(data []byte) (*PoolInfo, error) {
	var payload struct {
		FileSize *uint64 `json:"file_size"`
		RingSize *uint64 `json:"ring_size"`
		Bounds   *struct {
			Oldest *uint64 `json:"oldest"`
			Newest *uint64 `json:"newest"`
		} `json:"bounds"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.FileSize == nil {
		return nil, errors.New("missing file_size")
	}
	if payload.RingSize == nil {
		return nil, errors.New("missing ring_size")
	}
	info := &PoolInfo{FileSize: *payload.FileSize, RingSize: *payload.RingSize}
	if payload.Bounds != nil {
		info.Oldest = payload.Bounds.Oldest
		info.Newest = payload.Bounds.Newest
	}
	return info, nil
}
