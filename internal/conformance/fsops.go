package conformance

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sandover/plasmite-go"
)

func resetWorkdir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to clear workdir %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create workdir %s: %w", path, err)
	}
	return nil
}

// resolvePoolPath maps a step's pool field to the file the op targets.
// Refs with a path separator are taken verbatim.
func resolvePoolPath(pool, workdir string) string {
	if strings.Contains(pool, "/") {
		return pool
	}
	if strings.HasSuffix(pool, ".plasmite") {
		return filepath.Join(workdir, pool)
	}
	return filepath.Join(workdir, pool+".plasmite")
}

func listPoolNames(workdir string) ([]string, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return nil, mapIOError(err, workdir, "failed to read pool directory")
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".plasmite") {
			names = append(names, strings.TrimSuffix(name, ".plasmite"))
		}
	}
	return names, nil
}

// mapIOError folds an OS failure into the typed taxonomy so manifests
// can assert on filesystem-induced errors the same way as on boundary
// errors.
func mapIOError(err error, path, message string) *plasmite.Error {
	kind := plasmite.ErrorIO
	if os.IsNotExist(err) {
		kind = plasmite.ErrorNotFound
	} else if os.IsPermission(err) {
		kind = plasmite.ErrorPermission
	}
	return plasmite.NewError(int32(kind), message, path, nil, nil)
}

func (r *Runner) runDeletePool(workdir string, index int, step Step) error {
	if step.Pool == "" {
		return stepError(index, step.ID, "missing pool")
	}
	path := resolvePoolPath(step.Pool, workdir)
	if err := os.Remove(path); err != nil {
		return checkExpectedError(index, step, mapIOError(err, path, "failed to delete pool"))
	}
	return checkExpectedError(index, step, nil)
}

// runCorruptPoolHeader replaces the pool file with garbage so the next
// open fails with kind Corrupt. The truncation is intentional; a
// too-short file must be rejected just like bad magic.
func (r *Runner) runCorruptPoolHeader(workdir string, index int, step Step) error {
	if step.Pool == "" {
		return stepError(index, step.ID, "missing pool")
	}
	path := resolvePoolPath(step.Pool, workdir)
	if err := os.WriteFile(path, []byte("NOPE"), 0o600); err != nil {
		return stepErrorf(index, step.ID, "failed to corrupt pool header: %v", err)
	}
	return nil
}

func (r *Runner) runChmodPath(index int, step Step) error {
	if runtime.GOOS == "windows" {
		return stepError(index, step.ID, "chmod_path is not supported on this platform")
	}
	var input struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
	}
	if step.Input == nil {
		return stepError(index, step.ID, "missing input")
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}
	if input.Path == "" {
		return stepError(index, step.ID, "missing input.path")
	}
	if input.Mode == "" {
		return stepError(index, step.ID, "missing input.mode")
	}
	mode, err := strconv.ParseUint(input.Mode, 8, 32)
	if err != nil {
		return stepError(index, step.ID, "invalid input.mode")
	}
	if err := os.Chmod(input.Path, os.FileMode(mode)); err != nil {
		return stepErrorf(index, step.ID, "chmod failed: %v", err)
	}
	return nil
}
