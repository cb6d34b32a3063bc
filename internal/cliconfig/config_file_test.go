package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conformance.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfigFile(t, `
backend = "file"
bin_path = "/opt/plasmite/bin/plasmite"
tail_timeout = "2s"
log_level = "debug"
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig failed: %v", err)
	}
	if fc.Backend != "file" {
		t.Errorf("backend = %q", fc.Backend)
	}
	if fc.BinPath != "/opt/plasmite/bin/plasmite" {
		t.Errorf("bin_path = %q", fc.BinPath)
	}
	if fc.TailTimeout != "2s" {
		t.Errorf("tail_timeout = %q", fc.TailTimeout)
	}
}

func TestLoadFileConfigRejectsBadTOML(t *testing.T) {
	path := writeConfigFile(t, `backend = [not toml`)
	if _, err := LoadFileConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyFileConfigPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendFile // explicitly set by flag

	fc := FileConfig{
		Backend:     BackendNative,
		BinPath:     "/from/file",
		TailTimeout: "3s",
	}
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{"backend": true}); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if cfg.Backend != BackendFile {
		t.Errorf("flag value overridden by file: %q", cfg.Backend)
	}
	if cfg.BinPath != "/from/file" {
		t.Errorf("bin path not applied: %q", cfg.BinPath)
	}
	if cfg.TailTimeout != 3*time.Second {
		t.Errorf("tail timeout not applied: %v", cfg.TailTimeout)
	}
}

func TestApplyFileConfigRejectsBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	fc := FileConfig{TailTimeout: "soon"}
	if err := ApplyFileConfig(&cfg, fc, nil); err == nil {
		t.Fatal("expected duration parse error")
	}
}
