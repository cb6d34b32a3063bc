package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables
// (PLASMITE_*). It respects flags that have been explicitly set.
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("backend", os.Getenv("PLASMITE_BACKEND"), &cfg.Backend)
	s.setString("bin", os.Getenv("PLASMITE_BIN"), &cfg.BinPath)
	s.setString("log-level", os.Getenv("PLASMITE_LOG_LEVEL"), &cfg.LogLevel)

	return s.setDuration("tail-timeout", os.Getenv("PLASMITE_TAIL_TIMEOUT"), &cfg.TailTimeout)
}
