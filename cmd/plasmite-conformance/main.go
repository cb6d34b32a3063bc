// Command plasmite-conformance executes JSON conformance manifests
// against a plasmite backend.
//
// The default invocation runs a manifest:
//
//	plasmite-conformance run path/to/manifest.json
//
// The feed and pool subcommands expose single-shot append and pool
// inspection with the same argument surface as the plasmite CLI, so a
// file-backend run can point PLASMITE_BIN at this binary and be fully
// self-contained.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/sandover/plasmite-go"
	"github.com/sandover/plasmite-go/internal/cliconfig"
	"github.com/sandover/plasmite-go/internal/conformance"
	"github.com/sandover/plasmite-go/internal/filepool"
	"github.com/sandover/plasmite-go/native"
	"github.com/sandover/plasmite-go/pkg/log"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var poolDir string

	root := &cobra.Command{
		Use:           "plasmite-conformance",
		Short:         "Run plasmite conformance manifests",
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.plasmite/conformance.toml)")
	root.PersistentFlags().StringVar(&cfg.Backend, "backend", cfg.Backend, "pool backend: native or file")
	root.PersistentFlags().StringVar(&cfg.BinPath, "bin", cfg.BinPath, "path to the plasmite binary for spawn_poke and pool_info")
	root.PersistentFlags().DurationVar(&cfg.TailTimeout, "tail-timeout", cfg.TailTimeout, "per-fetch timeout during tail steps")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&poolDir, "dir", "", "pool directory for feed and pool subcommands")

	resolve := func(cmd *cobra.Command) (log.Logger, error) {
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}
		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return nil, err
			}
		}
		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		return log.NewZerologAdapter(level), nil
	}

	runCmd := &cobra.Command{
		Use:   "run <manifest.json>",
		Short: "Execute a conformance manifest, fail-fast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := resolve(cmd)
			if err != nil {
				return err
			}
			manifestPath := args[0]
			manifest, err := conformance.Load(manifestPath)
			if err != nil {
				return err
			}
			runner, err := conformance.NewRunner(runnerOptions(cfg, logger))
			if err != nil {
				return err
			}
			return runner.Run(manifest, filepath.Dir(manifestPath))
		},
	}

	feedCmd := &cobra.Command{
		Use:   "feed <pool> <json-payload>",
		Short: "Append one JSON message to a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolve(cmd); err != nil {
				return err
			}
			tags, err := cmd.Flags().GetStringArray("tag")
			if err != nil {
				return err
			}
			if poolDir == "" {
				return errors.New("--dir is required")
			}
			client, err := newClient(cfg, poolDir)
			if err != nil {
				return emitError(err)
			}
			defer client.Close()
			pool, err := client.Pool(plasmite.PoolRef(args[0]), plasmite.DefaultPoolSizeBytes)
			if err != nil {
				return emitError(err)
			}
			defer pool.Close()
			if _, err := pool.AppendJSON([]byte(args[1]), tags, plasmite.DurabilityFlush); err != nil {
				return emitError(err)
			}
			return nil
		},
	}
	feedCmd.Flags().StringArray("tag", nil, "tag to attach (repeatable)")

	poolInfoCmd := &cobra.Command{
		Use:   "info <pool>",
		Short: "Print pool summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolve(cmd); err != nil {
				return err
			}
			if poolDir == "" {
				return errors.New("--dir is required")
			}
			if cfg.Backend != cliconfig.BackendFile {
				return errors.New("pool info is served by the plasmite CLI for the native backend")
			}
			info, err := filePoolInfo(poolDir, args[0])
			if err != nil {
				return emitError(err)
			}
			return printPoolInfo(info)
		},
	}
	poolInfoCmd.Flags().Bool("json", true, "emit JSON (always on; flag kept for CLI compatibility)")

	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Pool inspection commands",
	}
	poolCmd.AddCommand(poolInfoCmd)

	root.AddCommand(runCmd, feedCmd, poolCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runnerOptions(cfg cliconfig.Config, logger log.Logger) conformance.Options {
	opts := conformance.Options{
		Logger:      logger,
		BinPath:     cfg.BinPath,
		TailTimeout: cfg.TailTimeout,
	}
	switch cfg.Backend {
	case cliconfig.BackendFile:
		opts.NewClient = func(dir string) (plasmite.Client, error) {
			return filepool.NewClient(dir)
		}
		// The file backend serves pool_info in-process; spawn_poke
		// still goes through the external binary so writers are real
		// separate processes.
		opts.PoolInfo = func(workdir, pool string) (*conformance.PoolInfo, error) {
			return filePoolInfo(workdir, pool)
		}
	default:
		opts.NewClient = func(dir string) (plasmite.Client, error) {
			return native.NewClient(dir)
		}
	}
	return opts
}

func newClient(cfg cliconfig.Config, dir string) (plasmite.Client, error) {
	if cfg.Backend == cliconfig.BackendFile {
		return filepool.NewClient(dir)
	}
	return native.NewClient(dir)
}

func filePoolInfo(dir, pool string) (*conformance.PoolInfo, error) {
	client, err := filepool.NewClient(dir)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	p, err := client.OpenPool(plasmite.PoolRef(pool))
	if err != nil {
		return nil, err
	}
	defer p.Close()
	info, err := p.(*filepool.Pool).Info()
	if err != nil {
		return nil, err
	}
	return &conformance.PoolInfo{
		FileSize: info.FileSize,
		RingSize: info.RingSize,
		Oldest:   info.Bounds.Oldest,
		Newest:   info.Bounds.Newest,
	}, nil
}

func printPoolInfo(info *conformance.PoolInfo) error {
	payload := map[string]any{
		"file_size": info.FileSize,
		"ring_size": info.RingSize,
		"bounds": map[string]any{
			"oldest": info.Oldest,
			"newest": info.Newest,
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// emitError prints a typed error as the {"error": {...}} document the
// plasmite CLI uses, so callers parsing stderr see the same shape from
// either binary.
func emitError(err error) error {
	var perr *plasmite.Error
	if !errors.As(err, &perr) {
		return err
	}
	doc := map[string]any{
		"error": map[string]any{
			"kind":    perr.Kind.String(),
			"message": perr.Message,
			"path":    perr.Path,
			"seq":     perr.Seq,
			"offset":  perr.Offset,
		},
	}
	if out, marshalErr := json.Marshal(doc); marshalErr == nil {
		fmt.Fprintln(os.Stderr, string(out))
	}
	return err
}
