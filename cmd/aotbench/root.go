package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/harness"
)

var (
	cfgFile   string
	verbose   bool
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "aotbench",
		Short:         "Verify and benchmark AOT-compiled ONNX models against their baselines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel, verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			suite := harness.SuiteNative
			if !cfg.Target.IsNative() {
				suite = harness.SuiteMobile
			}

			return runSuite(cmd, cfg, cfg.Target, suite, nil)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress at info level")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newMobileCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// logLevel picks the level: an explicit log_level wins, otherwise -v selects
// info and the default is warn.
func logLevel(levelStr string, verbose bool) slog.Level {
	if strings.TrimSpace(levelStr) != "" {
		if lvl, err := ParseLogLevel(levelStr); err == nil {
			return lvl
		}
	}
	if verbose {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string, verbose bool) {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(levelStr, verbose)})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.CatalogPath == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}
