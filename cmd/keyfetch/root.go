package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keyfetch/internal/config"
)

var (
	// Global flags
	envFile   string
	logLevel  string
	logFormat string

	globalCfg *config.Config
	logger    *slog.Logger
)

// newRootCmd creates and returns the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfetch",
		Short: "Fetch, rotate and vault API credentials across providers",
		Long: `keyfetch drives provider logins to obtain API credentials, stores every
value encrypted with a full version history, and keeps them fresh on a schedule.
It routes provider traffic through a health-checked proxy pool and can export
the vault as JSON, dotenv or CSV.`,
		Example: `  keyfetch keygen
  keyfetch serve
  keyfetch migrate
  keyfetch export --owner user-1 --format env --out .env.keys
  keyfetch proxies list --owner user-1`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Command-line flags win over the environment.
			if logLevel != "" {
				cfg.LogLevel = strings.ToLower(logLevel)
			}
			if logFormat != "" {
				cfg.LogFormat = strings.ToLower(logFormat)
			}
			globalCfg = cfg

			setupLogging(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional dotenv file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides KEYFETCH_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text or json); overrides KEYFETCH_LOG_FORMAT")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newKeygenCmd(),
		newExportCmd(),
		newProxiesCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger
func setupLogging(levelName, format string) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
