package main

import (
	"fmt"
	"os"

	"github.com/secura/vault/internal/config"
	"github.com/secura/vault/pkg/logger"
	"github.com/spf13/cobra"
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

func newRootCommand() *cobra.Command {
	var envFile, logLevel string

	cmd := &cobra.Command{
		Use:           "vault",
		Short:         "Encrypted multi-tenant file vault",
		Long:          "Stores files encrypted at rest with per-owner versioning, expiring share links and audited access.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       fmt.Sprintf("%s.%s", version, commit),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := os.Setenv("VAULT_ENV_FILE", envFile); err != nil {
					return err
				}
			}
			cfg = config.Load()
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			initLogger(cfg)
			return nil
		},
		// Without a subcommand the server is started.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default is ./.env)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func initLogger(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
		File:   cfg.Logging.File,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		},
	})
}
