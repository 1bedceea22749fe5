package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/config"
	"github.com/spec-kit/session-gate/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "session-gate",
	Short: "Session authentication and access control service",
	Long: `session-gate issues encrypted session tokens, validates them against the
user store on every request, enforces account bans and gates pages by role.

Configuration is read from the environment (and a .env file when present).
ENCRYPTION_KEY must be exactly 32 bytes; see "session-gate genkey".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and the logger shared by every command that
// touches the database.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, logger, nil
}
