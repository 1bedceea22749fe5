package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/events"
	"github.com/spec-kit/session-gate/internal/persistence"
	"github.com/spec-kit/session-gate/internal/repository"
	"github.com/spec-kit/session-gate/internal/service"
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		return persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger)
	},
}

var genKeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a random 32-character value for ENCRYPTION_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := randomKey(auth.KeySize)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	newUsername string
	newEmail    string
	newPassword string
	newRole     string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Example: `  session-gate user create --username root --email root@example.com \
    --password "$ADMIN_PASSWORD" --role admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return createUser(cmd.Context())
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&newUsername, "username", "", "login name")
	userCreateCmd.Flags().StringVar(&newEmail, "email", "", "contact email")
	userCreateCmd.Flags().StringVar(&newPassword, "password", "", "initial password")
	userCreateCmd.Flags().StringVar(&newRole, "role", string(domain.RoleMember), "role to assign")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(migrateCmd, genKeyCmd, userCmd)
}

func createUser(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	accounts := service.NewAccountService(repository.NewUserRepository(pg.PoolHandle()), events.NewInMemoryDispatcher(), cfg.Auth.BcryptCost, logger)
	user, err := accounts.CreateUser(ctx, newUsername, newEmail, newPassword, domain.Role(newRole))
	if err != nil {
		return err
	}
	logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return nil
}

func randomKey(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(keyAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		out[i] = keyAlphabet[idx.Int64()]
	}
	return string(out), nil
}
