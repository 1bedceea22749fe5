package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/session-gate/internal/api/http"
	"github.com/spec-kit/session-gate/internal/api/http/handlers"
	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/events"
	"github.com/spec-kit/session-gate/internal/observability"
	"github.com/spec-kit/session-gate/internal/persistence"
	"github.com/spec-kit/session-gate/internal/repository"
	"github.com/spec-kit/session-gate/internal/service"
	"github.com/spec-kit/session-gate/internal/throttle"
	"github.com/spec-kit/session-gate/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	codec, err := auth.NewCodec([]byte(cfg.Auth.EncryptionKey), auth.DefaultTokenTTL)
	if err != nil {
		logger.Fatal("invalid session encryption key", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, cfg.App.Name, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redis.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	historyRepo := repository.NewBanHistoryRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewNotificationService(dispatcher, logger, cfg.Audit), logger)

	banService := service.NewBanService(service.BanDependencies{
		UserRepo:    userRepo,
		HistoryRepo: historyRepo,
		Tx:          repository.NewTransactor(pool),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	validator := auth.NewSessionValidator(codec, userRepo, banService, logger)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:  userRepo,
		Bans:      banService,
		Codec:     codec,
		Validator: validator,
		Throttle:  throttle.NewLoginThrottle(redis.Client, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginWindow()),
		Metrics:   metrics,
		Logger:    logger,
		DecoyCost: cfg.Auth.BcryptCost,
	})
	accountService := service.NewAccountService(userRepo, dispatcher, cfg.Auth.BcryptCost, logger)

	policy, err := auth.LoadPolicy(cfg.Gate.PolicyFile)
	if err != nil {
		return fmt.Errorf("load access policy: %w", err)
	}
	gate := auth.NewGate(auth.GateOptions{
		Policy:            policy,
		CookieName:        cfg.Auth.CookieName,
		LandingPath:       cfg.Gate.LandingPath,
		InternalAPIPrefix: cfg.Gate.InternalAPIPrefix,
		PublicAPIPrefixes: cfg.Gate.PublicAPIPrefixes,
		TrustedOrigins:    cfg.Gate.TrustedOrigins,
		BlockedPrefixes:   cfg.Gate.BlockedPrefixes,
		BlockedExemptions: cfg.Gate.BlockedExemptions,
	}, validator, logger, metrics)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	health := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version,
		handlers.ReadinessCheck{Name: "postgres", Run: pg.Ping},
		handlers.ReadinessCheck{Name: "redis", Run: redis.Ping},
		handlers.ReadinessCheck{Name: "session_codec", Run: codec.SelfTest},
		handlers.ReadinessCheck{Name: "access_policy", Run: func(context.Context) error { return policy.Validate() }},
	)
	authHandler := handlers.NewAuthHandler(authService,
		auth.NewAssertionVerifier(cfg.Auth.FederationSecret, cfg.Auth.FederationIssuer),
		handlers.CookieSettings{
			Name:     cfg.Auth.CookieName,
			HTTPOnly: cfg.Auth.CookieHTTPOnly,
			Secure:   cfg.App.Production(),
		})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         health,
		Auth:           authHandler,
		Admin:          handlers.NewAdminUsersHandler(banService, accountService),
		Account:        handlers.NewAccountHandler(cfg.App.Name),
		Gate:           gate,
		AuthMiddleware: auth.NewAuthMiddleware(validator, cfg.Auth.CookieName),
		Registry:       registry,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	}

	return app.ShutdownWithTimeout(10 * time.Second)
}
