package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/config"
)

// Redis holds the client behind the failed-login throttle.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis. An unreachable server is fatal only when
// cfg.Required is set; otherwise the throttle fails open and logins are not counted.
func NewRedis(ctx context.Context, cfg config.RedisConfig, clientName string, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		ClientName:  clientName,
		DialTimeout: cfg.DialTimeout(),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		if cfg.Required {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
		}
		logger.Warn("login throttle store unreachable; failed logins will not be counted",
			zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to login throttle store", zap.String("addr", cfg.Addr))
	}

	return &Redis{Client: client}, nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
