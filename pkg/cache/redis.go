package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/qc-validator-api/pkg/config"
)

const (
	pingAttempts = 3
	pingTimeout  = 2 * time.Second
)

// NewRedis connects to redis and verifies the connection. A disabled config
// yields (nil, nil); callers then run without caching or cross-instance events.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ping retries briefly so the API can start alongside a redis container that is still booting.
func ping(ctx context.Context, client redis.UniversalClient) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return fmt.Errorf("ping redis after %d attempts: %w", pingAttempts, err)
}
