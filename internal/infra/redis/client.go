package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/metrics"
)

// Client holds the go-redis connection backing list leases.
type Client struct {
	inner *redis.Client
}

// NewClient dials redis and pings it before returning.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	inner := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})
	inner.AddHook(latencyHook{})

	if err := inner.Ping(ctx).Err(); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}
	return &Client{inner: inner}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Inner exposes the raw client for Lua scripts.
func (c *Client) Inner() *redis.Client {
	return c.inner
}

// latencyHook records every command into metrics.RedisCommands.
type latencyHook struct{}

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), err, time.Since(start))
		return err
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", err, time.Since(start))
		return err
	}
}

func observe(command string, err error, elapsed time.Duration) {
	metrics.RedisCommands.WithLabelValues(command, result(err)).Observe(elapsed.Seconds())
}

// result treats redis.Nil as a normal miss.
func result(err error) string {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return "ok"
	default:
		return "error"
	}
}
