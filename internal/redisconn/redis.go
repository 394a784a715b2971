package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
)

// Client wraps the Redis client with health checks and graceful degradation.
// A disabled Client is valid: callers check Enabled and fall back to
// in-process state.
type Client struct {
	client  *redis.Client
	enabled bool
	addr    string
}

// Options configures the connection
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect dials Redis and pings it. An empty address, or a failed ping,
// yields a disabled client; the ping error is returned alongside so the
// caller can log it.
func Connect(ctx context.Context, opts Options, logger *monitoring.Logger) (*Client, error) {
	if opts.Addr == "" {
		logger.Warn("Redis address not configured, using in-memory cache and rate limiting")
		return &Client{}, nil
	}

	logger.Info("Initializing Redis client", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return &Client{addr: opts.Addr}, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Redis client connected", "addr", opts.Addr)

	return &Client{
		client:  client,
		enabled: true,
		addr:    opts.Addr,
	}, nil
}

// Wrap adopts an existing go-redis client, mostly for tests
func Wrap(client *redis.Client) *Client {
	if client == nil {
		return &Client{}
	}
	return &Client{client: client, enabled: true, addr: client.Options().Addr}
}

// Redis returns the underlying client, nil when disabled
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Enabled reports whether Redis is configured and answered the startup ping
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// HealthCheck pings the server
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("redis is disabled")
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	if c.Enabled() && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// PoolStats returns connection pool statistics
func (c *Client) PoolStats() map[string]any {
	if !c.Enabled() {
		return map[string]any{"enabled": false}
	}

	stats := c.client.PoolStats()
	return map[string]any{
		"enabled":     true,
		"addr":        c.addr,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
