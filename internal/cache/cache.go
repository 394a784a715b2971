package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/redisconn"
)

// Store is a byte cache with a fixed TTL per store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
	Close() error
}

// New returns a Redis-backed store when client is enabled and an in-memory
// store otherwise.
func New(client *redisconn.Client, ttl time.Duration, logger *monitoring.Logger) Store {
	if client.Enabled() {
		if logger != nil {
			logger.Info("Using Redis response cache", "ttl", ttl.String())
		}
		return NewRedisStore(client, "explainer:cache:", ttl)
	}
	if logger != nil {
		logger.Info("Using in-memory response cache", "ttl", ttl.String())
	}
	return NewMemoryStore(ttl, DefaultMaxItems)
}

// Key hashes the parts into a stable hex key
func Key(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
