package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/derived-key-session/interfaces"
)

// RedisBackend implements a storage backend on a Redis database.
// All keys are namespaced with a prefix.
type RedisBackend struct {
	client      redis.UniversalClient
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string, locationURI string, log *slog.Logger) *RedisBackend {
	return &RedisBackend{
		client:      client,
		prefix:      prefix,
		log:         log,
		locationURI: locationURI,
	}
}

// NewRedisBackendFromOptions creates a client for a single Redis node.
func NewRedisBackendFromOptions(addr, username, password string, db int, prefix string, log *slog.Logger) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	return NewRedisBackend(client, prefix, fmt.Sprintf("redis://%s/%d?prefix=%s", addr, db, prefix), log)
}

func (b *RedisBackend) key(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

// Get returns the value stored under key or ErrContentNotFound.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		b.log.Error("Failed to read from Redis", slog.String("key", key), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return value, nil
}

// Set stores value under key without expiry.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		b.log.Error("Failed to write to Redis", slog.String("key", key), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	b.log.Debug("Stored content in Redis", slog.String("key", key), slog.Int("size", len(value)))
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available pings the server.
func (b *RedisBackend) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.client.Ping(pingCtx).Err(); err != nil {
		b.log.Debug("Redis backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *RedisBackend) Name() string {
	return fmt.Sprintf("redis-%s", b.prefix)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *RedisBackend) LocationURI() string {
	return b.locationURI
}
