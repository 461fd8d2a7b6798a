package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/derived-key-session/interfaces"
)

// MemoryBackend keeps values in process memory. It backs tests and
// throwaway CLI sessions.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
	name   string
	log    *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		values: make(map[string][]byte),
		name:   name,
		log:    log,
	}
}

// Get returns a copy of the stored value or ErrContentNotFound.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.values[key]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value under key.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[key] = append([]byte(nil), value...)
	b.log.Debug("Stored value in memory", slog.String("key", key), slog.Int("size", len(value)))
	return nil
}

// Delete removes key. Removing an absent key is not an error.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.values, key)
	return nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}
