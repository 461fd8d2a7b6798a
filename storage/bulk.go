package storage

import (
	"context"

	"github.com/ruteri/derived-key-session/interfaces"
)

// BulkStore adapts a byte-oriented backend to interfaces.BulkStore.
type BulkStore struct {
	backend interfaces.StorageBackend
}

// BulkStoreOf returns a string view of backend.
func BulkStoreOf(backend interfaces.StorageBackend) *BulkStore {
	return &BulkStore{backend: backend}
}

// Get returns the value under key as a string, or ErrContentNotFound.
func (s *BulkStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// Set stores value under key.
func (s *BulkStore) Set(ctx context.Context, key string, value string) error {
	return s.backend.Set(ctx, key, []byte(value))
}

// Backend returns the wrapped backend.
func (s *BulkStore) Backend() interfaces.StorageBackend {
	return s.backend
}
