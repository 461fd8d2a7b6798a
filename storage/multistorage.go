package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/derived-key-session/interfaces"
)

// MultiStorageBackend implements interfaces.StorageBackend by mirroring
// writes to multiple backends. Writes are all-or-nothing from the caller's
// point of view and reads cross-check the copies.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new mirrored multi-storage backend
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Get returns the value held by the reachable backends. Backends that are
// unavailable or fail the read are skipped. When the reachable backends
// disagree, either on the value or on whether the key exists,
// ErrStorageInconsistency is returned instead of picking one copy.
// ErrContentNotFound is returned only when every backend reports the key as
// absent.
func (m *MultiStorageBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var errs []error
	var found [][]byte
	var holders []string
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Get(ctx, key)
		if err == nil {
			found = append(found, data)
			holders = append(holders, backend.Name())
			continue
		}

		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", key),
			"err", err)
	}

	if len(found) > 0 {
		consistent := notFound == 0
		for _, data := range found[1:] {
			if !bytes.Equal(data, found[0]) {
				consistent = false
			}
		}
		if !consistent {
			m.log.Error("Backends disagree on content",
				slog.String("key", key),
				slog.String("holders", strings.Join(holders, ",")),
				slog.Int("missing", notFound))
			return nil, fmt.Errorf("%w: backends disagree on %s", interfaces.ErrStorageInconsistency, key)
		}

		m.log.Debug("Fetched content",
			slog.String("key", key),
			slog.Int("backends", len(found)),
			slog.Duration("duration", time.Since(start)))
		return found[0], nil
	}

	if notFound > 0 && len(errs) == 0 {
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All backends failed to fetch content",
		slog.String("key", key),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to fetch %s: %w", key, errors.Join(errs...))
}

// Set writes value to every backend. The write fails unless all backends
// are available and accept it, so callers can roll back.
func (m *MultiStorageBackend) Set(ctx context.Context, key string, value []byte) error {
	return m.forEach(ctx, "store", key, func(backend interfaces.StorageBackend) error {
		return backend.Set(ctx, key, value)
	})
}

// Delete removes key from every backend, with the same all-or-nothing
// reporting as Set.
func (m *MultiStorageBackend) Delete(ctx context.Context, key string) error {
	return m.forEach(ctx, "delete", key, func(backend interfaces.StorageBackend) error {
		return backend.Delete(ctx, key)
	})
}

func (m *MultiStorageBackend) forEach(ctx context.Context, op, key string, fn func(interfaces.StorageBackend) error) error {
	start := time.Now()

	if len(m.backends) == 0 {
		return fmt.Errorf("no backends to %s %s: %w", op, key, interfaces.ErrBackendUnavailable)
	}

	// refuse up front so an unreachable mirror does not go stale
	var unavailable []string
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			unavailable = append(unavailable, backend.Name())
		}
	}
	if len(unavailable) > 0 {
		m.log.Error("Backends unavailable, refusing write",
			slog.String("op", op),
			slog.String("key", key),
			slog.String("unavailable", strings.Join(unavailable, ",")))
		return fmt.Errorf("failed to %s %s, unavailable backends %s: %w",
			op, key, strings.Join(unavailable, ","), interfaces.ErrBackendUnavailable)
	}

	var errs []error
	for _, backend := range m.backends {
		if err := fn(backend); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Backend operation failed",
				slog.String("op", op),
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				"err", err)
		}
	}

	if len(errs) > 0 {
		m.log.Error("Backend operation incomplete",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("failed to %s %s on %d of %d backends: %w", op, key, len(errs), len(m.backends), errors.Join(errs...))
	}

	return nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the combined location URIs of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
