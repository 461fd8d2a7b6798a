package storage

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ruteri/derived-key-session/interfaces"
)

// FactoryOptions carries credentials that must not appear in location URIs.
type FactoryOptions struct {
	// FilePassphrase seals file backends opened with ?sealed=true.
	FilePassphrase string
	// VaultToken authenticates vault backends. When empty the Vault client
	// falls back to the VAULT_TOKEN environment variable.
	VaultToken string
}

// StorageBackendFactory creates storage backends from location URIs and
// enforces which schemes may serve each storage tier.
type StorageBackendFactory struct {
	log  *slog.Logger
	opts FactoryOptions

	mu       sync.Mutex
	memories map[string]*MemoryBackend
}

// NewStorageBackendFactory creates a new factory instance.
func NewStorageBackendFactory(logger *slog.Logger, opts FactoryOptions) *StorageBackendFactory {
	return &StorageBackendFactory{
		log:      logger,
		opts:     opts,
		memories: make(map[string]*MemoryBackend),
	}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///path/to/dir[?sealed=true] - Local filesystem storage
//   - vault://host:port/mount/path[?tls=false] - Vault KV v2
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=...&endpoint=... - S3 or compatible
//   - redis://[user:password@]host:port/db?prefix=... - Redis
//   - memory://name - process memory, shared by name within the factory
func (sf *StorageBackendFactory) BackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch location.Scheme {
	case "file":
		return sf.createFileBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "redis":
		return sf.createRedisBackend(location)
	case "memory":
		return sf.createMemoryBackend(location), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// SecretStoreFor creates a backend for encryption key records.
// Only vault, file and memory locations are accepted.
func (sf *StorageBackendFactory) SecretStoreFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if !location.AllowedFor(interfaces.SecretTier) {
		return nil, fmt.Errorf("%w: %s backends may not hold key records", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
	return sf.BackendFor(location)
}

// BulkStoreFor creates the bulk store. With several locations, writes are
// mirrored to all of them and reads cross-check the copies.
func (sf *StorageBackendFactory) BulkStoreFor(locations []interfaces.StorageBackendLocation) (interfaces.BulkStore, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		if !location.AllowedFor(interfaces.BulkTier) {
			return nil, fmt.Errorf("%w: %s backends may not hold the bulk store", interfaces.ErrInvalidLocationURI, location.Scheme)
		}

		backend, err := sf.BackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no valid storage backends created")
	case 1:
		return BulkStoreOf(backends[0]), nil
	default:
		return BulkStoreOf(NewMultiStorageBackend(backends, sf.log)), nil
	}
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	var passphrase string
	if location.GetParamBool("sealed") {
		if sf.opts.FilePassphrase == "" {
			return nil, fmt.Errorf("sealed file backend %s requires a passphrase", location.String())
		}
		passphrase = sf.opts.FilePassphrase
	}

	return NewFileBackend(path, passphrase, sf.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://host:port/mount/path/inside/mount[?tls=false]
func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating vault backend", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing vault host", interfaces.ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: missing vault mount path", interfaces.ErrInvalidLocationURI)
	}
	mountPath := parts[0]
	var dataPath string
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}

	return NewVaultBackend(scheme+"://"+location.Host, mountPath, dataPath, VaultAuth{Token: sf.opts.VaultToken}, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", location.Host))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket name", interfaces.ErrInvalidLocationURI)
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey, secretKey := location.Credentials()

	return NewS3Backend(location.Host, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createRedisBackend creates a Redis backend.
// URI format: redis://[user:password@]host:port/db?prefix=derived-keys
func (sf *StorageBackendFactory) createRedisBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating redis backend", slog.String("host", location.Host))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing redis host", interfaces.ErrInvalidLocationURI)
	}

	db := 0
	if dbPath := strings.Trim(location.Path, "/"); dbPath != "" {
		parsed, err := strconv.Atoi(dbPath)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redis database %q", interfaces.ErrInvalidLocationURI, dbPath)
		}
		db = parsed
	}

	username, password := location.Credentials()

	prefix := location.GetParam("prefix")
	if prefix == "" {
		prefix = "derived-key-session"
	}

	return NewRedisBackendFromOptions(location.Host, username, password, db, prefix, sf.log), nil
}

func (sf *StorageBackendFactory) createMemoryBackend(location interfaces.StorageBackendLocation) interfaces.StorageBackend {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	name := location.Host
	if backend, ok := sf.memories[name]; ok {
		return backend
	}
	backend := NewMemoryBackend(name, sf.log)
	sf.memories[name] = backend
	return backend
}
