package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StorageTier separates the bulk credential table from the key-record store.
type StorageTier int

const (
	// BulkTier holds the authorized users index and session flags.
	BulkTier StorageTier = iota
	// SecretTier holds encryption key records.
	SecretTier
)

// String returns tier name.
func (t StorageTier) String() string {
	switch t {
	case BulkTier:
		return "bulk"
	case SecretTier:
		return "secret"
	default:
		return "unknown"
	}
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "redis", "vault", "memory":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// AllowedFor reports whether the scheme may back the given tier. Key records
// must never land in shared object storage, so s3 and redis are bulk only.
func (loc StorageBackendLocation) AllowedFor(tier StorageTier) bool {
	switch tier {
	case BulkTier:
		return loc.Scheme != "vault"
	case SecretTier:
		return loc.Scheme == "vault" || loc.Scheme == "file" || loc.Scheme == "memory"
	default:
		return false
	}
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// Credentials returns the decoded user info of the URI.
func (loc StorageBackendLocation) Credentials() (username, password string) {
	parsed, err := url.Parse(loc.Raw)
	if err != nil || parsed.User == nil {
		return "", ""
	}
	password, _ = parsed.User.Password()
	return parsed.User.Username(), password
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when a key has no value in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// SecretStore is the higher-sensitivity key/value store holding key records.
// Get returns ErrContentNotFound for absent keys; Delete of an absent key is not an error.
type SecretStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// BulkStore is the local store for opaque strings such as the users index.
// Get returns ErrContentNotFound for absent keys.
type BulkStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// StorageBackend is a byte-oriented key/value backend. Every backend can
// serve as a SecretStore directly and as a BulkStore through an adapter.
type StorageBackend interface {
	SecretStore

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends for each tier.
type StorageBackendFactory interface {
	// BackendFor creates a raw backend from URI.
	// Supports file://, s3://, redis://, vault://, memory://
	BackendFor(location StorageBackendLocation) (StorageBackend, error)

	// SecretStoreFor creates a backend permitted for the secret tier.
	SecretStoreFor(location StorageBackendLocation) (StorageBackend, error)

	// BulkStoreFor creates a bulk store, mirrored across all locations.
	BulkStoreFor(locations []StorageBackendLocation) (BulkStore, error)
}
