// Package media defines the thin interface the media-processing job family
// depends on. The object-store client itself (S3/MinIO/local disk) is an
// external collaborator per spec.md §1's non-goals; this package only
// specifies the contract a concrete implementation must satisfy.
package media

import "context"

// Store is the minimal object-store contract media jobs need: read the
// original upload, write a derived asset (thumbnail, optimized copy) back
// out under a new key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
}

// LocalDiskStore and S3Store concrete implementations belong to the
// operator's deployment (MEDIA_FOLDER / USE_S3+S3_* config keys); this
// module ships only the Store contract and a no-op stub for tests/dev.
type NoopStore struct{}

// Get always reports the key as absent; callers should treat this as "no
// media backend configured" rather than a transient failure.
func (NoopStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrNotConfigured
}

// Put discards the data and reports that no backend is configured.
func (NoopStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", ErrNotConfigured
}

// ErrNotConfigured is returned by NoopStore, the default when USE_S3=false
// and MEDIA_FOLDER is unset.
var ErrNotConfigured = &notConfiguredError{}

type notConfiguredError struct{}

func (*notConfiguredError) Error() string { return "media store not configured" }
