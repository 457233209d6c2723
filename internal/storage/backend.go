package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bunbase/bunbase/internal/config"
)

var (
	ErrNotFound      = errors.New("file not found")
	ErrInvalidConfig = errors.New("invalid backend configuration")
)

// Backend stores and retrieves file bytes under a single key of the form
// "<collection>/<recordId>/<sanitizedFilename>". There is exactly one
// storage root per system, not one bucket per collection: the
// collection/record split lives entirely in the key.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePrefix removes every key starting with prefix (a
	// "<collection>/<recordId>/" directory), used by the afterDelete
	// cleanup hook. Idempotent: a missing prefix is not an error.
	DeletePrefix(ctx context.Context, prefix string) error

	// ListPrefixes returns the immediate child path segments under prefix
	// (e.g. the record IDs stored for a collection), used by the orphan
	// sweep to find record directories with no matching row left in the
	// database. A missing prefix returns an empty slice, not an error.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// NewBackend builds the Backend selected by cfg.Backend ("filesystem",
// the default, or "s3").
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "filesystem":
		dir := cfg.Dir
		if dir == "" {
			return nil, fmt.Errorf("%w: filesystem backend requires a dir", ErrInvalidConfig)
		}
		return NewFilesystemBackend(dir), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 backend requires an s3 config block", ErrInvalidConfig)
		}
		return NewS3Backend(ctx, *cfg.S3)
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Backend)
	}
}
