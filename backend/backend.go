// Package backend provides the storage backend the shell saves downloads to.
package backend

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned by CreateExclusive when the key is already taken.
	ErrExists = errors.New("already exists")
)

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// CreateExclusive stores data at the given key only if the key does not
	// exist. Returns ErrExists otherwise. Readers never see partial data.
	CreateExclusive(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix should use "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Locator is implemented by backends whose keys map to local file paths.
type Locator interface {
	// Path returns the local path for key.
	Path(key string) string
}
