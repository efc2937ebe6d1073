// Package store persists opaque snapshot blobs under a string key. Each save
// replaces the previous blob for that key.
package store

import (
	"context"
	"time"
)

// Blob is a stored value with the time it was last written.
type Blob struct {
	Key     string
	Data    []byte
	SavedAt time.Time
}

// Store is a last-write-wins key/blob store.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	// Load returns nil, nil when key is absent.
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Blob, error)

	Migrate(ctx context.Context) error
	Close() error
}
