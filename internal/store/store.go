// Package store defines the blob and metadata persistence interfaces and
// their backends (S3, DynamoDB, SQLite, Postgres, local filesystem, memory).
package store

import (
	"context"
	"errors"
	"maps"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by BlobStore.Get when the key does not exist.
var ErrNotFound = eris.New("store: not found")

// IsNotFound reports whether err marks a missing blob.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// BlobStore persists opaque byte payloads by key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNotFound (wrapped) when key is missing.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Item is a flat set of string attributes.
type Item map[string]string

// Clone returns a copy of the item.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	return maps.Clone(it)
}

// Record is a scanned item with its key.
type Record struct {
	Key  string
	Item Item
}

// MetadataStore is a key-value store of attribute rows grouped by table.
type MetadataStore interface {
	// PutItem writes or overwrites the row at key.
	PutItem(ctx context.Context, table, key string, item Item) error
	// GetItem returns nil, nil when the row does not exist.
	GetItem(ctx context.Context, table, key string) (Item, error)
	// Scan returns every row in table in unspecified order.
	Scan(ctx context.Context, table string) ([]Record, error)
	Close() error
}
