package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Tx.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Bucket and key names of the sync layout.
const (
	BucketSync = "sync"

	KeyPendingOperations = "pendingOperations"
	KeySyncErrors        = "syncErrors"
	KeyMeta              = "meta"
	KeyIDMap             = "idMap"
)

// Tx is a view of the store inside a transaction.
type Tx interface {
	// Get returns the value stored at (bucket, key) or ErrNotFound.
	Get(bucket, key string) ([]byte, error)

	// Put writes value at (bucket, key), replacing any previous value.
	Put(bucket, key string, value []byte) error

	// Delete removes (bucket, key). Deleting an absent key is a no-op.
	Delete(bucket, key string) error

	// ForEach calls fn for every key in bucket in ascending key order.
	// fn must not modify the bucket.
	ForEach(bucket string, fn func(key string, value []byte) error) error
}

// KV is a transactional key-value store.
type KV interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing it wrote is persisted.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying database.
	Close() error
}
