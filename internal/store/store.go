// Package store implements the durable local cache: a small key-value layer
// holding JSON records that must survive process restarts. Exactly two logical
// records matter to the rest of the system, the serialized offline dataset
// and the serialized mutation queue, so the interface is deliberately narrow.
//
// Guarantees:
//   - A Set is atomic per key: readers observe either the previous value or
//     the new one, never a torn write.
//   - A Set is durable before it returns; an acknowledged enqueue survives a
//     crash immediately after.
//   - All writes are serialized (single-writer discipline), so concurrent
//     enqueues from the UI layer cannot interleave into a corrupted record.
package store

import "errors"

// Well-known record keys. All persistent state lives under these two keys so
// the on-disk layout stays legible and diffable.
const (
	KeyDataset = "offline/dataset"
	KeyQueue   = "offline/queue"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("record not found")

// Store is the durable key-value contract used by the queue and the offline
// dataset. Values are opaque JSON blobs; callers own encoding.
//
// Implementations must be safe for concurrent use and must serialize writes.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set durably writes value under key, atomically replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes the record under key. Deleting a missing key is a no-op.
	Delete(key string) error
	// Close releases underlying resources. The store must not be used after.
	Close() error
}
