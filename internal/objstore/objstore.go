// Package objstore abstracts the S3-compatible object store the identifier
// system indexes. The store is an external collaborator: the rest of the
// system only needs a paginated full-bucket listing, an existence check,
// and time-limited signed retrieval URLs, and treats listings as
// eventually consistent.
package objstore

import (
	"context"
	"errors"
	"time"

	"github.com/permauri/permauri/internal/snapshot"
)

// Store errors.
var (
	// ErrNotFound means the key does not exist in the store.
	ErrNotFound = errors.New("object not found")
	// ErrStoreUnavailable wraps listing/head failures and timeouts. Callers
	// retry on their next scheduled tick, never in a tight loop.
	ErrStoreUnavailable = errors.New("object store unavailable")
)

// Store is the object-store contract the reconciliation system depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns a full listing of the bucket (or configured prefix) as a
	// snapshot: every key with its fingerprint, size, and a shared
	// observation timestamp.
	List(ctx context.Context) (snapshot.Snapshot, error)

	// Exists reports whether key currently exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// PresignGet returns a time-limited signed URL for retrieving key.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
