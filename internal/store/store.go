package store

import "context"

// Store is the persistence interface the upload coordinator, scan worker
// and quota service depend on. Production wires the SQLite-backed
// implementation in sqlite.go; tests use the same implementation against
// a temporary database file.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	EnsureDemoUser(ctx context.Context, demoID string) (*User, error)

	// File objects
	CreateFileObject(ctx context.Context, f *FileObject) error
	GetFileObject(ctx context.Context, id string) (*FileObject, error)
	ListFileObjectsByOwner(ctx context.Context, ownerID string) ([]*FileObject, error)
	// CompareAndTransition atomically moves a file from `from` to `to`,
	// applying mutate to the row first, inside a single transaction. It
	// fails with ErrBadState if the row's current state is not `from`, and
	// with an error if `to` is not reachable from `from` per the closed
	// transition set.
	CompareAndTransition(ctx context.Context, id string, from, to FileState, mutate func(*FileObject)) (*FileObject, error)

	// Audit
	AppendAuditEvent(ctx context.Context, e *AuditEvent) error

	// Quota
	GetOrCreateUsageCounter(ctx context.Context, ownerID string) (*UsageCounter, error)
	// IncrementUsageIfWithinLimits atomically applies the delta to the
	// counter iff the result stays within maxFiles/maxBytes, returning
	// ok=false (no mutation) otherwise. This is the linearizable per-owner
	// section spec.md §4.5 and §5 require.
	IncrementUsageIfWithinLimits(ctx context.Context, ownerID string, fileDelta int, byteDelta int64, maxFiles int, maxBytes int64) (ok bool, counter *UsageCounter, err error)

	Close() error
}
