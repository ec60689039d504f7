// Package quota enforces the per-owner storage limits: a file-count check
// when an upload is initiated, and a booking check at the moment a file
// is admitted into ACTIVE state. It is a thin, named wrapper around the
// store's usage counter so the limit values (spec.md §3) live in
// one place instead of being threaded as magic numbers through the
// upload coordinator.
package quota

import (
	"context"
	"fmt"

	"github.com/shivaxm/uploadsvc/internal/store"
)

// ErrQuotaExceeded is returned by Admit when admitting the file would
// put the owner over its file-count or byte-count limit.
var ErrQuotaExceeded = fmt.Errorf("quota exceeded")

// Enforcer checks and books storage quota against the relational store.
type Enforcer struct {
	store     store.Store
	maxFiles  int
	maxBytes  int64
}

// New builds an Enforcer with the default limits from spec.md §3.
func New(s store.Store) *Enforcer {
	return &Enforcer{store: s, maxFiles: store.MaxFiles, maxBytes: store.MaxBytes}
}

// Admit atomically books one file and sizeBytes against ownerID's
// counters, succeeding only if both stay within limits afterward. This
// is the linearizable per-owner admission section spec.md §4.5 and §5
// require — two concurrent activations for the same owner can never both
// succeed when only one slot remains.
func (e *Enforcer) Admit(ctx context.Context, ownerID string, sizeBytes int64) (*store.UsageCounter, error) {
	ok, counter, err := e.store.IncrementUsageIfWithinLimits(ctx, ownerID, 1, sizeBytes, e.maxFiles, e.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("admit file for owner %s: %w", ownerID, err)
	}
	if !ok {
		return counter, ErrQuotaExceeded
	}
	return counter, nil
}

// Usage returns the current counters for ownerID without mutating them.
func (e *Enforcer) Usage(ctx context.Context, ownerID string) (*store.UsageCounter, error) {
	return e.store.GetOrCreateUsageCounter(ctx, ownerID)
}

// EnforceInit checks that ownerID has not already reached its file-count
// limit before an upload is even allowed to begin, per spec.md §4.1/§4.5
// (`enforce_init`, grounded on the original's
// `app/services/quota.py:enforce_init`). It does not book anything —
// the actual increment happens on activation, in Admit — so a caller
// that inits and then abandons the upload never costs the owner a slot.
func (e *Enforcer) EnforceInit(ctx context.Context, ownerID string) error {
	counter, err := e.store.GetOrCreateUsageCounter(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load usage counter for owner %s: %w", ownerID, err)
	}
	if counter.FilesCount >= e.maxFiles {
		return ErrQuotaExceeded
	}
	return nil
}
