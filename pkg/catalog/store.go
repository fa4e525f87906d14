// Package catalog is the persistence boundary for code entries, merge records,
// freeze flags and history. Every mutation runs inside WithProjectLock.
package catalog

import (
	"context"
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Invariant names reported by ConflictError.
const (
	InvariantStableIDUnique       = "stable_id_unique"
	InvariantStableIDImmutable    = "stable_id_immutable"
	InvariantCanonicalUniqueness  = "canonical_uniqueness"
	InvariantIdempotencyKeyUnique = "idempotency_key_unique"
	InvariantMergedRequiresPtr    = "merged_requires_pointer"
	InvariantPointerTarget        = "canonical_pointer_target"
	InvariantOptimisticLock       = "optimistic_lock"
	InvariantHistoryAppendOnly    = "history_append_only"
)

// Reader is the lock-free read surface. Missing single rows return a NotFound error,
// except GetFreeze and GetMergeOperation which return nil.
type Reader interface {
	GetEntry(ctx context.Context, projectID string, stableID int64) (*models.CodeEntry, error)
	GetEntryByRowID(ctx context.Context, projectID string, id string) (*models.CodeEntry, error)
	FindByNormalizedLabel(ctx context.Context, projectID string, normalized string) ([]*models.CodeEntry, error)
	ListEntries(ctx context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error)
	GetFreeze(ctx context.Context, projectID string) (*models.FreezeRecord, error)
	GetMergeOperation(ctx context.Context, projectID string, idempotencyKey string) (*models.MergeOperation, error)
	ListHistory(ctx context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error)
	ListProjects(ctx context.Context) ([]string, error)
}

// Writer mutates the catalog. It is only reachable through Tx.
type Writer interface {
	InsertEntry(ctx context.Context, entry *models.CodeEntry) error
	// UpdateEntry persists entry if its Version matches the stored row and bumps Version.
	UpdateEntry(ctx context.Context, entry *models.CodeEntry) error
	NextStableID(ctx context.Context) (int64, error)
	InsertMergeOperation(ctx context.Context, op *models.MergeOperation) error
	UpsertFreeze(ctx context.Context, record *models.FreezeRecord) error
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
}

// Tx sees its own uncommitted writes.
type Tx interface {
	Reader
	Writer
}

// Store serializes writers per project. Readers never wait on the project lock.
type Store interface {
	Reader
	// WithProjectLock runs fn in one transaction holding the project's lock.
	// fn's error rolls everything back; a timeout rolls back and returns a retryable conflict.
	WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// SortEntries orders entries by stable id (legacy rows last), then creation time.
func SortEntries(entries []*models.CodeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.StableID != nil && b.StableID != nil && *a.StableID != *b.StableID:
			return *a.StableID < *b.StableID
		case a.StableID != nil && b.StableID == nil:
			return true
		case a.StableID == nil && b.StableID != nil:
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Matches reports whether e passes filter's status and promotion predicates.
func Matches(e *models.CodeEntry, filter models.EntryFilter) bool {
	if len(filter.Statuses) > 0 {
		ok := false
		for _, s := range filter.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Promoted != nil && e.IsPromoted() != *filter.Promoted {
		return false
	}
	return true
}

// Page applies filter's offset and limit.
func Page[T any](items []T, filter models.EntryFilter) []T {
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return items[:0]
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items
}
