// Package catalogtest seeds in-memory catalogs for tests.
package catalogtest

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
)

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type Option func(*models.CodeEntry)

// PointsTo sets the canonical ID pointer.
func PointsTo(stableID int64) Option {
	return func(e *models.CodeEntry) {
		e.CanonicalIDPointer = &stableID
	}
}

// LabelPointer sets the legacy canonical label pointer.
func LabelPointer(label string) Option {
	return func(e *models.CodeEntry) {
		e.CanonicalLabelPointer = &label
	}
}

func Evidence(refs ...string) Option {
	return func(e *models.CodeEntry) {
		e.EvidenceRefs = append(e.EvidenceRefs, refs...)
	}
}

// Promoted marks the entry as admitted to the definitive catalog.
func Promoted() Option {
	return func(e *models.CodeEntry) {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		e.PromotedAt = &at
	}
}

// Legacy drops the stable id, as for rows created before stable ids existed.
func Legacy() Option {
	return func(e *models.CodeEntry) {
		e.StableID = nil
		e.Source = models.CodeSourceLegacy
	}
}

// Code builds an entry with a normalized label.
func Code(projectID string, stableID int64, label string, status models.CodeStatus, opts ...Option) *models.CodeEntry {
	e := &models.CodeEntry{
		ProjectID:       projectID,
		StableID:        &stableID,
		Label:           label,
		NormalizedLabel: normalizer.Normalize(label),
		Status:          status,
		Source:          models.CodeSourceManual,
		EvidenceRefs:    []string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Seed inserts entries in one transaction. Pointers are applied in a second
// pass so fixtures may contain chains in any order, or cycles.
func Seed(t testing.TB, store catalog.Store, entries ...*models.CodeEntry) {
	t.Helper()
	require.NotEmpty(t, entries)

	err := store.WithProjectLock(context.Background(), entries[0].ProjectID, func(ctx context.Context, tx catalog.Tx) error {
		type deferred struct {
			entry   *models.CodeEntry
			status  models.CodeStatus
			pointer *int64
		}
		var later []deferred
		for _, e := range entries {
			if e.CanonicalIDPointer != nil {
				later = append(later, deferred{entry: e, status: e.Status, pointer: e.CanonicalIDPointer})
				e.CanonicalIDPointer = nil
				if e.Status.Absorbed() {
					e.Status = models.CodeStatusPending
				}
			}
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		for _, d := range later {
			d.entry.CanonicalIDPointer = d.pointer
			d.entry.Status = d.status
			if err := tx.UpdateEntry(ctx, d.entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Get reloads an entry by stable id.
func Get(t testing.TB, store catalog.Reader, projectID string, stableID int64) *models.CodeEntry {
	t.Helper()
	e, err := store.GetEntry(context.Background(), projectID, stableID)
	require.NoError(t, err)
	return e
}
