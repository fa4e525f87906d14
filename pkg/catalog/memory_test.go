package catalog

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const project = "p1"

func ptr[T any](v T) *T { return &v }

func insert(t *testing.T, s *MemoryStore, e *models.CodeEntry) *models.CodeEntry {
	t.Helper()
	err := s.WithProjectLock(context.Background(), e.ProjectID, func(ctx context.Context, tx Tx) error {
		return tx.InsertEntry(ctx, e)
	})
	require.NoError(t, err)
	return e
}

func entry(stableID int64, label string, status models.CodeStatus) *models.CodeEntry {
	return &models.CodeEntry{
		ProjectID:       project,
		StableID:        ptr(stableID),
		Label:           label,
		NormalizedLabel: label,
		Status:          status,
		Source:          models.CodeSourceManual,
	}
}

func TestMemoryStore_InsertAndRead(t *testing.T) {
	s := NewMemoryStore()
	e := insert(t, s, entry(1, "estado", models.CodeStatusPending))

	got, err := s.GetEntry(context.Background(), project, 1)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, 1, got.Version)

	_, err = s.GetEntry(context.Background(), project, 2)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	_, err = s.GetEntry(context.Background(), "other", 1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	boom := stderrors.New("boom")

	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertEntry(ctx, entry(1, "estado", models.CodeStatusPending)))
		// visible inside the transaction
		_, err := tx.GetEntry(ctx, project, 1)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetEntry(context.Background(), project, 1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestMemoryStore_StableIDConstraints(t *testing.T) {
	s := NewMemoryStore()
	e := insert(t, s, entry(1, "estado", models.CodeStatusPending))

	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return tx.InsertEntry(ctx, entry(1, "otro", models.CodeStatusPending))
	})
	assertInvariant(t, err, InvariantStableIDUnique)

	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		e.StableID = ptr(int64(99))
		return tx.UpdateEntry(ctx, e)
	})
	assertInvariant(t, err, InvariantStableIDImmutable)
}

func TestMemoryStore_CanonicalSlot(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, entry(1, "estado", models.CodeStatusValidated))
	// pending duplicates are allowed; they do not hold the validated slot
	dup := insert(t, s, entry(2, "estado", models.CodeStatusPending))

	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		dup.Status = models.CodeStatusValidated
		return tx.UpdateEntry(ctx, dup)
	})
	assertInvariant(t, err, InvariantCanonicalUniqueness)

	// a merged duplicate no longer competes
	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetEntry(ctx, project, 2)
		require.NoError(t, err)
		current.Status = models.CodeStatusMerged
		current.CanonicalIDPointer = ptr(int64(1))
		return tx.UpdateEntry(ctx, current)
	})
	require.NoError(t, err)
}

func TestMemoryStore_AbsorbedNeedsPointer(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return tx.InsertEntry(ctx, entry(1, "estado", models.CodeStatusMerged))
	})
	assertInvariant(t, err, InvariantMergedRequiresPtr)

	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		e := entry(1, "estado", models.CodeStatusMerged)
		e.CanonicalIDPointer = ptr(int64(77))
		return tx.InsertEntry(ctx, e)
	})
	assertInvariant(t, err, InvariantPointerTarget)
}

func TestMemoryStore_OptimisticLock(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, entry(1, "estado", models.CodeStatusPending))

	stale, err := s.GetEntry(context.Background(), project, 1)
	require.NoError(t, err)

	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.GetEntry(ctx, project, 1)
		require.NoError(t, err)
		fresh.Label = "estado civil"
		return tx.UpdateEntry(ctx, fresh)
	})
	require.NoError(t, err)

	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		stale.Label = "otro"
		return tx.UpdateEntry(ctx, stale)
	})
	assertInvariant(t, err, InvariantOptimisticLock)
	assert.True(t, errors.IsRetryable(err))
}

func TestMemoryStore_HistoryOrderingAndFilter(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		for _, h := range []*models.HistoryEntry{
			{ProjectID: project, StableID: ptr(int64(1)), SubjectIDs: []int64{1}, Action: models.HistoryCreated},
			{ProjectID: project, StableID: ptr(int64(2)), SubjectIDs: []int64{2, 1}, Action: models.HistoryMerged},
			{ProjectID: project, Action: models.HistoryFreezeEngaged},
		} {
			if err := tx.AppendHistory(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := s.ListHistory(context.Background(), project, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, all[0].ID, all[1].ID)
	assert.Less(t, all[1].ID, all[2].ID)

	forOne, err := s.ListHistory(context.Background(), project, ptr(int64(1)))
	require.NoError(t, err)
	assert.Len(t, forOne, 2)

	err = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return tx.AppendHistory(ctx, all[0])
	})
	assertInvariant(t, err, InvariantHistoryAppendOnly)
}

func TestMemoryStore_IdempotencyKeyUnique(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, entry(1, "a", models.CodeStatusPending))
	op := &models.MergeOperation{ProjectID: project, IdempotencyKey: "k1", SourceIDs: []int64{2}, TargetID: 1}

	require.NoError(t, s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return tx.InsertMergeOperation(ctx, op)
	}))
	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return tx.InsertMergeOperation(ctx, &models.MergeOperation{ProjectID: project, IdempotencyKey: "k1"})
	})
	assertInvariant(t, err, InvariantIdempotencyKeyUnique)

	got, err := s.GetMergeOperation(context.Background(), project, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []int64{2}, got.SourceIDs)

	missing, err := s.GetMergeOperation(context.Background(), project, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_LockTimeout(t *testing.T) {
	s := NewMemoryStore(WithTxTimeout(50 * time.Millisecond))
	held := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		return nil
	})
	assert.True(t, errors.IsRetryable(err))

	// other projects are not blocked
	err = s.WithProjectLock(context.Background(), "p2", func(ctx context.Context, tx Tx) error {
		return nil
	})
	assert.NoError(t, err)

	// reads never wait for the lock
	_, err = s.ListEntries(context.Background(), project, models.EntryFilter{})
	assert.NoError(t, err)

	close(release)
	wg.Wait()
}

func TestMemoryStore_TxScopedToProject(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithProjectLock(context.Background(), project, func(ctx context.Context, tx Tx) error {
		e := entry(1, "x", models.CodeStatusPending)
		e.ProjectID = "p2"
		return tx.InsertEntry(ctx, e)
	})
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestListEntriesFilterAndPage(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, entry(3, "c", models.CodeStatusValidated))
	insert(t, s, entry(1, "a", models.CodeStatusPending))
	insert(t, s, entry(2, "b", models.CodeStatusValidated))
	legacy := &models.CodeEntry{ProjectID: project, Label: "z", NormalizedLabel: "z", Status: models.CodeStatusValidated, Source: models.CodeSourceLegacy}
	insert(t, s, legacy)

	all, err := s.ListEntries(context.Background(), project, models.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(1), all[0].SID())
	assert.Nil(t, all[3].StableID)

	validated, err := s.ListEntries(context.Background(), project, models.EntryFilter{
		Statuses: []models.CodeStatus{models.CodeStatusValidated},
		Offset:   1,
		Limit:    1,
	})
	require.NoError(t, err)
	require.Len(t, validated, 1)
	assert.Equal(t, int64(3), validated[0].SID())

	projects, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{project}, projects)
}

func assertInvariant(t *testing.T, err error, invariant string) {
	t.Helper()
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok, "expected governance error, got %v", err)
	assert.Equal(t, errors.KindConflict, e.Kind)
	assert.Equal(t, invariant, e.Invariant)
}
