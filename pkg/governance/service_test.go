package governance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/catalog/catalogtest"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

const project = "p-gov"

type recorder struct {
	mu         sync.Mutex
	events     []*kafka.CodeEvent
	statements []graph.Statement
}

func (r *recorder) PublishCodeEvent(_ context.Context, event *kafka.CodeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Write(_ context.Context, statements ...graph.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, statements...)
	return nil
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.statements = nil
}

func newService(t *testing.T, seed ...*models.CodeEntry) (*governance.Service, *recorder) {
	t.Helper()
	logger := catalogtest.Logger()
	store := catalog.NewMemoryStore()
	if len(seed) > 0 {
		catalogtest.Seed(t, store, seed...)
	}
	rec := &recorder{}
	svc := governance.NewService(store, governance.Options{},
		events.NewEmitter(rec, logger), graph.NewProjector(rec, logger), logger)
	return svc, rec
}

func TestService_LifecycleEmitsAfterCommit(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t)

	created, err := svc.CreateCandidate(ctx, models.CreateCandidateRequest{
		ProjectID:    project,
		Label:        "Trust",
		Source:       models.CodeSourceManual,
		EvidenceRefs: []string{"frag-1"},
		Actor:        "alice",
	})
	require.NoError(t, err)
	sid := created.Entry.SID()

	_, err = svc.Validate(ctx, project, sid, "alice")
	require.NoError(t, err)
	promoted, err := svc.Promote(ctx, project, sid, "alice")
	require.NoError(t, err)
	assert.True(t, promoted.IsPromoted())

	assert.Equal(t, []string{"code.created", "code.validated", "code.promoted"}, rec.eventTypes())
	require.Len(t, rec.statements, 1)
	assert.Equal(t, true, rec.statements[0].Params["promoted"])
	assert.Equal(t, sid, rec.statements[0].Params["stable_id"])

	_, err = svc.Validate(ctx, project, 999, "alice")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.Len(t, rec.eventTypes(), 3, "failed operations emit nothing")
}

func TestService_MergeEmitsOnlyOnFirstApply(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "trusting", models.CodeStatusPending),
		catalogtest.Code(project, 3, "trusted", models.CodeStatusPending),
	)
	req := models.MergeRequest{ProjectID: project, SourceIDs: []int64{2, 3}, TargetID: 1, IdempotencyKey: "m-1", Actor: "alice"}

	result, replayed, err := svc.Merge(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, result.MergedCount)
	assert.Equal(t, []string{"codes.merged"}, rec.eventTypes())
	// target node, then a node and an alias edge per source
	assert.Len(t, rec.statements, 5)

	rec.reset()
	again, replayed, err := svc.Merge(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, result.MergedAt, again.MergedAt)
	assert.Empty(t, rec.eventTypes())
	assert.Empty(t, rec.statements)
}

func TestService_FreezeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "Doubt", models.CodeStatusPending, catalogtest.Evidence("f")),
	)

	_, err := svc.Freeze(ctx, project, "alice", "axial-analysis")
	require.NoError(t, err)
	_, err = svc.Freeze(ctx, project, "bob", "again")
	require.NoError(t, err)
	assert.Equal(t, []string{"project.frozen"}, rec.eventTypes())

	status, err := svc.FreezeStatus(ctx, project)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "alice", *status.EngagedBy)
	assert.Equal(t, "UNFREEZE "+project, status.ConfirmationPhrase)

	_, err = svc.Validate(ctx, project, 2, "alice")
	assert.True(t, errors.IsKind(err, errors.KindFrozen))

	one := int64(1)
	res, err := svc.Resolve(ctx, project, governance.ResolveQuery{StableID: &one})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Entry.SID())

	_, err = svc.Unfreeze(ctx, project, "alice", "unfreeze")
	assert.True(t, errors.HasCode(err, errors.CodeConfirmationMismatch))

	record, err := svc.Unfreeze(ctx, project, "alice", status.ConfirmationPhrase)
	require.NoError(t, err)
	assert.False(t, record.Active)
	assert.Equal(t, []string{"project.frozen", "project.unfrozen"}, rec.eventTypes())

	status, err = svc.FreezeStatus(ctx, project)
	require.NoError(t, err)
	assert.Empty(t, status.ConfirmationPhrase)
}

func TestService_ConcurrentFreezeEmitsOnce(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t, catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Freeze(ctx, project, "alice", "axial-analysis")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"project.frozen"}, rec.eventTypes())

	status, err := svc.FreezeStatus(ctx, project)
	require.NoError(t, err)
	rec.reset()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Unfreeze(ctx, project, "alice", status.ConfirmationPhrase)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"project.unfrozen"}, rec.eventTypes())
}

func TestService_SupersedeDemotesGraphNode(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t,
		catalogtest.Code(project, 1, "Old theory", models.CodeStatusValidated, catalogtest.Evidence("f"), catalogtest.Promoted()),
		catalogtest.Code(project, 2, "New theory", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)

	entry, err := svc.Supersede(ctx, project, 1, 2, "refined", "alice")
	require.NoError(t, err)
	assert.False(t, entry.IsPromoted())

	assert.Equal(t, []string{"code.superseded"}, rec.eventTypes())
	require.Len(t, rec.statements, 1)
	assert.Equal(t, int64(1), rec.statements[0].Params["stable_id"])
	assert.Equal(t, false, rec.statements[0].Params["promoted"])
	assert.Equal(t, string(models.CodeStatusSuperseded), rec.statements[0].Params["status"])
}

func TestService_Resolve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "trusting", models.CodeStatusMerged, catalogtest.PointsTo(1), catalogtest.LabelPointer("Trust")),
	)

	byLabel, err := svc.Resolve(ctx, project, governance.ResolveQuery{Label: "TRUSTING"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byLabel.Entry.SID())
	assert.Equal(t, []int64{2, 1}, byLabel.Path)

	two := int64(2)
	_, err = svc.Resolve(ctx, project, governance.ResolveQuery{StableID: &two, Label: "Trust"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	_, err = svc.Resolve(ctx, project, governance.ResolveQuery{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestService_BatchAndRevert(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusPending, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusHypothesis),
	)

	result, err := svc.BatchValidate(ctx, project, []int64{1, 2}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"code.validated"}, rec.eventTypes())

	_, err = svc.Promote(ctx, project, 1, "alice")
	require.NoError(t, err)
	rec.reset()

	reverted, err := svc.RevertToPending(ctx, project, []int64{1}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, reverted.Succeeded)
	assert.Equal(t, []string{"code.reverted"}, rec.eventTypes())
	require.Len(t, rec.statements, 1)
	assert.Equal(t, false, rec.statements[0].Params["promoted"])
}

func TestService_ReadOperations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusPending, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusHypothesis),
	)
	_, err := svc.Validate(ctx, project, 1, "alice")
	require.NoError(t, err)

	pending, err := svc.ListCandidates(ctx, project, models.EntryFilter{Statuses: []models.CodeStatus{models.CodeStatusHypothesis}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].SID())

	_, err = svc.ListCandidates(ctx, project, models.EntryFilter{Statuses: []models.CodeStatus{"archived"}})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	one := int64(1)
	history, err := svc.History(ctx, project, &one)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryValidated, history[0].Action)

	missing := int64(77)
	_, err = svc.History(ctx, project, &missing)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	entry, err := svc.GetEntry(ctx, project, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusValidated, entry.Status)

	projects, err := svc.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{project}, projects)
}
