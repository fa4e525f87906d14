package lifecycle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/advisor"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/catalog/catalogtest"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/freeze"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

const project = "p-life"

type harness struct {
	store  *catalog.MemoryStore
	freeze *freeze.Controller
	engine *lifecycle.Engine
}

func newHarness(t *testing.T, seed ...*models.CodeEntry) *harness {
	t.Helper()
	logger := catalogtest.Logger()
	store := catalog.NewMemoryStore()
	if len(seed) > 0 {
		catalogtest.Seed(t, store, seed...)
	}
	fc := freeze.NewController(store, logger, "")
	return &harness{
		store:  store,
		freeze: fc,
		engine: lifecycle.NewEngine(store, fc, resolver.NewResolver(logger, 0), advisor.NewAdvisor(logger, 0), logger),
	}
}

func (h *harness) history(t *testing.T, stableID int64) []*models.HistoryEntry {
	t.Helper()
	entries, err := h.store.ListHistory(context.Background(), project, &stableID)
	require.NoError(t, err)
	return entries
}

func TestCreate_StatusDependsOnEvidence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	withEvidence, err := h.engine.Create(ctx, models.CreateCandidateRequest{
		ProjectID:    project,
		Label:        "  Estado ",
		Source:       models.CodeSourceManual,
		EvidenceRefs: []string{"frag-1", "frag-1", "frag-2"},
		Actor:        "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusPending, withEvidence.Entry.Status)
	assert.Equal(t, "Estado", withEvidence.Entry.Label)
	assert.Equal(t, "estado", withEvidence.Entry.NormalizedLabel)
	assert.Equal(t, []string{"frag-1", "frag-2"}, []string(withEvidence.Entry.EvidenceRefs))
	assert.Equal(t, models.DuplicateNone, withEvidence.Advice.Classification)
	require.NotNil(t, withEvidence.Entry.StableID)

	without, err := h.engine.Create(ctx, models.CreateCandidateRequest{
		ProjectID: project,
		Label:     "Power",
		Source:    models.CodeSourceLLM,
		Actor:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusHypothesis, without.Entry.Status)
	assert.NotEqual(t, withEvidence.Entry.SID(), without.Entry.SID())

	created := h.history(t, without.Entry.SID())
	require.Len(t, created, 1)
	assert.Equal(t, models.HistoryCreated, created[0].Action)
	assert.Equal(t, "alice", created[0].Actor)
}

func TestCreate_DuplicatesAreAdvisedNotBlocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.engine.Create(ctx, models.CreateCandidateRequest{ProjectID: project, Label: "estado", Source: models.CodeSourceManual, EvidenceRefs: []string{"f1"}})
	require.NoError(t, err)
	b, err := h.engine.Create(ctx, models.CreateCandidateRequest{ProjectID: project, Label: "estado ", Source: models.CodeSourceManual, EvidenceRefs: []string{"f2"}})
	require.NoError(t, err)

	assert.Equal(t, models.DuplicateExact, b.Advice.Classification)
	require.NotNil(t, b.Advice.Match)
	assert.Equal(t, a.Entry.SID(), b.Advice.Match.SID())
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)
	bad := 1.5

	tests := []struct {
		name string
		req  models.CreateCandidateRequest
	}{
		{name: "blank label", req: models.CreateCandidateRequest{ProjectID: project, Label: "   "}},
		{name: "unknown source", req: models.CreateCandidateRequest{ProjectID: project, Label: "x", Source: "oracle"}},
		{name: "confidence out of range", req: models.CreateCandidateRequest{ProjectID: project, Label: "x", Confidence: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Create(context.Background(), tt.req)
			assert.True(t, errors.IsKind(err, errors.KindValidation), "got %v", err)
		})
	}
}

func TestValidate_EvidenceGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, catalogtest.Code(project, 1, "Estado", models.CodeStatusHypothesis))

	_, err := h.engine.Validate(ctx, project, 1, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.True(t, errors.HasCode(err, errors.CodeMissingEvidence))
	assert.Equal(t, models.CodeStatusHypothesis, catalogtest.Get(t, h.store, project, 1).Status)

	_, err = h.engine.AttachEvidence(ctx, project, 1, []string{"frag-9"}, "alice")
	require.NoError(t, err)

	entry, err := h.engine.Validate(ctx, project, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusValidated, entry.Status)

	actions := []models.HistoryAction{}
	for _, entry := range h.history(t, 1) {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []models.HistoryAction{models.HistoryEvidenceAttached, models.HistoryValidated}, actions)
}

func TestValidate_EvidenceCheckedBeforeStatus(t *testing.T) {
	h := newHarness(t, catalogtest.Code(project, 1, "Gone", models.CodeStatusRejected))

	_, err := h.engine.Validate(context.Background(), project, 1, "alice")
	assert.True(t, errors.HasCode(err, errors.CodeMissingEvidence))
}

func TestValidate_Transitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Done", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "No", models.CodeStatusRejected, catalogtest.Evidence("f")),
	)

	entry, err := h.engine.Validate(ctx, project, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusValidated, entry.Status)
	assert.Empty(t, h.history(t, 1), "re-validating is a no-op")

	_, err = h.engine.Validate(ctx, project, 2, "alice")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTransition))

	_, err = h.engine.Validate(ctx, project, 99, "alice")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestValidate_SecondValidatedCanonicalCollides(t *testing.T) {
	h := newHarness(t,
		catalogtest.Code(project, 1, "Estado", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "estado ", models.CodeStatusPending, catalogtest.Evidence("g")),
	)

	_, err := h.engine.Validate(context.Background(), project, 2, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCanonicalCollision))
	e, _ := errors.As(err)
	assert.Equal(t, int64(1), e.Meta["holder_id"])
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Noise", models.CodeStatusPending),
		catalogtest.Code(project, 2, "Kept", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)

	_, err := h.engine.Reject(ctx, project, 1, "  ", "alice")
	assert.True(t, errors.HasCode(err, errors.CodeMissingMemo))

	entry, err := h.engine.Reject(ctx, project, 1, "off topic", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusRejected, entry.Status)
	assert.Equal(t, "off topic", *entry.Memo)

	_, err = h.engine.Reject(ctx, project, 2, "changed my mind", "alice")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTransition))
}

func TestBatchValidate_PerItemOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusPending, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusHypothesis),
		catalogtest.Code(project, 3, "C", models.CodeStatusPending, catalogtest.Evidence("f")),
	)

	result, err := h.engine.BatchValidate(ctx, project, []int64{1, 2, 3, 3, 42}, "alice")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 4)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)

	assert.True(t, result.Outcomes[0].OK)
	assert.Equal(t, models.CodeStatusValidated, result.Outcomes[0].Status)
	assert.False(t, result.Outcomes[1].OK)
	assert.Equal(t, string(errors.CodeMissingEvidence), result.Outcomes[1].Code)
	assert.True(t, result.Outcomes[2].OK)
	assert.Equal(t, string(errors.CodeNotFound), result.Outcomes[3].Code)

	assert.Equal(t, models.CodeStatusValidated, catalogtest.Get(t, h.store, project, 3).Status)
}

func TestBatchReject_RequiresMemoPerItem(t *testing.T) {
	h := newHarness(t, catalogtest.Code(project, 1, "A", models.CodeStatusPending))

	result, err := h.engine.BatchReject(context.Background(), project, []int64{1}, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, string(errors.CodeMissingMemo), result.Outcomes[0].Code)

	_, err = h.engine.BatchReject(context.Background(), project, nil, "memo", "alice")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestRevertToPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusPending),
	)
	_, err := h.engine.Promote(ctx, project, 1, "alice")
	require.NoError(t, err)

	result, err := h.engine.RevertToPending(ctx, project, []int64{1, 2}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, string(errors.CodeInvalidTransition), result.Outcomes[1].Code)

	reverted := catalogtest.Get(t, h.store, project, 1)
	assert.Equal(t, models.CodeStatusPending, reverted.Status)
	assert.Nil(t, reverted.PromotedAt)

	last := h.history(t, 1)
	assert.Equal(t, models.HistoryReverted, last[len(last)-1].Action)
}

func TestReject_RefusesMergeTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Estado", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "estado civil", models.CodeStatusPending),
	)
	logger := catalogtest.Logger()
	merger := merging.NewEngine(h.store, h.freeze, resolver.NewResolver(logger, 0), logger)
	_, _, err := merger.Merge(ctx, models.MergeRequest{
		ProjectID:      project,
		SourceIDs:      []int64{1},
		TargetID:       2,
		IdempotencyKey: "k1",
		Actor:          "alice",
	})
	require.NoError(t, err)

	_, err = h.engine.Reject(ctx, project, 2, "off topic", "alice")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTransition))
	assert.True(t, errors.IsKind(err, errors.KindConflict))
	fe, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, []int64{1}, fe.Meta["referrers"])

	assert.Equal(t, models.CodeStatusPending, catalogtest.Get(t, h.store, project, 2).Status)
	assert.Equal(t, models.CodeStatusMerged, catalogtest.Get(t, h.store, project, 1).Status)

	result, err := h.engine.BatchReject(ctx, project, []int64{2}, "off topic", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.CodeStatusPending, catalogtest.Get(t, h.store, project, 2).Status)
}

func TestPromote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "Pending", models.CodeStatusPending),
		catalogtest.Code(project, 3, "Power", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 4, "power ", models.CodeStatusHypothesis),
	)

	entry, err := h.engine.Promote(ctx, project, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, entry.PromotedAt)
	promotedAt := *entry.PromotedAt

	again, err := h.engine.Promote(ctx, project, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, promotedAt, *again.PromotedAt)
	assert.Len(t, h.history(t, 1), 1)

	_, err = h.engine.Promote(ctx, project, 2, "alice")
	assert.True(t, errors.IsKind(err, errors.KindNotValidated))

	_, err = h.engine.Promote(ctx, project, 3, "alice")
	assert.True(t, errors.IsKind(err, errors.KindCanonicalCollision), "a live duplicate still holds the slot")
}

func TestSupersede(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Old theory", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "New theory", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 3, "Alias", models.CodeStatusMerged, catalogtest.PointsTo(1)),
		catalogtest.Code(project, 4, "Draft", models.CodeStatusPending),
	)

	entry, err := h.engine.Supersede(ctx, project, 1, 2, "refined", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CodeStatusSuperseded, entry.Status)
	assert.Equal(t, int64(2), *entry.CanonicalIDPointer)
	assert.Equal(t, "New theory", *entry.CanonicalLabelPointer)

	history := h.history(t, 2)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistorySuperseded, history[0].Action)

	// merged codes cannot stand in as replacements
	_, err = h.engine.Supersede(ctx, project, 2, 3, "", "alice")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTransition), "merged replacement is not live")

	_, err = h.engine.Supersede(ctx, project, 4, 2, "", "alice")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTransition))

	_, err = h.engine.Supersede(ctx, project, 2, 2, "", "alice")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestSupersede_ClearsPromotion(t *testing.T) {
	h := newHarness(t,
		catalogtest.Code(project, 1, "Old theory", models.CodeStatusValidated, catalogtest.Evidence("f"), catalogtest.Promoted()),
		catalogtest.Code(project, 2, "New theory", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)
	require.True(t, catalogtest.Get(t, h.store, project, 1).IsPromoted())

	entry, err := h.engine.Supersede(context.Background(), project, 1, 2, "refined", "alice")
	require.NoError(t, err)
	assert.Nil(t, entry.PromotedAt)
	assert.False(t, catalogtest.Get(t, h.store, project, 1).IsPromoted())
}

func TestSupersede_RejectsCycles(t *testing.T) {
	h := newHarness(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusValidated, catalogtest.Evidence("f"), catalogtest.PointsTo(2)),
		catalogtest.Code(project, 3, "C", models.CodeStatusPending, catalogtest.PointsTo(1)),
	)

	// superseding 1 by 3 would make 1 -> 3 -> 1
	_, err := h.engine.Supersede(context.Background(), project, 1, 3, "", "alice")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCycleDetected))
	assert.Equal(t, models.CodeStatusValidated, catalogtest.Get(t, h.store, project, 1).Status)
}

func TestRelabel_RederivesLabelPointers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "trusting", models.CodeStatusMerged, catalogtest.PointsTo(1), catalogtest.LabelPointer("Trust")),
		catalogtest.Code(project, 3, "Distrust", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)

	entry, err := h.engine.Relabel(ctx, project, 1, "Institutional trust", "alice")
	require.NoError(t, err)
	assert.Equal(t, "institutional trust", entry.NormalizedLabel)
	assert.Equal(t, "Institutional trust", *catalogtest.Get(t, h.store, project, 2).CanonicalLabelPointer)

	history := h.history(t, 2)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryRelabeled, history[0].Action)

	_, err = h.engine.Relabel(ctx, project, 3, "institutional TRUST", "alice")
	assert.True(t, errors.IsKind(err, errors.KindCanonicalCollision))
}

func TestRelabel_SelfPointerFollowsNewLabel(t *testing.T) {
	h := newHarness(t,
		catalogtest.Code(project, 1, "Trust", models.CodeStatusValidated, catalogtest.Evidence("f"), catalogtest.PointsTo(1), catalogtest.LabelPointer("Trust")),
		catalogtest.Code(project, 2, "Distrust", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)

	entry, err := h.engine.Relabel(context.Background(), project, 1, "Institutional trust", "alice")
	require.NoError(t, err)
	require.NotNil(t, entry.CanonicalLabelPointer)
	assert.Equal(t, "Institutional trust", *entry.CanonicalLabelPointer)
	assert.Equal(t, "Institutional trust", *catalogtest.Get(t, h.store, project, 1).CanonicalLabelPointer)

	// a self-pointing canonical still competes for its label's slot
	_, err = h.engine.Relabel(context.Background(), project, 2, "institutional TRUST", "alice")
	assert.True(t, errors.IsKind(err, errors.KindCanonicalCollision))
}

func TestFrozenProjectBlocksWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		catalogtest.Code(project, 1, "A", models.CodeStatusPending, catalogtest.Evidence("f")),
		catalogtest.Code(project, 2, "B", models.CodeStatusValidated, catalogtest.Evidence("f")),
	)
	_, _, err := h.freeze.Engage(ctx, project, "alice", "axial-analysis")
	require.NoError(t, err)

	_, err = h.engine.Validate(ctx, project, 1, "bob")
	assert.True(t, errors.IsKind(err, errors.KindFrozen))

	_, err = h.engine.Create(ctx, models.CreateCandidateRequest{ProjectID: project, Label: "B"})
	assert.True(t, errors.IsKind(err, errors.KindFrozen))

	_, err = h.engine.BatchValidate(ctx, project, []int64{1}, "bob")
	assert.True(t, errors.IsKind(err, errors.KindFrozen))

	_, err = h.engine.RevertToPending(ctx, project, []int64{1}, "bob")
	assert.True(t, errors.IsKind(err, errors.KindFrozen))

	_, err = h.engine.Promote(ctx, project, 2, "bob")
	assert.True(t, errors.IsKind(err, errors.KindFrozen))
	assert.False(t, catalogtest.Get(t, h.store, project, 2).IsPromoted())

	assert.Equal(t, models.CodeStatusPending, catalogtest.Get(t, h.store, project, 1).Status)
}
