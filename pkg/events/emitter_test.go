package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/catalog/catalogtest"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type recorder struct {
	events []*kafka.CodeEvent
	err    error
}

func (r *recorder) PublishCodeEvent(_ context.Context, event *kafka.CodeEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestEmitter_EmitCodeChanged(t *testing.T) {
	rec := &recorder{}
	e := events.NewEmitter(rec, catalogtest.Logger())
	ctx := appctx.SetRequestID(context.Background(), "req-1")

	entry := catalogtest.Code("p1", 4, "Trust", models.CodeStatusValidated)
	e.EmitCodeChanged(ctx, events.EventTypeCodeValidated, entry, "alice")

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, "code.validated", got.EventType)
	assert.Equal(t, events.SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, int64(4), *got.StableID)
	assert.Equal(t, []int64{4}, got.SubjectIDs)
	assert.Equal(t, "req-1", got.CorrelationID)

	var snapshot models.CodeEntry
	require.NoError(t, json.Unmarshal(got.Data, &snapshot))
	assert.Equal(t, "Trust", snapshot.Label)
}

func TestEmitter_EmitMergedListsAllParticipants(t *testing.T) {
	rec := &recorder{}
	e := events.NewEmitter(rec, catalogtest.Logger())

	e.EmitMerged(context.Background(), &models.MergeResult{
		ProjectID: "p1",
		TargetID:  1,
		SourceIDs: []int64{2, 3},
		Actor:     "bob",
	})

	require.Len(t, rec.events, 1)
	assert.Equal(t, "codes.merged", rec.events[0].EventType)
	assert.Equal(t, []int64{2, 3, 1}, rec.events[0].SubjectIDs)
	assert.NotEmpty(t, rec.events[0].CorrelationID)
}

func TestEmitter_FreezeEvents(t *testing.T) {
	rec := &recorder{}
	e := events.NewEmitter(rec, catalogtest.Logger())

	e.EmitFreezeChanged(context.Background(), &models.FreezeRecord{ProjectID: "p1", Active: true}, "alice")
	e.EmitFreezeChanged(context.Background(), &models.FreezeRecord{ProjectID: "p1"}, "alice")

	require.Len(t, rec.events, 2)
	assert.Equal(t, "project.frozen", rec.events[0].EventType)
	assert.Equal(t, "project.unfrozen", rec.events[1].EventType)
	assert.Nil(t, rec.events[0].StableID)
}

func TestEmitter_SkipsUnappliedRepairs(t *testing.T) {
	rec := &recorder{}
	e := events.NewEmitter(rec, catalogtest.Logger())

	e.EmitRepaired(context.Background(), "p1", models.RepairAction{Kind: models.RepairBackfillID}, "system")
	assert.Empty(t, rec.events)

	e.EmitRepaired(context.Background(), "p1", models.RepairAction{Kind: models.RepairBackfillID, Applied: true}, "system")
	assert.Len(t, rec.events, 1)
}

func TestEmitter_NilSafeAndSwallowsErrors(t *testing.T) {
	var nilEmitter *events.Emitter
	assert.NotPanics(t, func() {
		nilEmitter.EmitCodeChanged(context.Background(), events.EventTypeCodeCreated, catalogtest.Code("p1", 1, "x", models.CodeStatusPending), "a")
	})

	noPublisher := events.NewEmitter(nil, catalogtest.Logger())
	assert.NotPanics(t, func() {
		noPublisher.EmitMerged(context.Background(), &models.MergeResult{ProjectID: "p1"})
	})

	failing := &recorder{err: errors.New("broker down")}
	e := events.NewEmitter(failing, catalogtest.Logger())
	assert.NotPanics(t, func() {
		e.EmitCodeChanged(context.Background(), events.EventTypeCodeCreated, catalogtest.Code("p1", 1, "x", models.CodeStatusPending), "a")
	})
	assert.Len(t, failing.events, 1)
}
