// Package events emits code catalog changes after they commit. Emission
// failures are logged and never undo a committed change.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishCodeEvent(ctx context.Context, event *kafka.CodeEvent) error
}

// Emitter handles event emission for fern. A nil Emitter or one without a
// publisher drops events.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitCodeChanged emits a single-code lifecycle event carrying the entry snapshot.
func (e *Emitter) EmitCodeChanged(ctx context.Context, eventType EventType, entry *models.CodeEntry, actor string) {
	if entry == nil {
		return
	}
	var subjects []int64
	if entry.StableID != nil {
		subjects = []int64{*entry.StableID}
	}
	e.emit(ctx, eventType, entry.ProjectID, entry.StableID, subjects, actor, entry)
}

// EmitMerged emits one event for a merge with every participant as a subject.
func (e *Emitter) EmitMerged(ctx context.Context, result *models.MergeResult) {
	if result == nil {
		return
	}
	target := result.TargetID
	subjects := append(append([]int64(nil), result.SourceIDs...), target)
	e.emit(ctx, EventTypeCodesMerged, result.ProjectID, &target, subjects, result.Actor, result)
}

// EmitFreezeChanged emits project.frozen or project.unfrozen.
func (e *Emitter) EmitFreezeChanged(ctx context.Context, record *models.FreezeRecord, actor string) {
	if record == nil {
		return
	}
	eventType := EventTypeProjectUnfrozen
	if record.Active {
		eventType = EventTypeProjectFrozen
	}
	e.emit(ctx, eventType, record.ProjectID, nil, nil, actor, record)
}

// EmitRepaired emits one event per applied repair action.
func (e *Emitter) EmitRepaired(ctx context.Context, projectID string, action models.RepairAction, actor string) {
	if !action.Applied {
		return
	}
	var subjects []int64
	if action.StableID != nil {
		subjects = []int64{*action.StableID}
	}
	e.emit(ctx, EventTypeCodeRepaired, projectID, action.StableID, subjects, actor, action)
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, projectID string, stableID *int64, subjects []int64, actor string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to encode %s event", eventType)
		return
	}

	correlationID := appctx.GetRequestID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	event := &kafka.CodeEvent{
		EventType:     string(eventType),
		SchemaVersion: SchemaVersion,
		ProjectID:     projectID,
		StableID:      stableID,
		SubjectIDs:    subjects,
		Actor:         actor,
		Data:          data,
		CorrelationID: correlationID,
	}

	err = e.publisher.PublishCodeEvent(ctx, event)
	metrics.EventsPublished.WithLabelValues(string(eventType), metrics.Outcome(err)).Inc()
	if err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"project_id": projectID,
		}).Errorf("Failed to emit %s event", eventType)
	}
}
