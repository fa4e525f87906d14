package lifecycle

import (
	"context"
	"strings"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type itemFunc func(ctx context.Context, tx catalog.Tx, stableID int64) (*models.CodeEntry, error)

// runBatch applies fn to each id in its own transaction. Items succeed or fail
// independently; a frozen project fails the whole batch before any item runs.
func (e *Engine) runBatch(ctx context.Context, projectID string, action string, ids []int64, fn itemFunc) (*models.BatchResult, error) {
	if len(ids) == 0 {
		return nil, errors.NewValidationError(errors.CodeValidation, "at least one stable id is required")
	}
	if err := e.freeze.Check(ctx, e.store, projectID); err != nil {
		e.observe(ctx, action, projectID, err)
		return nil, err
	}

	result := &models.BatchResult{Outcomes: []models.ItemOutcome{}}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		var entry *models.CodeEntry
		err := e.freeze.RunEffectful(ctx, projectID, action, func(ctx context.Context, tx catalog.Tx) error {
			var err error
			entry, err = fn(ctx, tx, id)
			return err
		})
		e.observe(ctx, action, projectID, err)
		result.Add(outcome(id, entry, err))
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"action":     action,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
	}).Info("Batch finished")
	return result, nil
}

func outcome(id int64, entry *models.CodeEntry, err error) models.ItemOutcome {
	o := models.ItemOutcome{StableID: id, OK: err == nil}
	if entry != nil {
		o.Status = entry.Status
	}
	if err != nil {
		o.Error = err.Error()
		o.Code = "INTERNAL"
		if fe, ok := errors.As(err); ok {
			o.Code = string(fe.Code)
		}
	}
	return o
}

func (e *Engine) BatchValidate(ctx context.Context, projectID string, ids []int64, actor string) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.BatchValidate")
	defer span.End()

	return e.runBatch(ctx, projectID, "batch_validate", ids, func(ctx context.Context, tx catalog.Tx, id int64) (*models.CodeEntry, error) {
		return e.validate(ctx, tx, projectID, id, actor)
	})
}

func (e *Engine) BatchReject(ctx context.Context, projectID string, ids []int64, memo string, actor string) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.BatchReject")
	defer span.End()

	return e.runBatch(ctx, projectID, "batch_reject", ids, func(ctx context.Context, tx catalog.Tx, id int64) (*models.CodeEntry, error) {
		if strings.TrimSpace(memo) == "" {
			return nil, errors.MissingMemo(id)
		}
		return e.reject(ctx, tx, projectID, id, memo, actor)
	})
}

// RevertToPending returns validated entries to pending and clears their promotion.
func (e *Engine) RevertToPending(ctx context.Context, projectID string, ids []int64, actor string) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.RevertToPending")
	defer span.End()

	return e.runBatch(ctx, projectID, "revert", ids, func(ctx context.Context, tx catalog.Tx, id int64) (*models.CodeEntry, error) {
		entry, err := tx.GetEntry(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if entry.Status != models.CodeStatusValidated {
			return nil, errors.InvalidTransition(id, string(entry.Status), string(models.CodeStatusPending))
		}
		entry.Status = models.CodeStatusPending
		entry.PromotedAt = nil
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return nil, err
		}
		return entry, Record(ctx, tx, entry, models.HistoryReverted, actor)
	})
}
