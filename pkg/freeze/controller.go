// Package freeze implements the per-project gate that blocks effectful operations
// during sensitive analysis windows.
package freeze

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultPhrasePrefix = "UNFREEZE"

type Controller struct {
	store        catalog.Store
	logger       ectologger.Logger
	phrasePrefix string
}

func NewController(store catalog.Store, logger ectologger.Logger, phrasePrefix string) *Controller {
	if phrasePrefix == "" {
		phrasePrefix = DefaultPhrasePrefix
	}
	return &Controller{
		store:        store,
		logger:       logger,
		phrasePrefix: phrasePrefix,
	}
}

// ConfirmationPhrase is what Release expects for projectID.
func (c *Controller) ConfirmationPhrase(projectID string) string {
	return fmt.Sprintf("%s %s", c.phrasePrefix, projectID)
}

// Status returns the project's freeze record; a never-frozen project gets an inactive record.
func (c *Controller) Status(ctx context.Context, projectID string) (*models.FreezeRecord, error) {
	record, err := c.store.GetFreeze(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &models.FreezeRecord{ProjectID: projectID}, nil
	}
	return record, nil
}

func (c *Controller) IsFrozen(ctx context.Context, projectID string) (bool, error) {
	record, err := c.store.GetFreeze(ctx, projectID)
	if err != nil {
		return false, err
	}
	return record != nil && record.Active, nil
}

// Check returns FrozenProjectError when the project is frozen.
func (c *Controller) Check(ctx context.Context, reader catalog.Reader, projectID string) error {
	record, err := reader.GetFreeze(ctx, projectID)
	if err != nil {
		return err
	}
	return frozenError(projectID, record)
}

// RunEffectful rejects fast when frozen, then takes the project lock and
// re-checks inside the transaction before running fn.
func (c *Controller) RunEffectful(ctx context.Context, projectID string, operation string, fn func(ctx context.Context, tx catalog.Tx) error) error {
	if err := c.Check(ctx, c.store, projectID); err != nil {
		metrics.FreezeBlocks.WithLabelValues(operation).Inc()
		return err
	}

	start := time.Now()
	return c.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx catalog.Tx) error {
		metrics.LockWait.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err := c.Check(ctx, tx, projectID); err != nil {
			metrics.FreezeBlocks.WithLabelValues(operation).Inc()
			return err
		}
		return fn(ctx, tx)
	})
}

// Engage freezes the project and reports whether this call engaged it. Engaging an
// active freeze is a no-op that returns the existing record.
func (c *Controller) Engage(ctx context.Context, projectID, actor, reason string) (*models.FreezeRecord, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "freeze.Controller.Engage")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, false, errors.NewValidationError(errors.CodeValidation, "a freeze reason is required")
	}

	var result *models.FreezeRecord
	changed := false
	err := c.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx catalog.Tx) error {
		current, err := tx.GetFreeze(ctx, projectID)
		if err != nil {
			return err
		}
		if current != nil && current.Active {
			result = current
			return nil
		}

		now := time.Now().UTC()
		record := &models.FreezeRecord{
			ProjectID: projectID,
			Active:    true,
			EngagedAt: &now,
			EngagedBy: &actor,
			Reason:    &reason,
		}
		if err := tx.UpsertFreeze(ctx, record); err != nil {
			return err
		}
		h, err := models.NewHistoryEntry(projectID, nil, models.HistoryFreezeEngaged, actor, record)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		result = record
		changed = true
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}
	if !changed {
		return result, false, nil
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"actor":      actor,
		"reason":     reason,
	}).Info("Project frozen")
	return result, true, nil
}

// Release unfreezes the project when phrase matches ConfirmationPhrase and reports
// whether this call released it. Releasing an unfrozen project is a no-op.
func (c *Controller) Release(ctx context.Context, projectID, actor, phrase string) (*models.FreezeRecord, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "freeze.Controller.Release")
	defer span.End()

	if strings.TrimSpace(phrase) != c.ConfirmationPhrase(projectID) {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": projectID,
			"actor":      actor,
		}).Warn("Rejected unfreeze with wrong confirmation phrase")
		return nil, false, errors.ConfirmationMismatch(projectID)
	}

	var result *models.FreezeRecord
	changed := false
	err := c.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx catalog.Tx) error {
		current, err := tx.GetFreeze(ctx, projectID)
		if err != nil {
			return err
		}
		if current == nil || !current.Active {
			result = current
			if result == nil {
				result = &models.FreezeRecord{ProjectID: projectID}
			}
			return nil
		}

		now := time.Now().UTC()
		current.Active = false
		current.ReleasedAt = &now
		current.ReleasedBy = &actor
		if err := tx.UpsertFreeze(ctx, current); err != nil {
			return err
		}
		h, err := models.NewHistoryEntry(projectID, nil, models.HistoryFreezeReleased, actor, current)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		result = current
		changed = true
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}
	if !changed {
		return result, false, nil
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"actor":      actor,
	}).Info("Project unfrozen")
	return result, true, nil
}

func frozenError(projectID string, record *models.FreezeRecord) error {
	if record == nil || !record.Active {
		return nil
	}
	var reason, by string
	var at time.Time
	if record.Reason != nil {
		reason = *record.Reason
	}
	if record.EngagedBy != nil {
		by = *record.EngagedBy
	}
	if record.EngagedAt != nil {
		at = *record.EngagedAt
	}
	return errors.Frozen(projectID, reason, by, at)
}
