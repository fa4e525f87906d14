// Package merging folds source codes into a target code atomically,
// idempotently and without creating canonical cycles.
package merging

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/freeze"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Engine handles code merging
type Engine struct {
	store    catalog.Store
	freeze   *freeze.Controller
	resolver *resolver.Resolver
	logger   ectologger.Logger
}

func NewEngine(store catalog.Store, freezeController *freeze.Controller, res *resolver.Resolver, logger ectologger.Logger) *Engine {
	return &Engine{
		store:    store,
		freeze:   freezeController,
		resolver: res,
		logger:   logger,
	}
}

// Merge points every source at the target. replayed is true when the
// idempotency key was already used for the same request, in which case the
// stored result is returned and nothing is written.
func (e *Engine) Merge(ctx context.Context, req models.MergeRequest) (result *models.MergeResult, replayed bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":      req.ProjectID,
		"target_id":       req.TargetID,
		"source_ids":      req.SourceIDs,
		"idempotency_key": req.IdempotencyKey,
	})

	defer func() {
		outcome := "merged"
		switch {
		case err != nil:
			outcome = "failed"
			tracing.RecordError(span, err)
			log.WithError(err).Warn("Merge refused")
		case replayed:
			outcome = "replayed"
		}
		metrics.Merges.WithLabelValues(outcome).Inc()
	}()

	sources, err := normalizeRequest(&req)
	if err != nil {
		return nil, false, err
	}

	err = e.freeze.RunEffectful(ctx, req.ProjectID, "merge", func(ctx context.Context, tx catalog.Tx) error {
		prior, err := tx.GetMergeOperation(ctx, req.ProjectID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			if !prior.SameRequest(sources, req.TargetID) {
				return errors.IdempotencyKeyReused(req.IdempotencyKey)
			}
			stored := prior.Result
			result = &stored
			replayed = true
			return nil
		}

		result, err = e.apply(ctx, tx, req, sources)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !replayed {
		metrics.MergedSources.Add(float64(result.MergedCount))
		log.WithField("merged_count", result.MergedCount).Info("Merged codes")
	}
	return result, replayed, nil
}

func (e *Engine) apply(ctx context.Context, tx catalog.Tx, req models.MergeRequest, sourceIDs []int64) (*models.MergeResult, error) {
	target, err := tx.GetEntry(ctx, req.ProjectID, req.TargetID)
	if err != nil {
		return nil, err
	}
	if target.Status == models.CodeStatusRejected || target.Status == models.CodeStatusSuperseded {
		return nil, errors.InvalidTransition(req.TargetID, string(target.Status), "merge target")
	}

	sources := make([]*models.CodeEntry, 0, len(sourceIDs))
	overrides := make(map[int64]int64, len(sourceIDs))
	excluded := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		src, err := tx.GetEntry(ctx, req.ProjectID, id)
		if err != nil {
			return nil, err
		}
		if src.Status == models.CodeStatusRejected || src.Status == models.CodeStatusSuperseded {
			return nil, errors.InvalidTransition(id, string(src.Status), string(models.CodeStatusMerged))
		}
		sources = append(sources, src)
		overrides[id] = req.TargetID
		excluded = append(excluded, src.ID)
	}

	_, terminal, err := e.resolver.Simulate(ctx, tx, req.ProjectID, req.TargetID, overrides)
	if err != nil {
		return nil, err
	}

	holder, err := lifecycle.CanonicalHolder(ctx, tx, req.ProjectID, terminal.NormalizedLabel, append(excluded, terminal.ID)...)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return nil, errors.CanonicalCollision(terminal.NormalizedLabel, holder.SID(), terminal.SID())
	}

	now := time.Now().UTC()
	result := &models.MergeResult{
		ProjectID:      req.ProjectID,
		IdempotencyKey: req.IdempotencyKey,
		TargetID:       req.TargetID,
		TargetLabel:    target.Label,
		SourceIDs:      sourceIDs,
		MergedCount:    len(sources),
		Updates:        make([]models.PointerUpdate, 0, len(sources)),
		Actor:          req.Actor,
		MergedAt:       now,
	}

	targetID := req.TargetID
	for _, src := range sources {
		update := models.PointerUpdate{
			StableID:              src.SID(),
			PreviousStatus:        src.Status,
			PreviousCanonicalID:   src.CanonicalIDPointer,
			CanonicalIDPointer:    targetID,
			CanonicalLabelPointer: target.Label,
		}
		label := target.Label
		src.Status = models.CodeStatusMerged
		src.PromotedAt = nil
		src.CanonicalIDPointer = &targetID
		src.CanonicalLabelPointer = &label
		if err := tx.UpdateEntry(ctx, src); err != nil {
			return nil, err
		}
		result.Updates = append(result.Updates, update)
	}

	op := &models.MergeOperation{
		ProjectID:      req.ProjectID,
		IdempotencyKey: req.IdempotencyKey,
		SourceIDs:      sourceIDs,
		TargetID:       req.TargetID,
		Actor:          req.Actor,
		Result:         *result,
		CreatedAt:      now,
	}
	if err := tx.InsertMergeOperation(ctx, op); err != nil {
		return nil, err
	}

	subjects := append(append([]int64(nil), sourceIDs...), targetID)
	h, err := models.NewHistoryEntry(req.ProjectID, &targetID, models.HistoryMerged, req.Actor, result, subjects...)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendHistory(ctx, h); err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeRequest validates the request shape and returns the sources sorted
// with duplicates removed, so retries with reordered sources replay.
func normalizeRequest(req *models.MergeRequest) ([]int64, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, errors.NewValidationError(errors.CodeValidation, "an idempotency key is required")
	}
	if len(req.SourceIDs) == 0 {
		return nil, errors.NewValidationError(errors.CodeValidation, "at least one source is required")
	}
	if req.TargetID <= 0 {
		return nil, errors.NewValidationError(errors.CodeValidation, "a target stable id is required")
	}

	seen := make(map[int64]struct{}, len(req.SourceIDs))
	sources := make([]int64, 0, len(req.SourceIDs))
	for _, id := range req.SourceIDs {
		if id == req.TargetID {
			return nil, errors.NewValidationError(errors.CodeValidation, "target %d cannot also be a source", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sources = append(sources, id)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources, nil
}
