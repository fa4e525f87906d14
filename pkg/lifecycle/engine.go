// Package lifecycle enforces the code state machine. Every mutation is
// freeze-gated, runs in one project-locked transaction and writes history.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/advisor"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/freeze"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Engine struct {
	store    catalog.Store
	freeze   *freeze.Controller
	resolver *resolver.Resolver
	advisor  *advisor.Advisor
	logger   ectologger.Logger
}

func NewEngine(
	store catalog.Store,
	freezeController *freeze.Controller,
	res *resolver.Resolver,
	adv *advisor.Advisor,
	logger ectologger.Logger,
) *Engine {
	return &Engine{
		store:    store,
		freeze:   freezeController,
		resolver: res,
		advisor:  adv,
		logger:   logger,
	}
}

// Create registers a candidate: pending with evidence, hypothesis without.
// Duplicate advice is attached but never blocks insertion.
func (e *Engine) Create(ctx context.Context, req models.CreateCandidateRequest) (*models.CreateCandidateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Create")
	defer span.End()

	normalized := normalizer.Normalize(req.Label)
	if normalized == "" {
		return nil, errors.NewValidationError(errors.CodeValidation, "label must contain at least one visible character")
	}
	if req.Source == "" {
		req.Source = models.CodeSourceManual
	}
	if !req.Source.Valid() {
		return nil, errors.NewValidationError(errors.CodeValidation, "unknown source %q", req.Source)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return nil, errors.NewValidationError(errors.CodeValidation, "confidence must be within [0,1]")
	}

	var result *models.CreateCandidateResult
	err := e.freeze.RunEffectful(ctx, req.ProjectID, "create", func(ctx context.Context, tx catalog.Tx) error {
		advice, err := e.advisor.Advise(ctx, tx, req.ProjectID, req.Label, req.Similarity)
		if err != nil {
			return err
		}
		stableID, err := tx.NextStableID(ctx)
		if err != nil {
			return err
		}

		entry := &models.CodeEntry{
			ProjectID:       req.ProjectID,
			StableID:        &stableID,
			Label:           strings.TrimSpace(req.Label),
			NormalizedLabel: normalized,
			Status:          models.CodeStatusHypothesis,
			Source:          req.Source,
			EvidenceRefs:    []string{},
			Confidence:      req.Confidence,
			Memo:            req.Memo,
		}
		if entry.AddEvidence(req.EvidenceRefs...) > 0 {
			entry.Status = models.CodeStatusPending
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := Record(ctx, tx, entry, models.HistoryCreated, req.Actor); err != nil {
			return err
		}
		result = &models.CreateCandidateResult{Entry: entry, Advice: advice}
		return nil
	})
	e.observe(ctx, "create", req.ProjectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if result.Advice.Classification != models.DuplicateNone {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id":     req.ProjectID,
			"stable_id":      result.Entry.SID(),
			"classification": result.Advice.Classification,
			"match_id":       result.Advice.Match.SID(),
		}).Info("Candidate looks like a duplicate; consider merging")
	}
	return result, nil
}

// AttachEvidence appends evidence refs, skipping ones already present.
func (e *Engine) AttachEvidence(ctx context.Context, projectID string, stableID int64, refs []string, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.AttachEvidence")
	defer span.End()

	if len(refs) == 0 {
		return nil, errors.NewValidationError(errors.CodeValidation, "at least one evidence ref is required")
	}

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "attach_evidence", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := tx.GetEntry(ctx, projectID, stableID)
		if err != nil {
			return err
		}
		if entry.AddEvidence(refs...) == 0 {
			updated = entry
			return nil
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return Record(ctx, tx, entry, models.HistoryEvidenceAttached, actor)
	})
	e.observe(ctx, "attach_evidence", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// Validate moves a pending or hypothesis entry to validated. The evidence gate
// is checked first; validating a validated entry is a no-op.
func (e *Engine) Validate(ctx context.Context, projectID string, stableID int64, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Validate")
	defer span.End()

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "validate", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := e.validate(ctx, tx, projectID, stableID, actor)
		updated = entry
		return err
	})
	e.observe(ctx, "validate", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

func (e *Engine) validate(ctx context.Context, tx catalog.Tx, projectID string, stableID int64, actor string) (*models.CodeEntry, error) {
	entry, err := tx.GetEntry(ctx, projectID, stableID)
	if err != nil {
		return nil, err
	}
	if len(entry.EvidenceRefs) == 0 {
		return nil, errors.MissingEvidence(stableID)
	}
	switch entry.Status {
	case models.CodeStatusValidated:
		return entry, nil
	case models.CodeStatusPending, models.CodeStatusHypothesis:
	default:
		return nil, errors.InvalidTransition(stableID, string(entry.Status), string(models.CodeStatusValidated))
	}

	if entry.IsTerminal() {
		holder, err := validatedHolder(ctx, tx, projectID, entry.NormalizedLabel, entry.ID)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			return nil, collision(entry.NormalizedLabel, holder, entry)
		}
	}

	entry.Status = models.CodeStatusValidated
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, Record(ctx, tx, entry, models.HistoryValidated, actor)
}

// Reject moves a pending or hypothesis entry to rejected. A memo is required.
func (e *Engine) Reject(ctx context.Context, projectID string, stableID int64, memo string, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Reject")
	defer span.End()

	if strings.TrimSpace(memo) == "" {
		return nil, errors.MissingMemo(stableID)
	}

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "reject", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := e.reject(ctx, tx, projectID, stableID, memo, actor)
		updated = entry
		return err
	})
	e.observe(ctx, "reject", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

func (e *Engine) reject(ctx context.Context, tx catalog.Tx, projectID string, stableID int64, memo string, actor string) (*models.CodeEntry, error) {
	entry, err := tx.GetEntry(ctx, projectID, stableID)
	if err != nil {
		return nil, err
	}
	switch entry.Status {
	case models.CodeStatusRejected:
		return entry, nil
	case models.CodeStatusPending, models.CodeStatusHypothesis:
	default:
		return nil, errors.InvalidTransition(stableID, string(entry.Status), string(models.CodeStatusRejected))
	}

	// a code other entries were merged into cannot be rejected under them
	absorbed, err := referrers(ctx, tx, projectID, stableID)
	if err != nil {
		return nil, err
	}
	if len(absorbed) > 0 {
		ids := make([]int64, 0, len(absorbed))
		for _, a := range absorbed {
			ids = append(ids, a.SID())
		}
		return nil, errors.InvalidTransition(stableID, string(entry.Status), string(models.CodeStatusRejected)).
			WithMeta("reason", "code is the canonical target of other codes").
			WithMeta("referrers", ids)
	}

	memo = strings.TrimSpace(memo)
	entry.Status = models.CodeStatusRejected
	entry.Memo = &memo
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, Record(ctx, tx, entry, models.HistoryRejected, actor)
}

// Promote admits a validated canonical entry into the definitive catalog.
func (e *Engine) Promote(ctx context.Context, projectID string, stableID int64, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Promote")
	defer span.End()

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "promote", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := tx.GetEntry(ctx, projectID, stableID)
		if err != nil {
			return err
		}
		if entry.Status != models.CodeStatusValidated || !entry.IsTerminal() {
			return errors.NotValidated(stableID, string(entry.Status))
		}
		if entry.IsPromoted() {
			updated = entry
			return nil
		}

		holder, err := CanonicalHolder(ctx, tx, projectID, entry.NormalizedLabel, entry.ID)
		if err != nil {
			return err
		}
		if holder != nil {
			return collision(entry.NormalizedLabel, holder, entry)
		}

		now := time.Now().UTC()
		entry.PromotedAt = &now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return Record(ctx, tx, entry, models.HistoryPromoted, actor)
	})
	e.observe(ctx, "promote", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// Supersede replaces a validated entry with replacementID. The replacement
// becomes the entry's canonical; the new edge is cycle-checked.
func (e *Engine) Supersede(ctx context.Context, projectID string, stableID int64, replacementID int64, memo string, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Supersede")
	defer span.End()

	if stableID == replacementID {
		return nil, errors.NewValidationError(errors.CodeValidation, "code %d cannot supersede itself", stableID)
	}

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "supersede", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := tx.GetEntry(ctx, projectID, stableID)
		if err != nil {
			return err
		}
		if entry.Status != models.CodeStatusValidated {
			return errors.InvalidTransition(stableID, string(entry.Status), string(models.CodeStatusSuperseded))
		}
		replacement, err := tx.GetEntry(ctx, projectID, replacementID)
		if err != nil {
			return err
		}
		if replacement.Status == models.CodeStatusRejected || replacement.Status.Absorbed() {
			return errors.InvalidTransition(replacementID, string(replacement.Status), "replacement").
				WithMeta("reason", "a replacement must be a live code")
		}
		if _, _, err := e.resolver.Simulate(ctx, tx, projectID, replacementID, map[int64]int64{stableID: replacementID}); err != nil {
			return err
		}

		entry.Status = models.CodeStatusSuperseded
		entry.PromotedAt = nil
		entry.CanonicalIDPointer = &replacementID
		label := replacement.Label
		entry.CanonicalLabelPointer = &label
		if memo = strings.TrimSpace(memo); memo != "" {
			entry.Memo = &memo
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return Record(ctx, tx, entry, models.HistorySuperseded, actor, stableID, replacementID)
	})
	e.observe(ctx, "supersede", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// Relabel changes an entry's label and re-derives the label pointers of
// entries whose ID pointer addresses it.
func (e *Engine) Relabel(ctx context.Context, projectID string, stableID int64, label string, actor string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Engine.Relabel")
	defer span.End()

	label = strings.TrimSpace(label)
	normalized := normalizer.Normalize(label)
	if normalized == "" {
		return nil, errors.NewValidationError(errors.CodeValidation, "label must contain at least one visible character")
	}

	var updated *models.CodeEntry
	err := e.freeze.RunEffectful(ctx, projectID, "relabel", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := tx.GetEntry(ctx, projectID, stableID)
		if err != nil {
			return err
		}
		if entry.Label == label {
			updated = entry
			return nil
		}
		if entry.Status == models.CodeStatusValidated && entry.IsTerminal() && normalized != entry.NormalizedLabel {
			holder, err := validatedHolder(ctx, tx, projectID, normalized, entry.ID)
			if err != nil {
				return err
			}
			if holder != nil {
				return collision(normalized, holder, entry)
			}
		}

		entry.Label = label
		entry.NormalizedLabel = normalized
		if entry.CanonicalIDPointer != nil && *entry.CanonicalIDPointer == stableID && entry.CanonicalLabelPointer != nil {
			entry.CanonicalLabelPointer = &label
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}

		subjects := []int64{stableID}
		others, err := referrers(ctx, tx, projectID, stableID)
		if err != nil {
			return err
		}
		for _, other := range others {
			other.CanonicalLabelPointer = &label
			if err := tx.UpdateEntry(ctx, other); err != nil {
				return err
			}
			subjects = append(subjects, other.SID())
		}

		updated = entry
		return Record(ctx, tx, entry, models.HistoryRelabeled, actor, subjects...)
	})
	e.observe(ctx, "relabel", projectID, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

func (e *Engine) observe(ctx context.Context, action string, projectID string, err error) {
	metrics.LifecycleOps.WithLabelValues(action, metrics.Outcome(err)).Inc()
	if err == nil {
		return
	}
	log := e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"project_id": projectID,
		"action":     action,
	})
	if fe, ok := errors.As(err); ok {
		log.Warnf("Lifecycle %s refused: %s", action, fe.Code)
		return
	}
	log.Errorf("Lifecycle %s failed", action)
}
