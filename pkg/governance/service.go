// Package governance is the operation surface of the code catalog. Engines do
// the transactional work; the service publishes events and graph projections
// once a change has committed.
package governance

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/advisor"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/drift"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/freeze"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Options struct {
	ResolverMaxDepth       int
	NearDuplicateThreshold float64
	UnfreezePhrasePrefix   string
}

type Service struct {
	store     catalog.Store
	resolver  *resolver.Resolver
	freeze    *freeze.Controller
	lifecycle *lifecycle.Engine
	merging   *merging.Engine
	drift     *drift.Detector
	emitter   *events.Emitter
	projector *graph.Projector
	logger    ectologger.Logger
}

// NewService wires the engines over store. emitter and projector may be nil.
func NewService(store catalog.Store, opts Options, emitter *events.Emitter, projector *graph.Projector, logger ectologger.Logger) *Service {
	res := resolver.NewResolver(logger, opts.ResolverMaxDepth)
	fc := freeze.NewController(store, logger, opts.UnfreezePhrasePrefix)
	adv := advisor.NewAdvisor(logger, opts.NearDuplicateThreshold)
	return &Service{
		store:     store,
		resolver:  res,
		freeze:    fc,
		lifecycle: lifecycle.NewEngine(store, fc, res, adv, logger),
		merging:   merging.NewEngine(store, fc, res, logger),
		drift:     drift.NewDetector(store, fc, res, logger),
		emitter:   emitter,
		projector: projector,
		logger:    logger,
	}
}

// Ping reports whether the catalog store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateCandidate(ctx context.Context, req models.CreateCandidateRequest) (*models.CreateCandidateResult, error) {
	result, err := s.lifecycle.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeCreated, result.Entry, req.Actor)
	return result, nil
}

func (s *Service) AttachEvidence(ctx context.Context, projectID string, stableID int64, refs []string, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.AttachEvidence(ctx, projectID, stableID, refs, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeEvidenceAttached, entry, actor)
	return entry, nil
}

func (s *Service) Validate(ctx context.Context, projectID string, stableID int64, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.Validate(ctx, projectID, stableID, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeValidated, entry, actor)
	return entry, nil
}

func (s *Service) Reject(ctx context.Context, projectID string, stableID int64, memo string, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.Reject(ctx, projectID, stableID, memo, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeRejected, entry, actor)
	return entry, nil
}

func (s *Service) BatchValidate(ctx context.Context, projectID string, ids []int64, actor string) (*models.BatchResult, error) {
	result, err := s.lifecycle.BatchValidate(ctx, projectID, ids, actor)
	if err != nil {
		return nil, err
	}
	s.afterBatch(ctx, projectID, result, events.EventTypeCodeValidated, actor, false)
	return result, nil
}

func (s *Service) BatchReject(ctx context.Context, projectID string, ids []int64, memo string, actor string) (*models.BatchResult, error) {
	result, err := s.lifecycle.BatchReject(ctx, projectID, ids, memo, actor)
	if err != nil {
		return nil, err
	}
	s.afterBatch(ctx, projectID, result, events.EventTypeCodeRejected, actor, false)
	return result, nil
}

// RevertToPending also re-projects reverted codes so the graph drops their promotion.
func (s *Service) RevertToPending(ctx context.Context, projectID string, ids []int64, actor string) (*models.BatchResult, error) {
	result, err := s.lifecycle.RevertToPending(ctx, projectID, ids, actor)
	if err != nil {
		return nil, err
	}
	s.afterBatch(ctx, projectID, result, events.EventTypeCodeReverted, actor, true)
	return result, nil
}

func (s *Service) afterBatch(ctx context.Context, projectID string, result *models.BatchResult, eventType events.EventType, actor string, project bool) {
	for _, o := range result.Outcomes {
		if !o.OK {
			continue
		}
		entry, err := s.store.GetEntry(ctx, projectID, o.StableID)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to reload code %d after batch", o.StableID)
			continue
		}
		s.emitter.EmitCodeChanged(ctx, eventType, entry, actor)
		if project {
			// projection failures are logged and counted by the projector
			s.projector.ProjectCode(ctx, entry)
		}
	}
}

// Merge returns the stored result on replay. Events and projections are only
// produced the first time a key is applied.
func (s *Service) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, bool, error) {
	result, replayed, err := s.merging.Merge(ctx, req)
	if err != nil || replayed {
		return result, replayed, err
	}

	s.emitter.EmitMerged(ctx, result)
	target, err := s.store.GetEntry(ctx, req.ProjectID, result.TargetID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to reload merge target for projection")
		return result, false, nil
	}
	sources := make([]*models.CodeEntry, 0, len(result.SourceIDs))
	for _, id := range result.SourceIDs {
		src, err := s.store.GetEntry(ctx, req.ProjectID, id)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to reload merge source %d for projection", id)
			continue
		}
		sources = append(sources, src)
	}
	// absorbed sources lose their promotion in the graph along with the alias edge
	s.projector.ProjectMerge(ctx, target, sources)
	return result, false, nil
}

func (s *Service) Promote(ctx context.Context, projectID string, stableID int64, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.Promote(ctx, projectID, stableID, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodePromoted, entry, actor)
	s.projector.ProjectCode(ctx, entry)
	return entry, nil
}

func (s *Service) Supersede(ctx context.Context, projectID string, stableID int64, replacementID int64, memo string, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.Supersede(ctx, projectID, stableID, replacementID, memo, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeSuperseded, entry, actor)
	// a superseded code is no longer promoted, so its graph node is rewritten
	s.projector.ProjectCode(ctx, entry)
	return entry, nil
}

func (s *Service) Relabel(ctx context.Context, projectID string, stableID int64, label string, actor string) (*models.CodeEntry, error) {
	entry, err := s.lifecycle.Relabel(ctx, projectID, stableID, label, actor)
	if err != nil {
		return nil, err
	}
	s.emitter.EmitCodeChanged(ctx, events.EventTypeCodeRelabeled, entry, actor)
	if entry.IsPromoted() {
		s.projector.ProjectCode(ctx, entry)
	}
	return entry, nil
}

// ResolveQuery names the starting point of a resolution: exactly one of
// StableID or Label.
type ResolveQuery struct {
	StableID *int64
	Label    string
}

// Resolve is a read and works while the project is frozen.
func (s *Service) Resolve(ctx context.Context, projectID string, q ResolveQuery) (*models.CanonicalEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "governance.Service.Resolve")
	defer span.End()
	tracing.SetProject(span, projectID)

	switch {
	case q.StableID != nil && q.Label != "":
		return nil, errors.NewValidationError(errors.CodeValidation, "resolve by stable id or by label, not both")
	case q.StableID != nil:
		return s.resolver.ResolveByID(ctx, s.store, projectID, *q.StableID, resolver.PurposeDisplay)
	case q.Label != "":
		return s.resolver.ResolveByLabel(ctx, s.store, projectID, q.Label, resolver.PurposeDisplay)
	}
	return nil, errors.NewValidationError(errors.CodeValidation, "a stable id or a label is required")
}

func (s *Service) Diagnose(ctx context.Context, projectID string) (*models.DriftReport, error) {
	return s.drift.Diagnose(ctx, projectID)
}

func (s *Service) Repair(ctx context.Context, projectID string, mode models.RepairMode, actor string) (*models.RepairReport, error) {
	report, err := s.drift.Repair(ctx, projectID, mode, actor)
	if err != nil {
		return nil, err
	}
	for _, action := range report.Actions {
		s.emitter.EmitRepaired(ctx, projectID, action, actor)
	}
	return report, nil
}

// Freeze engages the project freeze. Engaging an active freeze is a no-op
// and emits nothing.
func (s *Service) Freeze(ctx context.Context, projectID, actor, reason string) (*models.FreezeRecord, error) {
	record, changed, err := s.freeze.Engage(ctx, projectID, actor, reason)
	if err != nil {
		return nil, err
	}
	if changed {
		s.emitter.EmitFreezeChanged(ctx, record, actor)
	}
	return record, nil
}

func (s *Service) Unfreeze(ctx context.Context, projectID, actor, phrase string) (*models.FreezeRecord, error) {
	record, changed, err := s.freeze.Release(ctx, projectID, actor, phrase)
	if err != nil {
		return nil, err
	}
	if changed {
		s.emitter.EmitFreezeChanged(ctx, record, actor)
	}
	return record, nil
}

// FreezeStatus is the freeze record plus the phrase that releases it.
type FreezeStatus struct {
	*models.FreezeRecord
	ConfirmationPhrase string `json:"confirmation_phrase,omitempty"`
}

func (s *Service) FreezeStatus(ctx context.Context, projectID string) (*FreezeStatus, error) {
	record, err := s.freeze.Status(ctx, projectID)
	if err != nil {
		return nil, err
	}
	status := &FreezeStatus{FreezeRecord: record}
	if record.Active {
		status.ConfirmationPhrase = s.freeze.ConfirmationPhrase(projectID)
	}
	return status, nil
}

// History lists audit entries for the project, or those concerning stableID.
func (s *Service) History(ctx context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error) {
	if stableID != nil {
		if _, err := s.store.GetEntry(ctx, projectID, *stableID); err != nil {
			return nil, err
		}
	}
	return s.store.ListHistory(ctx, projectID, stableID)
}

func (s *Service) ListCandidates(ctx context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, errors.NewValidationError(errors.CodeValidation, "unknown status %q", st)
		}
	}
	return s.store.ListEntries(ctx, projectID, filter)
}

func (s *Service) GetEntry(ctx context.Context, projectID string, stableID int64) (*models.CodeEntry, error) {
	return s.store.GetEntry(ctx, projectID, stableID)
}

// ListProjects lists every project with catalog state.
func (s *Service) ListProjects(ctx context.Context) ([]string, error) {
	return s.store.ListProjects(ctx)
}
