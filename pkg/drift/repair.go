package drift

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type planner func(s *snapshot) ([]models.RepairAction, []models.Finding)

// Repair plans, and in apply mode executes, the repair actions in order:
// assign_stable_id, backfill_id_pointer, rederive_label_pointer. Each applied
// action is its own freeze-checked transaction with one history entry.
func (d *Detector) Repair(ctx context.Context, projectID string, mode models.RepairMode, actor string) (*models.RepairReport, error) {
	ctx, span := tracing.StartSpan(ctx, "drift.Detector.Repair")
	defer span.End()
	tracing.SetProject(span, projectID)

	if mode != models.RepairDryRun && mode != models.RepairApply {
		return nil, errors.NewValidationError(errors.CodeValidation, "repair mode must be dry_run or apply, got %q", mode)
	}
	if mode == models.RepairApply {
		if err := d.freeze.Check(ctx, d.store, projectID); err != nil {
			metrics.FreezeBlocks.WithLabelValues("repair").Inc()
			return nil, err
		}
	}

	report := &models.RepairReport{
		ProjectID:  projectID,
		Mode:       mode,
		Actions:    []models.RepairAction{},
		Unresolved: []models.Finding{},
	}

	var snap *snapshot
	planned := map[string]struct{}{}
	for i, plan := range []planner{planStableIDs, planBackfills, planRederive} {
		if i == 0 || mode == models.RepairApply {
			var err error
			if snap, err = loadSnapshot(ctx, d.store, projectID, d.resolver.MaxDepth()); err != nil {
				tracing.RecordError(span, err)
				return nil, err
			}
		}

		actions, unresolved := plan(snap)
		report.Unresolved = append(report.Unresolved, unresolved...)
		for _, action := range actions {
			if mode == models.RepairApply {
				if err := d.apply(ctx, projectID, &action, actor); err != nil {
					if errors.IsKind(err, errors.KindFrozen) {
						return nil, err
					}
					action.Skipped = true
					action.Reason = err.Error()
					report.Unresolved = append(report.Unresolved, unresolvedFinding(action))
				}
			}
			if !action.Skipped {
				planned[action.EntryID] = struct{}{}
			}
			metrics.RepairActions.WithLabelValues(string(action.Kind), string(mode)).Inc()
			report.Actions = append(report.Actions, action)
		}
	}

	for _, e := range snap.entries {
		for _, f := range snap.inspect(e) {
			if f.Kind == models.FindingDanglingCanonical && mode == models.RepairDryRun {
				if _, fixed := planned[e.ID]; fixed {
					continue
				}
			}
			if needsHuman(f.Kind) {
				report.Unresolved = append(report.Unresolved, f)
			}
		}
	}
	report.RecommendFreeze = len(report.Unresolved) > 0

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":       projectID,
		"mode":             mode,
		"actions":          len(report.Actions),
		"unresolved":       len(report.Unresolved),
		"recommend_freeze": report.RecommendFreeze,
	}).Info("Drift repair finished")
	return report, nil
}

func planStableIDs(s *snapshot) ([]models.RepairAction, []models.Finding) {
	var actions []models.RepairAction
	for _, e := range s.entries {
		if e.HasStableID() {
			continue
		}
		actions = append(actions, models.RepairAction{
			Kind:    models.RepairAssignStableID,
			EntryID: e.ID,
			Label:   e.Label,
			Before:  "none",
			After:   "next stable id",
		})
	}
	return actions, nil
}

// planBackfills sets an ID pointer only when the label pointer resolves to
// exactly one ID-addressed terminal.
func planBackfills(s *snapshot) ([]models.RepairAction, []models.Finding) {
	var actions []models.RepairAction
	var unresolved []models.Finding
	for _, e := range s.entries {
		if e.CanonicalIDPointer != nil || !pointsElsewhere(e) {
			continue
		}
		terminals := s.labelTerminals(*e.CanonicalLabelPointer, e)
		if len(terminals) != 1 {
			detail := fmt.Sprintf("label pointer %q matches no live code", *e.CanonicalLabelPointer)
			if len(terminals) > 1 {
				detail = fmt.Sprintf("label pointer %q is ambiguous across %d canonical codes", *e.CanonicalLabelPointer, len(terminals))
			}
			unresolved = append(unresolved, models.Finding{
				Kind:     models.FindingMissingIDPointer,
				EntryID:  e.ID,
				StableID: e.StableID,
				Label:    e.Label,
				Detail:   detail,
				ByLabel:  e.CanonicalLabelPointer,
			})
			continue
		}
		target := terminals[0]
		actions = append(actions, models.RepairAction{
			Kind:     models.RepairBackfillID,
			EntryID:  e.ID,
			StableID: e.StableID,
			TargetID: target.StableID,
			Label:    e.Label,
			Before:   "none",
			After:    fmt.Sprint(target.SID()),
		})
	}
	return actions, unresolved
}

func planRederive(s *snapshot) ([]models.RepairAction, []models.Finding) {
	var actions []models.RepairAction
	for _, e := range s.entries {
		if e.CanonicalIDPointer == nil || e.CanonicalLabelPointer == nil {
			continue
		}
		res := s.walk(e)
		if res.broken || res.cycle || s.labelAgrees(e, res) {
			continue
		}
		direct := s.bySID[*e.CanonicalIDPointer]
		actions = append(actions, models.RepairAction{
			Kind:     models.RepairRederiveLabel,
			EntryID:  e.ID,
			StableID: e.StableID,
			TargetID: direct.StableID,
			Label:    e.Label,
			Before:   *e.CanonicalLabelPointer,
			After:    direct.Label,
		})
	}
	return actions, nil
}

// apply re-checks the action against current state inside the transaction;
// an action that is no longer needed is marked skipped and writes nothing.
func (d *Detector) apply(ctx context.Context, projectID string, action *models.RepairAction, actor string) error {
	return d.freeze.RunEffectful(ctx, projectID, "repair", func(ctx context.Context, tx catalog.Tx) error {
		entry, err := tx.GetEntryByRowID(ctx, projectID, action.EntryID)
		if err != nil {
			return err
		}

		var historyAction models.HistoryAction
		switch action.Kind {
		case models.RepairAssignStableID:
			if entry.HasStableID() {
				return skip(action, "entry already has a stable id")
			}
			sid, err := tx.NextStableID(ctx)
			if err != nil {
				return err
			}
			entry.StableID = &sid
			action.StableID = &sid
			action.After = fmt.Sprint(sid)
			historyAction = models.HistoryStableIDAssigned

		case models.RepairBackfillID:
			if entry.CanonicalIDPointer != nil {
				return skip(action, "entry already has an id pointer")
			}
			if !entry.HasStableID() {
				return skip(action, "entry needs a stable id first")
			}
			target := *action.TargetID
			if _, _, err := d.resolver.Simulate(ctx, tx, projectID, target, map[int64]int64{entry.SID(): target}); err != nil {
				return err
			}
			entry.CanonicalIDPointer = &target
			historyAction = models.HistoryIDPointerFilled

		case models.RepairRederiveLabel:
			if entry.CanonicalIDPointer == nil || *entry.CanonicalIDPointer != *action.TargetID {
				return skip(action, "id pointer changed since planning")
			}
			target, err := tx.GetEntry(ctx, projectID, *action.TargetID)
			if err != nil {
				return err
			}
			if entry.CanonicalLabelPointer != nil && *entry.CanonicalLabelPointer == target.Label {
				return skip(action, "label pointer already matches")
			}
			label := target.Label
			entry.CanonicalLabelPointer = &label
			action.After = label
			historyAction = models.HistoryLabelRederived

		default:
			return errors.NewValidationError(errors.CodeValidation, "unknown repair action %q", action.Kind)
		}

		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		action.Applied = true
		var subjects []int64
		if action.TargetID != nil {
			subjects = []int64{entry.SID(), *action.TargetID}
		}
		return lifecycle.Record(ctx, tx, entry, historyAction, actor, subjects...)
	})
}

func skip(action *models.RepairAction, reason string) error {
	action.Skipped = true
	action.Reason = reason
	return nil
}

func unresolvedFinding(action models.RepairAction) models.Finding {
	kind := models.FindingMissingIDPointer
	switch action.Kind {
	case models.RepairAssignStableID:
		kind = models.FindingMissingStableID
	case models.RepairRederiveLabel:
		kind = models.FindingDivergentPointers
	}
	return models.Finding{
		Kind:     kind,
		EntryID:  action.EntryID,
		StableID: action.StableID,
		Label:    action.Label,
		Detail:   action.Reason,
	}
}
