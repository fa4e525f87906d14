// Package drift compares the text-keyed and ID-keyed identity views of a
// project, reports where they disagree and repairs what it can.
package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/freeze"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Detector struct {
	store    catalog.Store
	freeze   *freeze.Controller
	resolver *resolver.Resolver
	logger   ectologger.Logger
}

func NewDetector(store catalog.Store, freezeController *freeze.Controller, res *resolver.Resolver, logger ectologger.Logger) *Detector {
	return &Detector{
		store:    store,
		freeze:   freezeController,
		resolver: res,
		logger:   logger,
	}
}

// Diagnose scans the project without taking the project lock. It never writes
// and is never blocked by a freeze.
func (d *Detector) Diagnose(ctx context.Context, projectID string) (*models.DriftReport, error) {
	ctx, span := tracing.StartSpan(ctx, "drift.Detector.Diagnose")
	defer span.End()
	tracing.SetProject(span, projectID)

	snap, err := loadSnapshot(ctx, d.store, projectID, d.resolver.MaxDepth())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	report := &models.DriftReport{
		ProjectID:      projectID,
		GeneratedAt:    time.Now().UTC(),
		EntriesScanned: len(snap.entries),
		Findings:       []models.Finding{},
	}
	for _, e := range snap.entries {
		report.Findings = append(report.Findings, snap.inspect(e)...)
	}
	for _, f := range report.Findings {
		metrics.DriftFindings.WithLabelValues(string(f.Kind)).Inc()
		if needsHuman(f.Kind) {
			report.RecommendFreeze = true
		}
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":       projectID,
		"entries_scanned":  report.EntriesScanned,
		"findings":         len(report.Findings),
		"recommend_freeze": report.RecommendFreeze,
	}).Info("Drift diagnosis finished")
	return report, nil
}

// inspect returns every finding for one entry.
func (s *snapshot) inspect(e *models.CodeEntry) []models.Finding {
	var findings []models.Finding
	finding := func(kind models.FindingKind, detail string, args ...any) models.Finding {
		return models.Finding{
			Kind:     kind,
			EntryID:  e.ID,
			StableID: e.StableID,
			Label:    e.Label,
			Detail:   fmt.Sprintf(detail, args...),
		}
	}

	if !e.HasStableID() {
		findings = append(findings, finding(models.FindingMissingStableID,
			"entry has no stable id and cannot take part in effectful operations"))
	}
	if e.Status.Absorbed() && e.CanonicalIDPointer == nil {
		findings = append(findings, finding(models.FindingDanglingCanonical,
			"%s entry has no canonical id pointer", e.Status))
	}

	if e.CanonicalIDPointer == nil {
		if pointsElsewhere(e) {
			f := finding(models.FindingMissingIDPointer,
				"label pointer %q has no matching id pointer", *e.CanonicalLabelPointer)
			f.ByLabel = e.CanonicalLabelPointer
			findings = append(findings, f)
		}
		return findings
	}

	// a self-pointing entry walks to itself, so its label pointer is still checked
	res := s.walk(e)
	switch {
	case res.broken:
		f := finding(models.FindingBrokenIDPointer,
			"id pointer %d does not address an entry", *e.CanonicalIDPointer)
		f.Path = res.path
		findings = append(findings, f)
	case res.cycle:
		f := finding(models.FindingCycle,
			"id pointer chain did not terminate within %d hops", s.maxDepth)
		f.Path = res.path
		findings = append(findings, f)
	case !s.labelAgrees(e, res):
		f := finding(models.FindingDivergentPointers,
			"label pointer %q disagrees with id pointer resolution %q", *e.CanonicalLabelPointer, res.terminal.Label)
		f.Path = res.path
		f.ByID = res.terminal.StableID
		label := res.terminal.Label
		f.ByIDLabel = &label
		f.ByLabel = e.CanonicalLabelPointer
		findings = append(findings, f)
	}
	return findings
}

// needsHuman reports whether no repair action addresses kind.
func needsHuman(kind models.FindingKind) bool {
	switch kind {
	case models.FindingCycle, models.FindingBrokenIDPointer, models.FindingDanglingCanonical:
		return true
	}
	return false
}
