// Package advisor classifies new code labels against a project's catalog.
// Advice never blocks insertion.
package advisor

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultThreshold = 0.85

type Advisor struct {
	logger    ectologger.Logger
	threshold float64
}

func NewAdvisor(logger ectologger.Logger, threshold float64) *Advisor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Advisor{
		logger:    logger,
		threshold: threshold,
	}
}

func (a *Advisor) Threshold() float64 {
	return a.threshold
}

// Advise returns exact when a non-rejected entry shares label's normalized form,
// near when a similarity hint reaches the threshold, none otherwise.
func (a *Advisor) Advise(ctx context.Context, reader catalog.Reader, projectID string, label string, hints []models.SimilarityHint) (*models.DuplicateAdvice, error) {
	ctx, span := tracing.StartSpan(ctx, "advisor.Advisor.Advise")
	defer span.End()

	advice := &models.DuplicateAdvice{
		Classification: models.DuplicateNone,
		Threshold:      a.threshold,
	}

	matches, err := reader.FindByNormalizedLabel(ctx, projectID, normalizer.Normalize(label))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	for _, m := range matches {
		if m.Status == models.CodeStatusRejected {
			continue
		}
		advice.Classification = models.DuplicateExact
		advice.Score = 1
		advice.Match = m
		return advice, nil
	}

	sorted := append([]models.SimilarityHint(nil), hints...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	for _, h := range sorted {
		if h.Score < a.threshold {
			break
		}
		match, err := reader.GetEntry(ctx, projectID, h.StableID)
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).WithField("stable_id", h.StableID).Debug("Ignoring similarity hint for unknown code")
			continue
		}
		if match.Status == models.CodeStatusRejected {
			continue
		}
		advice.Classification = models.DuplicateNear
		advice.Score = h.Score
		advice.Match = match
		return advice, nil
	}
	return advice, nil
}
