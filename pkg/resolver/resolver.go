// Package resolver answers "what is the canonical code for X". The ID pointer is
// authoritative; the legacy label pointer is only followed for read-only callers.
package resolver

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultMaxDepth = 25

// Purpose declares what the caller will do with the answer.
type Purpose int

const (
	// PurposeDisplay may fall back to the label pointer for rows without stable ids.
	PurposeDisplay Purpose = iota
	// PurposeMutation requires every hop to be ID-addressed.
	PurposeMutation
)

type Resolver struct {
	logger   ectologger.Logger
	maxDepth int
}

func NewResolver(logger ectologger.Logger, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{
		logger:   logger,
		maxDepth: maxDepth,
	}
}

func (r *Resolver) MaxDepth() int {
	return r.maxDepth
}

// ResolveByID follows canonical_id_pointer from stableID to its terminal.
func (r *Resolver) ResolveByID(ctx context.Context, reader catalog.Reader, projectID string, stableID int64, purpose Purpose) (*models.CanonicalEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.ResolveByID")
	defer span.End()

	start, err := reader.GetEntry(ctx, projectID, stableID)
	if err != nil {
		return nil, err
	}
	res, err := r.Resolve(ctx, reader, start, purpose)
	tracing.RecordError(span, err)
	return res, err
}

// ResolveByLabel normalizes label and resolves the matching entries. Entries
// sharing the label must converge on one terminal, otherwise the answer is ambiguous.
func (r *Resolver) ResolveByLabel(ctx context.Context, reader catalog.Reader, projectID string, label string, purpose Purpose) (*models.CanonicalEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.ResolveByLabel")
	defer span.End()

	normalized := normalizer.Normalize(label)
	matches, err := reader.FindByNormalizedLabel(ctx, projectID, normalized)
	if err != nil {
		return nil, err
	}
	matches = withoutRejected(matches)
	if len(matches) == 0 {
		return nil, errors.NotFound("no code labelled %q in project %s", label, projectID)
	}

	var chosen *models.CanonicalEntry
	terminals := map[string]*models.CanonicalEntry{}
	order := []string{}
	for _, m := range matches {
		res, err := r.Resolve(ctx, reader, m, purpose)
		if err != nil {
			return nil, err
		}
		if _, seen := terminals[res.Entry.ID]; !seen {
			terminals[res.Entry.ID] = res
			order = append(order, res.Entry.ID)
		}
		if chosen == nil {
			chosen = res
		}
	}

	if len(terminals) > 1 {
		ids := make([]int64, 0, len(order))
		for _, id := range order {
			if sid := terminals[id].Entry.StableID; sid != nil {
				ids = append(ids, *sid)
			}
		}
		return nil, errors.AmbiguousLabel(label, ids)
	}
	return chosen, nil
}

// Resolve walks from start to its terminal. Revisiting a node or exceeding the
// depth bound yields CycleSuspected.
func (r *Resolver) Resolve(ctx context.Context, reader catalog.Reader, start *models.CodeEntry, purpose Purpose) (*models.CanonicalEntry, error) {
	res := &models.CanonicalEntry{Via: models.ResolvedViaID}
	visited := map[string]struct{}{}
	current := start

	for {
		if purpose == PurposeMutation && !current.HasStableID() {
			return nil, errors.MissingStableID(current.ID, current.Label)
		}
		if _, seen := visited[current.ID]; seen {
			res.Path = appendID(res.Path, current)
			return nil, errors.CycleSuspected(res.Path, r.maxDepth)
		}
		visited[current.ID] = struct{}{}
		res.Path = appendID(res.Path, current)

		next, err := r.step(ctx, reader, current, purpose, res)
		if err != nil {
			return nil, err
		}
		if next == nil {
			res.Entry = current
			metrics.ResolverDepth.Observe(float64(res.Depth))
			return res, nil
		}

		res.Depth++
		if res.Depth > r.maxDepth {
			return nil, errors.CycleSuspected(res.Path, r.maxDepth)
		}
		current = next
	}
}

// step returns the next hop or nil at a terminal.
func (r *Resolver) step(ctx context.Context, reader catalog.Reader, current *models.CodeEntry, purpose Purpose, res *models.CanonicalEntry) (*models.CodeEntry, error) {
	if current.CanonicalIDPointer != nil {
		if current.IsTerminal() {
			return nil, nil
		}
		next, err := reader.GetEntry(ctx, current.ProjectID, *current.CanonicalIDPointer)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return nil, errors.NotFound("code %d points at missing canonical %d", current.SID(), *current.CanonicalIDPointer)
			}
			return nil, err
		}
		return next, nil
	}

	// Only entries that predate stable ids follow the label pointer.
	if current.HasStableID() || current.CanonicalLabelPointer == nil || purpose != PurposeDisplay {
		return nil, nil
	}

	target := normalizer.Normalize(*current.CanonicalLabelPointer)
	if target == current.NormalizedLabel {
		return nil, nil
	}
	candidates, err := reader.FindByNormalizedLabel(ctx, current.ProjectID, target)
	if err != nil {
		return nil, err
	}
	candidates = withoutRejected(candidates)
	if len(candidates) == 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"entry_id":      current.ID,
			"label_pointer": *current.CanonicalLabelPointer,
		}).Warn("Legacy label pointer does not resolve; treating entry as its own canonical")
		return nil, nil
	}
	res.Via = models.ResolvedViaLabel
	res.ReadOnlyFallback = true
	return candidates[0], nil
}

func appendID(path []int64, e *models.CodeEntry) []int64 {
	return append(path, e.SID())
}

func withoutRejected(entries []*models.CodeEntry) []*models.CodeEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Status != models.CodeStatusRejected {
			out = append(out, e)
		}
	}
	return out
}

// Simulate walks the ID pointer graph from start as if overrides (stable id to
// new canonical id) were already written. It returns the visited path, ending at
// the terminal, or CycleDetected when the walk revisits a node.
func (r *Resolver) Simulate(ctx context.Context, reader catalog.Reader, projectID string, start int64, overrides map[int64]int64) ([]int64, *models.CodeEntry, error) {
	visited := map[int64]struct{}{}
	path := []int64{}
	id := start

	for depth := 0; ; depth++ {
		path = append(path, id)
		if _, seen := visited[id]; seen {
			return nil, nil, errors.CycleDetected(path)
		}
		visited[id] = struct{}{}
		if depth > r.maxDepth {
			return nil, nil, errors.CycleSuspected(path, r.maxDepth)
		}

		entry, err := reader.GetEntry(ctx, projectID, id)
		if err != nil {
			return nil, nil, err
		}

		next, ok := overrides[id]
		if !ok {
			if entry.IsTerminal() {
				return path, entry, nil
			}
			next = *entry.CanonicalIDPointer
		}
		if next == id {
			return path, entry, nil
		}
		id = next
	}
}
