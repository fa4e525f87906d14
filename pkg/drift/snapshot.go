package drift

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
)

// snapshot indexes a project's entries for in-memory traversal.
type snapshot struct {
	entries  []*models.CodeEntry
	bySID    map[int64]*models.CodeEntry
	byLabel  map[string][]*models.CodeEntry
	maxDepth int
}

func loadSnapshot(ctx context.Context, reader catalog.Reader, projectID string, maxDepth int) (*snapshot, error) {
	entries, err := reader.ListEntries(ctx, projectID, models.EntryFilter{})
	if err != nil {
		return nil, err
	}
	s := &snapshot{
		entries:  entries,
		bySID:    make(map[int64]*models.CodeEntry, len(entries)),
		byLabel:  map[string][]*models.CodeEntry{},
		maxDepth: maxDepth,
	}
	for _, e := range entries {
		if e.StableID != nil {
			s.bySID[*e.StableID] = e
		}
		s.byLabel[e.NormalizedLabel] = append(s.byLabel[e.NormalizedLabel], e)
	}
	return s, nil
}

type walkResult struct {
	terminal *models.CodeEntry
	path     []int64
	cycle    bool
	broken   bool
}

// walk follows ID pointers from start, bounded by maxDepth.
func (s *snapshot) walk(start *models.CodeEntry) walkResult {
	res := walkResult{path: []int64{start.SID()}}
	visited := map[string]struct{}{start.ID: {}}
	current := start
	for depth := 0; ; depth++ {
		if current.IsTerminal() {
			res.terminal = current
			return res
		}
		next, ok := s.bySID[*current.CanonicalIDPointer]
		if !ok {
			res.broken = true
			res.path = append(res.path, *current.CanonicalIDPointer)
			return res
		}
		res.path = append(res.path, next.SID())
		if _, seen := visited[next.ID]; seen || depth >= s.maxDepth {
			res.cycle = true
			return res
		}
		visited[next.ID] = struct{}{}
		current = next
	}
}

// labelTerminals resolves a label pointer to the distinct ID-addressed
// terminals of the live entries carrying that label, excluding self.
func (s *snapshot) labelTerminals(label string, self *models.CodeEntry) []*models.CodeEntry {
	var out []*models.CodeEntry
	seen := map[string]struct{}{}
	for _, candidate := range s.byLabel[normalizer.Normalize(label)] {
		if candidate.ID == self.ID || candidate.Status == models.CodeStatusRejected {
			continue
		}
		res := s.walk(candidate)
		if res.terminal == nil || !res.terminal.HasStableID() || res.terminal.ID == self.ID {
			continue
		}
		if _, dup := seen[res.terminal.ID]; dup {
			continue
		}
		seen[res.terminal.ID] = struct{}{}
		out = append(out, res.terminal)
	}
	return out
}

// pointsElsewhere reports whether e's label pointer names a concept other than its own label.
func pointsElsewhere(e *models.CodeEntry) bool {
	return e.CanonicalLabelPointer != nil && normalizer.Normalize(*e.CanonicalLabelPointer) != e.NormalizedLabel
}

// labelAgrees reports whether e's label pointer names the concept its ID pointer addresses.
func (s *snapshot) labelAgrees(e *models.CodeEntry, res walkResult) bool {
	if e.CanonicalLabelPointer == nil {
		return true
	}
	ptr := normalizer.Normalize(*e.CanonicalLabelPointer)
	if direct, ok := s.bySID[*e.CanonicalIDPointer]; ok && direct.NormalizedLabel == ptr {
		return true
	}
	return res.terminal != nil && res.terminal.NormalizedLabel == ptr
}
