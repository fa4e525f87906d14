package lifecycle

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// CanonicalHolder returns the entry, other than those in exclude, that holds the
// canonical slot for normalized, or nil when the slot is free.
func CanonicalHolder(ctx context.Context, reader catalog.Reader, projectID string, normalized string, exclude ...string) (*models.CodeEntry, error) {
	entries, err := reader.FindByNormalizedLabel(ctx, projectID, normalized)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := skip[e.ID]; ok {
			continue
		}
		if e.HoldsCanonicalSlot() {
			return e, nil
		}
	}
	return nil, nil
}

// validatedHolder finds the validated terminal entry holding normalized's canonical slot.
// Self-pointers count, which the storage index alone does not catch.
func validatedHolder(ctx context.Context, reader catalog.Reader, projectID string, normalized string, self string) (*models.CodeEntry, error) {
	entries, err := reader.FindByNormalizedLabel(ctx, projectID, normalized)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID != self && e.Status == models.CodeStatusValidated && e.IsTerminal() {
			return e, nil
		}
	}
	return nil, nil
}

// referrers returns the entries, other than the target itself, whose ID pointer addresses stableID.
func referrers(ctx context.Context, reader catalog.Reader, projectID string, stableID int64) ([]*models.CodeEntry, error) {
	all, err := reader.ListEntries(ctx, projectID, models.EntryFilter{})
	if err != nil {
		return nil, err
	}
	var out []*models.CodeEntry
	for _, e := range all {
		if e.CanonicalIDPointer == nil || *e.CanonicalIDPointer != stableID || e.SID() == stableID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func collision(normalized string, holder *models.CodeEntry, target *models.CodeEntry) error {
	return errors.CanonicalCollision(normalized, holder.SID(), target.SID())
}

// Record appends one history entry snapshotting entry.
func Record(ctx context.Context, tx catalog.Tx, entry *models.CodeEntry, action models.HistoryAction, actor string, subjects ...int64) error {
	h, err := models.NewHistoryEntry(entry.ProjectID, entry.StableID, action, actor, entry, subjects...)
	if err != nil {
		return err
	}
	return tx.AppendHistory(ctx, h)
}
