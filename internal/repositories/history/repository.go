package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/repositories/pgerror"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository appends to and reads the code history log. Rows are never updated.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type row struct {
	ID         int64         `db:"id"`
	ProjectID  string        `db:"project_id"`
	StableID   *int64        `db:"stable_id"`
	SubjectIDs pq.Int64Array `db:"subject_ids"`
	Action     string        `db:"action"`
	Actor      string        `db:"actor"`
	Payload    []byte        `db:"payload"`
	CreatedAt  time.Time     `db:"created_at"`
}

// Append inserts entry and sets its ID from the bigserial
func (r *Repository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	ctx, span := tracing.StartSpan(ctx, "history.Repository.Append")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("code_history")
	sb.Cols("project_id", "stable_id", "subject_ids", "action", "actor", "payload", "created_at")
	sb.Values(entry.ProjectID, entry.StableID, pq.Array(entry.SubjectIDs), string(entry.Action), entry.Actor, string(payload), entry.CreatedAt)
	sb.Returning("id")

	query, args := sb.Build()
	if err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query, args...).Scan(&entry.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"action": entry.Action, "project_id": entry.ProjectID}).Error("Failed to append history")
		return pgerror.Classify(err, "failed to append history")
	}
	return nil
}

// List returns a project's history in order, optionally only entries touching stableID
func (r *Repository) List(ctx context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "history.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "project_id", "stable_id", "subject_ids", "action", "actor", "payload", "created_at")
	sb.From("code_history")
	sb.Where(sb.Equal("project_id", projectID))
	if stableID != nil {
		sb.Where(sb.Or(
			sb.Equal("stable_id", *stableID),
			sb.Var(sqlbuilder.Build("subject_ids @> $?", pq.Array([]int64{*stableID}))),
		))
	}
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var rows []row
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list history")
		return nil, pgerror.Classify(err, "failed to list history")
	}

	out := make([]*models.HistoryEntry, len(rows))
	for i, row := range rows {
		out[i] = &models.HistoryEntry{
			ID:         row.ID,
			ProjectID:  row.ProjectID,
			StableID:   row.StableID,
			SubjectIDs: []int64(row.SubjectIDs),
			Action:     models.HistoryAction(row.Action),
			Actor:      row.Actor,
			Payload:    json.RawMessage(row.Payload),
			CreatedAt:  row.CreatedAt,
		}
	}
	return out, nil
}
