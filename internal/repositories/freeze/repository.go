package freeze

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/repositories/pgerror"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository persists per-project freeze flags
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

// Get returns the project's freeze record, or nil when it was never frozen
func (r *Repository) Get(ctx context.Context, projectID string) (*models.FreezeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "freeze.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("project_id", "active", "engaged_at", "engaged_by", "reason", "released_at", "released_by", "updated_at")
	sb.From("freeze_records")
	sb.Where(sb.Equal("project_id", projectID))

	query, args := sb.Build()
	var record models.FreezeRecord
	if err := database.Conn(ctx, r.db).GetContext(ctx, &record, query, args...); err != nil {
		if pgerror.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get freeze record")
		return nil, pgerror.Classify(err, "failed to get freeze record")
	}
	return &record, nil
}

// Upsert writes the freeze record
func (r *Repository) Upsert(ctx context.Context, record *models.FreezeRecord) error {
	ctx, span := tracing.StartSpan(ctx, "freeze.Repository.Upsert")
	defer span.End()

	record.UpdatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto("freeze_records")
	ib.Cols("project_id", "active", "engaged_at", "engaged_by", "reason", "released_at", "released_by", "updated_at")
	ib.Values(record.ProjectID, record.Active, record.EngagedAt, record.EngagedBy, record.Reason, record.ReleasedAt, record.ReleasedBy, record.UpdatedAt)
	ub := ib.OnConflict("project_id")
	ub.Set(
		ub.Assign("active", database.Excluded("active")),
		ub.Assign("engaged_at", database.Excluded("engaged_at")),
		ub.Assign("engaged_by", database.Excluded("engaged_by")),
		ub.Assign("reason", database.Excluded("reason")),
		ub.Assign("released_at", database.Excluded("released_at")),
		ub.Assign("released_by", database.Excluded("released_by")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"project_id": record.ProjectID}).Error("Failed to upsert freeze record")
		return pgerror.Classify(err, "failed to save freeze record")
	}
	return nil
}
