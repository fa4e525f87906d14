package mergeoperation

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/repositories/pgerror"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles merge idempotency records
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
	ID             string                             `db:"id"`
	ProjectID      string                             `db:"project_id"`
	IdempotencyKey string                             `db:"idempotency_key"`
	SourceIDs      pq.Int64Array                      `db:"source_ids"`
	TargetID       int64                              `db:"target_id"`
	Actor          string                             `db:"actor"`
	Result         database.JSONB[models.MergeResult] `db:"result"`
	CreatedAt      time.Time                          `db:"created_at"`
}

func (r row) toModel() *models.MergeOperation {
	return &models.MergeOperation{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		IdempotencyKey: r.IdempotencyKey,
		SourceIDs:      []int64(r.SourceIDs),
		TargetID:       r.TargetID,
		Actor:          r.Actor,
		Result:         r.Result.GetValue(),
		CreatedAt:      r.CreatedAt,
	}
}

// Insert records a completed merge
func (r *Repository) Insert(ctx context.Context, op *models.MergeOperation) error {
	ctx, span := tracing.StartSpan(ctx, "mergeoperation.Repository.Insert")
	defer span.End()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("merge_operations")
	sb.Cols("id", "project_id", "idempotency_key", "source_ids", "target_id", "actor", "result", "created_at")
	sb.Values(op.ID, op.ProjectID, op.IdempotencyKey, pq.Array(op.SourceIDs), op.TargetID, op.Actor, database.NewJSONB(op.Result), op.CreatedAt)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"idempotency_key": op.IdempotencyKey}).Error("Failed to record merge operation")
		return pgerror.Classify(err, "failed to record merge operation")
	}
	return nil
}

// GetByKey returns the merge recorded under an idempotency key, or nil
func (r *Repository) GetByKey(ctx context.Context, projectID string, key string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeoperation.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "project_id", "idempotency_key", "source_ids", "target_id", "actor", "result", "created_at")
	sb.From("merge_operations")
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.Equal("idempotency_key", key),
	)

	query, args := sb.Build()
	var out row
	if err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...); err != nil {
		if pgerror.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge operation")
		return nil, pgerror.Classify(err, "failed to get merge operation")
	}
	return out.toModel(), nil
}
