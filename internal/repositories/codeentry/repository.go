package codeentry

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/repositories/pgerror"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "code_entries"

var columns = []string{
	"id", "project_id", "stable_id", "label", "normalized_label", "status",
	"canonical_label_pointer", "canonical_id_pointer", "source", "evidence_refs",
	"confidence", "memo", "promoted_at", "version", "created_at", "updated_at",
}

// Repository handles code entry persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new code entry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert creates a new code entry
func (r *Repository) Insert(ctx context.Context, entry *models.CodeEntry) error {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.Insert")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Version = 1
	if entry.EvidenceRefs == nil {
		entry.EvidenceRefs = []string{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(entry.ID, entry.ProjectID, entry.StableID, entry.Label, entry.NormalizedLabel, entry.Status,
		entry.CanonicalLabelPointer, entry.CanonicalIDPointer, entry.Source, entry.EvidenceRefs,
		entry.Confidence, entry.Memo, entry.PromotedAt, entry.Version, entry.CreatedAt, entry.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entry_id": entry.ID, "project_id": entry.ProjectID}).Error("Failed to insert code entry")
		return pgerror.Classify(err, "failed to create code entry")
	}
	return nil
}

// Update writes every mutable column if the stored version matches, then bumps the version.
func (r *Repository) Update(ctx context.Context, entry *models.CodeEntry) error {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.Update")
	defer span.End()

	updatedAt := time.Now().UTC()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("stable_id", entry.StableID),
		ub.Assign("label", entry.Label),
		ub.Assign("normalized_label", entry.NormalizedLabel),
		ub.Assign("status", entry.Status),
		ub.Assign("canonical_label_pointer", entry.CanonicalLabelPointer),
		ub.Assign("canonical_id_pointer", entry.CanonicalIDPointer),
		ub.Assign("evidence_refs", entry.EvidenceRefs),
		ub.Assign("confidence", entry.Confidence),
		ub.Assign("memo", entry.Memo),
		ub.Assign("promoted_at", entry.PromotedAt),
		ub.Assign("version", entry.Version+1),
		ub.Assign("updated_at", updatedAt),
	)
	ub.Where(
		ub.Equal("id", entry.ID),
		ub.Equal("project_id", entry.ProjectID),
		ub.Equal("version", entry.Version),
	)

	query, args := ub.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entry_id": entry.ID}).Error("Failed to update code entry")
		return pgerror.Classify(err, "failed to update code entry")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update code entry")
	}
	if affected == 0 {
		e := errors.Conflict("optimistic_lock", "code entry %s was modified concurrently", entry.ID)
		e.Retryable = true
		return e
	}

	entry.Version++
	entry.UpdatedAt = updatedAt
	return nil
}

// NextStableID draws the next value of the global stable id sequence
func (r *Repository) NextStableID(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.NextStableID")
	defer span.End()

	var id int64
	if err := database.Conn(ctx, r.db).GetContext(ctx, &id, "SELECT nextval('code_stable_id_seq')"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to allocate stable id")
		return 0, pgerror.Classify(err, "failed to allocate stable id")
	}
	return id, nil
}

// GetByStableID retrieves an entry by its stable id
func (r *Repository) GetByStableID(ctx context.Context, projectID string, stableID int64) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.GetByStableID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.Equal("stable_id", stableID),
	)

	return r.getOne(ctx, sb, "code %d not found in project %s", stableID, projectID)
}

// GetByID retrieves an entry by row id
func (r *Repository) GetByID(ctx context.Context, projectID string, id string) (*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.Equal("id", id),
	)

	return r.getOne(ctx, sb, "code entry %s not found in project %s", id, projectID)
}

func (r *Repository) getOne(ctx context.Context, sb *sqlbuilder.SelectBuilder, notFound string, args ...any) (*models.CodeEntry, error) {
	query, queryArgs := sb.Build()
	var entry models.CodeEntry
	if err := database.Conn(ctx, r.db).GetContext(ctx, &entry, query, queryArgs...); err != nil {
		if pgerror.IsNoRows(err) {
			return nil, errors.NotFound(notFound, args...)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get code entry")
		return nil, pgerror.Classify(err, "failed to get code entry")
	}
	return &entry, nil
}

// FindByNormalizedLabel returns every entry sharing a normalized label
func (r *Repository) FindByNormalizedLabel(ctx context.Context, projectID string, normalized string) ([]*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.FindByNormalizedLabel")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("project_id", projectID),
		sb.Equal("normalized_label", normalized),
	)
	sb.OrderBy("stable_id ASC NULLS LAST", "created_at ASC", "id ASC")

	return r.selectMany(ctx, sb)
}

// List returns entries of a project matching filter
func (r *Repository) List(ctx context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("project_id", projectID))
	if len(filter.Statuses) > 0 {
		statuses := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		sb.Where(sb.In("status", statuses...))
	}
	if filter.Promoted != nil {
		if *filter.Promoted {
			sb.Where(sb.IsNotNull("promoted_at"))
		} else {
			sb.Where(sb.IsNull("promoted_at"))
		}
	}
	sb.OrderBy("stable_id ASC NULLS LAST", "created_at ASC", "id ASC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	return r.selectMany(ctx, sb)
}

func (r *Repository) selectMany(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]*models.CodeEntry, error) {
	query, args := sb.Build()
	var entries []*models.CodeEntry
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list code entries")
		return nil, pgerror.Classify(err, "failed to list code entries")
	}
	return entries, nil
}

// ListProjects returns every project id with at least one entry or freeze record
func (r *Repository) ListProjects(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "codeentry.Repository.ListProjects")
	defer span.End()

	var projects []string
	query := "SELECT project_id FROM code_entries UNION SELECT project_id FROM freeze_records ORDER BY project_id"
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &projects, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list projects")
		return nil, pgerror.Classify(err, "failed to list projects")
	}
	return projects, nil
}
