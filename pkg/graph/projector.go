package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer is satisfied by *Client.
type Writer interface {
	Write(ctx context.Context, statements ...Statement) error
}

const upsertCodeCypher = `
		MERGE (c:Code {project_id: $project_id, stable_id: $stable_id})
		SET c.label = $label,
			c.normalized_label = $normalized_label,
			c.status = $status,
			c.promoted = $promoted,
			c.promoted_at = $promoted_at
	`

const aliasCypher = `
		MATCH (s:Code {project_id: $project_id, stable_id: $source_id})
		MATCH (t:Code {project_id: $project_id, stable_id: $target_id})
		OPTIONAL MATCH (s)-[old:ALIAS_OF]->(other:Code)
		WHERE other.stable_id <> $target_id
		DELETE old
		MERGE (s)-[:ALIAS_OF]->(t)
	`

// Projector mirrors promoted canonical codes and their aliases into the graph.
// Only ID-addressed entries are projected. Every failure is logged and counted
// before it is returned.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{
		writer: writer,
		logger: logger,
	}
}

// ProjectCode upserts entry's node, including demotion after a revert.
func (p *Projector) ProjectCode(ctx context.Context, entry *models.CodeEntry) error {
	if p == nil || p.writer == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectCode")
	defer span.End()

	stmt, err := codeStatement(entry)
	if err == nil {
		err = p.writer.Write(ctx, stmt)
	}
	p.record(ctx, err, entry.ProjectID, "Failed to project code")
	return err
}

// ProjectMerge writes the target node, each source node and one ALIAS_OF edge per source.
func (p *Projector) ProjectMerge(ctx context.Context, target *models.CodeEntry, sources []*models.CodeEntry) error {
	if p == nil || p.writer == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectMerge")
	defer span.End()

	stmt, err := codeStatement(target)
	if err != nil {
		p.record(ctx, err, target.ProjectID, "Failed to project merge")
		return err
	}
	statements := []Statement{stmt}
	for _, src := range sources {
		s, err := codeStatement(src)
		if err != nil {
			p.record(ctx, err, target.ProjectID, "Failed to project merge")
			return err
		}
		statements = append(statements, s, Statement{
			Cypher: aliasCypher,
			Params: map[string]any{
				"project_id": src.ProjectID,
				"source_id":  *src.StableID,
				"target_id":  *target.StableID,
			},
		})
	}

	err = p.writer.Write(ctx, statements...)
	p.record(ctx, err, target.ProjectID, "Failed to project merge")
	return err
}

func (p *Projector) record(ctx context.Context, err error, projectID string, msg string) {
	metrics.GraphProjections.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error(msg)
	}
}

func codeStatement(entry *models.CodeEntry) (Statement, error) {
	if !entry.HasStableID() {
		return Statement{}, errors.MissingStableID(entry.ID, entry.Label)
	}
	var promotedAt any
	if entry.PromotedAt != nil {
		promotedAt = entry.PromotedAt.UTC().Format(time.RFC3339)
	}
	return Statement{
		Cypher: upsertCodeCypher,
		Params: map[string]any{
			"project_id":       entry.ProjectID,
			"stable_id":        *entry.StableID,
			"label":            entry.Label,
			"normalized_label": entry.NormalizedLabel,
			"status":           string(entry.Status),
			"promoted":         entry.IsPromoted(),
			"promoted_at":      promotedAt,
		},
	}, nil
}
