package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/database"
	"github.com/animus-labs/animus-evals/internal/repo"
)

const (
	insertAnnotationQuery = `INSERT INTO experiment_annotations (
			annotation_id,
			run_id,
			name,
			annotator_kind,
			label,
			score,
			explanation,
			metadata,
			error,
			trace_id,
			started_at,
			ended_at,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	selectAnnotationColumns = `SELECT a.annotation_id, a.run_id, a.name, a.annotator_kind, a.label, a.score, a.explanation, a.metadata, a.error, a.trace_id, a.started_at, a.ended_at, a.created_at
		 FROM experiment_annotations a`
)

type AnnotationStore struct {
	db      DB
	dialect database.Dialect
}

func NewAnnotationStore(db DB, dialect database.Dialect) *AnnotationStore {
	if db == nil || dialect == nil {
		return nil
	}
	return &AnnotationStore{db: db, dialect: dialect}
}

func (s *AnnotationStore) CreateAnnotation(ctx context.Context, annotation domain.ExperimentAnnotation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("annotation store not initialized")
	}
	if err := annotation.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(annotation.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var score sql.NullFloat64
	if annotation.Score != nil {
		score = sql.NullFloat64{Float64: *annotation.Score, Valid: true}
	}
	_, err = s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertAnnotationQuery),
		strings.TrimSpace(annotation.ID),
		strings.TrimSpace(annotation.ExperimentRunID),
		strings.TrimSpace(annotation.Name),
		string(annotation.AnnotatorKind),
		annotation.Label,
		score,
		annotation.Explanation,
		metadataJSON,
		annotation.Error,
		strings.TrimSpace(annotation.TraceID),
		normalizeTime(annotation.StartedAt),
		normalizeTime(annotation.EndedAt),
		normalizeTime(annotation.CreatedAt),
	)
	if err != nil {
		return writeError(s.dialect, "insert annotation", err)
	}
	return nil
}

func (s *AnnotationStore) ListAnnotations(ctx context.Context, filter repo.AnnotationFilter) ([]domain.ExperimentAnnotation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("annotation store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	query := selectAnnotationColumns

	if experimentID := strings.TrimSpace(filter.ExperimentID); experimentID != "" {
		query += " JOIN experiment_runs r ON r.run_id = a.run_id"
		args = append(args, experimentID)
		clauses = append(clauses, fmt.Sprintf("r.experiment_id = $%d", len(args)))
	}
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		args = append(args, runID)
		clauses = append(clauses, fmt.Sprintf("a.run_id = $%d", len(args)))
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, name)
		clauses = append(clauses, fmt.Sprintf("a.name = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.created_at ASC, a.annotation_id ASC"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExperimentAnnotation, 0)
	for rows.Next() {
		var a domain.ExperimentAnnotation
		var kind string
		var score sql.NullFloat64
		var metadataJSON []byte
		if err := rows.Scan(
			&a.ID,
			&a.ExperimentRunID,
			&a.Name,
			&kind,
			&a.Label,
			&score,
			&a.Explanation,
			&metadataJSON,
			&a.Error,
			&a.TraceID,
			&a.StartedAt,
			&a.EndedAt,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.AnnotatorKind = domain.AnnotatorKind(kind)
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		meta, err := decodeMetadata(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		a.Metadata = meta
		a.StartedAt = a.StartedAt.UTC()
		a.EndedAt = a.EndedAt.UTC()
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return out, nil
}
