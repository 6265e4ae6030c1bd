package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/database"
	"github.com/animus-labs/animus-evals/internal/repo"
)

const (
	// The sequence number is computed inside the insert; concurrent writers collide on
	// UNIQUE (dataset_id, sequence_number) and the caller retries.
	insertExperimentQuery = `INSERT INTO experiments (
			experiment_id,
			dataset_id,
			dataset_version_id,
			sequence_number,
			name,
			description,
			repetitions,
			metadata,
			created_at
		) VALUES (
			$1,
			$2,
			$3,
			(SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM experiments WHERE dataset_id = $2),
			$4,$5,$6,$7,$8
		)
		RETURNING sequence_number`

	selectExperimentColumns = `SELECT experiment_id, dataset_id, dataset_version_id, sequence_number, name, description, repetitions, metadata, created_at
		 FROM experiments`
)

type ExperimentStore struct {
	db      DB
	dialect database.Dialect
}

func NewExperimentStore(db DB, dialect database.Dialect) *ExperimentStore {
	if db == nil || dialect == nil {
		return nil
	}
	return &ExperimentStore{db: db, dialect: dialect}
}

func (s *ExperimentStore) CreateExperiment(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	if err := experiment.Validate(); err != nil {
		return domain.Experiment{}, err
	}
	metadataJSON, err := encodeMetadata(experiment.Metadata)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("encode metadata: %w", err)
	}
	experiment.ID = strings.TrimSpace(experiment.ID)
	experiment.DatasetID = strings.TrimSpace(experiment.DatasetID)
	experiment.DatasetVersionID = strings.TrimSpace(experiment.DatasetVersionID)
	experiment.Name = strings.TrimSpace(experiment.Name)
	experiment.Description = strings.TrimSpace(experiment.Description)
	experiment.CreatedAt = normalizeTime(experiment.CreatedAt)

	err = s.db.QueryRowContext(
		ctx,
		s.dialect.Rebind(insertExperimentQuery),
		experiment.ID,
		experiment.DatasetID,
		experiment.DatasetVersionID,
		experiment.Name,
		experiment.Description,
		experiment.Repetitions,
		metadataJSON,
		experiment.CreatedAt,
	).Scan(&experiment.SequenceNumber)
	if err != nil {
		return domain.Experiment{}, writeError(s.dialect, "insert experiment", err)
	}
	experiment.Metadata = experiment.Metadata.Clone()
	return experiment, nil
}

func (s *ExperimentStore) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Experiment{}, fmt.Errorf("experiment id is required")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectExperimentColumns+` WHERE experiment_id = $1`), id)
	experiment, err := scanExperiment(row)
	if err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	return experiment, nil
}

func (s *ExperimentStore) ListExperiments(ctx context.Context, filter repo.ExperimentFilter) ([]domain.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	args := make([]any, 0, 2)
	query := selectExperimentColumns
	if datasetID := strings.TrimSpace(filter.DatasetID); datasetID != "" {
		args = append(args, datasetID)
		query += fmt.Sprintf(" WHERE dataset_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, experiment_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Experiment, 0)
	for rows.Next() {
		experiment, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, experiment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return out, nil
}

func scanExperiment(row scanner) (domain.Experiment, error) {
	var experiment domain.Experiment
	var metadataJSON []byte
	if err := row.Scan(
		&experiment.ID,
		&experiment.DatasetID,
		&experiment.DatasetVersionID,
		&experiment.SequenceNumber,
		&experiment.Name,
		&experiment.Description,
		&experiment.Repetitions,
		&metadataJSON,
		&experiment.CreatedAt,
	); err != nil {
		return domain.Experiment{}, err
	}
	meta, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("decode metadata: %w", err)
	}
	experiment.Metadata = meta
	experiment.CreatedAt = experiment.CreatedAt.UTC()
	return experiment, nil
}
