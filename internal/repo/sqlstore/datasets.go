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
	insertDatasetQuery = `INSERT INTO datasets (
			dataset_id,
			name,
			description,
			metadata,
			created_at
		) VALUES ($1,$2,$3,$4,$5)`

	selectDatasetColumns = `SELECT dataset_id, name, description, metadata, created_at FROM datasets`

	insertDatasetVersionQuery = `INSERT INTO dataset_versions (
			version_id,
			dataset_id,
			ordinal,
			description,
			metadata,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6)`

	selectDatasetVersionColumns = `SELECT version_id, dataset_id, ordinal, description, metadata, created_at FROM dataset_versions`

	selectLatestDatasetVersionQuery = selectDatasetVersionColumns + ` WHERE dataset_id = $1 ORDER BY ordinal DESC LIMIT 1`

	nextDatasetVersionOrdinalQuery = `SELECT COALESCE(MAX(ordinal), 0) + 1 FROM dataset_versions WHERE dataset_id = $1`
)

type DatasetStore struct {
	db      DB
	dialect database.Dialect
}

func NewDatasetStore(db DB, dialect database.Dialect) *DatasetStore {
	if db == nil || dialect == nil {
		return nil
	}
	return &DatasetStore{db: db, dialect: dialect}
}

func (s *DatasetStore) CreateDataset(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(dataset.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertDatasetQuery),
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.Name),
		strings.TrimSpace(dataset.Description),
		metadataJSON,
		normalizeTime(dataset.CreatedAt),
	)
	if err != nil {
		return writeError(s.dialect, "insert dataset", err)
	}
	return nil
}

func (s *DatasetStore) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dataset{}, fmt.Errorf("dataset id is required")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectDatasetColumns+` WHERE dataset_id = $1`), id)
	dataset, err := scanDataset(row)
	if err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	return dataset, nil
}

func (s *DatasetStore) ListDatasets(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	args := make([]any, 0, 2)
	query := selectDatasetColumns
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, name)
		query += fmt.Sprintf(" WHERE name = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, dataset_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]domain.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}

func (s *DatasetStore) CreateDatasetVersion(ctx context.Context, version domain.DatasetVersion) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := version.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(version.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertDatasetVersionQuery),
		strings.TrimSpace(version.ID),
		strings.TrimSpace(version.DatasetID),
		version.Ordinal,
		strings.TrimSpace(version.Description),
		metadataJSON,
		normalizeTime(version.CreatedAt),
	)
	if err != nil {
		return writeError(s.dialect, "insert dataset version", err)
	}
	return nil
}

func (s *DatasetStore) GetDatasetVersion(ctx context.Context, id string) (domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return domain.DatasetVersion{}, fmt.Errorf("dataset store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.DatasetVersion{}, fmt.Errorf("version id is required")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectDatasetVersionColumns+` WHERE version_id = $1`), id)
	version, err := scanDatasetVersion(row)
	if err != nil {
		return domain.DatasetVersion{}, handleNotFound(err)
	}
	return version, nil
}

func (s *DatasetStore) LatestDatasetVersion(ctx context.Context, datasetID string) (domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return domain.DatasetVersion{}, fmt.Errorf("dataset store not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectLatestDatasetVersionQuery), strings.TrimSpace(datasetID))
	version, err := scanDatasetVersion(row)
	if err != nil {
		return domain.DatasetVersion{}, handleNotFound(err)
	}
	return version, nil
}

func (s *DatasetStore) ListDatasetVersions(ctx context.Context, filter repo.DatasetVersionFilter) ([]domain.DatasetVersion, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	datasetID := strings.TrimSpace(filter.DatasetID)
	if datasetID == "" {
		return nil, fmt.Errorf("dataset id is required")
	}
	args := []any{datasetID}
	query := selectDatasetVersionColumns + " WHERE dataset_id = $1 ORDER BY ordinal DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list dataset versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.DatasetVersion, 0)
	for rows.Next() {
		version, err := scanDatasetVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dataset versions: %w", err)
	}
	return versions, nil
}

func (s *DatasetStore) NextDatasetVersionOrdinal(ctx context.Context, datasetID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("dataset store not initialized")
	}
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return 0, fmt.Errorf("dataset id is required")
	}
	var ordinal int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(nextDatasetVersionOrdinalQuery), datasetID).Scan(&ordinal)
	if err != nil {
		return 0, fmt.Errorf("next dataset version ordinal: %w", err)
	}
	return ordinal, nil
}

func scanDataset(row scanner) (domain.Dataset, error) {
	var dataset domain.Dataset
	var metadataJSON []byte
	if err := row.Scan(&dataset.ID, &dataset.Name, &dataset.Description, &metadataJSON, &dataset.CreatedAt); err != nil {
		return domain.Dataset{}, err
	}
	meta, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("decode metadata: %w", err)
	}
	dataset.Metadata = meta
	dataset.CreatedAt = dataset.CreatedAt.UTC()
	return dataset, nil
}

func scanDatasetVersion(row scanner) (domain.DatasetVersion, error) {
	var version domain.DatasetVersion
	var metadataJSON []byte
	if err := row.Scan(&version.ID, &version.DatasetID, &version.Ordinal, &version.Description, &metadataJSON, &version.CreatedAt); err != nil {
		return domain.DatasetVersion{}, err
	}
	meta, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.DatasetVersion{}, fmt.Errorf("decode metadata: %w", err)
	}
	version.Metadata = meta
	version.CreatedAt = version.CreatedAt.UTC()
	return version, nil
}
