package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/database"
)

const (
	insertExampleQuery = `INSERT INTO dataset_examples (example_id, dataset_id, created_at) VALUES ($1,$2,$3)`

	selectExampleQuery = `SELECT example_id, dataset_id, created_at FROM dataset_examples WHERE example_id = $1`

	insertRevisionQuery = `INSERT INTO dataset_example_revisions (
			revision_id,
			dataset_id,
			example_id,
			version_id,
			version_ordinal,
			input,
			output,
			metadata,
			kind,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectRevisionColumns = `SELECT revision_id, dataset_id, example_id, version_id, version_ordinal, input, output, metadata, kind, created_at
		 FROM dataset_example_revisions`

	selectLatestRevisionQuery = selectRevisionColumns + `
		 WHERE example_id = $1 AND version_ordinal <= $2
		 ORDER BY version_ordinal DESC
		 LIMIT 1`

	listRevisionsQuery = selectRevisionColumns + `
		 WHERE example_id = $1
		 ORDER BY version_ordinal ASC`

	// The effective revision of an example is the one with the greatest ordinal at or
	// below the cursor.
	snapshotRevisionsQuery = `SELECT e.example_id, e.dataset_id, e.created_at,
		r.revision_id, r.dataset_id, r.example_id, r.version_id, r.version_ordinal, r.input, r.output, r.metadata, r.kind, r.created_at
		 FROM dataset_examples e
		 JOIN dataset_example_revisions r ON r.example_id = e.example_id
		 WHERE e.dataset_id = $1
		   AND r.version_ordinal = (
			SELECT MAX(l.version_ordinal)
			 FROM dataset_example_revisions l
			 WHERE l.example_id = e.example_id AND l.version_ordinal <= $2
		   )
		 ORDER BY e.created_at ASC, e.example_id ASC`
)

type ExampleStore struct {
	db      DB
	dialect database.Dialect
}

func NewExampleStore(db DB, dialect database.Dialect) *ExampleStore {
	if db == nil || dialect == nil {
		return nil
	}
	return &ExampleStore{db: db, dialect: dialect}
}

func (s *ExampleStore) CreateExample(ctx context.Context, example domain.DatasetExample) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("example store not initialized")
	}
	if err := example.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertExampleQuery),
		strings.TrimSpace(example.ID),
		strings.TrimSpace(example.DatasetID),
		normalizeTime(example.CreatedAt),
	)
	if err != nil {
		return writeError(s.dialect, "insert example", err)
	}
	return nil
}

func (s *ExampleStore) GetExample(ctx context.Context, id string) (domain.DatasetExample, error) {
	if s == nil || s.db == nil {
		return domain.DatasetExample{}, fmt.Errorf("example store not initialized")
	}
	var example domain.DatasetExample
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectExampleQuery), strings.TrimSpace(id))
	if err := row.Scan(&example.ID, &example.DatasetID, &example.CreatedAt); err != nil {
		return domain.DatasetExample{}, handleNotFound(err)
	}
	example.CreatedAt = example.CreatedAt.UTC()
	return example, nil
}

func (s *ExampleStore) AppendRevision(ctx context.Context, revision domain.DatasetExampleRevision) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("example store not initialized")
	}
	if err := revision.Validate(); err != nil {
		return err
	}
	inputJSON, err := encodeObject(revision.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	outputJSON, err := encodeObject(revision.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	metadataJSON, err := encodeMetadata(revision.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	kind, _ := domain.ParseRevisionKind(string(revision.Kind))
	_, err = s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertRevisionQuery),
		strings.TrimSpace(revision.ID),
		strings.TrimSpace(revision.DatasetID),
		strings.TrimSpace(revision.ExampleID),
		strings.TrimSpace(revision.VersionID),
		revision.VersionOrdinal,
		inputJSON,
		outputJSON,
		metadataJSON,
		string(kind),
		normalizeTime(revision.CreatedAt),
	)
	if err != nil {
		return writeError(s.dialect, "insert revision", err)
	}
	return nil
}

func (s *ExampleStore) LatestRevision(ctx context.Context, exampleID string, maxOrdinal int64) (domain.DatasetExampleRevision, error) {
	if s == nil || s.db == nil {
		return domain.DatasetExampleRevision{}, fmt.Errorf("example store not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectLatestRevisionQuery), strings.TrimSpace(exampleID), maxOrdinal)
	rev, err := scanRevision(row)
	if err != nil {
		return domain.DatasetExampleRevision{}, handleNotFound(err)
	}
	return rev, nil
}

func (s *ExampleStore) ListRevisions(ctx context.Context, exampleID string) ([]domain.DatasetExampleRevision, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("example store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(listRevisionsQuery), strings.TrimSpace(exampleID))
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DatasetExampleRevision, 0)
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return out, nil
}

func (s *ExampleStore) SnapshotRevisions(ctx context.Context, datasetID string, maxOrdinal int64) ([]domain.SnapshotExample, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("example store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(snapshotRevisionsQuery), strings.TrimSpace(datasetID), maxOrdinal)
	if err != nil {
		return nil, fmt.Errorf("snapshot revisions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SnapshotExample, 0)
	for rows.Next() {
		var entry domain.SnapshotExample
		var inputJSON, outputJSON, metadataJSON []byte
		var kind string
		rev := &entry.Revision
		if err := rows.Scan(
			&entry.Example.ID, &entry.Example.DatasetID, &entry.Example.CreatedAt,
			&rev.ID, &rev.DatasetID, &rev.ExampleID, &rev.VersionID, &rev.VersionOrdinal,
			&inputJSON, &outputJSON, &metadataJSON, &kind, &rev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}
		if err := decodeRevision(rev, kind, inputJSON, outputJSON, metadataJSON); err != nil {
			return nil, err
		}
		entry.Example.CreatedAt = entry.Example.CreatedAt.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot revisions: %w", err)
	}
	return out, nil
}

func scanRevision(row scanner) (domain.DatasetExampleRevision, error) {
	var rev domain.DatasetExampleRevision
	var inputJSON, outputJSON, metadataJSON []byte
	var kind string
	if err := row.Scan(&rev.ID, &rev.DatasetID, &rev.ExampleID, &rev.VersionID, &rev.VersionOrdinal, &inputJSON, &outputJSON, &metadataJSON, &kind, &rev.CreatedAt); err != nil {
		return domain.DatasetExampleRevision{}, err
	}
	if err := decodeRevision(&rev, kind, inputJSON, outputJSON, metadataJSON); err != nil {
		return domain.DatasetExampleRevision{}, err
	}
	return rev, nil
}

func decodeRevision(rev *domain.DatasetExampleRevision, kind string, inputJSON, outputJSON, metadataJSON []byte) error {
	parsed, ok := domain.ParseRevisionKind(kind)
	if !ok {
		return fmt.Errorf("revision %s has unknown kind %q", rev.ID, kind)
	}
	rev.Kind = parsed
	var err error
	if rev.Input, err = decodeObject(inputJSON); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if rev.Output, err = decodeObject(outputJSON); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	if rev.Metadata, err = decodeMetadata(metadataJSON); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	rev.CreatedAt = rev.CreatedAt.UTC()
	return nil
}
