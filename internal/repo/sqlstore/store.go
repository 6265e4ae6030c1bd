// Package sqlstore implements the repositories over database/sql for Postgres and
// SQLite. Every write is a single statement.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/database"
	"github.com/animus-labs/animus-evals/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	datasets    *DatasetStore
	examples    *ExampleStore
	experiments *ExperimentStore
	runs        *RunStore
	annotations *AnnotationStore
}

var _ repo.Store = (*Store)(nil)

func New(db DB, dialect database.Dialect) *Store {
	if db == nil || dialect == nil {
		return nil
	}
	return &Store{
		datasets:    NewDatasetStore(db, dialect),
		examples:    NewExampleStore(db, dialect),
		experiments: NewExperimentStore(db, dialect),
		runs:        NewRunStore(db, dialect),
		annotations: NewAnnotationStore(db, dialect),
	}
}

func (s *Store) Datasets() repo.DatasetRepository       { return s.datasets }
func (s *Store) Examples() repo.ExampleRepository       { return s.examples }
func (s *Store) Experiments() repo.ExperimentRepository { return s.experiments }
func (s *Store) Runs() repo.RunRepository               { return s.runs }
func (s *Store) Annotations() repo.AnnotationRepository { return s.annotations }

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func encodeMetadata(meta domain.Metadata) (string, error) {
	if meta == nil {
		meta = domain.Metadata{}
	}
	raw, err := json.Marshal(meta)
	return string(raw), err
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	obj, err := decodeObject(raw)
	return domain.Metadata(obj), err
}

func encodeObject(obj domain.Object) (string, error) {
	if obj == nil {
		obj = domain.Object{}
	}
	raw, err := json.Marshal(obj)
	return string(raw), err
}

func decodeObject(raw []byte) (domain.Object, error) {
	if len(raw) == 0 {
		return domain.Object{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Object(out), nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

// writeError maps constraint violations onto the repository sentinels.
func writeError(dialect database.Dialect, op string, err error) error {
	switch {
	case dialect.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %v", op, repo.ErrConflict, err)
	case dialect.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %v", op, repo.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}
