package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/database"
)

const (
	insertRunQuery = `INSERT INTO experiment_runs (
			run_id,
			experiment_id,
			dataset_example_id,
			repetition_number,
			output,
			error_kind,
			error_message,
			started_at,
			ended_at,
			trace_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectRunColumns = `SELECT r.run_id, r.experiment_id, r.dataset_example_id, r.repetition_number, r.output, r.error_kind, r.error_message, r.started_at, r.ended_at, r.trace_id
		 FROM experiment_runs r`

	selectRunByIDQuery = selectRunColumns + ` WHERE r.run_id = $1`

	// Runs follow example creation order, then repetition.
	listRunsQuery = selectRunColumns + `
		 JOIN dataset_examples e ON e.example_id = r.dataset_example_id
		 WHERE r.experiment_id = $1
		 ORDER BY e.created_at ASC, e.example_id ASC, r.repetition_number ASC`
)

type RunStore struct {
	db      DB
	dialect database.Dialect
}

func NewRunStore(db DB, dialect database.Dialect) *RunStore {
	if db == nil || dialect == nil {
		return nil
	}
	return &RunStore{db: db, dialect: dialect}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.ExperimentRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	var output, errorKind, errorMessage any
	if run.Error != nil {
		errorKind = string(run.Error.Kind)
		errorMessage = run.Error.Message
	} else if run.Output != nil {
		raw, err := json.Marshal(run.Output)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		output = string(raw)
	}
	_, err := s.db.ExecContext(
		ctx,
		s.dialect.Rebind(insertRunQuery),
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ExperimentID),
		strings.TrimSpace(run.DatasetExampleID),
		run.RepetitionNumber,
		output,
		errorKind,
		errorMessage,
		normalizeTime(run.StartedAt),
		normalizeTime(run.EndedAt),
		strings.TrimSpace(run.TraceID),
	)
	if err != nil {
		return writeError(s.dialect, "insert run", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.ExperimentRun, error) {
	if s == nil || s.db == nil {
		return domain.ExperimentRun{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectRunByIDQuery), strings.TrimSpace(id))
	run, err := scanRun(row)
	if err != nil {
		return domain.ExperimentRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, experimentID string) ([]domain.ExperimentRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(listRunsQuery), strings.TrimSpace(experimentID))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExperimentRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func scanRun(row scanner) (domain.ExperimentRun, error) {
	var run domain.ExperimentRun
	var outputJSON []byte
	var errorKind, errorMessage sql.NullString
	if err := row.Scan(
		&run.ID,
		&run.ExperimentID,
		&run.DatasetExampleID,
		&run.RepetitionNumber,
		&outputJSON,
		&errorKind,
		&errorMessage,
		&run.StartedAt,
		&run.EndedAt,
		&run.TraceID,
	); err != nil {
		return domain.ExperimentRun{}, err
	}
	if errorKind.Valid {
		run.Error = &domain.RunFailure{Kind: domain.FailureKind(errorKind.String), Message: errorMessage.String}
	} else if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &run.Output); err != nil {
			return domain.ExperimentRun{}, fmt.Errorf("decode output: %w", err)
		}
	}
	run.StartedAt = run.StartedAt.UTC()
	run.EndedAt = run.EndedAt.UTC()
	return run, nil
}
