package experiments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
)

const maxSequenceAttempts = 5

// RunParams describes one experiment. Zero-valued overrides fall back to the
// service configuration.
type RunParams struct {
	Name        string
	Description string
	Repetitions int
	Metadata    domain.Metadata

	Concurrency int
	TaskTimeout time.Duration
	RateLimit   float64
}

type RunResult struct {
	Experiment domain.Experiment
	// Runs holds every persisted run in completion order.
	Runs []domain.ExperimentRun
}

func (r RunResult) Failed() int {
	n := 0
	for _, run := range r.Runs {
		if run.Failed() {
			n++
		}
	}
	return n
}

type workItem struct {
	entry      domain.SnapshotExample
	repetition int
}

// Run creates an experiment pinned to snapshot.Version and invokes task
// params.Repetitions times for every example. It returns once every run has been
// persisted. When ctx is canceled no new invocations start, completed runs are kept,
// and the partial result is returned together with ctx's error.
func (s *Service) Run(ctx context.Context, snapshot domain.Snapshot, task Task, params RunParams) (RunResult, error) {
	if task == nil {
		return RunResult{}, domain.Invalid("task is required")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return RunResult{}, domain.Invalid("experiment name is required")
	}
	if params.Repetitions < 1 {
		return RunResult{}, domain.Invalid("repetitions must be >= 1")
	}
	if strings.TrimSpace(snapshot.Version.ID) == "" || strings.TrimSpace(snapshot.Dataset.ID) == "" {
		return RunResult{}, domain.Invalid("snapshot dataset and version are required")
	}
	if snapshot.Version.DatasetID != snapshot.Dataset.ID {
		return RunResult{}, &domain.UnknownVersionError{VersionID: snapshot.Version.ID, DatasetID: snapshot.Dataset.ID}
	}
	if params.Concurrency < 0 || params.TaskTimeout < 0 || params.RateLimit < 0 {
		return RunResult{}, domain.Invalid("concurrency, task timeout and rate limit must not be negative")
	}

	experiment, err := s.createExperiment(ctx, domain.Experiment{
		DatasetID:        snapshot.Dataset.ID,
		DatasetVersionID: snapshot.Version.ID,
		Name:             name,
		Description:      strings.TrimSpace(params.Description),
		Repetitions:      params.Repetitions,
		Metadata:         params.Metadata.Clone(),
	})
	if err != nil {
		return RunResult{}, err
	}

	concurrency := s.cfg.Concurrency
	if params.Concurrency > 0 {
		concurrency = params.Concurrency
	}
	taskTimeout := s.cfg.TaskTimeout
	if params.TaskTimeout > 0 {
		taskTimeout = params.TaskTimeout
	}
	var limiter *rate.Limiter
	if limit := firstPositive(params.RateLimit, s.cfg.RateLimit); limit > 0 {
		limiter = rate.NewLimiter(rate.Limit(limit), max(s.cfg.RateBurst, 1))
	}

	logger := s.logger.With("experiment_id", experiment.ID, "dataset_id", experiment.DatasetID, "version_id", experiment.DatasetVersionID)
	logger.Info("experiment started", "examples", len(snapshot.Examples), "repetitions", params.Repetitions, "concurrency", concurrency)

	results := make(chan domain.ExperimentRun)
	result := RunResult{Experiment: experiment, Runs: make([]domain.ExperimentRun, 0, len(snapshot.Examples)*params.Repetitions)}
	var writeErrs []error
	var collector sync.WaitGroup
	collector.Add(1)
	go func() {
		defer collector.Done()
		for run := range results {
			err := s.persist(ctx, func(ctx context.Context) error { return s.runs.CreateRun(ctx, run) })
			if err != nil {
				s.metrics.writeFailed("run")
				logger.Error("persist run failed", "example_id", run.DatasetExampleID, "repetition", run.RepetitionNumber, "error", err)
				writeErrs = append(writeErrs, fmt.Errorf("run %s repetition %d: %w", run.DatasetExampleID, run.RepetitionNumber, err))
				continue
			}
			result.Runs = append(result.Runs, run)
		}
	}()

	var g errgroup.Group
	g.SetLimit(concurrency)
dispatch:
	for _, entry := range snapshot.Examples {
		for rep := 1; rep <= params.Repetitions; rep++ {
			if ctx.Err() != nil {
				break dispatch
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break dispatch
				}
			}
			item := workItem{entry: entry, repetition: rep}
			g.Go(func() error {
				results <- s.execute(ctx, experiment, item, task, taskTimeout)
				return nil
			})
		}
	}
	_ = g.Wait()
	close(results)
	collector.Wait()

	logger.Info("experiment finished", "runs", len(result.Runs), "failed", result.Failed(), "write_errors", len(writeErrs))
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(writeErrs) > 0 {
		return result, fmt.Errorf("persist runs: %w", errors.Join(writeErrs...))
	}
	return result, nil
}

func (s *Service) createExperiment(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	var lastErr error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		experiment.ID = datasets.NewID()
		experiment.CreatedAt = s.now()
		stored, err := s.experiments.CreateExperiment(ctx, experiment)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Experiment{}, domain.Invalid("dataset version %s not found", experiment.DatasetVersionID)
		}
		if !errors.Is(err, repo.ErrConflict) {
			return domain.Experiment{}, fmt.Errorf("create experiment: %w", err)
		}
		lastErr = err
	}
	return domain.Experiment{}, fmt.Errorf("create experiment: %w", lastErr)
}

// execute performs one invocation and returns its immutable run record. It never
// touches storage.
func (s *Service) execute(ctx context.Context, experiment domain.Experiment, item workItem, task Task, timeout time.Duration) domain.ExperimentRun {
	rev := item.entry.Revision
	ctx, span := tracer().Start(ctx, "experiments.task",
		trace.WithAttributes(
			attribute.String("experiment.id", experiment.ID),
			attribute.String("example.id", item.entry.Example.ID),
			attribute.Int("repetition", item.repetition),
		),
	)
	defer span.End()

	example := Example{
		ID:         item.entry.Example.ID,
		Input:      rev.Input.Clone(),
		Reference:  rev.Output.Clone(),
		Metadata:   rev.Metadata.Clone(),
		Repetition: item.repetition,
	}

	s.metrics.started()
	started := s.now()
	output, failure := invoke(ctx, timeout, func(ctx context.Context) (any, error) {
		return task.Run(ctx, example)
	})
	if failure == nil {
		normalized, err := normalizeOutput(output)
		if err != nil {
			failure = &domain.RunFailure{Kind: domain.FailureInvalidOutput, Message: err.Error()}
		} else {
			output = normalized
		}
	}
	ended := s.now()
	s.metrics.finished()

	run := domain.ExperimentRun{
		ID:               datasets.NewID(),
		ExperimentID:     experiment.ID,
		DatasetExampleID: item.entry.Example.ID,
		RepetitionNumber: item.repetition,
		StartedAt:        started,
		EndedAt:          ended,
		TraceID:          traceID(span),
	}
	if failure != nil {
		run.Error = failure
		span.RecordError(failure)
		span.SetStatus(codes.Error, string(failure.Kind))
		s.metrics.observe("task", string(failure.Kind), ended.Sub(started))
		return run
	}
	run.Output = output
	s.metrics.observe("task", "ok", ended.Sub(started))
	return run
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
