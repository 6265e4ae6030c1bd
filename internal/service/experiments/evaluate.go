package experiments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
)

type EvaluationResult struct {
	ExperimentID string
	Evaluator    string
	// Annotations holds every annotation appended by this pass.
	Annotations []domain.ExperimentAnnotation
	// Failed counts annotations recording an evaluator failure.
	Failed  int
	Skipped int
}

// Err joins the evaluator failures of this pass, or returns nil when every run was
// scored.
func (r EvaluationResult) Err() error {
	var errs []error
	for _, a := range r.Annotations {
		if a.Error != "" {
			errs = append(errs, fmt.Errorf("evaluator %s on run %s: %s", a.Name, a.ExperimentRunID, a.Error))
		}
	}
	return errors.Join(errs...)
}

// Evaluate scores every run of an experiment with evaluator and appends one new
// annotation per run. Evaluator failures are recorded on the annotation and do not
// stop the pass.
func (s *Service) Evaluate(ctx context.Context, experimentID string, evaluator Evaluator) (EvaluationResult, error) {
	if evaluator == nil {
		return EvaluationResult{}, domain.Invalid("evaluator is required")
	}
	name := strings.TrimSpace(evaluator.Name())
	if name == "" {
		return EvaluationResult{}, domain.Invalid("evaluator name is required")
	}
	kind, ok := domain.ParseAnnotatorKind(string(evaluator.Kind()))
	if !ok {
		return EvaluationResult{}, domain.Invalid("evaluator %s has invalid kind %q", name, evaluator.Kind())
	}

	experiment, err := s.experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return EvaluationResult{}, fmt.Errorf("experiment %s: %w", experimentID, repo.ErrNotFound)
		}
		return EvaluationResult{}, fmt.Errorf("get experiment: %w", err)
	}
	runs, err := s.runs.ListRuns(ctx, experiment.ID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("list runs: %w", err)
	}
	snapshot, err := s.snapshots.Snapshot(ctx, experiment.DatasetID, experiment.DatasetVersionID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("snapshot: %w", err)
	}
	revisions := make(map[string]domain.DatasetExampleRevision, len(snapshot.Examples))
	for _, entry := range snapshot.Examples {
		revisions[entry.Example.ID] = entry.Revision
	}

	logger := s.logger.With("experiment_id", experiment.ID, "evaluator", name)
	result := EvaluationResult{ExperimentID: experiment.ID, Evaluator: name, Annotations: make([]domain.ExperimentAnnotation, 0, len(runs))}

	results := make(chan domain.ExperimentAnnotation)
	var writeErrs []error
	var collector sync.WaitGroup
	collector.Add(1)
	go func() {
		defer collector.Done()
		for annotation := range results {
			annotation.CreatedAt = s.now()
			err := s.persist(ctx, func(ctx context.Context) error { return s.annotations.CreateAnnotation(ctx, annotation) })
			if err != nil {
				s.metrics.writeFailed("annotation")
				logger.Error("persist annotation failed", "run_id", annotation.ExperimentRunID, "error", err)
				writeErrs = append(writeErrs, fmt.Errorf("annotation for run %s: %w", annotation.ExperimentRunID, err))
				continue
			}
			if annotation.Error != "" {
				result.Failed++
			}
			result.Annotations = append(result.Annotations, annotation)
		}
	}()

	skip := skipsFailedRuns(evaluator)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		if skip && run.Failed() {
			result.Skipped++
			continue
		}
		rev, found := revisions[run.DatasetExampleID]
		g.Go(func() error {
			results <- s.score(ctx, evaluator, name, kind, run, rev, found)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	collector.Wait()

	logger.Info("evaluation finished", "annotations", len(result.Annotations), "failed", result.Failed, "skipped", result.Skipped)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(writeErrs) > 0 {
		return result, fmt.Errorf("persist annotations: %w", errors.Join(writeErrs...))
	}
	return result, nil
}

func (s *Service) score(ctx context.Context, evaluator Evaluator, name string, kind domain.AnnotatorKind, run domain.ExperimentRun, rev domain.DatasetExampleRevision, found bool) domain.ExperimentAnnotation {
	ctx, span := tracer().Start(ctx, "experiments.evaluate",
		trace.WithAttributes(
			attribute.String("evaluator", name),
			attribute.String("run.id", run.ID),
		),
	)
	defer span.End()

	annotation := domain.ExperimentAnnotation{
		ID:              datasets.NewID(),
		ExperimentRunID: run.ID,
		Name:            name,
		AnnotatorKind:   kind,
		Metadata:        domain.Metadata{},
		TraceID:         traceID(span),
	}

	s.metrics.started()
	annotation.StartedAt = s.now()
	var verdict Result
	var failure *domain.RunFailure
	if !found {
		failure = &domain.RunFailure{Kind: domain.FailureTaskError, Message: fmt.Sprintf("example %s is not live at the experiment version", run.DatasetExampleID)}
	} else {
		in := EvaluationInput{
			Input:     rev.Input.Clone(),
			Reference: rev.Output.Clone(),
			Output:    domain.CloneValue(run.Output),
			Metadata:  rev.Metadata.Clone(),
			Run:       run.Clone(),
		}
		verdict, failure = invoke(ctx, s.cfg.EvaluatorTimeout, func(ctx context.Context) (Result, error) {
			return evaluator.Evaluate(ctx, in)
		})
	}
	if failure == nil && verdict.Score != nil && (math.IsNaN(*verdict.Score) || math.IsInf(*verdict.Score, 0)) {
		failure = &domain.RunFailure{Kind: domain.FailureInvalidOutput, Message: "score must be a finite number"}
	}
	annotation.EndedAt = s.now()
	s.metrics.finished()

	if failure != nil {
		annotation.Error = failure.Message
		if failure.Kind != domain.FailureTaskError || annotation.Error == "" {
			annotation.Error = failure.Error()
		}
		span.RecordError(failure)
		span.SetStatus(codes.Error, string(failure.Kind))
		s.metrics.observe("evaluator", string(failure.Kind), annotation.EndedAt.Sub(annotation.StartedAt))
		return annotation
	}
	if verdict.Score != nil {
		score := *verdict.Score
		annotation.Score = &score
	}
	annotation.Label = strings.TrimSpace(verdict.Label)
	annotation.Explanation = verdict.Explanation
	annotation.Metadata = verdict.Metadata.Clone()
	s.metrics.observe("evaluator", "ok", annotation.EndedAt.Sub(annotation.StartedAt))
	return annotation
}
