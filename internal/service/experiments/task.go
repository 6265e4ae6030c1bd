package experiments

import (
	"context"

	"github.com/animus-labs/animus-evals/internal/domain"
)

// Example is what a task sees for one invocation.
type Example struct {
	ID         string
	Input      domain.Object
	Reference  domain.Object
	Metadata   domain.Metadata
	Repetition int
}

// Task is user code run once per (example, repetition). It may be slow, impure or
// ignore its context; the runner enforces timeouts around it.
type Task interface {
	Run(ctx context.Context, example Example) (any, error)
}

type TaskFunc func(ctx context.Context, example Example) (any, error)

func (f TaskFunc) Run(ctx context.Context, example Example) (any, error) {
	return f(ctx, example)
}

// EvaluationInput carries everything an evaluator may score. Output is nil and
// Run.Error is set when the run failed.
type EvaluationInput struct {
	Input     domain.Object
	Reference domain.Object
	Output    any
	Metadata  domain.Metadata
	Run       domain.ExperimentRun
}

// Result is an evaluator verdict. Score and Label are both optional.
type Result struct {
	Score       *float64
	Label       string
	Explanation string
	Metadata    domain.Metadata
}

type Evaluator interface {
	Name() string
	Kind() domain.AnnotatorKind
	Evaluate(ctx context.Context, in EvaluationInput) (Result, error)
}

// FailedRunSkipper is implemented by evaluators that only score successful runs.
// Skipped runs get no annotation.
type FailedRunSkipper interface {
	SkipsFailedRuns() bool
}

func skipsFailedRuns(e Evaluator) bool {
	s, ok := e.(FailedRunSkipper)
	return ok && s.SkipsFailedRuns()
}
