package evaluators

import (
	"context"
	"fmt"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

// ScoreFunc returns a bool, a number, an experiments.Result or a *experiments.Result.
type ScoreFunc func(ctx context.Context, in experiments.EvaluationInput) (any, error)

// Func adapts a plain function into an evaluator. Its return value is converted by
// Score.
type Func struct {
	EvalName       string
	AnnotatorKind  domain.AnnotatorKind
	Fn             ScoreFunc
	SkipFailedRuns bool
}

func NewFunc(name string, fn ScoreFunc) Func {
	return Func{EvalName: name, AnnotatorKind: domain.AnnotatorCode, Fn: fn}
}

func (f Func) Name() string { return f.EvalName }

func (f Func) Kind() domain.AnnotatorKind {
	if f.AnnotatorKind == "" {
		return domain.AnnotatorCode
	}
	return f.AnnotatorKind
}

func (f Func) SkipsFailedRuns() bool { return f.SkipFailedRuns }

func (f Func) Evaluate(ctx context.Context, in experiments.EvaluationInput) (experiments.Result, error) {
	if f.Fn == nil {
		return experiments.Result{}, fmt.Errorf("evaluator %s has no function", f.EvalName)
	}
	v, err := f.Fn(ctx, in)
	if err != nil {
		return experiments.Result{}, err
	}
	return Score(v)
}

// Score converts an evaluator return value into a result: booleans score 0 or 1 with
// a "true"/"false" label, numbers become the score.
func Score(v any) (experiments.Result, error) {
	switch t := v.(type) {
	case experiments.Result:
		return t, nil
	case *experiments.Result:
		if t == nil {
			return experiments.Result{}, fmt.Errorf("evaluator returned a nil result")
		}
		return *t, nil
	case bool:
		return verdict(t, ""), nil
	case float64:
		return scored(t), nil
	case float32:
		return scored(float64(t)), nil
	case int:
		return scored(float64(t)), nil
	case int32:
		return scored(float64(t)), nil
	case int64:
		return scored(float64(t)), nil
	}
	return experiments.Result{}, fmt.Errorf("unsupported evaluator result type %T", v)
}

func scored(f float64) experiments.Result {
	return experiments.Result{Score: &f}
}
