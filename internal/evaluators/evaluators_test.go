package evaluators

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
	"github.com/animus-labs/animus-evals/internal/tasks"
)

func evaluate(t *testing.T, e experiments.Evaluator, in experiments.EvaluationInput) experiments.Result {
	t.Helper()
	res, err := e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("%s.Evaluate() err=%v", e.Name(), err)
	}
	if res.Score == nil {
		t.Fatalf("%s.Evaluate() returned no score", e.Name())
	}
	return res
}

func TestContains(t *testing.T) {
	in := experiments.EvaluationInput{Output: map[string]any{"output": "doesn't matter, this is the output"}}
	if got := *evaluate(t, Contains{Value: "correct"}, in).Score; got != 0 {
		t.Fatalf("contains(correct) = %v, want 0", got)
	}
	res := evaluate(t, Contains{Value: "doesn't matter"}, in)
	if *res.Score != 1 || res.Label != "true" {
		t.Fatalf("contains(doesn't matter) = %+v", res)
	}
	keyed := Contains{Value: "THIS IS", Key: "output", CaseInsensitive: true}
	if got := *evaluate(t, keyed, in).Score; got != 1 {
		t.Fatalf("case-insensitive keyed contains = %v, want 1", got)
	}
	if _, err := (Contains{Value: "x", Key: "missing"}).Evaluate(context.Background(), in); err == nil {
		t.Fatalf("Evaluate() expected error for missing key")
	}
}

func TestExactMatchUsesReference(t *testing.T) {
	in := experiments.EvaluationInput{
		Output:    "Paris ",
		Reference: domain.Object{"output": "paris"},
	}
	if got := *evaluate(t, ExactMatch{}, in).Score; got != 0 {
		t.Fatalf("case-sensitive match = %v, want 0", got)
	}
	if got := *evaluate(t, ExactMatch{CaseInsensitive: true}, in).Score; got != 1 {
		t.Fatalf("case-insensitive match = %v, want 1", got)
	}
	if got := *evaluate(t, ExactMatch{Value: "Paris"}, in).Score; got != 1 {
		t.Fatalf("explicit value match = %v, want 1", got)
	}
}

func TestReferenceTaskScoresPerfect(t *testing.T) {
	for _, ref := range []domain.Object{
		{"output": "paris"},
		{"output": map[string]any{"city": "paris", "rank": 1}},
		{"city": "paris"},
	} {
		example := experiments.Example{Input: domain.Object{"q": "capital of france"}, Reference: ref}
		out, err := tasks.Reference{}.Run(context.Background(), example)
		if err != nil {
			t.Fatalf("Reference.Run() err=%v", err)
		}
		in := experiments.EvaluationInput{Input: example.Input, Reference: ref, Output: out}
		if got := *evaluate(t, ExactMatch{}, in).Score; got != 1 {
			t.Fatalf("exact_match on %v = %v, want 1", ref, got)
		}
		if got := *evaluate(t, JSONEqual{}, in).Score; got != 1 {
			t.Fatalf("json_equal on %v = %v, want 1", ref, got)
		}
	}
}

func TestContainsKeepsHTMLCharacters(t *testing.T) {
	in := experiments.EvaluationInput{Output: map[string]any{"output": "fish & chips"}}
	if got := *evaluate(t, Contains{Value: "fish & chips"}, in).Score; got != 1 {
		t.Fatalf("contains(fish & chips) = %v, want 1", got)
	}
	nested := experiments.EvaluationInput{Output: map[string]any{"menu": []any{"a & b", "<c>"}, "n": 2}}
	if got := *evaluate(t, Contains{Value: "a & b"}, nested).Score; got != 1 {
		t.Fatalf("contains(a & b) = %v, want 1", got)
	}
	if got := *evaluate(t, Contains{Value: "<c>"}, nested).Score; got != 1 {
		t.Fatalf("contains(<c>) = %v, want 1", got)
	}
}

func TestRegex(t *testing.T) {
	re, err := NewRegex("id", `^[a-z]+-\d+$`, "", false)
	if err != nil {
		t.Fatalf("NewRegex() err=%v", err)
	}
	if got := *evaluate(t, re, experiments.EvaluationInput{Output: "run-42"}).Score; got != 1 {
		t.Fatalf("regex match = %v, want 1", got)
	}
	if got := *evaluate(t, re, experiments.EvaluationInput{Output: "RUN-42"}).Score; got != 0 {
		t.Fatalf("regex mismatch = %v, want 0", got)
	}
	if _, err := NewRegex("bad", "(", "", false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("NewRegex() err=%v, want validation error", err)
	}
}

func TestJSONEqual(t *testing.T) {
	in := experiments.EvaluationInput{
		Output:    map[string]any{"answer": []any{1.0, "b"}, "extra": true},
		Reference: domain.Object{"answer": []any{1, "b"}},
	}
	if got := *evaluate(t, JSONEqual{}, in).Score; got != 0 {
		t.Fatalf("whole-object equality = %v, want 0", got)
	}
	if got := *evaluate(t, JSONEqual{Key: "answer"}, in).Score; got != 1 {
		t.Fatalf("keyed equality = %v, want 1", got)
	}
}

func TestScore(t *testing.T) {
	res, err := Score(true)
	if err != nil || *res.Score != 1 || res.Label != "true" {
		t.Fatalf("Score(true) = %+v err=%v", res, err)
	}
	res, err = Score(false)
	if err != nil || *res.Score != 0 || res.Label != "false" {
		t.Fatalf("Score(false) = %+v err=%v", res, err)
	}
	res, err = Score(3)
	if err != nil || *res.Score != 3 {
		t.Fatalf("Score(3) = %+v err=%v", res, err)
	}
	explained := experiments.Result{Label: "good", Explanation: "reviewed"}
	res, err = Score(explained)
	if err != nil || res.Label != "good" || res.Score != nil {
		t.Fatalf("Score(Result) = %+v err=%v", res, err)
	}
	if _, err := Score("0.5"); err == nil {
		t.Fatalf("Score(string) expected error")
	}
}

func TestFuncAdapter(t *testing.T) {
	f := NewFunc("non-empty", func(ctx context.Context, in experiments.EvaluationInput) (any, error) {
		return in.Output != nil, nil
	})
	if f.Kind() != domain.AnnotatorCode || f.SkipsFailedRuns() {
		t.Fatalf("unexpected defaults: kind=%s skip=%v", f.Kind(), f.SkipsFailedRuns())
	}
	if got := *evaluate(t, f, experiments.EvaluationInput{Output: "x"}).Score; got != 1 {
		t.Fatalf("func score = %v, want 1", got)
	}
	failing := NewFunc("fails", func(context.Context, experiments.EvaluationInput) (any, error) {
		return nil, errors.New("judge offline")
	})
	if _, err := failing.Evaluate(context.Background(), experiments.EvaluationInput{}); err == nil {
		t.Fatalf("Evaluate() expected error")
	}
}
