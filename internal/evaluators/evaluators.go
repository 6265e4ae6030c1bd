// Package evaluators provides the built-in code evaluators and an adapter turning
// plain functions into experiments.Evaluator values.
package evaluators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

// Contains scores 1 when the output text contains Value.
type Contains struct {
	EvalName        string
	Value           string
	Key             string
	CaseInsensitive bool
}

func (e Contains) Name() string               { return nameOr(e.EvalName, "contains") }
func (e Contains) Kind() domain.AnnotatorKind { return domain.AnnotatorCode }

func (e Contains) Evaluate(ctx context.Context, in experiments.EvaluationInput) (experiments.Result, error) {
	text, err := textOf(in.Output, e.Key)
	if err != nil {
		return experiments.Result{}, err
	}
	needle := e.Value
	if e.CaseInsensitive {
		text, needle = strings.ToLower(text), strings.ToLower(needle)
	}
	return verdict(strings.Contains(text, needle), fmt.Sprintf("output contains %q", e.Value)), nil
}

// ExactMatch compares the output text with Value, or with the example's reference
// output when Value is empty.
type ExactMatch struct {
	EvalName        string
	Value           string
	Key             string
	CaseInsensitive bool
}

func (e ExactMatch) Name() string               { return nameOr(e.EvalName, "exact_match") }
func (e ExactMatch) Kind() domain.AnnotatorKind { return domain.AnnotatorCode }

func (e ExactMatch) Evaluate(ctx context.Context, in experiments.EvaluationInput) (experiments.Result, error) {
	got, err := textOf(in.Output, e.Key)
	if err != nil {
		return experiments.Result{}, err
	}
	want := e.Value
	if want == "" {
		want, err = textOf(referenceValue(in.Reference), e.Key)
		if err != nil {
			return experiments.Result{}, fmt.Errorf("reference: %w", err)
		}
	}
	got, want = strings.TrimSpace(got), strings.TrimSpace(want)
	match := got == want
	if e.CaseInsensitive {
		match = strings.EqualFold(got, want)
	}
	return verdict(match, "output matches reference exactly"), nil
}

// Regex scores 1 when the output text matches Pattern.
type Regex struct {
	EvalName string
	Pattern  *regexp.Regexp
	Key      string
}

// NewRegex compiles pattern. A case-insensitive match prefixes the pattern with (?i).
func NewRegex(name, pattern, key string, caseInsensitive bool) (Regex, error) {
	if caseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Regex{}, domain.Invalid("regex %q: %v", pattern, err)
	}
	return Regex{EvalName: name, Pattern: re, Key: key}, nil
}

func (e Regex) Name() string               { return nameOr(e.EvalName, "regex") }
func (e Regex) Kind() domain.AnnotatorKind { return domain.AnnotatorCode }

func (e Regex) Evaluate(ctx context.Context, in experiments.EvaluationInput) (experiments.Result, error) {
	if e.Pattern == nil {
		return experiments.Result{}, errors.New("regex evaluator has no pattern")
	}
	text, err := textOf(in.Output, e.Key)
	if err != nil {
		return experiments.Result{}, err
	}
	return verdict(e.Pattern.MatchString(text), fmt.Sprintf("output matches /%s/", e.Pattern.String())), nil
}

// JSONEqual scores 1 when the output and the reference output are structurally
// equal JSON values. Key narrows both sides to one field.
type JSONEqual struct {
	EvalName string
	Key      string
}

func (e JSONEqual) Name() string               { return nameOr(e.EvalName, "json_equal") }
func (e JSONEqual) Kind() domain.AnnotatorKind { return domain.AnnotatorCode }

func (e JSONEqual) Evaluate(ctx context.Context, in experiments.EvaluationInput) (experiments.Result, error) {
	got, err := lookup(in.Output, e.Key)
	if err != nil {
		return experiments.Result{}, err
	}
	want, err := lookup(referenceValue(in.Reference), e.Key)
	if err != nil {
		return experiments.Result{}, fmt.Errorf("reference: %w", err)
	}
	got, err = normalize(got)
	if err != nil {
		return experiments.Result{}, err
	}
	want, err = normalize(want)
	if err != nil {
		return experiments.Result{}, fmt.Errorf("reference: %w", err)
	}
	return verdict(reflect.DeepEqual(got, want), "output equals reference"), nil
}

func verdict(ok bool, explanation string) experiments.Result {
	score := 0.0
	if ok {
		score = 1.0
	}
	return experiments.Result{Score: &score, Label: fmt.Sprint(ok), Explanation: explanation}
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback
}

func referenceValue(ref domain.Object) any {
	if ref == nil {
		return nil
	}
	return map[string]any(ref)
}

// unwrap reports the inner value of an object of the form {"output": v}. Examples
// uploaded without a key mapping store their expected output that way, and tasks
// echoing a reference return the same shape.
func unwrap(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		obj, isObj := v.(domain.Object)
		if !isObj {
			return nil, false
		}
		m = map[string]any(obj)
	}
	if len(m) != 1 {
		return nil, false
	}
	inner, ok := m["output"]
	return inner, ok
}

// lookup resolves key against the unwrapped value first, then against v itself so
// a Key of "output" still names the wrapper's field.
func lookup(v any, key string) (any, error) {
	inner, ok := unwrap(v)
	if !ok {
		return field(v, key)
	}
	if out, err := field(inner, key); err == nil {
		return out, nil
	}
	return field(v, key)
}

func field(v any, key string) (any, error) {
	if key == "" {
		return v, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		if obj, isObj := v.(domain.Object); isObj {
			m, ok = map[string]any(obj), true
		}
	}
	if !ok {
		return nil, fmt.Errorf("value is %T, not an object with key %q", v, key)
	}
	out, found := m[key]
	if !found {
		return nil, fmt.Errorf("key %q not present", key)
	}
	return out, nil
}

func textOf(v any, key string) (string, error) {
	v, err := lookup(v, key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	}
	raw, err := encode(v)
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	return string(raw), nil
}

// encode is json.Marshal without HTML escaping, so &, < and > survive as written.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalize(v any) (any, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
