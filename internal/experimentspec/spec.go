// Package experimentspec decodes experiment definition files and builds the task and
// evaluators they describe.
package experimentspec

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/evaluators"
	"github.com/animus-labs/animus-evals/internal/platform/env"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
	"github.com/animus-labs/animus-evals/internal/tasks"
)

const SpecSchemaV1 = "animus.experiment.v1"

const (
	TaskHTTP      = "http"
	TaskReference = "reference"
)

const (
	EvaluatorContains   = "contains"
	EvaluatorExactMatch = "exact_match"
	EvaluatorRegex      = "regex"
	EvaluatorJSONEqual  = "json_equal"
)

type Spec struct {
	Schema      string          `json:"schema" yaml:"schema"`
	Dataset     string          `json:"dataset" yaml:"dataset"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Repetitions int             `json:"repetitions,omitempty" yaml:"repetitions,omitempty"`
	Concurrency int             `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	TaskTimeout string          `json:"task_timeout,omitempty" yaml:"task_timeout,omitempty"`
	RateLimit   float64         `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Task        TaskSpec        `json:"task" yaml:"task"`
	Evaluators  []EvaluatorSpec `json:"evaluators,omitempty" yaml:"evaluators,omitempty"`
}

type TaskSpec struct {
	Type    string            `json:"type" yaml:"type"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	OAuth2  *OAuth2Spec       `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
}

// OAuth2Spec configures client credentials for http tasks. The secret is read from
// the named environment variable so spec files can be committed.
type OAuth2Spec struct {
	TokenURL        string   `json:"token_url" yaml:"token_url"`
	ClientID        string   `json:"client_id" yaml:"client_id"`
	ClientSecretEnv string   `json:"client_secret_env,omitempty" yaml:"client_secret_env,omitempty"`
	Scopes          []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

type EvaluatorSpec struct {
	Name            string `json:"name" yaml:"name"`
	Type            string `json:"type" yaml:"type"`
	Value           string `json:"value,omitempty" yaml:"value,omitempty"`
	Key             string `json:"key,omitempty" yaml:"key,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if spec.Repetitions == 0 {
		spec.Repetitions = 1
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if strings.TrimSpace(s.Dataset) == "" {
		return errors.New("spec.dataset is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("spec.name is required")
	}
	if s.Repetitions < 1 {
		return errors.New("spec.repetitions must be >= 1")
	}
	if s.Concurrency < 0 {
		return errors.New("spec.concurrency must be >= 0")
	}
	if s.RateLimit < 0 {
		return errors.New("spec.rate_limit must be >= 0")
	}
	if _, err := parseDuration(s.TaskTimeout, "spec.task_timeout"); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(s.Task.Type)) {
	case TaskHTTP:
		if strings.TrimSpace(s.Task.URL) == "" {
			return errors.New("spec.task.url is required for http tasks")
		}
		method := strings.ToUpper(strings.TrimSpace(s.Task.Method))
		if method != "" && method != http.MethodPost && method != http.MethodPut {
			return fmt.Errorf("spec.task.method unsupported: %q", s.Task.Method)
		}
		if _, err := parseDuration(s.Task.Timeout, "spec.task.timeout"); err != nil {
			return err
		}
		if o := s.Task.OAuth2; o != nil {
			if strings.TrimSpace(o.TokenURL) == "" {
				return errors.New("spec.task.oauth2.token_url is required")
			}
			if strings.TrimSpace(o.ClientID) == "" {
				return errors.New("spec.task.oauth2.client_id is required")
			}
		}
	case TaskReference:
	case "":
		return errors.New("spec.task.type is required")
	default:
		return fmt.Errorf("spec.task.type unsupported: %q", s.Task.Type)
	}

	return ValidateEvaluators(s.Evaluators)
}

// ValidateEvaluators checks evaluator entries on their own, for callers that score an
// existing experiment.
func ValidateEvaluators(list []EvaluatorSpec) error {
	seen := make(map[string]struct{}, len(list))
	for i, ev := range list {
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			return fmt.Errorf("spec.evaluators[%d].name is required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("spec.evaluators[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[name] = struct{}{}

		switch strings.ToLower(strings.TrimSpace(ev.Type)) {
		case EvaluatorContains:
			if ev.Value == "" {
				return fmt.Errorf("spec.evaluators[%d].value is required for contains", i)
			}
		case EvaluatorRegex:
			if ev.Value == "" {
				return fmt.Errorf("spec.evaluators[%d].value is required for regex", i)
			}
			if _, err := regexp.Compile(ev.Value); err != nil {
				return fmt.Errorf("spec.evaluators[%d].value is not a valid regex: %v", i, err)
			}
		case EvaluatorExactMatch, EvaluatorJSONEqual:
		case "":
			return fmt.Errorf("spec.evaluators[%d].type is required", i)
		default:
			return fmt.Errorf("spec.evaluators[%d].type unsupported: %q", i, ev.Type)
		}
	}
	return nil
}

// RunParams converts the spec into runner parameters.
func (s Spec) RunParams() experiments.RunParams {
	timeout, _ := parseDuration(s.TaskTimeout, "spec.task_timeout")
	return experiments.RunParams{
		Name:        strings.TrimSpace(s.Name),
		Description: strings.TrimSpace(s.Description),
		Repetitions: s.Repetitions,
		Metadata:    domain.Metadata(s.Metadata).Clone(),
		Concurrency: s.Concurrency,
		TaskTimeout: timeout,
		RateLimit:   s.RateLimit,
	}
}

func (s Spec) BuildTask() (experiments.Task, error) {
	switch strings.ToLower(strings.TrimSpace(s.Task.Type)) {
	case TaskHTTP:
		timeout, err := parseDuration(s.Task.Timeout, "spec.task.timeout")
		if err != nil {
			return nil, err
		}
		cfg := tasks.HTTPConfig{
			URL:     s.Task.URL,
			Method:  s.Task.Method,
			Headers: s.Task.Headers,
			Timeout: timeout,
		}
		if o := s.Task.OAuth2; o != nil {
			cfg.OAuth2 = &tasks.OAuth2Config{
				TokenURL: o.TokenURL,
				ClientID: o.ClientID,
				Scopes:   o.Scopes,
			}
			if name := strings.TrimSpace(o.ClientSecretEnv); name != "" {
				cfg.OAuth2.ClientSecret = env.String(name, "")
			}
		}
		task, err := tasks.NewHTTPTask(cfg)
		if err != nil {
			return nil, err
		}
		return task, nil
	case TaskReference:
		return tasks.Reference{}, nil
	default:
		return nil, fmt.Errorf("spec.task.type unsupported: %q", s.Task.Type)
	}
}

func (s Spec) BuildEvaluators() ([]experiments.Evaluator, error) {
	return BuildEvaluators(s.Evaluators)
}

func BuildEvaluators(list []EvaluatorSpec) ([]experiments.Evaluator, error) {
	out := make([]experiments.Evaluator, 0, len(list))
	for i, ev := range list {
		name := strings.TrimSpace(ev.Name)
		switch strings.ToLower(strings.TrimSpace(ev.Type)) {
		case EvaluatorContains:
			out = append(out, evaluators.Contains{EvalName: name, Value: ev.Value, Key: ev.Key, CaseInsensitive: ev.CaseInsensitive})
		case EvaluatorExactMatch:
			out = append(out, evaluators.ExactMatch{EvalName: name, Value: ev.Value, Key: ev.Key, CaseInsensitive: ev.CaseInsensitive})
		case EvaluatorRegex:
			re, err := evaluators.NewRegex(name, ev.Value, ev.Key, ev.CaseInsensitive)
			if err != nil {
				return nil, fmt.Errorf("spec.evaluators[%d]: %w", i, err)
			}
			out = append(out, re)
		case EvaluatorJSONEqual:
			out = append(out, evaluators.JSONEqual{EvalName: name, Key: ev.Key})
		default:
			return nil, fmt.Errorf("spec.evaluators[%d].type unsupported: %q", i, ev.Type)
		}
	}
	return out, nil
}

func parseDuration(value, field string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a duration: %q", field, value)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", field)
	}
	return d, nil
}
