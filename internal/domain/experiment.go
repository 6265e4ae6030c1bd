package domain

import (
	"errors"
	"strings"
	"time"
)

// Experiment pins a task configuration to one dataset version. Immutable once created.
type Experiment struct {
	ID               string
	DatasetID        string
	DatasetVersionID string
	SequenceNumber   int64
	Name             string
	Description      string
	Repetitions      int
	Metadata         Metadata
	CreatedAt        time.Time
}

type FailureKind string

const (
	FailureTaskError     FailureKind = "task_error"
	FailureTimeout       FailureKind = "timeout"
	FailureCanceled      FailureKind = "canceled"
	FailurePanic         FailureKind = "panic"
	FailureInvalidOutput FailureKind = "invalid_output"
)

// RunFailure records why a task invocation produced no output.
type RunFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *RunFailure) Error() string {
	if f == nil {
		return ""
	}
	return string(f.Kind) + ": " + f.Message
}

// ExperimentRun is one task invocation against one example. Exactly one of Output and
// Error is meaningful.
type ExperimentRun struct {
	ID               string
	ExperimentID     string
	DatasetExampleID string
	RepetitionNumber int
	Output           any
	Error            *RunFailure
	StartedAt        time.Time
	EndedAt          time.Time
	TraceID          string
}

func (r ExperimentRun) Failed() bool {
	return r.Error != nil
}

func (r ExperimentRun) Latency() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func (r ExperimentRun) Clone() ExperimentRun {
	r.Output = CloneValue(r.Output)
	if r.Error != nil {
		failure := *r.Error
		r.Error = &failure
	}
	return r
}

type AnnotatorKind string

const (
	AnnotatorCode  AnnotatorKind = "CODE"
	AnnotatorLLM   AnnotatorKind = "LLM"
	AnnotatorHuman AnnotatorKind = "HUMAN"
)

func ParseAnnotatorKind(v string) (AnnotatorKind, bool) {
	switch AnnotatorKind(strings.ToUpper(strings.TrimSpace(v))) {
	case AnnotatorCode:
		return AnnotatorCode, true
	case AnnotatorLLM:
		return AnnotatorLLM, true
	case AnnotatorHuman:
		return AnnotatorHuman, true
	default:
		return "", false
	}
}

// ExperimentAnnotation is one evaluator verdict on one run. Error is set when the
// evaluator failed, in which case Score and Label are empty.
type ExperimentAnnotation struct {
	ID              string
	ExperimentRunID string
	Name            string
	AnnotatorKind   AnnotatorKind
	Label           string
	Score           *float64
	Explanation     string
	Metadata        Metadata
	Error           string
	TraceID         string
	StartedAt       time.Time
	EndedAt         time.Time
	CreatedAt       time.Time
}

func (a ExperimentAnnotation) Clone() ExperimentAnnotation {
	a.Metadata = a.Metadata.Clone()
	if a.Score != nil {
		score := *a.Score
		a.Score = &score
	}
	return a
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(e.DatasetVersionID) == "" {
		return errors.New("dataset version id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("experiment name is required")
	}
	if e.Repetitions < 1 {
		return errors.New("repetitions must be >= 1")
	}
	return nil
}

func (r ExperimentRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(r.DatasetExampleID) == "" {
		return errors.New("dataset example id is required")
	}
	if r.RepetitionNumber < 1 {
		return errors.New("repetition number must be >= 1")
	}
	if r.Error != nil && r.Output != nil {
		return errors.New("run must not carry both output and error")
	}
	return nil
}

func (a ExperimentAnnotation) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("annotation id is required")
	}
	if strings.TrimSpace(a.ExperimentRunID) == "" {
		return errors.New("experiment run id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("annotation name is required")
	}
	if _, ok := ParseAnnotatorKind(string(a.AnnotatorKind)); !ok {
		return errors.New("annotator kind must be CODE, LLM or HUMAN")
	}
	if a.Error != "" && (a.Score != nil || a.Label != "") {
		return errors.New("failed annotation must not carry a score or label")
	}
	return nil
}
