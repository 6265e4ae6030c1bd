package httpapi

import (
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

type Dataset struct {
	DatasetID   string          `json:"dataset_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Metadata    domain.Metadata `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}

func DatasetFrom(d domain.Dataset) Dataset {
	return Dataset{DatasetID: d.ID, Name: d.Name, Description: d.Description, Metadata: metadata(d.Metadata), CreatedAt: d.CreatedAt}
}

type DatasetVersion struct {
	VersionID   string          `json:"version_id"`
	DatasetID   string          `json:"dataset_id"`
	Ordinal     int64           `json:"ordinal"`
	Description string          `json:"description,omitempty"`
	Metadata    domain.Metadata `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}

func DatasetVersionFrom(v domain.DatasetVersion) DatasetVersion {
	return DatasetVersion{VersionID: v.ID, DatasetID: v.DatasetID, Ordinal: v.Ordinal, Description: v.Description, Metadata: metadata(v.Metadata), CreatedAt: v.CreatedAt}
}

type Revision struct {
	RevisionID     string          `json:"revision_id"`
	ExampleID      string          `json:"example_id"`
	DatasetID      string          `json:"dataset_id"`
	VersionID      string          `json:"version_id"`
	VersionOrdinal int64           `json:"version_ordinal"`
	Kind           string          `json:"revision_kind"`
	Input          domain.Object   `json:"input"`
	Output         domain.Object   `json:"output"`
	Metadata       domain.Metadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

func RevisionFrom(r domain.DatasetExampleRevision) Revision {
	return Revision{
		RevisionID:     r.ID,
		ExampleID:      r.ExampleID,
		DatasetID:      r.DatasetID,
		VersionID:      r.VersionID,
		VersionOrdinal: r.VersionOrdinal,
		Kind:           string(r.Kind),
		Input:          object(r.Input),
		Output:         object(r.Output),
		Metadata:       metadata(r.Metadata),
		CreatedAt:      r.CreatedAt,
	}
}

func RevisionsFrom(revs []domain.DatasetExampleRevision) []Revision {
	out := make([]Revision, 0, len(revs))
	for _, r := range revs {
		out = append(out, RevisionFrom(r))
	}
	return out
}

type Snapshot struct {
	Dataset  Dataset        `json:"dataset"`
	Version  DatasetVersion `json:"version"`
	Examples []Revision     `json:"examples"`
}

func SnapshotFrom(s domain.Snapshot) Snapshot {
	out := Snapshot{Dataset: DatasetFrom(s.Dataset), Version: DatasetVersionFrom(s.Version), Examples: make([]Revision, 0, len(s.Examples))}
	for _, entry := range s.Examples {
		out.Examples = append(out.Examples, RevisionFrom(entry.Revision))
	}
	return out
}

type Experiment struct {
	ExperimentID     string          `json:"experiment_id"`
	DatasetID        string          `json:"dataset_id"`
	DatasetVersionID string          `json:"dataset_version_id"`
	SequenceNumber   int64           `json:"sequence_number"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Repetitions      int             `json:"repetitions"`
	Metadata         domain.Metadata `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
}

func ExperimentFrom(e domain.Experiment) Experiment {
	return Experiment{
		ExperimentID:     e.ID,
		DatasetID:        e.DatasetID,
		DatasetVersionID: e.DatasetVersionID,
		SequenceNumber:   e.SequenceNumber,
		Name:             e.Name,
		Description:      e.Description,
		Repetitions:      e.Repetitions,
		Metadata:         metadata(e.Metadata),
		CreatedAt:        e.CreatedAt,
	}
}

type Run struct {
	RunID            string             `json:"run_id"`
	ExperimentID     string             `json:"experiment_id"`
	DatasetExampleID string             `json:"dataset_example_id"`
	RepetitionNumber int                `json:"repetition_number"`
	Output           any                `json:"output"`
	Error            *domain.RunFailure `json:"error,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	EndedAt          time.Time          `json:"ended_at"`
	LatencyMs        int64              `json:"latency_ms"`
	TraceID          string             `json:"trace_id,omitempty"`
}

func RunFrom(r domain.ExperimentRun) Run {
	return Run{
		RunID:            r.ID,
		ExperimentID:     r.ExperimentID,
		DatasetExampleID: r.DatasetExampleID,
		RepetitionNumber: r.RepetitionNumber,
		Output:           r.Output,
		Error:            r.Error,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		LatencyMs:        r.Latency().Milliseconds(),
		TraceID:          r.TraceID,
	}
}

func RunsFrom(runs []domain.ExperimentRun) []Run {
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunFrom(r))
	}
	return out
}

type Annotation struct {
	AnnotationID    string          `json:"annotation_id"`
	ExperimentRunID string          `json:"experiment_run_id"`
	Name            string          `json:"name"`
	AnnotatorKind   string          `json:"annotator_kind"`
	Label           string          `json:"label,omitempty"`
	Score           *float64        `json:"score"`
	Explanation     string          `json:"explanation,omitempty"`
	Metadata        domain.Metadata `json:"metadata"`
	Error           string          `json:"error,omitempty"`
	TraceID         string          `json:"trace_id,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

func AnnotationFrom(a domain.ExperimentAnnotation) Annotation {
	return Annotation{
		AnnotationID:    a.ID,
		ExperimentRunID: a.ExperimentRunID,
		Name:            a.Name,
		AnnotatorKind:   string(a.AnnotatorKind),
		Label:           a.Label,
		Score:           a.Score,
		Explanation:     a.Explanation,
		Metadata:        metadata(a.Metadata),
		Error:           a.Error,
		TraceID:         a.TraceID,
		StartedAt:       a.StartedAt,
		EndedAt:         a.EndedAt,
		CreatedAt:       a.CreatedAt,
	}
}

func AnnotationsFrom(list []domain.ExperimentAnnotation) []Annotation {
	out := make([]Annotation, 0, len(list))
	for _, a := range list {
		out = append(out, AnnotationFrom(a))
	}
	return out
}

type Summary struct {
	Experiment    Experiment                      `json:"experiment"`
	RunCount      int                             `json:"run_count"`
	ErrorCount    int                             `json:"error_count"`
	ErrorRate     float64                         `json:"error_rate"`
	MeanLatencyMs int64                           `json:"mean_latency_ms"`
	Annotations   []experiments.AnnotationSummary `json:"annotations"`
}

func SummaryFrom(s experiments.Summary) Summary {
	out := Summary{
		Experiment:    ExperimentFrom(s.Experiment),
		RunCount:      s.RunCount,
		ErrorCount:    s.ErrorCount,
		ErrorRate:     s.ErrorRate,
		MeanLatencyMs: s.MeanLatency.Milliseconds(),
		Annotations:   s.Annotations,
	}
	if out.Annotations == nil {
		out.Annotations = []experiments.AnnotationSummary{}
	}
	return out
}

type ComparisonRun struct {
	Run         Run          `json:"run"`
	Annotations []Annotation `json:"annotations"`
}

type ComparisonRow struct {
	Example Revision                   `json:"example"`
	Runs    map[string][]ComparisonRun `json:"runs"`
}

type Comparison struct {
	Experiments []Experiment    `json:"experiments"`
	Rows        []ComparisonRow `json:"rows"`
}

func ComparisonFrom(c experiments.Comparison) Comparison {
	out := Comparison{Experiments: make([]Experiment, 0, len(c.Experiments)), Rows: make([]ComparisonRow, 0, len(c.Rows))}
	for _, e := range c.Experiments {
		out.Experiments = append(out.Experiments, ExperimentFrom(e))
	}
	for _, row := range c.Rows {
		r := ComparisonRow{Example: RevisionFrom(row.Example.Revision), Runs: make(map[string][]ComparisonRun, len(row.Runs))}
		for experimentID, runs := range row.Runs {
			for _, run := range runs {
				r.Runs[experimentID] = append(r.Runs[experimentID], ComparisonRun{Run: RunFrom(run.Run), Annotations: AnnotationsFrom(run.Annotations)})
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

func metadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}

func object(o domain.Object) domain.Object {
	if o == nil {
		return domain.Object{}
	}
	return o
}
