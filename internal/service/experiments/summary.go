package experiments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

type AnnotationSummary struct {
	Name      string         `json:"name"`
	Count     int            `json:"count"`
	Errors    int            `json:"errors"`
	MeanScore *float64       `json:"mean_score,omitempty"`
	Labels    map[string]int `json:"labels,omitempty"`
}

type Summary struct {
	Experiment  domain.Experiment
	RunCount    int
	ErrorCount  int
	ErrorRate   float64
	MeanLatency time.Duration
	Annotations []AnnotationSummary
}

// Summarize aggregates run outcomes and annotation scores per annotation name.
func (s *Service) Summarize(ctx context.Context, experimentID string) (Summary, error) {
	experiment, err := s.experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		return Summary{}, wrapNotFound("experiment", experimentID, err)
	}
	runs, err := s.runs.ListRuns(ctx, experiment.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("list runs: %w", err)
	}
	annotations, err := s.annotations.ListAnnotations(ctx, repo.AnnotationFilter{ExperimentID: experiment.ID})
	if err != nil {
		return Summary{}, fmt.Errorf("list annotations: %w", err)
	}

	out := Summary{Experiment: experiment, RunCount: len(runs)}
	var latency time.Duration
	for _, run := range runs {
		if run.Failed() {
			out.ErrorCount++
		}
		latency += run.Latency()
	}
	if len(runs) > 0 {
		out.ErrorRate = float64(out.ErrorCount) / float64(len(runs))
		out.MeanLatency = latency / time.Duration(len(runs))
	}

	type acc struct {
		summary AnnotationSummary
		total   float64
		scored  int
	}
	byName := map[string]*acc{}
	for _, a := range annotations {
		entry, ok := byName[a.Name]
		if !ok {
			entry = &acc{summary: AnnotationSummary{Name: a.Name}}
			byName[a.Name] = entry
		}
		entry.summary.Count++
		if a.Error != "" {
			entry.summary.Errors++
			continue
		}
		if a.Score != nil {
			entry.total += *a.Score
			entry.scored++
		}
		if a.Label != "" {
			if entry.summary.Labels == nil {
				entry.summary.Labels = map[string]int{}
			}
			entry.summary.Labels[a.Label]++
		}
	}
	out.Annotations = make([]AnnotationSummary, 0, len(byName))
	for _, entry := range byName {
		if entry.scored > 0 {
			mean := entry.total / float64(entry.scored)
			entry.summary.MeanScore = &mean
		}
		out.Annotations = append(out.Annotations, entry.summary)
	}
	sort.Slice(out.Annotations, func(i, j int) bool { return out.Annotations[i].Name < out.Annotations[j].Name })
	return out, nil
}

type ComparisonRun struct {
	Run         domain.ExperimentRun
	Annotations []domain.ExperimentAnnotation
}

type ComparisonRow struct {
	Example domain.SnapshotExample
	// Runs maps experiment id to that experiment's runs of the example.
	Runs map[string][]ComparisonRun
}

type Comparison struct {
	Experiments []domain.Experiment
	Rows        []ComparisonRow
}

// Compare lines up the runs of several experiments over the same dataset, one row
// per example of the first experiment's snapshot.
func (s *Service) Compare(ctx context.Context, experimentIDs []string) (Comparison, error) {
	if len(experimentIDs) == 0 {
		return Comparison{}, domain.Invalid("at least one experiment id is required")
	}
	out := Comparison{Experiments: make([]domain.Experiment, 0, len(experimentIDs))}
	seen := map[string]struct{}{}
	for _, id := range experimentIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			return Comparison{}, domain.Invalid("experiment %s listed more than once", id)
		}
		seen[id] = struct{}{}
		experiment, err := s.experiments.GetExperiment(ctx, id)
		if err != nil {
			return Comparison{}, wrapNotFound("experiment", id, err)
		}
		if len(out.Experiments) > 0 && experiment.DatasetID != out.Experiments[0].DatasetID {
			return Comparison{}, domain.Invalid("experiment %s belongs to another dataset", id)
		}
		out.Experiments = append(out.Experiments, experiment)
	}

	baseline := out.Experiments[0]
	snapshot, err := s.snapshots.Snapshot(ctx, baseline.DatasetID, baseline.DatasetVersionID)
	if err != nil {
		return Comparison{}, fmt.Errorf("snapshot: %w", err)
	}
	rows := make([]ComparisonRow, len(snapshot.Examples))
	index := make(map[string]int, len(snapshot.Examples))
	for i, entry := range snapshot.Examples {
		rows[i] = ComparisonRow{Example: entry, Runs: map[string][]ComparisonRun{}}
		index[entry.Example.ID] = i
	}

	for _, experiment := range out.Experiments {
		runs, err := s.runs.ListRuns(ctx, experiment.ID)
		if err != nil {
			return Comparison{}, fmt.Errorf("list runs: %w", err)
		}
		annotations, err := s.annotations.ListAnnotations(ctx, repo.AnnotationFilter{ExperimentID: experiment.ID})
		if err != nil {
			return Comparison{}, fmt.Errorf("list annotations: %w", err)
		}
		byRun := map[string][]domain.ExperimentAnnotation{}
		for _, a := range annotations {
			byRun[a.ExperimentRunID] = append(byRun[a.ExperimentRunID], a)
		}
		for _, run := range runs {
			i, ok := index[run.DatasetExampleID]
			if !ok {
				continue
			}
			rows[i].Runs[experiment.ID] = append(rows[i].Runs[experiment.ID], ComparisonRun{Run: run, Annotations: byRun[run.ID]})
		}
	}
	out.Rows = rows
	return out, nil
}

func wrapNotFound(entity, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, repo.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", entity, err)
}
