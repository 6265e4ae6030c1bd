package experimentspec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

// DatasetReader resolves the dataset a spec names and materializes its snapshot.
type DatasetReader interface {
	FindDataset(ctx context.Context, idOrName string) (domain.Dataset, error)
	Snapshot(ctx context.Context, datasetID, versionID string) (domain.Snapshot, error)
}

type Outcome struct {
	Run         experiments.RunResult
	Evaluations []experiments.EvaluationResult
}

// Execute snapshots the spec's dataset, runs the task over it and then applies each
// evaluator in declaration order. A canceled run is returned without evaluation.
func Execute(ctx context.Context, spec Spec, datasets DatasetReader, svc *experiments.Service) (Outcome, error) {
	if datasets == nil || svc == nil {
		return Outcome{}, errors.New("dataset reader and experiments service are required")
	}
	task, err := spec.BuildTask()
	if err != nil {
		return Outcome{}, domain.Invalid("%v", err)
	}
	evaluators, err := spec.BuildEvaluators()
	if err != nil {
		return Outcome{}, domain.Invalid("%v", err)
	}

	dataset, err := datasets.FindDataset(ctx, strings.TrimSpace(spec.Dataset))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Outcome{}, fmt.Errorf("dataset %s: %w", spec.Dataset, domain.ErrNotFound)
		}
		return Outcome{}, fmt.Errorf("find dataset: %w", err)
	}
	snapshot, err := datasets.Snapshot(ctx, dataset.ID, strings.TrimSpace(spec.Version))
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	out.Run, err = svc.Run(ctx, snapshot, task, spec.RunParams())
	if err != nil {
		return out, err
	}
	for _, evaluator := range evaluators {
		res, err := svc.Evaluate(ctx, out.Run.Experiment.ID, evaluator)
		out.Evaluations = append(out.Evaluations, res)
		if err != nil {
			return out, fmt.Errorf("evaluate %s: %w", evaluator.Name(), err)
		}
	}
	return out, nil
}
