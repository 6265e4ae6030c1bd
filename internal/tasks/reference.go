package tasks

import (
	"context"

	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

// Reference returns each example's reference output unchanged. It is useful for
// checking evaluators against known-good answers.
type Reference struct{}

func (Reference) Run(ctx context.Context, example experiments.Example) (any, error) {
	if example.Reference == nil {
		return nil, nil
	}
	return map[string]any(example.Reference.Clone()), nil
}
