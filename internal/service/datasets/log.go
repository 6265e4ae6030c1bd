package datasets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

type AppendRevisionInput struct {
	ExampleID string
	VersionID string
	Kind      domain.RevisionKind
	Input     domain.Object
	Output    domain.Object
	Metadata  domain.Metadata
}

// Append records one revision of an example at a version. It returns a
// ValidationError when the example or version is unknown, the version belongs to
// another dataset or is no longer the dataset's latest, and ErrConflict when the
// pair already has a revision.
func (s *Service) Append(ctx context.Context, in AppendRevisionInput) (domain.DatasetExampleRevision, error) {
	return s.record(ctx, in, true)
}

// record appends a revision. ApplyChanges passes latestOnly=false because it
// writes into the version it just created, which a concurrent change set may
// already have superseded.
func (s *Service) record(ctx context.Context, in AppendRevisionInput, latestOnly bool) (domain.DatasetExampleRevision, error) {
	exampleID := strings.TrimSpace(in.ExampleID)
	if exampleID == "" {
		return domain.DatasetExampleRevision{}, domain.Invalid("example id is required")
	}
	versionID := strings.TrimSpace(in.VersionID)
	if versionID == "" {
		return domain.DatasetExampleRevision{}, domain.Invalid("version id is required")
	}
	kind, ok := domain.ParseRevisionKind(string(in.Kind))
	if !ok {
		return domain.DatasetExampleRevision{}, domain.Invalid("revision kind %q must be CREATE, PATCH or DELETE", in.Kind)
	}

	example, err := s.examples.GetExample(ctx, exampleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetExampleRevision{}, domain.Invalid("example %s not found", exampleID)
		}
		return domain.DatasetExampleRevision{}, fmt.Errorf("get example: %w", err)
	}
	version, err := s.datasets.GetDatasetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetExampleRevision{}, domain.Invalid("version %s not found", versionID)
		}
		return domain.DatasetExampleRevision{}, fmt.Errorf("get dataset version: %w", err)
	}
	if version.DatasetID != example.DatasetID {
		return domain.DatasetExampleRevision{}, domain.Invalid("version %s does not belong to dataset %s", versionID, example.DatasetID)
	}
	if latestOnly {
		latest, err := s.datasets.LatestDatasetVersion(ctx, version.DatasetID)
		if err != nil {
			return domain.DatasetExampleRevision{}, fmt.Errorf("latest dataset version: %w", err)
		}
		if latest.ID != version.ID {
			return domain.DatasetExampleRevision{}, domain.Invalid("version %s (ordinal %d) is not the latest version of dataset %s (ordinal %d)", versionID, version.Ordinal, version.DatasetID, latest.Ordinal)
		}
	}

	rev := domain.DatasetExampleRevision{
		ID:             NewID(),
		DatasetID:      example.DatasetID,
		ExampleID:      example.ID,
		VersionID:      version.ID,
		VersionOrdinal: version.Ordinal,
		Input:          in.Input.Clone(),
		Output:         in.Output.Clone(),
		Metadata:       in.Metadata.Clone(),
		Kind:           kind,
		CreatedAt:      s.now(),
	}
	if err := s.examples.AppendRevision(ctx, rev); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.DatasetExampleRevision{}, fmt.Errorf("%w: example %s already has a revision at version %s", domain.ErrConflict, exampleID, versionID)
		}
		return domain.DatasetExampleRevision{}, fmt.Errorf("append revision: %w", err)
	}
	return rev, nil
}

// History lists every revision of an example in version order.
func (s *Service) History(ctx context.Context, exampleID string) ([]domain.DatasetExampleRevision, error) {
	exampleID = strings.TrimSpace(exampleID)
	if _, err := s.examples.GetExample(ctx, exampleID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, &domain.NotFoundError{ExampleID: exampleID, Reason: domain.NotFoundUnknownExample}
		}
		return nil, err
	}
	return s.examples.ListRevisions(ctx, exampleID)
}
