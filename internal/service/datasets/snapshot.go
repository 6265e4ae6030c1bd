package datasets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

// Snapshot materializes the live examples of a dataset as of versionID, or as of the
// latest version when versionID is empty. The result is read once and does not
// change when revisions are appended afterwards.
func (s *Service) Snapshot(ctx context.Context, datasetID, versionID string) (domain.Snapshot, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.Snapshot{}, domain.Invalid("dataset id is required")
	}
	dataset, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Snapshot{}, fmt.Errorf("dataset %s: %w", datasetID, repo.ErrNotFound)
		}
		return domain.Snapshot{}, fmt.Errorf("get dataset: %w", err)
	}

	var version domain.DatasetVersion
	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		version, err = s.datasets.LatestDatasetVersion(ctx, dataset.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Snapshot{}, fmt.Errorf("dataset %s has no versions: %w", dataset.ID, repo.ErrNotFound)
			}
			return domain.Snapshot{}, fmt.Errorf("latest dataset version: %w", err)
		}
	} else {
		version, err = s.datasets.GetDatasetVersion(ctx, versionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Snapshot{}, &domain.UnknownVersionError{VersionID: versionID}
			}
			return domain.Snapshot{}, fmt.Errorf("get dataset version: %w", err)
		}
		if version.DatasetID != dataset.ID {
			return domain.Snapshot{}, &domain.UnknownVersionError{VersionID: versionID, DatasetID: dataset.ID}
		}
	}

	entries, err := s.examples.SnapshotRevisions(ctx, dataset.ID, version.Ordinal)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot revisions: %w", err)
	}
	live := make([]domain.SnapshotExample, 0, len(entries))
	for _, entry := range entries {
		if _, err := effective(entry.Revision, version.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return domain.Snapshot{}, err
		}
		live = append(live, entry)
	}
	return domain.Snapshot{Dataset: dataset, Version: version, Examples: live}, nil
}
