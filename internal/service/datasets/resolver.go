package datasets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

// ResolveOptions selects the version cursor. VersionID wins over
// DefaultVersionID; with neither set the dataset's latest version is used.
type ResolveOptions struct {
	VersionID string
	// DefaultVersionID is the version the caller pinned the example to, for example
	// the snapshot it was read from.
	DefaultVersionID string
}

// Resolve returns the effective revision of an example as of a version.
func (s *Service) Resolve(ctx context.Context, exampleID string, opts ResolveOptions) (domain.DatasetExampleRevision, error) {
	exampleID = strings.TrimSpace(exampleID)
	if exampleID == "" {
		return domain.DatasetExampleRevision{}, domain.Invalid("example id is required")
	}
	example, err := s.examples.GetExample(ctx, exampleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetExampleRevision{}, &domain.NotFoundError{ExampleID: exampleID, Reason: domain.NotFoundUnknownExample}
		}
		return domain.DatasetExampleRevision{}, fmt.Errorf("get example: %w", err)
	}

	cursor, err := s.cursor(ctx, example, opts)
	if err != nil {
		return domain.DatasetExampleRevision{}, err
	}

	rev, err := s.examples.LatestRevision(ctx, example.ID, cursor.Ordinal)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetExampleRevision{}, &domain.NotFoundError{ExampleID: example.ID, VersionID: cursor.ID, Reason: domain.NotFoundNoRevision}
		}
		return domain.DatasetExampleRevision{}, fmt.Errorf("latest revision: %w", err)
	}
	return effective(rev, cursor.ID)
}

func (s *Service) cursor(ctx context.Context, example domain.DatasetExample, opts ResolveOptions) (domain.DatasetVersion, error) {
	versionID := strings.TrimSpace(opts.VersionID)
	if versionID == "" {
		versionID = strings.TrimSpace(opts.DefaultVersionID)
	}
	if versionID == "" {
		latest, err := s.datasets.LatestDatasetVersion(ctx, example.DatasetID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.DatasetVersion{}, &domain.NotFoundError{ExampleID: example.ID, Reason: domain.NotFoundNoRevision}
			}
			return domain.DatasetVersion{}, fmt.Errorf("latest dataset version: %w", err)
		}
		return latest, nil
	}

	version, err := s.datasets.GetDatasetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetVersion{}, &domain.UnknownVersionError{VersionID: versionID}
		}
		return domain.DatasetVersion{}, fmt.Errorf("get dataset version: %w", err)
	}
	if version.DatasetID != example.DatasetID {
		return domain.DatasetVersion{}, &domain.UnknownVersionError{VersionID: versionID, DatasetID: example.DatasetID}
	}
	return version, nil
}

// effective interprets the revision found at or before the cursor.
func effective(rev domain.DatasetExampleRevision, cursorID string) (domain.DatasetExampleRevision, error) {
	switch rev.Kind {
	case domain.RevisionCreate, domain.RevisionPatch:
		return rev, nil
	case domain.RevisionDelete:
		return domain.DatasetExampleRevision{}, &domain.NotFoundError{
			ExampleID:        rev.ExampleID,
			VersionID:        cursorID,
			DeletedVersionID: rev.VersionID,
			Reason:           domain.NotFoundDeleted,
		}
	default:
		return domain.DatasetExampleRevision{}, fmt.Errorf("revision %s has unrecognized kind %q", rev.ID, rev.Kind)
	}
}
