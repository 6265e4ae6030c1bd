package datasets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

const maxOrdinalAttempts = 5

type Service struct {
	datasets repo.DatasetRepository
	examples repo.ExampleRepository
	logger   *slog.Logger
	now      func() time.Time
}

func New(datasetRepo repo.DatasetRepository, exampleRepo repo.ExampleRepository, logger *slog.Logger) *Service {
	if datasetRepo == nil || exampleRepo == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		datasets: datasetRepo,
		examples: exampleRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewID returns a time-ordered identifier so ids sort in creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type CreateDatasetInput struct {
	Name        string
	Description string
	Metadata    domain.Metadata
}

func (s *Service) CreateDataset(ctx context.Context, in CreateDatasetInput) (domain.Dataset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Dataset{}, domain.Invalid("dataset name is required")
	}
	dataset := domain.Dataset{
		ID:          NewID(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Metadata:    in.Metadata.Clone(),
		CreatedAt:   s.now(),
	}
	if err := s.datasets.CreateDataset(ctx, dataset); err != nil {
		return domain.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return dataset, nil
}

func (s *Service) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	return s.datasets.GetDataset(ctx, id)
}

// FindDataset looks a dataset up by id, falling back to its unique name.
func (s *Service) FindDataset(ctx context.Context, idOrName string) (domain.Dataset, error) {
	dataset, err := s.datasets.GetDataset(ctx, idOrName)
	if err == nil || !errors.Is(err, repo.ErrNotFound) {
		return dataset, err
	}
	matches, err := s.datasets.ListDatasets(ctx, repo.DatasetFilter{Name: strings.TrimSpace(idOrName), Limit: 1})
	if err != nil {
		return domain.Dataset{}, err
	}
	if len(matches) == 0 {
		return domain.Dataset{}, repo.ErrNotFound
	}
	return matches[0], nil
}

func (s *Service) ListDatasets(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	return s.datasets.ListDatasets(ctx, filter)
}

func (s *Service) GetVersion(ctx context.Context, id string) (domain.DatasetVersion, error) {
	return s.datasets.GetDatasetVersion(ctx, id)
}

func (s *Service) ListVersions(ctx context.Context, filter repo.DatasetVersionFilter) ([]domain.DatasetVersion, error) {
	return s.datasets.ListDatasetVersions(ctx, filter)
}

type VersionInput struct {
	Description string
	Metadata    domain.Metadata
}

// CreateVersion allocates the next ordinal for the dataset, retrying when a
// concurrent writer claims the same ordinal first.
func (s *Service) CreateVersion(ctx context.Context, datasetID string, in VersionInput) (domain.DatasetVersion, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.DatasetVersion{}, domain.Invalid("dataset id is required")
	}
	if _, err := s.datasets.GetDataset(ctx, datasetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetVersion{}, domain.Invalid("dataset %s not found", datasetID)
		}
		return domain.DatasetVersion{}, err
	}

	var lastErr error
	for attempt := 0; attempt < maxOrdinalAttempts; attempt++ {
		ordinal, err := s.datasets.NextDatasetVersionOrdinal(ctx, datasetID)
		if err != nil {
			return domain.DatasetVersion{}, fmt.Errorf("next version ordinal: %w", err)
		}
		version := domain.DatasetVersion{
			ID:          NewID(),
			DatasetID:   datasetID,
			Ordinal:     ordinal,
			Description: strings.TrimSpace(in.Description),
			Metadata:    in.Metadata.Clone(),
			CreatedAt:   s.now(),
		}
		err = s.datasets.CreateDatasetVersion(ctx, version)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return domain.DatasetVersion{}, fmt.Errorf("create dataset version: %w", err)
		}
		lastErr = err
		s.logger.Warn("dataset version ordinal taken, retrying", "dataset_id", datasetID, "ordinal", ordinal)
	}
	return domain.DatasetVersion{}, fmt.Errorf("create dataset version: %w", lastErr)
}

// CreateExample allocates a new example identity. It has no content until a
// revision is appended.
func (s *Service) CreateExample(ctx context.Context, datasetID string) (domain.DatasetExample, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.DatasetExample{}, domain.Invalid("dataset id is required")
	}
	example := domain.DatasetExample{ID: NewID(), DatasetID: datasetID, CreatedAt: s.now()}
	if err := s.examples.CreateExample(ctx, example); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetExample{}, domain.Invalid("dataset %s not found", datasetID)
		}
		return domain.DatasetExample{}, fmt.Errorf("create example: %w", err)
	}
	return example, nil
}

// Change is one entry of a change set. CREATE without an ExampleID allocates a new
// example; every other change targets an existing example of the dataset.
type Change struct {
	Kind      domain.RevisionKind
	ExampleID string
	Input     domain.Object
	Output    domain.Object
	Metadata  domain.Metadata
}

type ChangeSet struct {
	Version   domain.DatasetVersion
	Revisions []domain.DatasetExampleRevision
}

// ApplyChanges creates one new version and appends one revision per change to it.
// Changes are validated up front so a malformed set writes nothing.
func (s *Service) ApplyChanges(ctx context.Context, datasetID string, in VersionInput, changes []Change) (ChangeSet, error) {
	if len(changes) == 0 {
		return ChangeSet{}, domain.Invalid("at least one change is required")
	}
	seen := make(map[string]struct{}, len(changes))
	for i, change := range changes {
		kind, ok := domain.ParseRevisionKind(string(change.Kind))
		if !ok {
			return ChangeSet{}, domain.Invalid("changes[%d].kind must be CREATE, PATCH or DELETE", i)
		}
		exampleID := strings.TrimSpace(change.ExampleID)
		if exampleID == "" {
			if kind != domain.RevisionCreate {
				return ChangeSet{}, domain.Invalid("changes[%d].example_id is required for %s", i, kind)
			}
			continue
		}
		if _, dup := seen[exampleID]; dup {
			return ChangeSet{}, domain.Invalid("changes[%d].example_id %s appears more than once", i, exampleID)
		}
		seen[exampleID] = struct{}{}
		example, err := s.examples.GetExample(ctx, exampleID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ChangeSet{}, domain.Invalid("changes[%d].example_id %s not found", i, exampleID)
			}
			return ChangeSet{}, err
		}
		if example.DatasetID != strings.TrimSpace(datasetID) {
			return ChangeSet{}, domain.Invalid("changes[%d].example_id %s belongs to another dataset", i, exampleID)
		}
	}

	version, err := s.CreateVersion(ctx, datasetID, in)
	if err != nil {
		return ChangeSet{}, err
	}

	out := ChangeSet{Version: version, Revisions: make([]domain.DatasetExampleRevision, 0, len(changes))}
	for _, change := range changes {
		exampleID := strings.TrimSpace(change.ExampleID)
		if exampleID == "" {
			example, err := s.CreateExample(ctx, version.DatasetID)
			if err != nil {
				return out, err
			}
			exampleID = example.ID
		}
		rev, err := s.record(ctx, AppendRevisionInput{
			ExampleID: exampleID,
			VersionID: version.ID,
			Kind:      change.Kind,
			Input:     change.Input,
			Output:    change.Output,
			Metadata:  change.Metadata,
		}, false)
		if err != nil {
			return out, err
		}
		out.Revisions = append(out.Revisions, rev)
	}
	s.logger.Info("dataset version created", "dataset_id", version.DatasetID, "version_id", version.ID, "ordinal", version.Ordinal, "revisions", len(out.Revisions))
	return out, nil
}
