package repo

import (
	"context"

	"github.com/animus-labs/animus-evals/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

type DatasetFilter struct {
	Name  string
	Limit int
}

type DatasetVersionFilter struct {
	DatasetID string
	Limit     int
}

type ExperimentFilter struct {
	DatasetID string
	Limit     int
}

type AnnotationFilter struct {
	ExperimentID string
	RunID        string
	Name         string
}

// DatasetRepository manages datasets and their ordered versions.
type DatasetRepository interface {
	CreateDataset(ctx context.Context, dataset domain.Dataset) error
	GetDataset(ctx context.Context, id string) (domain.Dataset, error)
	ListDatasets(ctx context.Context, filter DatasetFilter) ([]domain.Dataset, error)

	CreateDatasetVersion(ctx context.Context, version domain.DatasetVersion) error
	GetDatasetVersion(ctx context.Context, id string) (domain.DatasetVersion, error)
	LatestDatasetVersion(ctx context.Context, datasetID string) (domain.DatasetVersion, error)
	ListDatasetVersions(ctx context.Context, filter DatasetVersionFilter) ([]domain.DatasetVersion, error)
	NextDatasetVersionOrdinal(ctx context.Context, datasetID string) (int64, error)
}

// ExampleRepository manages example identities and their append-only revision log.
// There is no update or delete; AppendRevision returns ErrConflict when the
// (example, version) pair already has a revision.
type ExampleRepository interface {
	CreateExample(ctx context.Context, example domain.DatasetExample) error
	GetExample(ctx context.Context, id string) (domain.DatasetExample, error)

	AppendRevision(ctx context.Context, revision domain.DatasetExampleRevision) error
	// LatestRevision returns the revision with the greatest version ordinal <= maxOrdinal.
	LatestRevision(ctx context.Context, exampleID string, maxOrdinal int64) (domain.DatasetExampleRevision, error)
	ListRevisions(ctx context.Context, exampleID string) ([]domain.DatasetExampleRevision, error)
	// SnapshotRevisions returns, in example creation order, the effective revision of
	// every example that has one at or before maxOrdinal. DELETE revisions are included.
	SnapshotRevisions(ctx context.Context, datasetID string, maxOrdinal int64) ([]domain.SnapshotExample, error)
}

// ExperimentRepository manages immutable experiment records.
type ExperimentRepository interface {
	// CreateExperiment assigns the next per-dataset sequence number and returns the
	// stored record.
	CreateExperiment(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error)
	GetExperiment(ctx context.Context, id string) (domain.Experiment, error)
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]domain.Experiment, error)
}

// RunRepository manages immutable runs, unique per (experiment, example, repetition).
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.ExperimentRun) error
	GetRun(ctx context.Context, id string) (domain.ExperimentRun, error)
	ListRuns(ctx context.Context, experimentID string) ([]domain.ExperimentRun, error)
}

// AnnotationRepository appends annotations. CreateAnnotation returns ErrNotFound when
// the referenced run does not exist.
type AnnotationRepository interface {
	CreateAnnotation(ctx context.Context, annotation domain.ExperimentAnnotation) error
	ListAnnotations(ctx context.Context, filter AnnotationFilter) ([]domain.ExperimentAnnotation, error)
}

// Store bundles every repository a backend provides.
type Store interface {
	Datasets() DatasetRepository
	Examples() ExampleRepository
	Experiments() ExperimentRepository
	Runs() RunRepository
	Annotations() AnnotationRepository
}
