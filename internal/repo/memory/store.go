// Package memory provides an in-process implementation of the repository interfaces.
// Records are cloned on the way in and out so callers never share mutable state with
// the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
)

type runKey struct {
	experimentID string
	exampleID    string
	repetition   int
}

type revisionKey struct {
	exampleID string
	versionID string
}

type Store struct {
	mu sync.RWMutex

	datasets       map[string]domain.Dataset
	datasetsByName map[string]string

	versions          map[string]domain.DatasetVersion
	versionsByDataset map[string][]string

	examples          map[string]domain.DatasetExample
	examplesByDataset map[string][]string

	// revisions per example, sorted by version ordinal.
	revisions    map[string][]domain.DatasetExampleRevision
	revisionKeys map[revisionKey]struct{}

	experiments map[string]domain.Experiment

	runs             map[string]domain.ExperimentRun
	runsByExperiment map[string][]string
	runKeys          map[runKey]string

	annotations []domain.ExperimentAnnotation
}

var _ repo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		datasets:          map[string]domain.Dataset{},
		datasetsByName:    map[string]string{},
		versions:          map[string]domain.DatasetVersion{},
		versionsByDataset: map[string][]string{},
		examples:          map[string]domain.DatasetExample{},
		examplesByDataset: map[string][]string{},
		revisions:         map[string][]domain.DatasetExampleRevision{},
		revisionKeys:      map[revisionKey]struct{}{},
		experiments:       map[string]domain.Experiment{},
		runs:              map[string]domain.ExperimentRun{},
		runsByExperiment:  map[string][]string{},
		runKeys:           map[runKey]string{},
	}
}

func (s *Store) Datasets() repo.DatasetRepository       { return s }
func (s *Store) Examples() repo.ExampleRepository       { return s }
func (s *Store) Experiments() repo.ExperimentRepository { return s }
func (s *Store) Runs() repo.RunRepository               { return s }
func (s *Store) Annotations() repo.AnnotationRepository { return s }

func (s *Store) CreateDataset(ctx context.Context, dataset domain.Dataset) error {
	if err := dataset.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(dataset.Name)
	if _, ok := s.datasets[dataset.ID]; ok {
		return fmt.Errorf("dataset %s: %w", dataset.ID, repo.ErrConflict)
	}
	if _, ok := s.datasetsByName[name]; ok {
		return fmt.Errorf("dataset name %q: %w", name, repo.ErrConflict)
	}
	dataset.Name = name
	dataset.Metadata = dataset.Metadata.Clone()
	s.datasets[dataset.ID] = dataset
	s.datasetsByName[name] = dataset.ID
	return nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dataset, ok := s.datasets[strings.TrimSpace(id)]
	if !ok {
		return domain.Dataset{}, repo.ErrNotFound
	}
	dataset.Metadata = dataset.Metadata.Clone()
	return dataset, nil
}

func (s *Store) ListDatasets(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Dataset, 0, len(s.datasets))
	name := strings.TrimSpace(filter.Name)
	for _, dataset := range s.datasets {
		if name != "" && dataset.Name != name {
			continue
		}
		dataset.Metadata = dataset.Metadata.Clone()
		out = append(out, dataset)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateDatasetVersion(ctx context.Context, version domain.DatasetVersion) error {
	if err := version.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[version.DatasetID]; !ok {
		return fmt.Errorf("dataset %s: %w", version.DatasetID, repo.ErrNotFound)
	}
	if _, ok := s.versions[version.ID]; ok {
		return fmt.Errorf("dataset version %s: %w", version.ID, repo.ErrConflict)
	}
	ids := s.versionsByDataset[version.DatasetID]
	i := sort.Search(len(ids), func(i int) bool { return s.versions[ids[i]].Ordinal >= version.Ordinal })
	if i < len(ids) && s.versions[ids[i]].Ordinal == version.Ordinal {
		return fmt.Errorf("dataset version ordinal %d: %w", version.Ordinal, repo.ErrConflict)
	}
	version.Metadata = version.Metadata.Clone()
	s.versions[version.ID] = version
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = version.ID
	s.versionsByDataset[version.DatasetID] = ids
	return nil
}

func (s *Store) GetDatasetVersion(ctx context.Context, id string) (domain.DatasetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.versions[strings.TrimSpace(id)]
	if !ok {
		return domain.DatasetVersion{}, repo.ErrNotFound
	}
	version.Metadata = version.Metadata.Clone()
	return version, nil
}

func (s *Store) LatestDatasetVersion(ctx context.Context, datasetID string) (domain.DatasetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.versionsByDataset[strings.TrimSpace(datasetID)]
	if len(ids) == 0 {
		return domain.DatasetVersion{}, repo.ErrNotFound
	}
	version := s.versions[ids[len(ids)-1]]
	version.Metadata = version.Metadata.Clone()
	return version, nil
}

func (s *Store) ListDatasetVersions(ctx context.Context, filter repo.DatasetVersionFilter) ([]domain.DatasetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.versionsByDataset[strings.TrimSpace(filter.DatasetID)]
	out := make([]domain.DatasetVersion, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		version := s.versions[ids[i]]
		version.Metadata = version.Metadata.Clone()
		out = append(out, version)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) NextDatasetVersionOrdinal(ctx context.Context, datasetID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.versionsByDataset[strings.TrimSpace(datasetID)]
	if len(ids) == 0 {
		return 1, nil
	}
	return s.versions[ids[len(ids)-1]].Ordinal + 1, nil
}

func (s *Store) CreateExample(ctx context.Context, example domain.DatasetExample) error {
	if err := example.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[example.DatasetID]; !ok {
		return fmt.Errorf("dataset %s: %w", example.DatasetID, repo.ErrNotFound)
	}
	if _, ok := s.examples[example.ID]; ok {
		return fmt.Errorf("example %s: %w", example.ID, repo.ErrConflict)
	}
	s.examples[example.ID] = example

	ids := s.examplesByDataset[example.DatasetID]
	i := sort.Search(len(ids), func(i int) bool { return createdAfter(s.examples[ids[i]], example) })
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = example.ID
	s.examplesByDataset[example.DatasetID] = ids
	return nil
}

func createdAfter(a, b domain.DatasetExample) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *Store) GetExample(ctx context.Context, id string) (domain.DatasetExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	example, ok := s.examples[strings.TrimSpace(id)]
	if !ok {
		return domain.DatasetExample{}, repo.ErrNotFound
	}
	return example, nil
}

func (s *Store) AppendRevision(ctx context.Context, revision domain.DatasetExampleRevision) error {
	if err := revision.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.examples[revision.ExampleID]; !ok {
		return fmt.Errorf("example %s: %w", revision.ExampleID, repo.ErrNotFound)
	}
	if _, ok := s.versions[revision.VersionID]; !ok {
		return fmt.Errorf("dataset version %s: %w", revision.VersionID, repo.ErrNotFound)
	}
	key := revisionKey{exampleID: revision.ExampleID, versionID: revision.VersionID}
	if _, ok := s.revisionKeys[key]; ok {
		return fmt.Errorf("revision for example %s at version %s: %w", revision.ExampleID, revision.VersionID, repo.ErrConflict)
	}

	revs := s.revisions[revision.ExampleID]
	i := sort.Search(len(revs), func(i int) bool { return revs[i].VersionOrdinal >= revision.VersionOrdinal })
	if i < len(revs) && revs[i].VersionOrdinal == revision.VersionOrdinal {
		return fmt.Errorf("revision for example %s at ordinal %d: %w", revision.ExampleID, revision.VersionOrdinal, repo.ErrConflict)
	}
	revs = append(revs, domain.DatasetExampleRevision{})
	copy(revs[i+1:], revs[i:])
	revs[i] = revision.Clone()
	s.revisions[revision.ExampleID] = revs
	s.revisionKeys[key] = struct{}{}
	return nil
}

func (s *Store) LatestRevision(ctx context.Context, exampleID string, maxOrdinal int64) (domain.DatasetExampleRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rev, ok := s.latestRevisionLocked(strings.TrimSpace(exampleID), maxOrdinal)
	if !ok {
		return domain.DatasetExampleRevision{}, repo.ErrNotFound
	}
	return rev.Clone(), nil
}

func (s *Store) latestRevisionLocked(exampleID string, maxOrdinal int64) (domain.DatasetExampleRevision, bool) {
	revs := s.revisions[exampleID]
	i := sort.Search(len(revs), func(i int) bool { return revs[i].VersionOrdinal > maxOrdinal })
	if i == 0 {
		return domain.DatasetExampleRevision{}, false
	}
	return revs[i-1], true
}

func (s *Store) ListRevisions(ctx context.Context, exampleID string) ([]domain.DatasetExampleRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[strings.TrimSpace(exampleID)]
	out := make([]domain.DatasetExampleRevision, 0, len(revs))
	for _, rev := range revs {
		out = append(out, rev.Clone())
	}
	return out, nil
}

func (s *Store) SnapshotRevisions(ctx context.Context, datasetID string, maxOrdinal int64) ([]domain.SnapshotExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.examplesByDataset[strings.TrimSpace(datasetID)]
	out := make([]domain.SnapshotExample, 0, len(ids))
	for _, id := range ids {
		rev, ok := s.latestRevisionLocked(id, maxOrdinal)
		if !ok {
			continue
		}
		out = append(out, domain.SnapshotExample{Example: s.examples[id], Revision: rev.Clone()})
	}
	return out, nil
}

func (s *Store) CreateExperiment(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	if err := experiment.Validate(); err != nil {
		return domain.Experiment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[experiment.DatasetID]; !ok {
		return domain.Experiment{}, fmt.Errorf("dataset %s: %w", experiment.DatasetID, repo.ErrNotFound)
	}
	version, ok := s.versions[experiment.DatasetVersionID]
	if !ok || version.DatasetID != experiment.DatasetID {
		return domain.Experiment{}, fmt.Errorf("dataset version %s: %w", experiment.DatasetVersionID, repo.ErrNotFound)
	}
	if _, ok := s.experiments[experiment.ID]; ok {
		return domain.Experiment{}, fmt.Errorf("experiment %s: %w", experiment.ID, repo.ErrConflict)
	}
	var seq int64
	for _, existing := range s.experiments {
		if existing.DatasetID == experiment.DatasetID && existing.SequenceNumber > seq {
			seq = existing.SequenceNumber
		}
	}
	experiment.SequenceNumber = seq + 1
	experiment.Metadata = experiment.Metadata.Clone()
	s.experiments[experiment.ID] = experiment

	experiment.Metadata = experiment.Metadata.Clone()
	return experiment, nil
}

func (s *Store) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	experiment, ok := s.experiments[strings.TrimSpace(id)]
	if !ok {
		return domain.Experiment{}, repo.ErrNotFound
	}
	experiment.Metadata = experiment.Metadata.Clone()
	return experiment, nil
}

func (s *Store) ListExperiments(ctx context.Context, filter repo.ExperimentFilter) ([]domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	datasetID := strings.TrimSpace(filter.DatasetID)
	out := make([]domain.Experiment, 0, len(s.experiments))
	for _, experiment := range s.experiments {
		if datasetID != "" && experiment.DatasetID != datasetID {
			continue
		}
		experiment.Metadata = experiment.Metadata.Clone()
		out = append(out, experiment)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.ExperimentRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[run.ExperimentID]; !ok {
		return fmt.Errorf("experiment %s: %w", run.ExperimentID, repo.ErrNotFound)
	}
	if _, ok := s.examples[run.DatasetExampleID]; !ok {
		return fmt.Errorf("example %s: %w", run.DatasetExampleID, repo.ErrNotFound)
	}
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, repo.ErrConflict)
	}
	key := runKey{experimentID: run.ExperimentID, exampleID: run.DatasetExampleID, repetition: run.RepetitionNumber}
	if _, ok := s.runKeys[key]; ok {
		return fmt.Errorf("run for example %s repetition %d: %w", run.DatasetExampleID, run.RepetitionNumber, repo.ErrConflict)
	}
	s.runs[run.ID] = run.Clone()
	s.runKeys[key] = run.ID
	s.runsByExperiment[run.ExperimentID] = append(s.runsByExperiment[run.ExperimentID], run.ID)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.ExperimentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return domain.ExperimentRun{}, repo.ErrNotFound
	}
	return run.Clone(), nil
}

func (s *Store) ListRuns(ctx context.Context, experimentID string) ([]domain.ExperimentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.runsByExperiment[strings.TrimSpace(experimentID)]
	out := make([]domain.ExperimentRun, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.runs[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := s.examples[out[i].DatasetExampleID], s.examples[out[j].DatasetExampleID]
		if a.ID != b.ID {
			return createdAfter(b, a)
		}
		return out[i].RepetitionNumber < out[j].RepetitionNumber
	})
	return out, nil
}

func (s *Store) CreateAnnotation(ctx context.Context, annotation domain.ExperimentAnnotation) error {
	if err := annotation.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[annotation.ExperimentRunID]; !ok {
		return fmt.Errorf("run %s: %w", annotation.ExperimentRunID, repo.ErrNotFound)
	}
	for _, existing := range s.annotations {
		if existing.ID == annotation.ID {
			return fmt.Errorf("annotation %s: %w", annotation.ID, repo.ErrConflict)
		}
	}
	s.annotations = append(s.annotations, annotation.Clone())
	return nil
}

func (s *Store) ListAnnotations(ctx context.Context, filter repo.AnnotationFilter) ([]domain.ExperimentAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	experimentID := strings.TrimSpace(filter.ExperimentID)
	runID := strings.TrimSpace(filter.RunID)
	name := strings.TrimSpace(filter.Name)
	out := make([]domain.ExperimentAnnotation, 0)
	for _, annotation := range s.annotations {
		if runID != "" && annotation.ExperimentRunID != runID {
			continue
		}
		if experimentID != "" && s.runs[annotation.ExperimentRunID].ExperimentID != experimentID {
			continue
		}
		if name != "" && annotation.Name != name {
			continue
		}
		out = append(out, annotation.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
