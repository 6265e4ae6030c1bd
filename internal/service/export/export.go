// Package export writes dataset snapshots and experiment results to object storage as
// JSON lines.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/objectstore"
	"github.com/animus-labs/animus-evals/internal/repo"
)

const contentTypeJSONL = "application/x-ndjson"

// ExperimentSource reads the records of one experiment.
type ExperimentSource interface {
	GetExperiment(ctx context.Context, id string) (domain.Experiment, error)
	ListRuns(ctx context.Context, experimentID string) ([]domain.ExperimentRun, error)
	ListAnnotations(ctx context.Context, filter repo.AnnotationFilter) ([]domain.ExperimentAnnotation, error)
}

type Config struct {
	DatasetsBucket    string
	ExperimentsBucket string
	// KeyPrefix, when set, namespaces every object key written by the exporter.
	KeyPrefix string
}

type Exporter struct {
	store       objectstore.Store
	experiments ExperimentSource
	cfg         Config
	logger      *slog.Logger
}

// Result identifies a written object.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Lines  int    `json:"lines"`
	Size   int64  `json:"size_bytes"`
	SHA256 string `json:"sha256"`
}

func New(store objectstore.Store, experiments ExperimentSource, cfg Config, logger *slog.Logger) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.DatasetsBucket) == "" || strings.TrimSpace(cfg.ExperimentsBucket) == "" {
		return nil, errors.New("datasets and experiments buckets are required")
	}
	if err := objectstore.ValidateKeyPrefix(cfg.KeyPrefix); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, experiments: experiments, cfg: cfg, logger: logger}, nil
}

// SnapshotKey is the object key of a snapshot export.
func SnapshotKey(snapshot domain.Snapshot) string {
	return fmt.Sprintf("datasets/%s/versions/%d-%s.jsonl", snapshot.Dataset.ID, snapshot.Version.Ordinal, snapshot.Version.ID)
}

// ExperimentKey is the object key of an experiment export.
func ExperimentKey(experiment domain.Experiment) string {
	return fmt.Sprintf("experiments/%s/%d-%s.jsonl", experiment.DatasetID, experiment.SequenceNumber, experiment.ID)
}

type snapshotLine struct {
	ExampleID  string          `json:"example_id"`
	RevisionID string          `json:"revision_id"`
	VersionID  string          `json:"version_id"`
	Input      domain.Object   `json:"input"`
	Output     domain.Object   `json:"output"`
	Metadata   domain.Metadata `json:"metadata"`
}

// ExportSnapshot writes one line per live example of the snapshot.
func (e *Exporter) ExportSnapshot(ctx context.Context, snapshot domain.Snapshot) (Result, error) {
	if e == nil {
		return Result{}, errors.New("exporter not initialized")
	}
	if snapshot.Dataset.ID == "" || snapshot.Version.ID == "" {
		return Result{}, domain.Invalid("snapshot dataset and version are required")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ex := range snapshot.Examples {
		line := snapshotLine{
			ExampleID:  ex.Example.ID,
			RevisionID: ex.Revision.ID,
			VersionID:  ex.Revision.VersionID,
			Input:      nonNilObject(ex.Revision.Input),
			Output:     nonNilObject(ex.Revision.Output),
			Metadata:   nonNilMetadata(ex.Revision.Metadata),
		}
		if err := enc.Encode(line); err != nil {
			return Result{}, fmt.Errorf("encode example %s: %w", ex.Example.ID, err)
		}
	}
	res, err := e.put(ctx, e.cfg.DatasetsBucket, SnapshotKey(snapshot), &buf, len(snapshot.Examples))
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("snapshot exported", "dataset_id", snapshot.Dataset.ID, "version_id", snapshot.Version.ID, "key", res.Key, "examples", res.Lines)
	return res, nil
}

type annotationLine struct {
	Name          string          `json:"name"`
	AnnotatorKind string          `json:"annotator_kind"`
	Label         string          `json:"label,omitempty"`
	Score         *float64        `json:"score"`
	Explanation   string          `json:"explanation,omitempty"`
	Metadata      domain.Metadata `json:"metadata,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type runLine struct {
	ExperimentID     string             `json:"experiment_id"`
	SequenceNumber   int64              `json:"sequence_number"`
	DatasetVersionID string             `json:"dataset_version_id"`
	RunID            string             `json:"run_id"`
	ExampleID        string             `json:"example_id"`
	Repetition       int                `json:"repetition_number"`
	Output           any                `json:"output"`
	Error            *domain.RunFailure `json:"error,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	EndedAt          time.Time          `json:"ended_at"`
	TraceID          string             `json:"trace_id,omitempty"`
	Annotations      []annotationLine   `json:"annotations"`
}

// ExportExperiment writes one line per run, each carrying its annotations in
// creation order.
func (e *Exporter) ExportExperiment(ctx context.Context, experimentID string) (Result, error) {
	if e == nil || e.experiments == nil {
		return Result{}, errors.New("exporter not initialized")
	}
	experiment, err := e.experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		return Result{}, err
	}
	runs, err := e.experiments.ListRuns(ctx, experiment.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list runs: %w", err)
	}
	annotations, err := e.experiments.ListAnnotations(ctx, repo.AnnotationFilter{ExperimentID: experiment.ID})
	if err != nil {
		return Result{}, fmt.Errorf("list annotations: %w", err)
	}
	byRun := make(map[string][]annotationLine, len(runs))
	for _, a := range annotations {
		byRun[a.ExperimentRunID] = append(byRun[a.ExperimentRunID], annotationLine{
			Name:          a.Name,
			AnnotatorKind: string(a.AnnotatorKind),
			Label:         a.Label,
			Score:         a.Score,
			Explanation:   a.Explanation,
			Metadata:      a.Metadata,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, run := range runs {
		line := runLine{
			ExperimentID:     experiment.ID,
			SequenceNumber:   experiment.SequenceNumber,
			DatasetVersionID: experiment.DatasetVersionID,
			RunID:            run.ID,
			ExampleID:        run.DatasetExampleID,
			Repetition:       run.RepetitionNumber,
			Output:           run.Output,
			Error:            run.Error,
			StartedAt:        run.StartedAt,
			EndedAt:          run.EndedAt,
			TraceID:          run.TraceID,
			Annotations:      byRun[run.ID],
		}
		if line.Annotations == nil {
			line.Annotations = []annotationLine{}
		}
		if err := enc.Encode(line); err != nil {
			return Result{}, fmt.Errorf("encode run %s: %w", run.ID, err)
		}
	}
	res, err := e.put(ctx, e.cfg.ExperimentsBucket, ExperimentKey(experiment), &buf, len(runs))
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("experiment exported", "experiment_id", experiment.ID, "key", res.Key, "runs", res.Lines)
	return res, nil
}

func (e *Exporter) put(ctx context.Context, bucket, key string, buf *bytes.Buffer, lines int) (Result, error) {
	key = objectstore.PrefixKey(e.cfg.KeyPrefix, key)
	sum := sha256.Sum256(buf.Bytes())
	size := int64(buf.Len())
	if _, err := e.store.Put(ctx, bucket, key, bytes.NewReader(buf.Bytes()), size, contentTypeJSONL); err != nil {
		return Result{}, err
	}
	return Result{
		Bucket: bucket,
		Key:    key,
		Lines:  lines,
		Size:   size,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func nonNilObject(o domain.Object) domain.Object {
	if o == nil {
		return domain.Object{}
	}
	return o
}

func nonNilMetadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}
