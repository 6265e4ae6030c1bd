package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
)

const tracerName = "github.com/animus-labs/animus-evals/internal/service/experiments"

// SnapshotReader materializes the examples an experiment runs over.
type SnapshotReader interface {
	Snapshot(ctx context.Context, datasetID, versionID string) (domain.Snapshot, error)
}

type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

type Service struct {
	experiments repo.ExperimentRepository
	runs        repo.RunRepository
	annotations repo.AnnotationRepository
	snapshots   SnapshotReader

	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func New(experimentRepo repo.ExperimentRepository, runRepo repo.RunRepository, annotationRepo repo.AnnotationRepository, snapshots SnapshotReader, cfg Config, opts Options) (*Service, error) {
	if experimentRepo == nil || runRepo == nil || annotationRepo == nil || snapshots == nil {
		return nil, errors.New("experiment, run and annotation repositories and a snapshot reader are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		experiments: experimentRepo,
		runs:        runRepo,
		annotations: annotationRepo,
		snapshots:   snapshots,
		cfg:         cfg,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	return s.experiments.GetExperiment(ctx, strings.TrimSpace(id))
}

func (s *Service) ListExperiments(ctx context.Context, filter repo.ExperimentFilter) ([]domain.Experiment, error) {
	return s.experiments.ListExperiments(ctx, filter)
}

func (s *Service) ListRuns(ctx context.Context, experimentID string) ([]domain.ExperimentRun, error) {
	return s.runs.ListRuns(ctx, strings.TrimSpace(experimentID))
}

func (s *Service) ListAnnotations(ctx context.Context, filter repo.AnnotationFilter) ([]domain.ExperimentAnnotation, error) {
	return s.annotations.ListAnnotations(ctx, filter)
}

// CreateAnnotation appends an externally produced annotation, for example a human
// review. The run must exist.
func (s *Service) CreateAnnotation(ctx context.Context, annotation domain.ExperimentAnnotation) (domain.ExperimentAnnotation, error) {
	if strings.TrimSpace(annotation.ExperimentRunID) == "" {
		return domain.ExperimentAnnotation{}, domain.Invalid("experiment run id is required")
	}
	if strings.TrimSpace(annotation.Name) == "" {
		return domain.ExperimentAnnotation{}, domain.Invalid("annotation name is required")
	}
	if annotation.AnnotatorKind == "" {
		annotation.AnnotatorKind = domain.AnnotatorHuman
	}
	kind, ok := domain.ParseAnnotatorKind(string(annotation.AnnotatorKind))
	if !ok {
		return domain.ExperimentAnnotation{}, domain.Invalid("annotator kind %q must be CODE, LLM or HUMAN", annotation.AnnotatorKind)
	}
	annotation.AnnotatorKind = kind
	if strings.TrimSpace(annotation.ID) == "" {
		annotation.ID = datasets.NewID()
	}
	now := s.now()
	if annotation.StartedAt.IsZero() {
		annotation.StartedAt = now
	}
	if annotation.EndedAt.IsZero() {
		annotation.EndedAt = now
	}
	annotation.CreatedAt = now
	if err := annotation.Validate(); err != nil {
		return domain.ExperimentAnnotation{}, domain.Invalid("%v", err)
	}
	if err := s.annotations.CreateAnnotation(ctx, annotation); err != nil {
		return domain.ExperimentAnnotation{}, fmt.Errorf("create annotation: %w", err)
	}
	return annotation, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func traceID(span trace.Span) string {
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// persist writes one record with a detached context so cancellation of the caller
// never drops a completed result. Conflicts, missing parents and validation errors
// are not retried.
func (s *Service) persist(ctx context.Context, write func(context.Context) error) error {
	base := context.WithoutCancel(ctx)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	op := func() error {
		writeCtx, cancel := context.WithTimeout(base, s.cfg.WriteTimeout)
		defer cancel()
		err := write(writeCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithMaxRetries(policy, uint64(s.cfg.WriteRetries)))
}
