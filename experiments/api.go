package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/experimentspec"
	"github.com/animus-labs/animus-evals/internal/httpapi"
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

const maxSpecBytes = 1 << 20

type experimentExporter interface {
	ExportExperiment(ctx context.Context, experimentID string) (export.Result, error)
}

type experimentsAPI struct {
	logger      *slog.Logger
	datasets    experimentspec.DatasetReader
	experiments *experiments.Service
	exporter    experimentExporter
}

func newExperimentsAPI(logger *slog.Logger, datasets experimentspec.DatasetReader, service *experiments.Service, exporter experimentExporter) *experimentsAPI {
	return &experimentsAPI{logger: logger, datasets: datasets, experiments: service, exporter: exporter}
}

func (api *experimentsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /experiments", api.handleRunExperiment)
	mux.HandleFunc("GET /experiments", api.handleListExperiments)
	mux.HandleFunc("GET /experiments/{experiment_id}", api.handleGetExperiment)
	mux.HandleFunc("GET /experiments/{experiment_id}/runs", api.handleListRuns)
	mux.HandleFunc("GET /experiments/{experiment_id}/annotations", api.handleListAnnotations)
	mux.HandleFunc("POST /experiments/{experiment_id}/evaluations", api.handleEvaluate)
	mux.HandleFunc("GET /experiments/{experiment_id}/summary", api.handleSummary)
	mux.HandleFunc("POST /experiments/{experiment_id}/export", api.handleExport)

	mux.HandleFunc("POST /runs/{run_id}/annotations", api.handleCreateAnnotation)
	mux.HandleFunc("GET /comparisons", api.handleCompare)
}

type evaluationResponse struct {
	Evaluator   string `json:"evaluator"`
	Annotations int    `json:"annotations"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
}

func evaluationFrom(res experiments.EvaluationResult) evaluationResponse {
	return evaluationResponse{Evaluator: res.Evaluator, Annotations: len(res.Annotations), Failed: res.Failed, Skipped: res.Skipped}
}

type runExperimentResponse struct {
	Experiment  httpapi.Experiment   `json:"experiment"`
	Runs        int                  `json:"runs"`
	FailedRuns  int                  `json:"failed_runs"`
	Evaluations []evaluationResponse `json:"evaluations"`
}

// handleRunExperiment accepts an experiment spec (YAML or JSON) and runs it to
// completion within the request.
func (api *experimentsAPI) handleRunExperiment(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes+1))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(raw) > maxSpecBytes {
		httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "spec_too_large", "")
		return
	}
	spec, err := experimentspec.ParseSpec(raw)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}

	spec.Metadata = httpapi.StampActor(r.Context(), spec.Metadata, httpapi.MetaCreatedBy)
	out, err := experimentspec.Execute(r.Context(), spec, api.datasets, api.experiments)
	if err != nil && out.Run.Experiment.ID == "" {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	resp := runExperimentResponse{
		Experiment:  httpapi.ExperimentFrom(out.Run.Experiment),
		Runs:        len(out.Run.Runs),
		FailedRuns:  out.Run.Failed(),
		Evaluations: make([]evaluationResponse, 0, len(out.Evaluations)),
	}
	for _, res := range out.Evaluations {
		resp.Evaluations = append(resp.Evaluations, evaluationFrom(res))
	}
	if err != nil {
		// The experiment exists and keeps whatever completed; report the partial record.
		api.logger.Warn("experiment incomplete", "experiment_id", out.Run.Experiment.ID, "error", err)
		httpserver.WriteJSON(w, http.StatusAccepted, resp)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, resp)
}

func (api *experimentsAPI) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	limit := httpapi.ClampInt(httpapi.ParseIntQuery(r, "limit", 100), 1, 500)
	filter := repo.ExperimentFilter{Limit: limit}
	if ref := strings.TrimSpace(r.URL.Query().Get("dataset")); ref != "" {
		dataset, err := api.datasets.FindDataset(r.Context(), ref)
		if err != nil {
			httpapi.WriteServiceError(w, r, api.logger, err)
			return
		}
		filter.DatasetID = dataset.ID
	}
	list, err := api.experiments.ListExperiments(r.Context(), filter)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	out := make([]httpapi.Experiment, 0, len(list))
	for _, e := range list {
		out = append(out, httpapi.ExperimentFrom(e))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

func (api *experimentsAPI) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experiment, err := api.experiments.GetExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.ExperimentFrom(experiment))
}

func (api *experimentsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	experiment, err := api.experiments.GetExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	runs, err := api.experiments.ListRuns(r.Context(), experiment.ID)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": httpapi.RunsFrom(runs)})
}

func (api *experimentsAPI) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	experiment, err := api.experiments.GetExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	list, err := api.experiments.ListAnnotations(r.Context(), repo.AnnotationFilter{
		ExperimentID: experiment.ID,
		RunID:        strings.TrimSpace(r.URL.Query().Get("run_id")),
		Name:         strings.TrimSpace(r.URL.Query().Get("name")),
	})
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"annotations": httpapi.AnnotationsFrom(list)})
}

type evaluateRequest struct {
	Evaluators []experimentspec.EvaluatorSpec `json:"evaluators"`
}

func (api *experimentsAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Evaluators) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, "at least one evaluator is required")
		return
	}
	if err := experimentspec.ValidateEvaluators(req.Evaluators); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}
	evaluators, err := experimentspec.BuildEvaluators(req.Evaluators)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}

	experimentID := r.PathValue("experiment_id")
	out := make([]evaluationResponse, 0, len(evaluators))
	for _, evaluator := range evaluators {
		res, err := api.experiments.Evaluate(r.Context(), experimentID, evaluator)
		if err != nil {
			httpapi.WriteServiceError(w, r, api.logger, err)
			return
		}
		out = append(out, evaluationFrom(res))
	}
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{"evaluations": out})
}

type createAnnotationRequest struct {
	Name          string          `json:"name"`
	AnnotatorKind string          `json:"annotator_kind,omitempty"`
	Label         string          `json:"label,omitempty"`
	Score         *float64        `json:"score,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
	Metadata      domain.Metadata `json:"metadata,omitempty"`
}

func (api *experimentsAPI) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var req createAnnotationRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	annotation, err := api.experiments.CreateAnnotation(r.Context(), domain.ExperimentAnnotation{
		ExperimentRunID: strings.TrimSpace(r.PathValue("run_id")),
		Name:            req.Name,
		AnnotatorKind:   domain.AnnotatorKind(req.AnnotatorKind),
		Label:           req.Label,
		Score:           req.Score,
		Explanation:     req.Explanation,
		Metadata:        httpapi.StampActor(r.Context(), req.Metadata, httpapi.MetaAnnotatedBy),
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "run_not_found", "")
			return
		}
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, httpapi.AnnotationFrom(annotation))
}

func (api *experimentsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := api.experiments.Summarize(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.SummaryFrom(summary))
}

func (api *experimentsAPI) handleCompare(w http.ResponseWriter, r *http.Request) {
	ids := httpapi.ListQuery(r, "experiment_id")
	comparison, err := api.experiments.Compare(r.Context(), ids)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.ComparisonFrom(comparison))
}

func (api *experimentsAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if api.exporter == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, httpapi.CodeUnavailable, "export is not configured")
		return
	}
	res, err := api.exporter.ExportExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, res)
}
