package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/httpapi"
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

type snapshotExporter interface {
	ExportSnapshot(ctx context.Context, snapshot domain.Snapshot) (export.Result, error)
}

type datasetRegistryAPI struct {
	logger         *slog.Logger
	datasets       *datasets.Service
	exporter       snapshotExporter
	uploadMaxBytes int64
}

func newDatasetRegistryAPI(logger *slog.Logger, service *datasets.Service, exporter snapshotExporter, uploadMaxBytes int64) *datasetRegistryAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = 250 << 20
	}
	return &datasetRegistryAPI{
		logger:         logger,
		datasets:       service,
		exporter:       exporter,
		uploadMaxBytes: uploadMaxBytes,
	}
}

func (api *datasetRegistryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /datasets", api.handleListDatasets)
	mux.HandleFunc("POST /datasets", api.handleCreateDataset)
	mux.HandleFunc("GET /datasets/{dataset_id}", api.handleGetDataset)

	mux.HandleFunc("GET /datasets/{dataset_id}/versions", api.handleListDatasetVersions)
	mux.HandleFunc("POST /datasets/{dataset_id}/versions", api.handleApplyChanges)
	mux.HandleFunc("POST /datasets/{dataset_id}/versions/upload", api.handleUploadDatasetVersion)
	mux.HandleFunc("GET /datasets/{dataset_id}/snapshot", api.handleSnapshot)
	mux.HandleFunc("POST /datasets/{dataset_id}/export", api.handleExportSnapshot)

	mux.HandleFunc("GET /dataset-versions/{version_id}", api.handleGetDatasetVersion)

	mux.HandleFunc("GET /examples/{example_id}", api.handleResolveExample)
	mux.HandleFunc("GET /examples/{example_id}/revisions", api.handleListRevisions)
}

type createDatasetRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
}

func (api *datasetRegistryAPI) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	dataset, err := api.datasets.CreateDataset(r.Context(), datasets.CreateDatasetInput{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    httpapi.StampActor(r.Context(), req.Metadata, httpapi.MetaCreatedBy),
	})
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	api.logger.Info("dataset created", "dataset_id", dataset.ID, "name", dataset.Name)
	httpserver.WriteJSON(w, http.StatusCreated, httpapi.DatasetFrom(dataset))
}

func (api *datasetRegistryAPI) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	limit := httpapi.ClampInt(httpapi.ParseIntQuery(r, "limit", 100), 1, 500)
	list, err := api.datasets.ListDatasets(r.Context(), repo.DatasetFilter{Name: strings.TrimSpace(r.URL.Query().Get("name")), Limit: limit})
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	out := make([]httpapi.Dataset, 0, len(list))
	for _, d := range list {
		out = append(out, httpapi.DatasetFrom(d))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (api *datasetRegistryAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.DatasetFrom(dataset))
}

func (api *datasetRegistryAPI) handleListDatasetVersions(w http.ResponseWriter, r *http.Request) {
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	limit := httpapi.ClampInt(httpapi.ParseIntQuery(r, "limit", 100), 1, 500)
	versions, err := api.datasets.ListVersions(r.Context(), repo.DatasetVersionFilter{DatasetID: dataset.ID, Limit: limit})
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	out := make([]httpapi.DatasetVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, httpapi.DatasetVersionFrom(v))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"versions": out})
}

type changeRequest struct {
	Kind      string          `json:"kind"`
	ExampleID string          `json:"example_id,omitempty"`
	Input     domain.Object   `json:"input,omitempty"`
	Output    domain.Object   `json:"output,omitempty"`
	Metadata  domain.Metadata `json:"metadata,omitempty"`
}

type applyChangesRequest struct {
	Description string          `json:"description,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	Changes     []changeRequest `json:"changes"`
}

type changeSetResponse struct {
	Version   httpapi.DatasetVersion `json:"version"`
	Revisions []httpapi.Revision     `json:"revisions"`
}

func (api *datasetRegistryAPI) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	var req applyChangesRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	changes := make([]datasets.Change, 0, len(req.Changes))
	for i, c := range req.Changes {
		kind, ok := domain.ParseRevisionKind(c.Kind)
		if !ok {
			httpapi.WriteServiceError(w, r, api.logger, domain.Invalid("changes[%d].kind must be CREATE, PATCH or DELETE", i))
			return
		}
		changes = append(changes, datasets.Change{Kind: kind, ExampleID: c.ExampleID, Input: c.Input, Output: c.Output, Metadata: c.Metadata})
	}
	api.applyChanges(w, r, dataset, datasets.VersionInput{Description: req.Description, Metadata: req.Metadata}, changes)
}

// handleUploadDatasetVersion accepts a JSONL or CSV body and appends one CREATE
// revision per record in a new version.
func (api *datasetRegistryAPI) handleUploadDatasetVersion(w http.ResponseWriter, r *http.Request) {
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	mapping := datasets.KeyMapping{
		InputKeys:    httpapi.ListQuery(r, "input_keys"),
		OutputKeys:   httpapi.ListQuery(r, "output_keys"),
		MetadataKeys: httpapi.ListQuery(r, "metadata_keys"),
	}
	format := strings.ToLower(strings.TrimSpace(q.Get("format")))
	if format == "" {
		format = "jsonl"
		if strings.Contains(r.Header.Get("Content-Type"), "csv") {
			format = "csv"
		}
	}

	body := http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	var (
		changes []datasets.Change
		err     error
	)
	switch format {
	case "jsonl":
		changes, err = datasets.ParseJSONL(body, mapping)
	case "csv":
		changes, err = datasets.ParseCSV(body, mapping)
	default:
		httpserver.WriteError(w, r, http.StatusBadRequest, "format_unsupported", "format must be jsonl or csv")
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large", "")
			return
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			httpserver.WriteError(w, r, http.StatusBadRequest, "upload_truncated", "")
			return
		}
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	api.applyChanges(w, r, dataset, datasets.VersionInput{
		Description: strings.TrimSpace(q.Get("description")),
		Metadata:    domain.Metadata{"source": "upload", "format": format},
	}, changes)
}

func (api *datasetRegistryAPI) applyChanges(w http.ResponseWriter, r *http.Request, dataset domain.Dataset, in datasets.VersionInput, changes []datasets.Change) {
	in.Metadata = httpapi.StampActor(r.Context(), in.Metadata, httpapi.MetaCreatedBy)
	set, err := api.datasets.ApplyChanges(r.Context(), dataset.ID, in, changes)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	api.logger.Info("dataset version created", "dataset_id", dataset.ID, "version_id", set.Version.ID, "ordinal", set.Version.Ordinal, "revisions", len(set.Revisions))
	httpserver.WriteJSON(w, http.StatusCreated, changeSetResponse{
		Version:   httpapi.DatasetVersionFrom(set.Version),
		Revisions: httpapi.RevisionsFrom(set.Revisions),
	})
}

func (api *datasetRegistryAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	snapshot, err := api.datasets.Snapshot(r.Context(), dataset.ID, strings.TrimSpace(r.URL.Query().Get("version_id")))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.SnapshotFrom(snapshot))
}

func (api *datasetRegistryAPI) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	if api.exporter == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, httpapi.CodeUnavailable, "export is not configured")
		return
	}
	dataset, ok := api.findDataset(w, r)
	if !ok {
		return
	}
	snapshot, err := api.datasets.Snapshot(r.Context(), dataset.ID, strings.TrimSpace(r.URL.Query().Get("version_id")))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	res, err := api.exporter.ExportSnapshot(r.Context(), snapshot)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, res)
}

func (api *datasetRegistryAPI) handleGetDatasetVersion(w http.ResponseWriter, r *http.Request) {
	versionID := strings.TrimSpace(r.PathValue("version_id"))
	version, err := api.datasets.GetVersion(r.Context(), versionID)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.DatasetVersionFrom(version))
}

func (api *datasetRegistryAPI) handleResolveExample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rev, err := api.datasets.Resolve(r.Context(), r.PathValue("example_id"), datasets.ResolveOptions{
		VersionID:        strings.TrimSpace(q.Get("version_id")),
		DefaultVersionID: strings.TrimSpace(q.Get("default_version_id")),
	})
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, httpapi.RevisionFrom(rev))
}

func (api *datasetRegistryAPI) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := api.datasets.History(r.Context(), r.PathValue("example_id"))
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"revisions": httpapi.RevisionsFrom(revs)})
}

func (api *datasetRegistryAPI) findDataset(w http.ResponseWriter, r *http.Request) (domain.Dataset, bool) {
	idOrName := strings.TrimSpace(r.PathValue("dataset_id"))
	if idOrName == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "dataset_id_required", "")
		return domain.Dataset{}, false
	}
	dataset, err := api.datasets.FindDataset(r.Context(), idOrName)
	if err != nil {
		httpapi.WriteServiceError(w, r, api.logger, err)
		return domain.Dataset{}, false
	}
	return dataset, true
}
