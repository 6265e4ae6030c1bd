package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/httpapi"
	"github.com/animus-labs/animus-evals/internal/platform/auth"
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/repo/memory"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

type fakeExporter struct {
	ids []string
}

func (f *fakeExporter) ExportExperiment(ctx context.Context, experimentID string) (export.Result, error) {
	f.ids = append(f.ids, experimentID)
	return export.Result{Bucket: "experiments", Key: "experiments/" + experimentID + ".jsonl"}, nil
}

type testServer struct {
	handler  http.Handler
	datasets *datasets.Service
	exporter *fakeExporter
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	return newAuthTestServer(t, nil)
}

func newAuthTestServer(t *testing.T, authn auth.Authenticator) testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	ds := datasets.New(store.Datasets(), store.Examples(), logger)
	svc, err := experiments.New(store.Experiments(), store.Runs(), store.Annotations(), ds, experiments.DefaultConfig(), experiments.Options{Logger: logger})
	if err != nil {
		t.Fatalf("experiments.New() err=%v", err)
	}
	exporter := &fakeExporter{}
	mux := http.NewServeMux()
	newExperimentsAPI(logger, ds, svc, exporter).register(mux)

	ctx := context.Background()
	dataset, err := ds.CreateDataset(ctx, datasets.CreateDatasetInput{Name: "capitals"})
	if err != nil {
		t.Fatalf("CreateDataset() err=%v", err)
	}
	if _, err := ds.ApplyChanges(ctx, dataset.ID, datasets.VersionInput{}, []datasets.Change{
		{Kind: domain.RevisionCreate, Input: domain.Object{"q": "France"}, Output: domain.Object{"answer": "Paris"}},
		{Kind: domain.RevisionCreate, Input: domain.Object{"q": "Spain"}, Output: domain.Object{"answer": "Madrid"}},
	}); err != nil {
		t.Fatalf("ApplyChanges() err=%v", err)
	}
	protected := auth.Middleware{Logger: logger, Authenticator: authn}.Wrap(mux)
	return testServer{handler: httpserver.Wrap(logger, serviceName, nil, protected), datasets: ds, exporter: exporter}
}

func (s testServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, "http://example.test"+path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

const referenceSpec = `
schema: animus.experiment.v1
dataset: capitals
name: baseline
repetitions: 3
task:
  type: reference
evaluators:
  - name: exact
    type: json_equal
`

func TestRunEvaluateAndSummarize(t *testing.T) {
	s := newTestServer(t)

	var created runExperimentResponse
	if code := s.do(t, http.MethodPost, "/experiments", referenceSpec, &created); code != http.StatusCreated {
		t.Fatalf("run status=%d", code)
	}
	if created.Runs != 6 || created.FailedRuns != 0 || created.Experiment.SequenceNumber != 1 || len(created.Evaluations) != 1 {
		t.Fatalf("run body=%+v", created)
	}
	id := created.Experiment.ExperimentID

	var second runExperimentResponse
	if code := s.do(t, http.MethodPost, "/experiments", referenceSpec, &second); code != http.StatusCreated || second.Experiment.SequenceNumber != 2 {
		t.Fatalf("second run status=%d seq=%d", code, second.Experiment.SequenceNumber)
	}

	var runs struct {
		Runs []httpapi.Run `json:"runs"`
	}
	if code := s.do(t, http.MethodGet, "/experiments/"+id+"/runs", "", &runs); code != http.StatusOK || len(runs.Runs) != 6 {
		t.Fatalf("runs status=%d count=%d", code, len(runs.Runs))
	}

	var evaluated struct {
		Evaluations []evaluationResponse `json:"evaluations"`
	}
	body := `{"evaluators":[{"name":"mentions-paris","type":"contains","value":"Paris","key":"answer"}]}`
	if code := s.do(t, http.MethodPost, "/experiments/"+id+"/evaluations", body, &evaluated); code != http.StatusCreated {
		t.Fatalf("evaluate status=%d", code)
	}
	if len(evaluated.Evaluations) != 1 || evaluated.Evaluations[0].Annotations != 6 {
		t.Fatalf("evaluate body=%+v", evaluated)
	}

	var annotation httpapi.Annotation
	score := `{"name":"review","label":"ok","score":1}`
	if code := s.do(t, http.MethodPost, "/runs/"+runs.Runs[0].RunID+"/annotations", score, &annotation); code != http.StatusCreated || annotation.AnnotatorKind != "HUMAN" {
		t.Fatalf("annotate status=%d body=%+v", code, annotation)
	}
	var missingRun struct {
		Error string `json:"error"`
	}
	if code := s.do(t, http.MethodPost, "/runs/nope/annotations", score, &missingRun); code != http.StatusNotFound || missingRun.Error != "run_not_found" {
		t.Fatalf("annotate missing status=%d body=%+v", code, missingRun)
	}

	var summary httpapi.Summary
	if code := s.do(t, http.MethodGet, "/experiments/"+id+"/summary", "", &summary); code != http.StatusOK {
		t.Fatalf("summary status=%d", code)
	}
	if summary.RunCount != 6 || len(summary.Annotations) != 3 {
		t.Fatalf("summary=%+v", summary)
	}
	for _, a := range summary.Annotations {
		if a.Name == "mentions-paris" && (a.MeanScore == nil || *a.MeanScore != 0.5) {
			t.Fatalf("mentions-paris summary=%+v", a)
		}
	}

	var comparison httpapi.Comparison
	if code := s.do(t, http.MethodGet, "/comparisons?experiment_id="+id+","+second.Experiment.ExperimentID, "", &comparison); code != http.StatusOK {
		t.Fatalf("compare status=%d", code)
	}
	if len(comparison.Rows) != 2 || len(comparison.Rows[0].Runs[id]) != 3 || len(comparison.Rows[0].Runs[second.Experiment.ExperimentID]) != 3 {
		t.Fatalf("comparison rows=%+v", comparison.Rows)
	}

	var list struct {
		Experiments []httpapi.Experiment `json:"experiments"`
	}
	if code := s.do(t, http.MethodGet, "/experiments?dataset=capitals", "", &list); code != http.StatusOK || len(list.Experiments) != 2 {
		t.Fatalf("list status=%d count=%d", code, len(list.Experiments))
	}

	if code := s.do(t, http.MethodPost, "/experiments/"+id+"/export", "", nil); code != http.StatusCreated || len(s.exporter.ids) != 1 {
		t.Fatalf("export status=%d calls=%v", code, s.exporter.ids)
	}
}

func TestRunRejectsInvalidSpecs(t *testing.T) {
	s := newTestServer(t)
	var bad struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if code := s.do(t, http.MethodPost, "/experiments", "schema: animus.experiment.v1\nname: x\n", &bad); code != http.StatusBadRequest || bad.Error != "invalid_spec" {
		t.Fatalf("status=%d body=%+v", code, bad)
	}

	missing := strings.Replace(referenceSpec, "dataset: capitals", "dataset: unknown", 1)
	if code := s.do(t, http.MethodPost, "/experiments", missing, nil); code != http.StatusNotFound {
		t.Fatalf("unknown dataset status=%d", code)
	}

	pinned := strings.Replace(referenceSpec, "dataset: capitals", "dataset: capitals\nversion: bogus", 1)
	var unknown struct {
		Error string `json:"error"`
	}
	if code := s.do(t, http.MethodPost, "/experiments", pinned, &unknown); code != http.StatusNotFound || unknown.Error != httpapi.CodeUnknownVersion {
		t.Fatalf("unknown version status=%d body=%+v", code, unknown)
	}

	if code := s.do(t, http.MethodPost, "/experiments/nope/evaluations", `{"evaluators":[{"name":"e","type":"json_equal"}]}`, nil); code != http.StatusNotFound {
		t.Fatalf("evaluate missing experiment status=%d", code)
	}
	if code := s.do(t, http.MethodPost, "/experiments/nope/evaluations", `{"evaluators":[{"name":"e","type":"regex","value":"("}]}`, nil); code != http.StatusBadRequest {
		t.Fatalf("evaluate bad regex status=%d", code)
	}
	if code := s.do(t, http.MethodGet, "/comparisons", "", nil); code != http.StatusBadRequest {
		t.Fatalf("compare without ids status=%d", code)
	}
}

func TestRecordsCallerIdentity(t *testing.T) {
	s := newAuthTestServer(t, auth.StaticAuthenticator{Identity: auth.Identity{Subject: "alice", Roles: []string{auth.RoleEditor}}})

	var created runExperimentResponse
	if code := s.do(t, http.MethodPost, "/experiments", referenceSpec, &created); code != http.StatusCreated {
		t.Fatalf("run status=%d", code)
	}
	if created.Experiment.Metadata[httpapi.MetaCreatedBy] != "alice" {
		t.Fatalf("experiment metadata=%v", created.Experiment.Metadata)
	}
	var runs struct {
		Runs []httpapi.Run `json:"runs"`
	}
	s.do(t, http.MethodGet, "/experiments/"+created.Experiment.ExperimentID+"/runs", "", &runs)
	var annotation httpapi.Annotation
	if code := s.do(t, http.MethodPost, "/runs/"+runs.Runs[0].RunID+"/annotations", `{"name":"review","label":"ok"}`, &annotation); code != http.StatusCreated {
		t.Fatalf("annotate status=%d", code)
	}
	if annotation.Metadata[httpapi.MetaAnnotatedBy] != "alice" {
		t.Fatalf("annotation metadata=%v", annotation.Metadata)
	}

	viewer := newAuthTestServer(t, auth.StaticAuthenticator{Identity: auth.Identity{Subject: "vera", Roles: []string{auth.RoleViewer}}})
	if code := viewer.do(t, http.MethodPost, "/experiments", referenceSpec, nil); code != http.StatusForbidden {
		t.Fatalf("viewer run status=%d, want 403", code)
	}
	if code := viewer.do(t, http.MethodGet, "/experiments", "", nil); code != http.StatusOK {
		t.Fatalf("viewer list status=%d, want 200", code)
	}
}
