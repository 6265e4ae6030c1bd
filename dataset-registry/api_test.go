package main

import (
	"bytes"
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
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/repo/memory"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

type fakeExporter struct {
	snapshots []domain.Snapshot
}

func (f *fakeExporter) ExportSnapshot(ctx context.Context, snapshot domain.Snapshot) (export.Result, error) {
	f.snapshots = append(f.snapshots, snapshot)
	return export.Result{Bucket: "datasets", Key: export.SnapshotKey(snapshot), Lines: len(snapshot.Examples)}, nil
}

type testServer struct {
	handler  http.Handler
	exporter *fakeExporter
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	exporter := &fakeExporter{}
	api := newDatasetRegistryAPI(logger, datasets.New(store.Datasets(), store.Examples(), logger), exporter, 1<<20)
	mux := http.NewServeMux()
	api.register(mux)
	return testServer{handler: httpserver.Wrap(logger, serviceName, nil, mux), exporter: exporter}
}

func (s testServer) do(t *testing.T, method, path string, body string, out any) int {
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

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type changeSetBody struct {
	Version   httpapi.DatasetVersion `json:"version"`
	Revisions []httpapi.Revision     `json:"revisions"`
}

func TestDatasetLifecycle(t *testing.T) {
	s := newTestServer(t)

	var ds httpapi.Dataset
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"capitals","metadata":{"team":"evals"}}`, &ds); code != http.StatusCreated {
		t.Fatalf("create status=%d", code)
	}
	var conflict errorBody
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"capitals"}`, &conflict); code != http.StatusConflict || conflict.Error != httpapi.CodeConflict {
		t.Fatalf("duplicate status=%d body=%+v", code, conflict)
	}

	var v1 changeSetBody
	code := s.do(t, http.MethodPost, "/datasets/capitals/versions", `{"changes":[
		{"kind":"CREATE","input":{"q":"France"},"output":{"a":"Paris"}},
		{"kind":"create","input":{"q":"Spain"},"output":{"a":"Madrid"}}
	]}`, &v1)
	if code != http.StatusCreated || v1.Version.Ordinal != 1 || len(v1.Revisions) != 2 {
		t.Fatalf("v1 status=%d body=%+v", code, v1)
	}
	france, spain := v1.Revisions[0].ExampleID, v1.Revisions[1].ExampleID

	var v2 changeSetBody
	body := `{"description":"fix","changes":[{"kind":"PATCH","example_id":"` + france + `","input":{"q":"France"},"output":{"a":"Paris, FR"}},{"kind":"DELETE","example_id":"` + spain + `"}]}`
	if code := s.do(t, http.MethodPost, "/datasets/"+ds.DatasetID+"/versions", body, &v2); code != http.StatusCreated {
		t.Fatalf("v2 status=%d", code)
	}

	var rev httpapi.Revision
	if code := s.do(t, http.MethodGet, "/examples/"+france+"?version_id="+v1.Version.VersionID, "", &rev); code != http.StatusOK || rev.Output["a"] != "Paris" {
		t.Fatalf("resolve v1 status=%d rev=%+v", code, rev)
	}
	var gone errorBody
	if code := s.do(t, http.MethodGet, "/examples/"+spain, "", &gone); code != http.StatusNotFound || gone.Error != httpapi.CodeRevisionNotFound {
		t.Fatalf("resolve deleted status=%d body=%+v", code, gone)
	}
	var missing errorBody
	if code := s.do(t, http.MethodGet, "/examples/nope", "", &missing); code != http.StatusNotFound || missing.Error != httpapi.CodeExampleNotFound {
		t.Fatalf("resolve unknown status=%d body=%+v", code, missing)
	}
	var unknown errorBody
	if code := s.do(t, http.MethodGet, "/examples/"+france+"?version_id=bogus", "", &unknown); code != http.StatusNotFound || unknown.Error != httpapi.CodeUnknownVersion {
		t.Fatalf("resolve bogus version status=%d body=%+v", code, unknown)
	}

	var snap httpapi.Snapshot
	if code := s.do(t, http.MethodGet, "/datasets/capitals/snapshot", "", &snap); code != http.StatusOK || len(snap.Examples) != 1 || snap.Version.Ordinal != 2 {
		t.Fatalf("snapshot status=%d body=%+v", code, snap)
	}
	var old httpapi.Snapshot
	if code := s.do(t, http.MethodGet, "/datasets/capitals/snapshot?version_id="+v1.Version.VersionID, "", &old); code != http.StatusOK || len(old.Examples) != 2 {
		t.Fatalf("snapshot v1 status=%d examples=%d", code, len(old.Examples))
	}

	var history struct {
		Revisions []httpapi.Revision `json:"revisions"`
	}
	if code := s.do(t, http.MethodGet, "/examples/"+spain+"/revisions", "", &history); code != http.StatusOK || len(history.Revisions) != 2 || history.Revisions[1].Kind != "DELETE" {
		t.Fatalf("history status=%d body=%+v", code, history)
	}

	var versions struct {
		Versions []httpapi.DatasetVersion `json:"versions"`
	}
	if code := s.do(t, http.MethodGet, "/datasets/capitals/versions", "", &versions); code != http.StatusOK || len(versions.Versions) != 2 {
		t.Fatalf("versions status=%d body=%+v", code, versions)
	}

	var exported export.Result
	if code := s.do(t, http.MethodPost, "/datasets/capitals/export", "", &exported); code != http.StatusCreated || exported.Lines != 1 {
		t.Fatalf("export status=%d body=%+v", code, exported)
	}
	if len(s.exporter.snapshots) != 1 {
		t.Fatalf("exporter calls=%d", len(s.exporter.snapshots))
	}
}

func TestUploadJSONLAndCSV(t *testing.T) {
	s := newTestServer(t)
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"qa"}`, nil); code != http.StatusCreated {
		t.Fatalf("create status=%d", code)
	}

	var jsonl changeSetBody
	lines := `{"input":{"q":"1+1"},"output":{"a":"2"}}` + "\n" + `{"input":{"q":"2+2"},"output":{"a":"4"}}` + "\n"
	if code := s.do(t, http.MethodPost, "/datasets/qa/versions/upload?format=jsonl", lines, &jsonl); code != http.StatusCreated || len(jsonl.Revisions) != 2 {
		t.Fatalf("jsonl status=%d body=%+v", code, jsonl)
	}

	var csv changeSetBody
	rows := "question,answer,source\n3+3,6,book\n"
	if code := s.do(t, http.MethodPost, "/datasets/qa/versions/upload?format=csv&input_keys=question&output_keys=answer&metadata_keys=source", rows, &csv); code != http.StatusCreated {
		t.Fatalf("csv status=%d", code)
	}
	if len(csv.Revisions) != 1 || csv.Revisions[0].Input["question"] != "3+3" || csv.Version.Ordinal != 2 {
		t.Fatalf("csv body=%+v", csv)
	}

	var bad errorBody
	if code := s.do(t, http.MethodPost, "/datasets/qa/versions/upload?format=xml", "<x/>", &bad); code != http.StatusBadRequest {
		t.Fatalf("xml status=%d", code)
	}
}

func TestRejectsMalformedRequests(t *testing.T) {
	s := newTestServer(t)
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"a","extra":1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d", code)
	}
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"a"} {"name":"b"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("extra value status=%d", code)
	}
	if code := s.do(t, http.MethodPost, "/datasets", `{"name":"a"}`, nil); code != http.StatusCreated {
		t.Fatalf("create status=%d", code)
	}
	var empty errorBody
	if code := s.do(t, http.MethodPost, "/datasets/a/versions", `{"changes":[]}`, &empty); code != http.StatusBadRequest || empty.Error != httpapi.CodeInvalidRequest {
		t.Fatalf("empty changes status=%d body=%+v", code, empty)
	}
	if code := s.do(t, http.MethodPost, "/datasets/a/versions", `{"changes":[{"kind":"RENAME"}]}`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad kind status=%d", code)
	}
	if code := s.do(t, http.MethodGet, "/datasets/missing", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing dataset status=%d", code)
	}
}

func TestExportUnavailableWithoutExporter(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	api := newDatasetRegistryAPI(logger, datasets.New(store.Datasets(), store.Examples(), logger), nil, 0)
	mux := http.NewServeMux()
	api.register(mux)

	req := httptest.NewRequest(http.MethodPost, "http://example.test/datasets/x/export", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}
