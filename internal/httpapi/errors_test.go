package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/platform/auth"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"deleted", &domain.NotFoundError{ExampleID: "e", Reason: domain.NotFoundDeleted}, http.StatusNotFound, CodeRevisionNotFound},
		{"no revision", fmt.Errorf("resolve: %w", &domain.NotFoundError{Reason: domain.NotFoundNoRevision}), http.StatusNotFound, CodeRevisionNotFound},
		{"unknown example", &domain.NotFoundError{Reason: domain.NotFoundUnknownExample}, http.StatusNotFound, CodeExampleNotFound},
		{"unknown version", &domain.UnknownVersionError{VersionID: "v"}, http.StatusNotFound, CodeUnknownVersion},
		{"validation", domain.Invalid("bad %s", "input"), http.StatusBadRequest, CodeInvalidRequest},
		{"conflict", fmt.Errorf("insert: %w", domain.ErrConflict), http.StatusConflict, CodeConflict},
		{"missing", fmt.Errorf("experiment x: %w", domain.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, CodeCanceled},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := Status(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%s: Status()=%d,%q want %d,%q", tc.name, status, code, tc.status, tc.code)
		}
	}
}

func TestWriteServiceErrorHidesInternalMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	WriteServiceError(rec, req, nil, fmt.Errorf("dial tcp 10.0.0.1: refused"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "10.0.0.1") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteServiceError(rec, req, nil, domain.Invalid("name is required"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "name is required") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/?limit=900&ids=a,b&ids=c&bad=x", nil)
	if got := ClampInt(ParseIntQuery(req, "limit", 100), 1, 500); got != 500 {
		t.Fatalf("limit=%d, want 500", got)
	}
	if got := ParseIntQuery(req, "bad", 7); got != 7 {
		t.Fatalf("bad=%d, want default 7", got)
	}
	if got := ListQuery(req, "ids"); strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("ids=%v", got)
	}
}

func TestStampActor(t *testing.T) {
	meta := domain.Metadata{"source": "upload"}
	if got := StampActor(context.Background(), meta, MetaCreatedBy); len(got) != 1 {
		t.Fatalf("anonymous stamp=%v", got)
	}
	ctx := auth.ContextWithIdentity(context.Background(), auth.Identity{Subject: "alice"})
	got := StampActor(ctx, meta, MetaCreatedBy)
	if got[MetaCreatedBy] != "alice" || got["source"] != "upload" {
		t.Fatalf("stamp=%v", got)
	}
	if _, ok := meta[MetaCreatedBy]; ok {
		t.Fatalf("input metadata was modified")
	}
	if got := StampActor(ctx, nil, MetaAnnotatedBy); got[MetaAnnotatedBy] != "alice" {
		t.Fatalf("stamp on nil=%v", got)
	}
}
