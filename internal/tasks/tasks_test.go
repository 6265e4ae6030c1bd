package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

func TestHTTPTaskPostsExample(t *testing.T) {
	var got HTTPRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing configured header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"hello"}`))
	}))
	defer srv.Close()

	task, err := NewHTTPTask(HTTPConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer secret"}})
	if err != nil {
		t.Fatalf("NewHTTPTask() err=%v", err)
	}
	out, err := task.Run(context.Background(), experiments.Example{ID: "ex-1", Repetition: 2, Input: domain.Object{"q": "hi"}})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if got.ExampleID != "ex-1" || got.Repetition != 2 || got.Input["q"] != "hi" {
		t.Fatalf("request = %+v", got)
	}
	m, ok := out.(map[string]any)
	if !ok || m["output"] != "hello" {
		t.Fatalf("output = %#v", out)
	}
}

func TestHTTPTaskPlainTextAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("plain answer"))
	}))
	defer srv.Close()

	task, err := NewHTTPTask(HTTPConfig{URL: srv.URL + "/ok"})
	if err != nil {
		t.Fatalf("NewHTTPTask() err=%v", err)
	}
	out, err := task.Run(context.Background(), experiments.Example{ID: "ex"})
	if err != nil || out != "plain answer" {
		t.Fatalf("Run() = %#v err=%v", out, err)
	}

	failing, err := NewHTTPTask(HTTPConfig{URL: srv.URL + "/fail"})
	if err != nil {
		t.Fatalf("NewHTTPTask() err=%v", err)
	}
	_, err = failing.Run(context.Background(), experiments.Example{ID: "ex"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable || !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("Run() err=%v, want status error", err)
	}
}

func TestNewHTTPTaskValidates(t *testing.T) {
	if _, err := NewHTTPTask(HTTPConfig{URL: "not a url"}); err == nil {
		t.Fatalf("NewHTTPTask() expected error for relative url")
	}
	if _, err := NewHTTPTask(HTTPConfig{URL: "http://localhost", Method: "DELETE"}); err == nil {
		t.Fatalf("NewHTTPTask() expected error for DELETE")
	}
}

func TestReferenceTaskEchoesReference(t *testing.T) {
	ref := domain.Object{"answer": "42"}
	out, err := Reference{}.Run(context.Background(), experiments.Example{Reference: ref})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	m := out.(map[string]any)
	m["answer"] = "changed"
	if ref["answer"] != "42" {
		t.Fatalf("reference mutated through task output")
	}
}

func TestHTTPTaskClientCredentials(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type=%q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("POST /task", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			http.Error(w, "bad token "+got, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	task, err := NewHTTPTask(HTTPConfig{
		URL:    srv.URL + "/task",
		OAuth2: &OAuth2Config{TokenURL: srv.URL + "/token", ClientID: "evals", ClientSecret: "s3cret", Scopes: []string{"tasks"}},
	})
	if err != nil {
		t.Fatalf("NewHTTPTask() err=%v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := task.Run(context.Background(), experiments.Example{ID: "ex-1", Repetition: i + 1, Input: domain.Object{}}); err != nil {
			t.Fatalf("Run() err=%v", err)
		}
	}
	if tokenCalls != 1 {
		t.Fatalf("token requests=%d, want 1", tokenCalls)
	}

	if _, err := NewHTTPTask(HTTPConfig{URL: srv.URL, OAuth2: &OAuth2Config{TokenURL: "token", ClientID: "evals"}}); err == nil {
		t.Fatalf("relative token url expected error")
	}
}
