// Package tasks provides task adapters usable from experiment spec files.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

const maxResponseBytes = 8 << 20

var ErrUnexpectedStatus = errors.New("task endpoint returned an unexpected status")

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("task endpoint error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("task endpoint error (status=%d): %s", e.StatusCode, body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// HTTPRequest is the body posted to an HTTP task endpoint.
type HTTPRequest struct {
	ExampleID  string         `json:"example_id"`
	Repetition int            `json:"repetition"`
	Input      map[string]any `json:"input"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// HTTPTask posts each example to an endpoint and uses the decoded JSON response as
// the task output. Non-JSON responses are returned as a string.
type HTTPTask struct {
	url     string
	method  string
	headers http.Header
	http    *http.Client
}

type HTTPConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration
	// OAuth2, when set, authenticates every call with a client credentials token.
	OAuth2 *OAuth2Config
	Client *http.Client
}

type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c OAuth2Config) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.TokenURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("oauth2 token url %q must be an absolute http(s) url", c.TokenURL)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("oauth2 client id is required")
	}
	return nil
}

func NewHTTPTask(cfg HTTPConfig) (*HTTPTask, error) {
	raw := strings.TrimSpace(cfg.URL)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("task url %q must be an absolute http(s) url", cfg.URL)
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return nil, fmt.Errorf("task method %q must be POST or PUT", cfg.Method)
	}
	headers := http.Header{}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.OAuth2 != nil {
		if err := cfg.OAuth2.validate(); err != nil {
			return nil, err
		}
		cc := clientcredentials.Config{
			ClientID:     strings.TrimSpace(cfg.OAuth2.ClientID),
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     strings.TrimSpace(cfg.OAuth2.TokenURL),
			Scopes:       cfg.OAuth2.Scopes,
		}
		// Token requests reuse the base client; the returned client caches tokens
		// until they expire.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		authed := cc.Client(tokenCtx)
		authed.Timeout = client.Timeout
		client = authed
	}
	return &HTTPTask{url: raw, method: method, headers: headers, http: client}, nil
}

func (t *HTTPTask) Run(ctx context.Context, example experiments.Example) (any, error) {
	body, err := json.Marshal(HTTPRequest{
		ExampleID:  example.ID,
		Repetition: example.Repetition,
		Input:      example.Input,
		Metadata:   example.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		return string(payload), nil
	}
	return out, nil
}
