package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
)

func TestHTTPBackendFetchDecodesSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/calendar/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("from") != "2025-04-07T00:00:00Z" {
			t.Errorf("unexpected from %q", r.URL.Query().Get("from"))
		}
		_, _ = io.WriteString(w, `[{"id": 42, "title": "Boiler", "date": "2025-04-08", "time": "13:00", "duration": "1h", "project_id": 7}]`)
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(srv.URL+"/api/", srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPBackend: %v", err)
	}
	from := time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)
	batch, err := b.Fetch(context.Background(), contract.SourceTasks, FetchFilter{From: from, To: from.AddDate(0, 0, 7)})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch.ExternalTasks) != 1 || batch.ExternalTasks[0].ProjectID != 7 || batch.Len() != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestHTTPBackendWriteSendsPatchWithIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method != http.MethodPatch || r.URL.Path != "/tasks/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "key-1" {
			t.Errorf("missing idempotency key")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["duration"] != "1h" {
			t.Errorf("unexpected body %v (%v)", body, err)
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Setenv("TCAL_HTTP_RETRY_BACKOFF", "1ms")
	b, err := NewHTTPBackend(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPBackend: %v", err)
	}
	err = b.Write(context.Background(), dispatch.Request{
		Method:         http.MethodPatch,
		Path:           "/tasks/42",
		Body:           map[string]string{"start": "2025-04-08T15:00:00Z", "duration": "1h"},
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry after 503, got %d calls", calls.Load())
	}
}

func TestHTTPBackendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such task", http.StatusNotFound)
	}))
	defer srv.Close()

	b, _ := NewHTTPBackend(srv.URL, srv.Client())
	err := b.Write(context.Background(), dispatch.Request{Method: http.MethodPatch, Path: "/tasks/9", Body: map[string]string{}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound || serr.Body != "no such task" {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPBackendDirectoryAndDoctor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"teams":[{"id":"t1","name":"Field"}],"users":[{"id":"u1","name":"Ana"}],"memberships":{"t1":["u1"]}}`)
	}))
	defer srv.Close()

	b, _ := NewHTTPBackend(srv.URL, srv.Client())
	dir, err := b.Directory(context.Background())
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(dir.Teams) != 1 || dir.Memberships["t1"][0] != "u1" {
		t.Fatalf("unexpected directory %+v", dir)
	}
	checks, err := b.Doctor(context.Background())
	if err != nil || len(checks) != 2 || checks[1].Status != "ok" {
		t.Fatalf("unexpected doctor result %+v %v", checks, err)
	}
}

func TestNewHTTPBackendValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewHTTPBackend(raw, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestHTTPRetryPolicyFromEnv(t *testing.T) {
	t.Setenv("TCAL_HTTP_RETRIES", "3")
	t.Setenv("TCAL_HTTP_RETRY_BACKOFF", "150ms")
	retries, backoff := httpRetryPolicy()
	if retries != 3 || backoff != 150*time.Millisecond {
		t.Fatalf("unexpected policy %d %s", retries, backoff)
	}
	t.Setenv("TCAL_HTTP_RETRIES", "99")
	if retries, _ := httpRetryPolicy(); retries != defaultHTTPRetries {
		t.Fatalf("out of range retries should fall back, got %d", retries)
	}
}

func TestIsTransientHTTPError(t *testing.T) {
	if !isTransientHTTPError(&StatusError{Code: 502}) || !isTransientHTTPError(&StatusError{Code: 429}) {
		t.Fatalf("expected 5xx and 429 to be transient")
	}
	if isTransientHTTPError(&StatusError{Code: 422}) || isTransientHTTPError(context.Canceled) || isTransientHTTPError(nil) {
		t.Fatalf("unexpected transient classification")
	}
}
