package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/normalize"
)

const (
	defaultHTTPRetries = 1
	defaultHTTPBackoff = 200 * time.Millisecond
	maxErrorBody       = 512
)

// StatusError is a non-2xx response from an origin system.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type HTTPBackend struct {
	baseURL *url.URL
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPBackend(baseURL string, client *http.Client) (*HTTPBackend, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, fmt.Errorf("base_url is required for the http backend")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base_url: %s", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	retries, backoff := httpRetryPolicy()
	return &HTTPBackend{baseURL: u, client: client, retries: retries, backoff: backoff}, nil
}

func httpRetryPolicy() (int, time.Duration) {
	retries := defaultHTTPRetries
	backoff := defaultHTTPBackoff
	if v := strings.TrimSpace(os.Getenv("TCAL_HTTP_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 5 {
			retries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TCAL_HTTP_RETRY_BACKOFF")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 && d <= 5*time.Second {
			backoff = d
		}
	}
	return retries, backoff
}

func (b *HTTPBackend) endpoint(path string, query url.Values) string {
	u := *b.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (b *HTTPBackend) Doctor(ctx context.Context) ([]contract.DoctorCheck, error) {
	checks := []contract.DoctorCheck{{Name: "base_url", Status: "ok", Message: b.baseURL.String()}}
	if _, err := b.Directory(ctx); err != nil {
		checks = append(checks, contract.DoctorCheck{Name: "backend_reachable", Status: "fail", Message: err.Error()})
		return checks, err
	}
	checks = append(checks, contract.DoctorCheck{Name: "backend_reachable", Status: "ok", Message: "filters endpoint answered"})
	return checks, nil
}

func (b *HTTPBackend) Fetch(ctx context.Context, src contract.Source, f FetchFilter) (normalize.Batch, error) {
	q := url.Values{}
	q.Set("from", f.From.Format(time.RFC3339))
	q.Set("to", f.To.Format(time.RFC3339))
	body, err := b.do(ctx, http.MethodGet, b.endpoint("/calendar/"+string(src), q), nil, "")
	if err != nil {
		return normalize.Batch{}, err
	}
	return decodeSource(src, body)
}

func decodeSource(src contract.Source, body []byte) (normalize.Batch, error) {
	var batch normalize.Batch
	var target any
	switch src {
	case contract.SourceTasks:
		target = &batch.ExternalTasks
	case contract.SourceWorkItems:
		target = &batch.WorkItems
	case contract.SourceLeave:
		target = &batch.Leave
	case contract.SourceHolidays:
		target = &batch.Holidays
	case contract.SourceTimeBlocks:
		target = &batch.TimeBlocks
	case contract.SourceBookings:
		target = &batch.Bookings
	default:
		return batch, fmt.Errorf("unknown source: %s", src)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return normalize.Batch{}, fmt.Errorf("decode %s: %w", src, err)
	}
	return batch, nil
}

func (b *HTTPBackend) Directory(ctx context.Context) (contract.Directory, error) {
	body, err := b.do(ctx, http.MethodGet, b.endpoint("/calendar/filters", nil), nil, "")
	if err != nil {
		return contract.Directory{}, err
	}
	var dir contract.Directory
	if err := json.Unmarshal(body, &dir); err != nil {
		return contract.Directory{}, fmt.Errorf("decode filters: %w", err)
	}
	return dir, nil
}

// Write sends a partial update. Retries reuse the request's idempotency key.
func (b *HTTPBackend) Write(ctx context.Context, req dispatch.Request) error {
	payload, err := req.JSON()
	if err != nil {
		return err
	}
	_, err = b.do(ctx, req.Method, b.endpoint(req.Path, nil), payload, req.IdempotencyKey)
	return err
}

func (b *HTTPBackend) do(ctx context.Context, method, target string, payload []byte, idempotencyKey string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			log.Debug("retrying request", "method", method, "url", target, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.backoff * time.Duration(attempt)):
			}
		}
		body, err := b.once(ctx, method, target, payload, idempotencyKey)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTransientHTTPError(err) {
			break
		}
	}
	return nil, lastErr
}

func (b *HTTPBackend) once(ctx context.Context, method, target string, payload []byte, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		serr := &StatusError{Code: resp.StatusCode, Body: msg}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, serr)
		}
		return nil, serr
	}
	return body, nil
}

func isTransientHTTPError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Code == http.StatusTooManyRequests || serr.Code >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr)
}
