// Package dispatch translates move and resize intents into the partial-update
// request each origin system expects, and sends them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/duration"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/observability"
)

var (
	ErrUnsupported = errors.New("event type has no write endpoint")
	ErrMissingKey  = errors.New("event is missing its origin key")
)

// Request is one partial update against an origin system. Path is relative to
// the backend base URL.
type Request struct {
	Source         contract.Source   `json:"source"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           map[string]string `json:"body"`
	IdempotencyKey string            `json:"idempotency_key"`
	EventID        string            `json:"event_id"`
}

func (r Request) JSON() ([]byte, error) {
	return json.Marshal(r.Body)
}

// Writer sends a request to its origin system.
type Writer interface {
	Write(ctx context.Context, req Request) error
}

// WriteError wraps a failed write with the request that caused it.
type WriteError struct {
	Request Request
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Request.Method, e.Request.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type strategy struct {
	source contract.Source
	key    string
	path   string
	encode func(in interact.Intent) map[string]string
}

var strategies = map[contract.EventType]strategy{
	contract.TypeExternalTask: {
		source: contract.SourceTasks,
		key:    contract.MetaTaskID,
		path:   "/tasks/%s",
		encode: encodeTask,
	},
	contract.TypeTimeBlock: {
		source: contract.SourceTimeBlocks,
		key:    contract.MetaSourceID,
		path:   "/time-blocks/%s",
		encode: encodeInterval,
	},
	contract.TypeBooking: {
		source: contract.SourceBookings,
		key:    contract.MetaSourceID,
		path:   "/bookings/%s",
		encode: encodeInterval,
	},
	contract.TypeWorkItem: {
		source: contract.SourceWorkItems,
		key:    contract.MetaSourceID,
		path:   "/work-items/%s",
		encode: func(in interact.Intent) map[string]string {
			start, _ := in.Times()
			return map[string]string{"dueDate": start.Format("2006-01-02")}
		},
	},
}

// encodeTask rewrites the start of a task. A move keeps the stored duration;
// untimed tasks only get a new date.
func encodeTask(in interact.Intent) map[string]string {
	start, end := in.Times()
	dur := in.Event.Meta(contract.MetaDuration)
	if in.Event.Meta(contract.MetaUntimed) != "" {
		body := map[string]string{"date": start.Format("2006-01-02")}
		if dur != "" {
			body["duration"] = dur
		}
		return body
	}
	if in.Kind != interact.KindMove || dur == "" {
		dur = duration.Format(end.Sub(start))
	}
	return map[string]string{
		"start":    start.Format(time.RFC3339),
		"duration": dur,
	}
}

func encodeInterval(in interact.Intent) map[string]string {
	start, end := in.Times()
	if in.Kind == interact.KindMove && in.Event.AllDay {
		if origStart, origEnd, ok := originSpan(in.Event); ok {
			days := dayDelta(in.Event.Start, start)
			start, end = origStart.AddDate(0, 0, days), origEnd.AddDate(0, 0, days)
		}
	}
	return map[string]string{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}
}

// originSpan returns the stored instants of an all-day interval in the
// event's location.
func originSpan(ev contract.CalendarEvent) (time.Time, time.Time, bool) {
	rs, re := ev.Meta(contract.MetaOriginStart), ev.Meta(contract.MetaOriginEnd)
	if rs == "" || re == "" {
		return time.Time{}, time.Time{}, false
	}
	s, err := time.Parse(time.RFC3339, rs)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	e, err := time.Parse(time.RFC3339, re)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	loc := ev.Start.Location()
	return s.In(loc), e.In(loc), true
}

func dayDelta(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Encode builds the request for an intent without sending it.
func Encode(in interact.Intent) (Request, error) {
	s, ok := strategies[in.Event.Type]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnsupported, in.Event.Type)
	}
	key := in.Event.Meta(s.key)
	if key == "" {
		return Request{}, fmt.Errorf("%w: %s has no %s", ErrMissingKey, in.Event.ID, s.key)
	}
	return Request{
		Source:  s.source,
		Method:  http.MethodPatch,
		Path:    fmt.Sprintf(s.path, key),
		Body:    s.encode(in),
		EventID: in.Event.ID,
	}, nil
}

// Entry is one journal line describing a dispatched change.
type Entry struct {
	ID        string             `json:"id"`
	EventID   string             `json:"event_id"`
	EventType contract.EventType `json:"event_type"`
	Kind      interact.Kind      `json:"kind"`
	Method    string             `json:"method"`
	Path      string             `json:"path"`
	Body      map[string]string  `json:"body"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Journal records dispatched changes.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

type Dispatcher struct {
	writer  Writer
	journal Journal
	now     func() time.Time
}

// New returns a dispatcher sending through w. journal may be nil.
func New(w Writer, journal Journal) *Dispatcher {
	return &Dispatcher{writer: w, journal: journal, now: time.Now}
}

// Dispatch encodes and sends an intent. Nothing is changed locally; callers
// re-fetch on success. A failed write is returned as *WriteError.
func (d *Dispatcher) Dispatch(ctx context.Context, in interact.Intent) (Request, error) {
	req, err := Encode(in)
	if err != nil {
		return Request{}, err
	}
	req.IdempotencyKey = uuid.NewString()

	err = d.writer.Write(ctx, req)
	observability.RecordMutation(string(in.Event.Type), string(in.Kind), err)

	entry := Entry{
		ID:        req.IdempotencyKey,
		EventID:   in.Event.ID,
		EventType: in.Event.Type,
		Kind:      in.Kind,
		Method:    req.Method,
		Path:      req.Path,
		Body:      req.Body,
		Status:    StatusOK,
		CreatedAt: d.now().UTC(),
	}
	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		log.Error("dispatch failed", err, "event", in.Event.ID, "path", req.Path)
	} else {
		log.Info("dispatched", "event", in.Event.ID, "path", req.Path, "kind", in.Kind)
	}
	if d.journal != nil {
		if jerr := d.journal.Record(ctx, entry); jerr != nil {
			log.Error("journal write failed", jerr, "event", in.Event.ID)
		}
	}

	if err != nil {
		return req, &WriteError{Request: req, Err: err}
	}
	return req, nil
}
