// Package server exposes the calendar engine over HTTP for a browser front
// end or other tooling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
)

// Handler serves the timeline, view state and gesture endpoints.
type Handler struct {
	engine *calendar.Engine
	loc    *time.Location
}

// NewHandler builds a Handler. Dates in requests are read in loc.
func NewHandler(engine *calendar.Engine, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{engine: engine, loc: loc}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/timeline", h.timeline)
	mux.HandleFunc("GET /v1/state", h.getState)
	mux.HandleFunc("PUT /v1/state", h.putState)
	mux.HandleFunc("POST /v1/events/{id}/move", h.move)
	mux.HandleFunc("POST /v1/events/{id}/resize", h.resize)
	mux.HandleFunc("GET /v1/filters", h.filters)
	mux.HandleFunc("/healthz", healthz)
}

// LogRequests logs method, path and duration of every request.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).String())
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	tl, err := h.current(r.Context(), force)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// current returns the timeline, fetching when the window is not loaded yet.
func (h *Handler) current(ctx context.Context, force bool) (calendar.Timeline, error) {
	tl := h.engine.Timeline()
	if tl.Loaded && !force {
		return tl, nil
	}
	tl, err := h.engine.Refresh(ctx)
	if errors.Is(err, calendar.ErrStale) {
		return tl, nil
	}
	return tl, err
}

type stateView struct {
	viewstate.State
	Window window.Window `json:"window"`
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	tl := h.engine.Timeline()
	writeJSON(w, http.StatusOK, stateView{State: tl.State, Window: tl.Window})
}

// StateRequest is a partial view state change. Absent fields are left alone.
type StateRequest struct {
	Mode         string          `json:"mode,omitempty"`
	Anchor       string          `json:"anchor,omitempty"`
	Step         int             `json:"step,omitempty"`
	Today        bool            `json:"today,omitempty"`
	TeamID       *string         `json:"team_id,omitempty"`
	UserID       *string         `json:"user_id,omitempty"`
	ProjectID    *string         `json:"project_id,omitempty"`
	Hidden       map[string]bool `json:"hidden,omitempty"`
	ShowWeekends *bool           `json:"show_weekends,omitempty"`
}

func (h *Handler) putState(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	apply, err := h.stateChange(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if _, err := h.engine.Update(r.Context(), apply); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	tl, err := h.current(r.Context(), false)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// stateChange validates req and returns the mutation to run under the engine
// lock. Team membership is fetched here, before the lock is taken. The whole
// change is saved at once.
func (h *Handler) stateChange(ctx context.Context, req StateRequest) (func(context.Context, *viewstate.Store) error, error) {
	var c viewstate.Change
	if req.Mode != "" {
		m, err := window.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		c.Mode = &m
	}
	if req.Anchor != "" {
		ts, err := timeparse.ParseDate(req.Anchor, h.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid anchor: %w", err)
		}
		c.Anchor = &ts
	}
	c.Today = req.Today
	c.Step = req.Step
	if len(req.Hidden) > 0 {
		c.Hidden = map[filter.Group]bool{}
		for name, v := range req.Hidden {
			g, err := filter.ParseGroup(name)
			if err != nil {
				return nil, err
			}
			c.Hidden[g] = v
		}
	}
	if req.TeamID != nil {
		c.TeamID = req.TeamID
		c.Membership = h.engine.Membership(ctx)
	}
	c.UserID = req.UserID
	c.ProjectID = req.ProjectID
	c.ShowWeekends = req.ShowWeekends

	return func(ctx context.Context, st *viewstate.Store) error {
		return st.Apply(ctx, c)
	}, nil
}

// GestureRequest is a drop location plus, for resizes, the edge.
type GestureRequest struct {
	Date   string `json:"date"`
	Hour   *int   `json:"hour,omitempty"`
	Minute int    `json:"minute,omitempty"`
	Edge   string `json:"edge,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

func (g GestureRequest) target(loc *time.Location) (interact.Target, error) {
	if g.Date == "" {
		return interact.Target{}, errors.New("date is required")
	}
	day, err := timeparse.ParseDate(g.Date, loc)
	if err != nil {
		return interact.Target{}, fmt.Errorf("invalid date: %w", err)
	}
	if g.Hour == nil {
		return interact.DayTarget(day), nil
	}
	return interact.SlotTarget(day, *g.Hour, g.Minute), nil
}

func (h *Handler) decodeGesture(w http.ResponseWriter, r *http.Request) (GestureRequest, interact.Target, bool) {
	var req GestureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return req, interact.Target{}, false
	}
	target, err := req.target(h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return req, interact.Target{}, false
	}
	if _, err := h.current(r.Context(), false); err != nil {
		writeEngineError(w, err)
		return req, interact.Target{}, false
	}
	return req, target, true
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	req, target, ok := h.decodeGesture(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Move(r.Context(), r.PathValue("id"), target, req.DryRun)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) resize(w http.ResponseWriter, r *http.Request) {
	req, target, ok := h.decodeGesture(w, r)
	if !ok {
		return
	}
	edge, err := interact.ParseEdge(req.Edge)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := h.engine.Resize(r.Context(), r.PathValue("id"), edge, target, req.DryRun)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) filters(w http.ResponseWriter, r *http.Request) {
	dir, err := h.engine.Directory(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

func writeEngineError(w http.ResponseWriter, err error) {
	var werr *dispatch.WriteError
	switch {
	case interact.IsValidation(err),
		errors.Is(err, dispatch.ErrUnsupported),
		errors.Is(err, dispatch.ErrMissingKey):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, calendar.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &werr):
		writeError(w, http.StatusBadGateway, "write_failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
