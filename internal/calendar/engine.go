// Package calendar wires the view state, sources, normalizer, filters,
// geometry and gesture handling into one engine with a single owner.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/geometry"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/observability"
	"github.com/agis/tcal/internal/source"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
)

var (
	ErrEventNotFound = errors.New("event not in the current window")
	ErrStale         = errors.New("window changed while fetching")
)

// MonthCellLimit is how many events a month cell shows before "+N more".
const MonthCellLimit = 3

type Config struct {
	Backend    source.Backend
	Loader     *source.Loader
	State      *viewstate.Store
	Dispatcher *dispatch.Dispatcher
	Grid       geometry.HourGrid
	Now        func() time.Time
}

// Engine serializes every state change and gesture behind one mutex. Fetches
// and writes run outside the lock.
type Engine struct {
	mu sync.Mutex
	// gesture keeps one-shot Move/Resize calls from interleaving.
	gesture sync.Mutex

	backend    source.Backend
	loader     *source.Loader
	state      *viewstate.Store
	dispatcher *dispatch.Dispatcher
	controller *interact.Controller
	grid       geometry.HourGrid
	now        func() time.Time

	loadedKey   string
	events      []contract.CalendarEvent
	diagnostics []normalize.Diagnostic
	failed      []contract.SourceFailure
	directory   *contract.Directory
	refreshedAt time.Time
}

func New(cfg Config) *Engine {
	grid := cfg.Grid
	if grid.RowHeight == 0 {
		grid = geometry.DefaultHourGrid()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loader := cfg.Loader
	if loader == nil {
		loader = source.NewLoader(cfg.Backend, nil)
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.New(cfg.Backend, nil)
	}
	return &Engine{
		backend:    cfg.Backend,
		loader:     loader,
		state:      cfg.State,
		dispatcher: dispatcher,
		controller: interact.NewController(),
		grid:       grid,
		now:        now,
	}
}

// Refresh fetches the current window and returns the resulting timeline. When
// the view moves to another window while the fetch is in flight, the result
// is discarded and ErrStale is returned with the newer window's timeline.
func (e *Engine) Refresh(ctx context.Context) (Timeline, error) {
	e.mu.Lock()
	win := e.state.Window()
	needDirectory := e.directory == nil
	e.mu.Unlock()

	rep := e.loader.Load(ctx, win.Key(), source.FetchFilter{From: win.Start, To: win.End})
	res := normalize.Normalize(rep.Batch, win)

	var dir *contract.Directory
	if needDirectory {
		d, err := e.backend.Directory(ctx)
		if err != nil {
			log.Error("directory fetch failed", err)
			rep.Failed = append(rep.Failed, contract.SourceFailure{Source: "filters", Message: err.Error()})
		} else {
			dir = &d
		}
	}

	if err := e.apply(rep, res, dir); err != nil {
		return e.Timeline(), err
	}
	return e.Timeline(), nil
}

func (e *Engine) apply(rep source.Report, res normalize.Result, dir *contract.Directory) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dir != nil {
		e.directory = dir
	}
	if current := e.state.Window().Key(); rep.WindowKey != current {
		observability.RecordStaleDiscard()
		log.Debug("discarding stale fetch", "fetched", rep.WindowKey, "current", current)
		return ErrStale
	}
	bySource := map[string]int{}
	for _, d := range res.Diagnostics {
		bySource[string(d.Source)]++
	}
	for src, n := range bySource {
		observability.RecordDropped(src, n)
	}
	e.loadedKey = rep.WindowKey
	e.events = res.Events
	e.diagnostics = res.Diagnostics
	e.failed = rep.Failed
	e.refreshedAt = e.now()
	observability.RecordRefresh(e.refreshedAt)
	return nil
}

// Timeline builds the current view from the last applied fetch. Filters and
// visibility are applied on every call so they take effect without a fetch.
func (e *Engine) Timeline() Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelineLocked()
}

func (e *Engine) membership() filter.Membership {
	if e.directory == nil {
		return filter.Membership{}
	}
	return filter.Membership(e.directory.Memberships)
}

func (e *Engine) timelineLocked() Timeline {
	win := e.state.Window()
	t := Timeline{
		Window:      win,
		State:       e.state.State(),
		Events:      []contract.CalendarEvent{},
		Diagnostics: e.diagnostics,
		Failed:      e.failed,
		Loaded:      e.loadedKey == win.Key(),
		RefreshedAt: e.refreshedAt,
	}
	if t.Failed == nil {
		t.Failed = []contract.SourceFailure{}
	}
	if !t.Loaded {
		return t
	}
	t.Total = len(e.events)
	t.Events = filter.Apply(e.events, e.state.Criteria(e.membership()))
	t.Layout = layout(win, t.Events, e.grid)
	return t
}

// Update applies a view state change under the engine lock. A change of window
// makes any fetch still in flight stale. fn must not call back into the
// engine.
func (e *Engine) Update(ctx context.Context, fn func(ctx context.Context, s *viewstate.Store) error) (Timeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(ctx, e.state); err != nil {
		return e.timelineLocked(), err
	}
	return e.timelineLocked(), nil
}

// Directory returns the cached teams/users directory, fetching it once.
func (e *Engine) Directory(ctx context.Context) (contract.Directory, error) {
	e.mu.Lock()
	cached := e.directory
	e.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	dir, err := e.backend.Directory(ctx)
	if err != nil {
		return contract.Directory{}, err
	}
	e.mu.Lock()
	e.directory = &dir
	e.mu.Unlock()
	return dir, nil
}

// RefreshDirectory refetches the teams/users directory. On failure the cached
// copy is kept.
func (e *Engine) RefreshDirectory(ctx context.Context) error {
	dir, err := e.backend.Directory(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.directory = &dir
	e.mu.Unlock()
	return nil
}

// Membership returns the team membership table used by the team filter.
func (e *Engine) Membership(ctx context.Context) filter.Membership {
	dir, err := e.Directory(ctx)
	if err != nil {
		return filter.Membership{}
	}
	return filter.Membership(dir.Memberships)
}

func (e *Engine) findLocked(id string) (contract.CalendarEvent, error) {
	if e.loadedKey != e.state.Window().Key() {
		return contract.CalendarEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	for _, ev := range e.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return contract.CalendarEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
}

// Event looks an event up in the current window.
func (e *Engine) Event(id string) (contract.CalendarEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findLocked(id)
}

func (e *Engine) BeginDrag(id string, origin interact.Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, err := e.findLocked(id)
	if err != nil {
		return err
	}
	return e.reject(e.controller.BeginDrag(ev, origin))
}

func (e *Engine) BeginResize(id string, edge interact.Edge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, err := e.findLocked(id)
	if err != nil {
		return err
	}
	return e.reject(e.controller.BeginResize(ev, edge))
}

func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controller.Cancel()
}

func (e *Engine) reject(err error) error {
	if err != nil && interact.IsValidation(err) {
		observability.RecordRejectedGesture(rejectReason(err))
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, interact.ErrNotMutable):
		return "not_mutable"
	case errors.Is(err, interact.ErrNotResizable):
		return "not_resizable"
	case errors.Is(err, interact.ErrTooShort):
		return "too_short"
	case errors.Is(err, interact.ErrNoTarget):
		return "no_target"
	default:
		return "idle"
	}
}

// DropResult is the outcome of a completed gesture.
type DropResult struct {
	Intent   interact.Intent  `json:"intent"`
	Request  dispatch.Request `json:"request"`
	DryRun   bool             `json:"dry_run"`
	Timeline *Timeline        `json:"timeline,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Drop ends the current gesture. The intent is computed under the lock; the
// write and the follow-up refresh happen after it is released. With dryRun
// the request is encoded but not sent.
func (e *Engine) Drop(ctx context.Context, target interact.Target, dryRun bool) (DropResult, error) {
	e.mu.Lock()
	in, err := e.controller.Drop(target)
	e.mu.Unlock()
	if err != nil {
		return DropResult{}, e.reject(err)
	}

	if dryRun {
		req, err := dispatch.Encode(in)
		if err != nil {
			return DropResult{}, err
		}
		return DropResult{Intent: in, Request: req, DryRun: true}, nil
	}

	req, err := e.dispatcher.Dispatch(ctx, in)
	if err != nil {
		return DropResult{Intent: in, Request: req}, err
	}
	res := DropResult{Intent: in, Request: req}
	tl, rerr := e.Refresh(ctx)
	switch {
	case rerr == nil:
		res.Timeline = &tl
	case errors.Is(rerr, ErrStale):
		res.Warnings = append(res.Warnings, "view moved before the refresh completed")
	default:
		res.Warnings = append(res.Warnings, "refresh after write failed: "+rerr.Error())
	}
	return res, nil
}

// Move drags an event onto target in one call.
func (e *Engine) Move(ctx context.Context, id string, target interact.Target, dryRun bool) (DropResult, error) {
	e.gesture.Lock()
	defer e.gesture.Unlock()
	if err := e.BeginDrag(id, target); err != nil {
		return DropResult{}, err
	}
	return e.Drop(ctx, target, dryRun)
}

// Resize stretches one edge of an event onto target in one call.
func (e *Engine) Resize(ctx context.Context, id string, edge interact.Edge, target interact.Target, dryRun bool) (DropResult, error) {
	e.gesture.Lock()
	defer e.gesture.Unlock()
	if err := e.BeginResize(id, edge); err != nil {
		return DropResult{}, err
	}
	return e.Drop(ctx, target, dryRun)
}

// Session reports the gesture in progress.
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controller.Session().Name()
}

// Window returns the window of the current view state.
func (e *Engine) Window() window.Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Window()
}
