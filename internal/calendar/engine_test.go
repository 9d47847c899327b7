package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/source"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
)

type fakeBackend struct {
	mu      sync.Mutex
	batch   map[contract.Source]normalize.Batch
	fail    map[contract.Source]error
	writes  []dispatch.Request
	writeFn func(dispatch.Request) error
	fetches int
	// gate blocks task fetches until closed when set.
	gate    chan struct{}
	started chan struct{}
	// members overrides the default t1 membership when set.
	members map[string][]string
	dirErr  error
}

func (f *fakeBackend) Doctor(context.Context) ([]contract.DoctorCheck, error) { return nil, nil }

func (f *fakeBackend) Fetch(_ context.Context, src contract.Source, _ source.FetchFilter) (normalize.Batch, error) {
	f.mu.Lock()
	f.fetches++
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if src == contract.SourceTasks && gate != nil {
		close(started)
		<-gate
	}
	if err := f.fail[src]; err != nil {
		return normalize.Batch{}, err
	}
	return f.batch[src], nil
}

func (f *fakeBackend) Directory(context.Context) (contract.Directory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirErr != nil {
		return contract.Directory{}, f.dirErr
	}
	members := f.members
	if members == nil {
		members = map[string][]string{"t1": {"u1"}}
	}
	return contract.Directory{
		Teams:       []contract.Team{{ID: "t1", Name: "Field"}},
		Memberships: members,
	}, nil
}

func (f *fakeBackend) Write(_ context.Context, req dispatch.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, req)
	if f.writeFn != nil {
		return f.writeFn(req)
	}
	return nil
}

func newTestEngine(t *testing.T, fb *fakeBackend) *Engine {
	t.Helper()
	state, err := viewstate.Load(context.Background(), nil, viewstate.Options{
		Location:  time.UTC,
		WeekStart: time.Monday,
		Now:       func() time.Time { return time.Date(2025, 4, 8, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("viewstate.Load: %v", err)
	}
	return New(Config{Backend: fb, State: state})
}

func sampleBackend() *fakeBackend {
	return &fakeBackend{batch: map[contract.Source]normalize.Batch{
		contract.SourceTasks: {ExternalTasks: []normalize.RawExternalTask{
			{ID: 42, Title: "Boiler", Date: "2025-04-08", Time: "13:00", Duration: "1h", AssigneeID: "u1"},
		}},
		contract.SourceLeave: {Leave: []normalize.RawLeaveRequest{
			{ID: "l1", EmployeeID: "u2", EmployeeName: "Dana", LeaveType: "Vacation", StartDate: "2025-04-09", EndDate: "2025-04-10"},
		}},
		contract.SourceBookings: {Bookings: []normalize.RawBooking{
			{ID: "k1", Title: "Consult", Start: "2025-04-08T09:00:00Z", End: "2025-04-08T10:00:00Z", StaffID: "u2"},
		}},
	}}
}

func TestRefreshBuildsWeekTimeline(t *testing.T) {
	fb := sampleBackend()
	fb.fail = map[contract.Source]error{contract.SourceWorkItems: errors.New("status 500")}
	e := newTestEngine(t, fb)

	tl, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !tl.Loaded || tl.Total != 3 || len(tl.Events) != 3 {
		t.Fatalf("unexpected timeline: loaded=%v total=%d events=%d", tl.Loaded, tl.Total, len(tl.Events))
	}
	if len(tl.Failed) != 1 || tl.Failed[0].Source != "work-items" {
		t.Fatalf("expected work-items failure, got %+v", tl.Failed)
	}
	if len(tl.Layout.Columns) != 7 {
		t.Fatalf("expected 7 day columns, got %d", len(tl.Layout.Columns))
	}
}

func TestFilterChangesApplyWithoutFetching(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := fb.fetches

	members := e.Membership(context.Background())
	tl, err := e.Update(context.Background(), func(ctx context.Context, s *viewstate.Store) error {
		return s.SetTeam(ctx, "t1", members)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(tl.Events) != 1 || tl.Events[0].ID != "task-42" {
		t.Fatalf("team filter should keep only u1's task, got %+v", tl.Events)
	}
	tl, _ = e.Update(context.Background(), func(ctx context.Context, s *viewstate.Store) error {
		if err := s.SetTeam(ctx, "", nil); err != nil {
			return err
		}
		return s.SetHidden(ctx, filter.GroupSynced, true)
	})
	if len(tl.Events) != 1 || tl.Events[0].Type != contract.TypeLeaveRequest {
		t.Fatalf("hiding synced should leave only leave, got %+v", tl.Events)
	}
	if fb.fetches != before {
		t.Fatalf("filter changes should not fetch")
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	fb := sampleBackend()
	fb.gate = make(chan struct{})
	fb.started = make(chan struct{})
	e := newTestEngine(t, fb)

	done := make(chan error, 1)
	go func() {
		_, err := e.Refresh(context.Background())
		done <- err
	}()

	<-fb.started
	if _, err := e.Update(context.Background(), func(ctx context.Context, s *viewstate.Store) error {
		return s.Step(ctx, 1)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	close(fb.gate)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if tl := e.Timeline(); tl.Loaded || len(tl.Events) != 0 {
		t.Fatalf("stale results must not be applied: %+v", tl)
	}
}

func TestMoveTaskDispatchesAndRefreshes(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fetches := fb.fetches

	day := time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)
	res, err := e.Move(context.Background(), "task-42", interact.SlotTarget(day, 15, 0), false)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(fb.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(fb.writes))
	}
	w := fb.writes[0]
	if w.Path != "/tasks/42" || w.Body["start"] != "2025-04-08T15:00:00Z" || w.Body["duration"] != "1h" {
		t.Fatalf("unexpected write %+v", w)
	}
	if res.Timeline == nil || fb.fetches <= fetches {
		t.Fatalf("expected a refresh after a successful write")
	}
	if e.Session() != "idle" {
		t.Fatalf("session should be idle after drop")
	}
}

func TestRejectedGesturesNeverWrite(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	day := time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)

	if _, err := e.Move(context.Background(), "leave-l1", interact.DayTarget(day), false); !errors.Is(err, interact.ErrNotMutable) {
		t.Fatalf("expected ErrNotMutable, got %v", err)
	}
	if _, err := e.Resize(context.Background(), "task-42", interact.EdgeStart, interact.SlotTarget(day, 13, 50), false); !errors.Is(err, interact.ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := e.Move(context.Background(), "task-999", interact.DayTarget(day), false); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if len(fb.writes) != 0 {
		t.Fatalf("rejected gestures must not write, got %+v", fb.writes)
	}
}

func TestDryRunEncodesOnly(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	_, _ = e.Refresh(context.Background())
	day := time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC)

	res, err := e.Resize(context.Background(), "booking-k1", interact.EdgeEnd, interact.SlotTarget(day, 11, 0), true)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if !res.DryRun || res.Request.Path != "/bookings/k1" || res.Request.Body["end"] != "2025-04-08T12:00:00Z" {
		t.Fatalf("unexpected dry run %+v", res)
	}
	if len(fb.writes) != 0 {
		t.Fatalf("dry run must not write")
	}
}

func TestWriteFailureSurfaces(t *testing.T) {
	fb := sampleBackend()
	fb.writeFn = func(dispatch.Request) error { return errors.New("status 502") }
	e := newTestEngine(t, fb)
	_, _ = e.Refresh(context.Background())
	day := time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)

	_, err := e.Move(context.Background(), "task-42", interact.DayTarget(day), false)
	var werr *dispatch.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	ev, _ := e.Event("task-42")
	if ev.Start.Day() != 8 {
		t.Fatalf("failed write must not change local events")
	}
}

func TestRoadmapAndMonthLayouts(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	tl, _ := e.Update(context.Background(), func(ctx context.Context, s *viewstate.Store) error {
		return s.SetMode(ctx, window.ModeMonth)
	})
	if tl.Loaded {
		t.Fatalf("mode change should require a fetch")
	}
	tl, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(tl.Layout.Cells) != len(tl.Window.Days) || len(tl.Layout.Cells)%7 != 0 {
		t.Fatalf("unexpected month cells %d", len(tl.Layout.Cells))
	}

	_, _ = e.Update(context.Background(), func(ctx context.Context, s *viewstate.Store) error {
		return s.SetMode(ctx, window.ModeRoadmap)
	})
	tl, _ = e.Refresh(context.Background())
	if len(tl.Layout.Lanes) != 2 {
		t.Fatalf("expected lanes for u1 and u2, got %+v", tl.Layout.Lanes)
	}
}

func TestRefreshDirectoryPicksUpMembershipChanges(t *testing.T) {
	fb := sampleBackend()
	e := newTestEngine(t, fb)
	ctx := context.Background()
	if got := e.Membership(ctx)["t1"]; len(got) != 1 || got[0] != "u1" {
		t.Fatalf("initial membership = %v", got)
	}

	fb.mu.Lock()
	fb.members = map[string][]string{"t1": {"u1", "u2"}}
	fb.mu.Unlock()
	if got := e.Membership(ctx)["t1"]; len(got) != 1 {
		t.Fatalf("membership changed without a refresh: %v", got)
	}
	if err := e.RefreshDirectory(ctx); err != nil {
		t.Fatalf("RefreshDirectory: %v", err)
	}
	if got := e.Membership(ctx)["t1"]; len(got) != 2 {
		t.Fatalf("membership after refresh = %v", got)
	}

	fb.mu.Lock()
	fb.dirErr = errors.New("status 503")
	fb.mu.Unlock()
	if err := e.RefreshDirectory(ctx); err == nil {
		t.Fatalf("expected directory error")
	}
	if got := e.Membership(ctx)["t1"]; len(got) != 2 {
		t.Fatalf("failed refresh dropped the cached directory: %v", got)
	}
}
