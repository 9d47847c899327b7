package viewstate

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/store"
	"github.com/agis/tcal/internal/window"
)

type memPersister struct {
	data  map[string][]byte
	saves int
	err   error
}

func newMem() *memPersister { return &memPersister{data: map[string][]byte{}} }

func (m *memPersister) LoadState(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memPersister) SaveState(_ context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memPersister) DeleteState(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func fixedNow() time.Time { return time.Date(2025, 4, 9, 15, 30, 0, 0, time.UTC) }

func testOptions() Options {
	return Options{Key: "default", Location: time.UTC, WeekStart: time.Monday, Now: fixedNow}
}

func TestLoadDefaultsWhenNothingSaved(t *testing.T) {
	s, err := Load(context.Background(), newMem(), testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := s.State()
	if st.Mode != window.ModeWeek || !st.Anchor.Equal(time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)) || !st.ShowWeekends {
		t.Fatalf("unexpected defaults %+v", st)
	}
	if !s.Window().Contains(st.Anchor) {
		t.Fatalf("default window should contain the anchor")
	}
}

func TestEveryChangeIsSavedAndReloaded(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	s, _ := Load(ctx, mem, testOptions())
	membership := filter.Membership{"t1": {"u1"}}

	steps := []func() error{
		func() error { return s.SetMode(ctx, window.ModeMonth) },
		func() error { return s.Step(ctx, 1) },
		func() error { return s.SetUser(ctx, "u2") },
		func() error { return s.SetTeam(ctx, "t1", membership) },
		func() error { return s.SetProject(ctx, filter.NoProject) },
		func() error { return s.SetHidden(ctx, filter.GroupLeave, true) },
		func() error { return s.SetShowWeekends(ctx, false) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if mem.saves != i+1 {
			t.Fatalf("step %d not saved (saves=%d)", i, mem.saves)
		}
	}

	st := s.State()
	if st.Anchor.Month() != time.May || st.Anchor.Day() != 1 {
		t.Fatalf("month step should land on May 1, got %s", st.Anchor)
	}
	if st.Filters.UserID != "" || st.Filters.TeamID != "t1" {
		t.Fatalf("non-member user should be cleared by team selection: %+v", st.Filters)
	}

	reloaded, err := Load(ctx, mem, testOptions())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(reloaded.State(), st) {
		t.Fatalf("reloaded state differs:\n got %+v\nwant %+v", reloaded.State(), st)
	}
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	s, _ := Load(ctx, mem, testOptions())
	mem.err = errors.New("disk full")
	if err := s.SetMode(ctx, window.ModeDay); err == nil {
		t.Fatalf("expected save error")
	}
	if s.State().Mode != window.ModeWeek {
		t.Fatalf("state changed despite failed save")
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := Load(ctx, nil, testOptions())
	if err := s.SetMode(ctx, window.Mode("year")); err == nil {
		t.Fatalf("expected invalid mode error")
	}
	if err := s.SetHidden(ctx, filter.Group("meetings"), true); err == nil {
		t.Fatalf("expected invalid group error")
	}
	if err := s.Replace(ctx, State{Mode: window.ModeDay, HiddenGroups: []filter.Group{"bogus"}}); err == nil {
		t.Fatalf("expected Replace to validate groups")
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	s, _ := Load(ctx, mem, testOptions())
	_ = s.SetMode(ctx, window.ModeRoadmap)
	_ = s.SetHidden(ctx, filter.GroupHolidays, true)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(mem.data) != 0 {
		t.Fatalf("reset should delete saved state")
	}
	if st := s.State(); st.Mode != DefaultMode || len(st.HiddenGroups) != 0 {
		t.Fatalf("unexpected state after reset %+v", st)
	}
}

func TestHiddenWeekendsShrinkWeekWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := Load(ctx, nil, testOptions())
	_ = s.SetShowWeekends(ctx, false)
	if got := len(s.Window().Days); got != 5 {
		t.Fatalf("expected 5 weekday columns, got %d", got)
	}
	c := s.Criteria(nil)
	if len(c.Hidden) != 0 {
		t.Fatalf("unexpected hidden groups %+v", c.Hidden)
	}
}

func TestSQLitePersistence(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	s, err := Load(ctx, db, testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetAnchor(ctx, time.Date(2025, 12, 24, 18, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetAnchor: %v", err)
	}

	berlin := testOptions()
	berlin.Location = time.FixedZone("CET", 3600)
	reloaded, err := Load(ctx, db, berlin)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	a := reloaded.State().Anchor
	if a.Year() != 2025 || a.Month() != time.December || a.Day() != 24 || a.Hour() != 0 {
		t.Fatalf("anchor should reload as the same calendar date, got %s", a)
	}
}

func TestApplySavesOnce(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	s, _ := Load(ctx, mem, testOptions())

	day, team, weekends := window.ModeDay, "t1", false
	err := s.Apply(ctx, Change{
		Mode:         &day,
		Step:         2,
		TeamID:       &team,
		Membership:   filter.Membership{"t1": {"u1"}},
		Hidden:       map[filter.Group]bool{filter.GroupLeave: true},
		ShowWeekends: &weekends,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if mem.saves != 1 {
		t.Fatalf("saves = %d, want 1", mem.saves)
	}
	st := s.State()
	wantAnchor := fixedNow().AddDate(0, 0, 2)
	wantAnchor = time.Date(wantAnchor.Year(), wantAnchor.Month(), wantAnchor.Day(), 0, 0, 0, 0, time.UTC)
	if st.Mode != window.ModeDay || !st.Anchor.Equal(wantAnchor) {
		t.Fatalf("mode/anchor = %s %s, want day %s", st.Mode, st.Anchor, wantAnchor)
	}
	if st.Filters.TeamID != "t1" || !st.Hidden()[filter.GroupLeave] || st.ShowWeekends {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	s, _ := Load(ctx, mem, testOptions())
	before := s.State()

	day := window.ModeDay
	if err := s.Apply(ctx, Change{Mode: &day, Hidden: map[filter.Group]bool{"meetings": true}}); err == nil {
		t.Fatalf("expected invalid group error")
	}
	if mem.saves != 0 || s.State().Mode != before.Mode {
		t.Fatalf("invalid change was partly applied: saves=%d state=%+v", mem.saves, s.State())
	}

	mem.err = errors.New("disk full")
	user := "u9"
	if err := s.Apply(ctx, Change{Mode: &day, UserID: &user}); err == nil {
		t.Fatalf("expected save error")
	}
	if st := s.State(); st.Mode != before.Mode || st.Filters.UserID != "" {
		t.Fatalf("state changed despite failed save: %+v", st)
	}
}
