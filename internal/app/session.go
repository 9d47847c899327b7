package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/source"
	"github.com/agis/tcal/internal/store"
	"github.com/agis/tcal/internal/viewstate"
)

// session is one opened engine: the state database, the saved view and the
// calendar engine built over a backend.
type session struct {
	engine *calendar.Engine
	store  *store.Store
	loc    *time.Location
}

func openSession(ctx context.Context, ro *globalOptions, be source.Backend) (*session, error) {
	loc, err := resolveLocation(ro.TZ)
	if err != nil {
		return nil, Wrap(2, err)
	}
	weekStart, err := parseWeekStart(ro.WeekStart)
	if err != nil {
		return nil, Wrap(2, err)
	}
	st, err := store.Open(ctx, ro.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	state, err := viewstate.Load(ctx, st, viewstate.Options{
		Key:       ro.Profile,
		Location:  loc,
		WeekStart: weekStart,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load view state: %w", err)
	}

	var holidays source.HolidayFeed
	if ro.HolidaysICS != "" {
		holidays = source.NewICSHolidays(ro.HolidaysICS, nil)
	}
	engine := calendar.New(calendar.Config{
		Backend:    be,
		Loader:     source.NewLoader(be, holidays),
		State:      state,
		Dispatcher: dispatch.New(be, st),
	})
	return &session{engine: engine, store: st, loc: loc}, nil
}

func (s *session) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// refresh loads the current window under the command deadline. Sources that
// failed come back as warnings.
func (s *session) refresh(ctx context.Context) (calendar.Timeline, []string, error) {
	tl, err := timed(ctx, "engine.refresh", func() (calendar.Timeline, error) {
		return s.engine.Refresh(ctx)
	})
	if err != nil && !errors.Is(err, calendar.ErrStale) {
		return calendar.Timeline{}, nil, err
	}
	return tl, failureWarnings(tl), nil
}

func failureWarnings(tl calendar.Timeline) []string {
	out := make([]string, 0, len(tl.Failed))
	for _, f := range tl.Failed {
		out = append(out, fmt.Sprintf("source %s unavailable: %s", f.Source, f.Message))
	}
	return out
}
