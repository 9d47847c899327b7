// Package viewstate holds the current view mode, anchor, filters and
// visibility toggles, loading them at startup and saving them on every change.
package viewstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/window"
)

const DefaultMode = window.ModeWeek

type State struct {
	Mode         window.Mode    `json:"mode"`
	Anchor       time.Time      `json:"anchor"`
	Filters      filter.Filters `json:"filters"`
	HiddenGroups []filter.Group `json:"hidden_groups"`
	ShowWeekends bool           `json:"show_weekends"`
}

// Hidden returns HiddenGroups as a set.
func (s State) Hidden() map[filter.Group]bool {
	out := make(map[filter.Group]bool, len(s.HiddenGroups))
	for _, g := range s.HiddenGroups {
		out[g] = true
	}
	return out
}

// persisted keeps the anchor as a plain date so a saved state reloads on the
// same calendar day in any timezone.
type persisted struct {
	Mode         window.Mode    `json:"mode"`
	Anchor       string         `json:"anchor"`
	Filters      filter.Filters `json:"filters"`
	HiddenGroups []filter.Group `json:"hidden_groups"`
	ShowWeekends bool           `json:"show_weekends"`
}

// Persister is durable storage for encoded state.
type Persister interface {
	LoadState(ctx context.Context, key string) ([]byte, bool, error)
	SaveState(ctx context.Context, key string, value []byte) error
	DeleteState(ctx context.Context, key string) error
}

type Options struct {
	Key       string
	Location  *time.Location
	WeekStart time.Weekday
	Now       func() time.Time
}

// Store owns one State. It is not safe for concurrent use.
type Store struct {
	p     Persister
	opts  Options
	state State
}

// Load restores the state saved under opts.Key, or starts from defaults when
// nothing was saved. A nil persister keeps state in memory only.
func Load(ctx context.Context, p Persister, opts Options) (*Store, error) {
	if opts.Key == "" {
		opts.Key = "default"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{p: p, opts: opts, state: defaults(opts)}
	if p == nil {
		return s, nil
	}
	raw, ok, err := p.LoadState(ctx, opts.Key)
	if err != nil {
		return nil, fmt.Errorf("load view state: %w", err)
	}
	if !ok {
		return s, nil
	}
	st, err := decode(raw, opts.Location)
	if err != nil {
		return nil, err
	}
	s.state = st
	return s, nil
}

func defaults(opts Options) State {
	return State{
		Mode:         DefaultMode,
		Anchor:       window.StartOfDay(opts.Now().In(opts.Location)),
		HiddenGroups: []filter.Group{},
		ShowWeekends: true,
	}
}

func decode(raw []byte, loc *time.Location) (State, error) {
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return State{}, fmt.Errorf("decode view state: %w", err)
	}
	mode, err := window.ParseMode(string(p.Mode))
	if err != nil {
		mode = DefaultMode
	}
	anchor, err := time.ParseInLocation("2006-01-02", p.Anchor, loc)
	if err != nil {
		return State{}, fmt.Errorf("decode view state anchor: %w", err)
	}
	hidden := make([]filter.Group, 0, len(p.HiddenGroups))
	for _, g := range p.HiddenGroups {
		if pg, err := filter.ParseGroup(string(g)); err == nil {
			hidden = append(hidden, pg)
		}
	}
	return State{
		Mode:         mode,
		Anchor:       anchor,
		Filters:      p.Filters,
		HiddenGroups: hidden,
		ShowWeekends: p.ShowWeekends,
	}, nil
}

func encode(s State) ([]byte, error) {
	return json.Marshal(persisted{
		Mode:         s.Mode,
		Anchor:       s.Anchor.Format("2006-01-02"),
		Filters:      s.Filters,
		HiddenGroups: s.HiddenGroups,
		ShowWeekends: s.ShowWeekends,
	})
}

func (s *Store) State() State {
	st := s.state
	st.HiddenGroups = make([]filter.Group, len(s.state.HiddenGroups))
	copy(st.HiddenGroups, s.state.HiddenGroups)
	return st
}

// Window resolves the current mode and anchor.
func (s *Store) Window() window.Window {
	return window.Resolve(s.state.Mode, s.state.Anchor, window.Options{
		WeekStart:    s.opts.WeekStart,
		ShowWeekends: s.state.ShowWeekends,
	})
}

// Criteria is the filter input for the current state.
func (s *Store) Criteria(m filter.Membership) filter.Criteria {
	return filter.Criteria{Filters: s.state.Filters, Hidden: s.state.Hidden(), Membership: m}
}

func (s *Store) update(ctx context.Context, fn func(*State)) error {
	next := s.State()
	fn(&next)
	if s.p != nil {
		raw, err := encode(next)
		if err != nil {
			return err
		}
		if err := s.p.SaveState(ctx, s.opts.Key, raw); err != nil {
			return fmt.Errorf("save view state: %w", err)
		}
	}
	s.state = next
	return nil
}

func (s *Store) SetMode(ctx context.Context, m window.Mode) error {
	if _, err := window.ParseMode(string(m)); err != nil {
		return err
	}
	return s.update(ctx, func(st *State) { st.Mode = m })
}

func (s *Store) SetAnchor(ctx context.Context, anchor time.Time) error {
	return s.update(ctx, func(st *State) { st.Anchor = window.StartOfDay(anchor.In(s.opts.Location)) })
}

func (s *Store) Today(ctx context.Context) error {
	return s.SetAnchor(ctx, s.opts.Now())
}

// Step moves the anchor by delta view-sized units.
func (s *Store) Step(ctx context.Context, delta int) error {
	return s.update(ctx, func(st *State) { st.Anchor = window.Step(st.Mode, st.Anchor, delta) })
}

// SetTeam selects a team and clears a user filter that is not in it.
func (s *Store) SetTeam(ctx context.Context, teamID string, m filter.Membership) error {
	return s.update(ctx, func(st *State) { st.Filters = filter.SelectTeam(st.Filters, teamID, m) })
}

func (s *Store) SetUser(ctx context.Context, userID string) error {
	return s.update(ctx, func(st *State) { st.Filters.UserID = userID })
}

func (s *Store) SetProject(ctx context.Context, projectID string) error {
	return s.update(ctx, func(st *State) { st.Filters.ProjectID = projectID })
}

func (s *Store) SetHidden(ctx context.Context, g filter.Group, hidden bool) error {
	if _, err := filter.ParseGroup(string(g)); err != nil {
		return err
	}
	return s.update(ctx, func(st *State) {
		set := st.Hidden()
		if hidden {
			set[g] = true
		} else {
			delete(set, g)
		}
		st.HiddenGroups = filter.HiddenList(set)
	})
}

func (s *Store) SetShowWeekends(ctx context.Context, show bool) error {
	return s.update(ctx, func(st *State) { st.ShowWeekends = show })
}

// Replace overwrites the whole state, validating mode and groups.
func (s *Store) Replace(ctx context.Context, next State) error {
	if _, err := window.ParseMode(string(next.Mode)); err != nil {
		return err
	}
	set := map[filter.Group]bool{}
	for _, g := range next.HiddenGroups {
		pg, err := filter.ParseGroup(string(g))
		if err != nil {
			return err
		}
		set[pg] = true
	}
	if next.Anchor.IsZero() {
		next.Anchor = s.state.Anchor
	}
	return s.update(ctx, func(st *State) {
		st.Mode = next.Mode
		st.Anchor = window.StartOfDay(next.Anchor.In(s.opts.Location))
		st.Filters = next.Filters
		st.HiddenGroups = filter.HiddenList(set)
		st.ShowWeekends = next.ShowWeekends
	})
}

// Change is a partial state edit. Nil fields are left alone. Edits apply in
// field order, so Step moves by the new mode's unit.
type Change struct {
	Mode         *window.Mode
	Anchor       *time.Time
	Today        bool
	Step         int
	TeamID       *string
	Membership   filter.Membership
	UserID       *string
	ProjectID    *string
	Hidden       map[filter.Group]bool
	ShowWeekends *bool
}

// Apply validates c and saves the result once. On error nothing changes.
func (s *Store) Apply(ctx context.Context, c Change) error {
	if c.Mode != nil {
		if _, err := window.ParseMode(string(*c.Mode)); err != nil {
			return err
		}
	}
	for g := range c.Hidden {
		if _, err := filter.ParseGroup(string(g)); err != nil {
			return err
		}
	}
	return s.update(ctx, func(st *State) {
		if c.Mode != nil {
			st.Mode = *c.Mode
		}
		switch {
		case c.Anchor != nil:
			st.Anchor = window.StartOfDay(c.Anchor.In(s.opts.Location))
		case c.Today:
			st.Anchor = window.StartOfDay(s.opts.Now().In(s.opts.Location))
		}
		if c.Step != 0 {
			st.Anchor = window.Step(st.Mode, st.Anchor, c.Step)
		}
		if c.TeamID != nil {
			st.Filters = filter.SelectTeam(st.Filters, *c.TeamID, c.Membership)
		}
		if c.UserID != nil {
			st.Filters.UserID = *c.UserID
		}
		if c.ProjectID != nil {
			st.Filters.ProjectID = *c.ProjectID
		}
		if len(c.Hidden) > 0 {
			set := st.Hidden()
			for g, hide := range c.Hidden {
				if hide {
					set[g] = true
				} else {
					delete(set, g)
				}
			}
			st.HiddenGroups = filter.HiddenList(set)
		}
		if c.ShowWeekends != nil {
			st.ShowWeekends = *c.ShowWeekends
		}
	})
}

// Reset drops the saved state and returns to defaults.
func (s *Store) Reset(ctx context.Context) error {
	if s.p != nil {
		if err := s.p.DeleteState(ctx, s.opts.Key); err != nil {
			return fmt.Errorf("reset view state: %w", err)
		}
	}
	s.state = defaults(s.opts)
	return nil
}
