// Package interact turns pointer gestures on calendar events into move and
// resize intents. A Controller holds at most one gesture at a time and is not
// safe for concurrent use; its owner serializes calls.
package interact

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/window"
)

// MinDuration is the shortest interval a resize may leave behind.
const MinDuration = 15 * time.Minute

var (
	ErrNotMutable   = errors.New("event type cannot be moved")
	ErrNotResizable = errors.New("event cannot be resized")
	ErrTooShort     = errors.New("resulting duration is shorter than 15 minutes")
	ErrNoTarget     = errors.New("drop target is not a day or time slot")
	ErrIdle         = errors.New("no gesture in progress")
)

type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

func ParseEdge(v string) (Edge, error) {
	switch Edge(strings.ToLower(strings.TrimSpace(v))) {
	case EdgeStart:
		return EdgeStart, nil
	case EdgeEnd:
		return EdgeEnd, nil
	default:
		return "", fmt.Errorf("invalid edge: %s", v)
	}
}

// Target is a drop location: a day cell when Hour is nil, otherwise the slot
// starting at Hour:Minute on Date.
type Target struct {
	Date   time.Time `json:"date"`
	Hour   *int      `json:"hour,omitempty"`
	Minute int       `json:"minute,omitempty"`
}

func DayTarget(date time.Time) Target {
	return Target{Date: date}
}

func SlotTarget(date time.Time, hour, minute int) Target {
	return Target{Date: date, Hour: &hour, Minute: minute}
}

func (t Target) valid() bool {
	if t.Date.IsZero() {
		return false
	}
	if t.Hour != nil && (*t.Hour < 0 || *t.Hour > 23) {
		return false
	}
	return t.Minute >= 0 && t.Minute < 60
}

func (t Target) slotStart() time.Time {
	day := window.StartOfDay(t.Date)
	return time.Date(day.Year(), day.Month(), day.Day(), *t.Hour, t.Minute, 0, 0, day.Location())
}

// Session is the gesture in progress: Idle, Dragging or Resizing.
type Session interface {
	Name() string
	session()
}

type Idle struct{}

type Dragging struct {
	Event  contract.CalendarEvent
	Origin Target
}

type Resizing struct {
	Event contract.CalendarEvent
	Edge  Edge
}

func (Idle) Name() string     { return "idle" }
func (Dragging) Name() string { return "dragging" }
func (Resizing) Name() string { return "resizing" }

func (Idle) session()     {}
func (Dragging) session() {}
func (Resizing) session() {}

type Kind string

const (
	KindMove   Kind = "move"
	KindResize Kind = "resize"
)

// Intent is a requested time change, computed entirely from the gesture.
type Intent struct {
	Kind      Kind                   `json:"kind"`
	Event     contract.CalendarEvent `json:"event"`
	NewDate   time.Time              `json:"new_date,omitempty"`
	NewHour   *int                   `json:"new_hour,omitempty"`
	NewMinute int                    `json:"new_minute,omitempty"`
	Edge      Edge                   `json:"edge,omitempty"`
	NewTime   time.Time              `json:"new_time,omitempty"`
}

// Times returns the event's interval after the intent is applied. A move
// without an hour keeps the original time of day; all-day events only change
// date.
func (in Intent) Times() (time.Time, time.Time) {
	ev := in.Event
	switch in.Kind {
	case KindResize:
		if in.Edge == EdgeStart {
			return in.NewTime, ev.End
		}
		return ev.Start, in.NewTime
	default:
		day := window.StartOfDay(in.NewDate)
		if ev.AllDay {
			shift := day.Sub(window.StartOfDay(ev.Start))
			return day, ev.End.Add(shift)
		}
		hour, minute := ev.Start.Hour(), ev.Start.Minute()
		sec := ev.Start.Second()
		if in.NewHour != nil {
			hour, minute, sec = *in.NewHour, in.NewMinute, 0
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, 0, day.Location())
		return start, start.Add(ev.End.Sub(ev.Start))
	}
}

type Controller struct {
	// Slot is the length of one hour-grid slot; a resize of the end edge lands
	// on the end of the target slot.
	Slot    time.Duration
	session Session
}

func NewController() *Controller {
	return &Controller{Slot: time.Hour, session: Idle{}}
}

func (c *Controller) Session() Session {
	if c.session == nil {
		return Idle{}
	}
	return c.session
}

// BeginDrag starts moving ev. Any resize in progress is abandoned.
func (c *Controller) BeginDrag(ev contract.CalendarEvent, origin Target) error {
	if !ev.Type.Mutable() {
		return fmt.Errorf("%w: %s", ErrNotMutable, ev.Type)
	}
	c.session = Dragging{Event: ev, Origin: origin}
	return nil
}

// BeginResize starts stretching one edge of ev. Any drag in progress is
// abandoned.
func (c *Controller) BeginResize(ev contract.CalendarEvent, edge Edge) error {
	if !ev.Type.Resizable() || ev.AllDay {
		return fmt.Errorf("%w: %s", ErrNotResizable, ev.Type)
	}
	if edge != EdgeStart && edge != EdgeEnd {
		return fmt.Errorf("%w: edge %q", ErrNotResizable, edge)
	}
	c.session = Resizing{Event: ev, Edge: edge}
	return nil
}

// Cancel abandons the current gesture without emitting anything.
func (c *Controller) Cancel() {
	c.session = Idle{}
}

// Drop ends the current gesture on target. The session is discarded whatever
// the outcome.
func (c *Controller) Drop(target Target) (Intent, error) {
	current := c.Session()
	c.session = Idle{}

	switch s := current.(type) {
	case Dragging:
		if !target.valid() {
			return Intent{}, ErrNoTarget
		}
		in := Intent{Kind: KindMove, Event: s.Event, NewDate: window.StartOfDay(target.Date)}
		if target.Hour != nil {
			h := *target.Hour
			in.NewHour = &h
			in.NewMinute = target.Minute
		}
		return in, nil
	case Resizing:
		if !target.valid() || target.Hour == nil {
			return Intent{}, ErrNoTarget
		}
		in := Intent{Kind: KindResize, Event: s.Event, Edge: s.Edge, NewTime: target.slotStart()}
		if s.Edge == EdgeEnd {
			slot := c.Slot
			if slot <= 0 {
				slot = time.Hour
			}
			in.NewTime = in.NewTime.Add(slot)
		}
		start, end := in.Times()
		if end.Sub(start) < MinDuration {
			return Intent{}, ErrTooShort
		}
		return in, nil
	default:
		return Intent{}, ErrIdle
	}
}

// IsValidation reports whether err is a local gesture rejection that never
// reached a backend.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNotMutable) ||
		errors.Is(err, ErrNotResizable) ||
		errors.Is(err, ErrTooShort) ||
		errors.Is(err, ErrNoTarget) ||
		errors.Is(err, ErrIdle)
}
