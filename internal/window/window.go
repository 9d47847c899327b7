// Package window resolves a view mode and anchor date into the concrete span
// of time a calendar view displays.
package window

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeMonth   Mode = "month"
	ModeWeek    Mode = "week"
	ModeDay     Mode = "day"
	ModeRoadmap Mode = "roadmap"
)

// RoadmapMonths is the fixed horizon of the roadmap view.
const RoadmapMonths = 3

func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeMonth:
		return ModeMonth, nil
	case ModeWeek:
		return ModeWeek, nil
	case ModeDay:
		return ModeDay, nil
	case ModeRoadmap:
		return ModeRoadmap, nil
	default:
		return "", fmt.Errorf("invalid view mode: %s", v)
	}
}

type Options struct {
	WeekStart    time.Weekday
	ShowWeekends bool
}

// DefaultOptions starts weeks on Monday and shows weekends.
func DefaultOptions() Options {
	return Options{WeekStart: time.Monday, ShowWeekends: true}
}

// Window is the half-open span [Start, End) a view renders. Days is the
// ordered list of day columns/cells; it is empty for the roadmap, which is laid
// out per person instead of per day.
type Window struct {
	Mode   Mode        `json:"mode"`
	Anchor time.Time   `json:"anchor"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Days   []time.Time `json:"days,omitempty"`
}

// Key identifies the window for tagging in-flight fetches.
func (w Window) Key() string {
	return string(w.Mode) + "|" + w.Start.Format(time.RFC3339) + "|" + w.End.Format(time.RFC3339)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Length() time.Duration {
	return w.End.Sub(w.Start)
}

// Resolve is total: every mode and anchor produce a window. Unknown modes fall
// back to the week view.
func Resolve(mode Mode, anchor time.Time, opts Options) Window {
	day := StartOfDay(anchor)
	w := Window{Mode: mode, Anchor: day}
	switch mode {
	case ModeDay:
		w.Start = day
		w.End = day.AddDate(0, 0, 1)
		w.Days = []time.Time{day}
	case ModeMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		last := first.AddDate(0, 1, -1)
		w.Start = StartOfWeek(first, opts.WeekStart)
		w.End = StartOfWeek(last, opts.WeekStart).AddDate(0, 0, 7)
		w.Days = daysBetween(w.Start, w.End, true)
	case ModeRoadmap:
		w.Start = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		w.End = w.Start.AddDate(0, RoadmapMonths, 0)
	default:
		w.Mode = ModeWeek
		w.Start = StartOfWeek(day, opts.WeekStart)
		w.End = w.Start.AddDate(0, 0, 7)
		w.Days = daysBetween(w.Start, w.End, opts.ShowWeekends)
	}
	return w
}

// Step moves the anchor by delta view-sized units (days, weeks, months or
// roadmap horizons).
func Step(mode Mode, anchor time.Time, delta int) time.Time {
	day := StartOfDay(anchor)
	switch mode {
	case ModeDay:
		return day.AddDate(0, 0, delta)
	case ModeMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return first.AddDate(0, delta, 0)
	case ModeRoadmap:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return first.AddDate(0, delta*RoadmapMonths, 0)
	default:
		return day.AddDate(0, 0, 7*delta)
	}
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := StartOfDay(t)
	delta := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -delta)
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func daysBetween(start, end time.Time, weekends bool) []time.Time {
	out := make([]time.Time, 0, 42)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if !weekends && IsWeekend(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
