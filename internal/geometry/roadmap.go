package geometry

import (
	"sort"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/window"
)

// Bar is one event on a roadmap lane, in percent of the window width.
type Bar struct {
	EventID      string  `json:"event_id"`
	LeftPercent  float64 `json:"left_percent"`
	WidthPercent float64 `json:"width_percent"`
}

// Lane groups the bars of one owner. Events without an owner share the lane
// with an empty OwnerID, listed last.
type Lane struct {
	OwnerID string `json:"owner_id"`
	Bars    []Bar  `json:"bars"`
}

// Roadmap lays events out on per-owner lanes across win. Bars are clipped to
// the window and are never narrower than one day.
func Roadmap(events []contract.CalendarEvent, win window.Window) []Lane {
	total := win.End.Sub(win.Start)
	if total <= 0 {
		return nil
	}
	minWidth := pct(24*time.Hour, total)

	byOwner := map[string]*Lane{}
	var order []string
	for _, ev := range events {
		if !ev.Overlaps(win.Start, win.End) {
			continue
		}
		s, e := ev.Span()
		if s.Before(win.Start) {
			s = win.Start
		}
		if e.After(win.End) {
			e = win.End
		}
		left := pct(s.Sub(win.Start), total)
		width := pct(e.Sub(s), total)
		if width < minWidth {
			width = minWidth
		}
		if left+width > 100 {
			left = 100 - width
		}

		lane, ok := byOwner[ev.OwnerID]
		if !ok {
			lane = &Lane{OwnerID: ev.OwnerID}
			byOwner[ev.OwnerID] = lane
			order = append(order, ev.OwnerID)
		}
		lane.Bars = append(lane.Bars, Bar{EventID: ev.ID, LeftPercent: left, WidthPercent: width})
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i] == "" || order[j] == "" {
			return order[j] == "" && order[i] != ""
		}
		return order[i] < order[j]
	})
	out := make([]Lane, 0, len(order))
	for _, owner := range order {
		out = append(out, *byOwner[owner])
	}
	return out
}

// RoadmapDateAt maps a horizontal position in percent to the day under it.
func RoadmapDateAt(win window.Window, percent float64) time.Time {
	if percent < 0 {
		percent = 0
	}
	total := win.End.Sub(win.Start)
	at := win.Start.Add(time.Duration(percent / 100 * float64(total)))
	if !at.Before(win.End) {
		at = win.End.Add(-time.Nanosecond)
	}
	return window.StartOfDay(at)
}

func pct(d, total time.Duration) float64 {
	return float64(d) / float64(total) * 100
}
