// Package geometry maps events onto layout coordinates for the hour grid,
// month cells and the roadmap, and maps pointer positions back to times.
package geometry

import (
	"math"
	"sort"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/window"
)

// HourGrid lays timed events out on rows of one hour each.
type HourGrid struct {
	RowHeight float64
	MinHeight float64
	Gutter    float64
}

func DefaultHourGrid() HourGrid {
	return HourGrid{RowHeight: 48, MinHeight: 18, Gutter: 2}
}

// Block is one positioned event. Lane is zero-based out of Lanes side-by-side
// columns shared with overlapping events.
type Block struct {
	EventID string  `json:"event_id"`
	Top     float64 `json:"top"`
	Height  float64 `json:"height"`
	Lane    int     `json:"lane"`
	Lanes   int     `json:"lanes"`
}

// Place positions the timed events intersecting the 24 hours starting at top.
// All-day events are excluded. Events crossing the column edges are clipped.
func (g HourGrid) Place(events []contract.CalendarEvent, top time.Time) []Block {
	bottom := top.Add(24 * time.Hour)
	type span struct {
		id         string
		start, end time.Time
		// packEnd extends short events to the space they occupy on screen.
		packEnd time.Time
	}
	minSpan := time.Duration(0)
	if g.RowHeight > 0 {
		minSpan = time.Duration(g.MinHeight / g.RowHeight * float64(time.Hour))
	}
	spans := make([]span, 0, len(events))
	for _, ev := range events {
		if ev.AllDay || !ev.Overlaps(top, bottom) {
			continue
		}
		s, e := ev.Start, ev.End
		if s.Before(top) {
			s = top
		}
		if e.After(bottom) {
			e = bottom
		}
		packEnd := e
		if floor := s.Add(minSpan); packEnd.Before(floor) {
			packEnd = floor
		}
		spans = append(spans, span{id: ev.ID, start: s, end: e, packEnd: packEnd})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if !spans[i].start.Equal(spans[j].start) {
			return spans[i].start.Before(spans[j].start)
		}
		if !spans[i].end.Equal(spans[j].end) {
			return spans[i].end.After(spans[j].end)
		}
		return spans[i].id < spans[j].id
	})

	blocks := make([]Block, len(spans))
	var laneEnds []time.Time
	clusterStart := 0
	var clusterEnd time.Time
	closeCluster := func(upTo int) {
		for i := clusterStart; i < upTo; i++ {
			blocks[i].Lanes = len(laneEnds)
		}
		laneEnds = laneEnds[:0]
		clusterStart = upTo
	}

	for i, sp := range spans {
		if i > clusterStart && !sp.start.Before(clusterEnd) {
			closeCluster(i)
		}
		lane := -1
		for l, end := range laneEnds {
			if !sp.start.Before(end) {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, sp.packEnd)
		} else {
			laneEnds[lane] = sp.packEnd
		}
		if i == clusterStart || sp.packEnd.After(clusterEnd) {
			clusterEnd = sp.packEnd
		}

		minutes := sp.start.Sub(top).Minutes()
		hours := sp.end.Sub(sp.start).Hours()
		blocks[i] = Block{
			EventID: sp.id,
			Top:     minutes / 60 * g.RowHeight,
			Height:  math.Max(g.MinHeight, hours*g.RowHeight-g.Gutter),
			Lane:    lane,
		}
	}
	closeCluster(len(spans))
	return blocks
}

// Column is one day of the hour grid: an all-day lane above 24 hour rows.
type Column struct {
	Day    time.Time    `json:"day"`
	AllDay []string     `json:"all_day"`
	Hours  [24][]string `json:"hours"`
	Blocks []Block      `json:"blocks"`
}

// Column builds the day column for day. Hours lists the ids of timed events
// starting in each hour row.
func (g HourGrid) Column(events []contract.CalendarEvent, day time.Time) Column {
	start := window.StartOfDay(day)
	end := start.AddDate(0, 0, 1)
	col := Column{Day: start, AllDay: []string{}}
	for _, ev := range events {
		if !ev.Overlaps(start, end) {
			continue
		}
		if ev.AllDay {
			col.AllDay = append(col.AllDay, ev.ID)
			continue
		}
		h := 0
		if !ev.Start.Before(start) {
			h = ev.Start.Hour()
		}
		col.Hours[h] = append(col.Hours[h], ev.ID)
	}
	col.Blocks = g.Place(events, start)
	return col
}

// TimeAt maps a vertical offset in day's column to a time snapped down to the
// given step. The result always falls inside the day.
func (g HourGrid) TimeAt(day time.Time, y float64, snap time.Duration) time.Time {
	start := window.StartOfDay(day)
	if g.RowHeight <= 0 {
		return start
	}
	if snap <= 0 {
		snap = time.Minute
	}
	offset := time.Duration(y / g.RowHeight * float64(time.Hour))
	if offset < 0 {
		offset = 0
	}
	offset = offset.Truncate(snap)
	if last := 24*time.Hour - snap; offset > last {
		offset = last
	}
	return start.Add(offset)
}

// Cell is one month-view day with its overflow count.
type Cell struct {
	Day     time.Time                `json:"day"`
	Visible []contract.CalendarEvent `json:"visible"`
	More    int                      `json:"more"`
}

// MonthCell collects the events touching day, showing at most limit of them.
// A non-positive limit shows everything.
func MonthCell(events []contract.CalendarEvent, day time.Time, limit int) Cell {
	start := window.StartOfDay(day)
	end := start.AddDate(0, 0, 1)
	cell := Cell{Day: start, Visible: []contract.CalendarEvent{}}
	for _, ev := range events {
		if !ev.Overlaps(start, end) {
			continue
		}
		if limit > 0 && len(cell.Visible) >= limit {
			cell.More++
			continue
		}
		cell.Visible = append(cell.Visible, ev)
	}
	return cell
}
