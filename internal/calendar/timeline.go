package calendar

import (
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/geometry"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
)

// Timeline is one rendered view: the window, the visible events and their
// layout, plus what went wrong while fetching.
type Timeline struct {
	Window      window.Window            `json:"window"`
	State       viewstate.State          `json:"state"`
	Events      []contract.CalendarEvent `json:"events"`
	Total       int                      `json:"total"`
	Layout      Layout                   `json:"layout"`
	Diagnostics []normalize.Diagnostic   `json:"diagnostics,omitempty"`
	Failed      []contract.SourceFailure `json:"failed"`
	Loaded      bool                     `json:"loaded"`
	RefreshedAt time.Time                `json:"refreshed_at"`
}

// Layout carries the geometry for the active mode; only one field is set.
type Layout struct {
	Columns []geometry.Column `json:"columns,omitempty"`
	Cells   []geometry.Cell   `json:"cells,omitempty"`
	Lanes   []geometry.Lane   `json:"lanes,omitempty"`
}

func layout(win window.Window, events []contract.CalendarEvent, grid geometry.HourGrid) Layout {
	switch win.Mode {
	case window.ModeRoadmap:
		return Layout{Lanes: geometry.Roadmap(events, win)}
	case window.ModeMonth:
		cells := make([]geometry.Cell, 0, len(win.Days))
		for _, day := range win.Days {
			cells = append(cells, geometry.MonthCell(events, day, MonthCellLimit))
		}
		return Layout{Cells: cells}
	default:
		cols := make([]geometry.Column, 0, len(win.Days))
		for _, day := range win.Days {
			cols = append(cols, grid.Column(events, day))
		}
		return Layout{Columns: cols}
	}
}
