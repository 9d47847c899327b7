package geometry

import (
	"testing"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/window"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 4, day, hour, minute, 0, 0, time.UTC)
}

func timed(id string, start, end time.Time) contract.CalendarEvent {
	return contract.CalendarEvent{ID: id, Start: start, End: end, Type: contract.TypeTimeBlock}
}

func allDay(id, owner string, start, end time.Time) contract.CalendarEvent {
	return contract.CalendarEvent{ID: id, Start: start, End: end, AllDay: true, Type: contract.TypeLeaveRequest, OwnerID: owner}
}

func TestPlaceTopAndHeight(t *testing.T) {
	g := DefaultHourGrid()
	blocks := g.Place([]contract.CalendarEvent{
		timed("a", at(8, 9, 30), at(8, 10, 30)),
		timed("b", at(8, 12, 0), at(8, 12, 15)),
		allDay("c", "", at(8, 0, 0), at(8, 0, 0)),
	}, at(8, 0, 0))

	if len(blocks) != 2 {
		t.Fatalf("expected all-day event to be excluded, got %+v", blocks)
	}
	if blocks[0].EventID != "a" || blocks[0].Top != 456 || blocks[0].Height != 46 {
		t.Fatalf("unexpected block a: %+v", blocks[0])
	}
	if blocks[1].Height != g.MinHeight {
		t.Fatalf("short event should get min height, got %+v", blocks[1])
	}
}

func TestPlacePacksOverlapsIntoLanes(t *testing.T) {
	g := DefaultHourGrid()
	blocks := g.Place([]contract.CalendarEvent{
		timed("d", at(8, 13, 0), at(8, 14, 0)),
		timed("a", at(8, 9, 0), at(8, 11, 0)),
		timed("b", at(8, 10, 0), at(8, 12, 0)),
		timed("c", at(8, 11, 0), at(8, 12, 0)),
	}, at(8, 0, 0))

	want := map[string][2]int{
		"a": {0, 2},
		"b": {1, 2},
		"c": {0, 2},
		"d": {0, 1},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d", len(want), len(blocks))
	}
	for _, b := range blocks {
		w := want[b.EventID]
		if b.Lane != w[0] || b.Lanes != w[1] {
			t.Fatalf("block %s: lane %d/%d, want %d/%d", b.EventID, b.Lane, b.Lanes, w[0], w[1])
		}
	}
}

func TestPlaceClipsToColumn(t *testing.T) {
	g := DefaultHourGrid()
	blocks := g.Place([]contract.CalendarEvent{timed("x", at(7, 22, 0), at(8, 2, 0))}, at(8, 0, 0))
	if len(blocks) != 1 || blocks[0].Top != 0 || blocks[0].Height != 2*g.RowHeight-g.Gutter {
		t.Fatalf("unexpected clipped block %+v", blocks)
	}
}

func TestColumn(t *testing.T) {
	g := DefaultHourGrid()
	col := g.Column([]contract.CalendarEvent{
		timed("a", at(8, 9, 30), at(8, 10, 30)),
		allDay("l", "u1", at(7, 0, 0), at(9, 0, 0)),
		timed("other-day", at(9, 9, 0), at(9, 10, 0)),
	}, at(8, 15, 0))

	if len(col.AllDay) != 1 || col.AllDay[0] != "l" {
		t.Fatalf("expected multi-day leave in all-day lane, got %v", col.AllDay)
	}
	if len(col.Hours[9]) != 1 || col.Hours[9][0] != "a" {
		t.Fatalf("expected event a in 09 row, got %v", col.Hours[9])
	}
	if len(col.Blocks) != 1 {
		t.Fatalf("expected one block, got %+v", col.Blocks)
	}
}

func TestTimeAt(t *testing.T) {
	g := DefaultHourGrid()
	cases := []struct {
		y    float64
		want time.Time
	}{
		{456, at(8, 9, 30)},
		{460, at(8, 9, 30)},
		{-5, at(8, 0, 0)},
		{10000, at(8, 23, 45)},
	}
	for _, tc := range cases {
		if got := g.TimeAt(at(8, 17, 0), tc.y, 15*time.Minute); !got.Equal(tc.want) {
			t.Fatalf("TimeAt(%v) = %s, want %s", tc.y, got, tc.want)
		}
	}
}

func TestMonthCellOverflow(t *testing.T) {
	events := []contract.CalendarEvent{
		allDay("l", "u1", at(7, 0, 0), at(9, 0, 0)),
		timed("a", at(8, 9, 0), at(8, 10, 0)),
		timed("b", at(8, 11, 0), at(8, 12, 0)),
		timed("c", at(9, 11, 0), at(9, 12, 0)),
	}
	cell := MonthCell(events, at(8, 0, 0), 2)
	if len(cell.Visible) != 2 || cell.More != 1 {
		t.Fatalf("expected 2 visible + 1 more, got %d + %d", len(cell.Visible), cell.More)
	}
	if all := MonthCell(events, at(8, 0, 0), 0); len(all.Visible) != 3 || all.More != 0 {
		t.Fatalf("non-positive limit should show everything, got %+v", all)
	}
}

func TestRoadmap(t *testing.T) {
	win := window.Resolve(window.ModeRoadmap, at(15, 0, 0), window.DefaultOptions())
	days := win.End.Sub(win.Start).Hours() / 24

	lanes := Roadmap([]contract.CalendarEvent{
		allDay("l2", "u2", at(1, 0, 0), at(1, 0, 0)),
		allDay("l1", "u1", time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), at(10, 0, 0)),
		{ID: "h", Start: at(18, 0, 0), End: at(18, 0, 0), AllDay: true, Type: contract.TypePublicHoliday},
		allDay("past", "u1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)),
		timed("short", at(2, 9, 0), at(2, 10, 0)),
	}, win)

	if len(lanes) != 3 || lanes[0].OwnerID != "u1" || lanes[1].OwnerID != "u2" || lanes[2].OwnerID != "" {
		t.Fatalf("unexpected lanes %+v", lanes)
	}
	if len(lanes[0].Bars) != 1 {
		t.Fatalf("out-of-window event should be skipped: %+v", lanes[0].Bars)
	}
	clipped := lanes[0].Bars[0]
	if clipped.LeftPercent != 0 || !near(clipped.WidthPercent, 10/days*100) {
		t.Fatalf("clipped bar: %+v", clipped)
	}
	if !near(lanes[1].Bars[0].WidthPercent, 1/days*100) {
		t.Fatalf("single day bar should be one day wide: %+v", lanes[1].Bars[0])
	}
	for _, b := range lanes[2].Bars {
		if b.WidthPercent < 1/days*100-1e-9 {
			t.Fatalf("bar %s narrower than a day: %+v", b.EventID, b)
		}
	}
}

func TestRoadmapDateAt(t *testing.T) {
	win := window.Resolve(window.ModeRoadmap, at(15, 0, 0), window.DefaultOptions())
	cases := []struct {
		percent float64
		want    time.Time
	}{
		{0, at(1, 0, 0)},
		{-10, at(1, 0, 0)},
		{50, time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)},
		{100, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := RoadmapDateAt(win, tc.percent); !got.Equal(tc.want) {
			t.Fatalf("RoadmapDateAt(%v) = %s, want %s", tc.percent, got, tc.want)
		}
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
