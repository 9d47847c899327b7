package app

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/window"
)

// timelineView is a Timeline that prints itself as a day-by-day agenda.
type timelineView struct {
	calendar.Timeline
	now time.Time
}

func (v timelineView) RenderPlain(w io.Writer) error {
	win := v.Window
	last := win.End.AddDate(0, 0, -1)
	_, _ = fmt.Fprintf(w, "%s %s..%s  %s", win.Mode, win.Start.Format("2006-01-02"), last.Format("2006-01-02"), output.Count(len(v.Events), "event"))
	if v.Total != len(v.Events) {
		_, _ = fmt.Fprintf(w, " (of %d)", v.Total)
	}
	_, _ = fmt.Fprintf(w, "  refreshed %s\n", output.Ago(v.RefreshedAt, v.now))
	for _, f := range v.Failed {
		_, _ = fmt.Fprintf(w, "unavailable: %s (%s)\n", f.Source, f.Message)
	}

	byID := make(map[string]contract.CalendarEvent, len(v.Events))
	for _, ev := range v.Events {
		byID[ev.ID] = ev
	}
	switch win.Mode {
	case window.ModeRoadmap:
		for _, lane := range v.Layout.Lanes {
			owner := lane.OwnerID
			if owner == "" {
				owner = "(unassigned)"
			}
			_, _ = fmt.Fprintf(w, "\n%s\n", owner)
			for _, bar := range lane.Bars {
				_, _ = fmt.Fprintf(w, "  %5.1f%% +%5.1f%%  %s\n", bar.LeftPercent, bar.WidthPercent, output.EventLine(byID[bar.EventID]))
			}
		}
	case window.ModeMonth:
		for _, cell := range v.Layout.Cells {
			if len(cell.Visible) == 0 && cell.More == 0 {
				continue
			}
			_, _ = fmt.Fprintf(w, "\n%s\n", cell.Day.Format("Mon 2006-01-02"))
			for _, ev := range cell.Visible {
				_, _ = fmt.Fprintf(w, "  %s\n", output.EventLine(ev))
			}
			if cell.More > 0 {
				_, _ = fmt.Fprintf(w, "  +%d more\n", cell.More)
			}
		}
	default:
		for _, col := range v.Layout.Columns {
			_, _ = fmt.Fprintf(w, "\n%s\n", col.Day.Format("Mon 2006-01-02"))
			for _, id := range col.AllDay {
				_, _ = fmt.Fprintf(w, "  %s\n", output.EventLine(byID[id]))
			}
			for _, ids := range col.Hours {
				for _, id := range ids {
					_, _ = fmt.Fprintf(w, "  %s\n", output.EventLine(byID[id]))
				}
			}
		}
	}
	return nil
}

// eventList prints one event per line.
type eventList []contract.CalendarEvent

func (l eventList) RenderPlain(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	for _, ev := range l {
		if _, err := fmt.Fprintln(w, output.EventLine(ev)); err != nil {
			return err
		}
	}
	return nil
}

// dropView prints the request a gesture produced.
type dropView struct {
	calendar.DropResult
}

func (d dropView) RenderPlain(w io.Writer) error {
	verb := "sent"
	if d.DryRun {
		verb = "would send"
	}
	keys := make([]string, 0, len(d.Request.Body))
	for k, v := range d.Request.Body {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	_, err := fmt.Fprintf(w, "%s %s %s %s  %s\n", verb, d.Request.Method, d.Request.Path, strings.Join(keys, " "), d.Intent.Event.ID)
	return err
}

// historyView prints journal entries newest first with relative times.
type historyView struct {
	entries []dispatch.Entry
	now     time.Time
}

func (h historyView) RenderPlain(w io.Writer) error {
	if len(h.entries) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	for _, e := range h.entries {
		line := fmt.Sprintf("%s\t%s\t%s %s\t%s\t%s", output.Ago(e.CreatedAt, h.now), e.Status, e.Method, e.Path, e.Kind, e.EventID)
		if e.Error != "" {
			line += "\t" + e.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
