package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

// EventLine is the one-line plain form of an event.
func EventLine(ev contract.CalendarEvent) string {
	when := ""
	if ev.AllDay {
		start, end := ev.Start.Format("2006-01-02"), ev.End.Format("2006-01-02")
		if start == end {
			when = start + " all-day"
		} else {
			when = start + ".." + end + " all-day"
		}
	} else {
		when = ev.Start.Format("2006-01-02 15:04") + "-" + ev.End.Format("15:04")
	}
	parts := []string{when, ev.ID, ev.Title, "[" + string(ev.Type) + "]"}
	if ev.OwnerID != "" {
		parts = append(parts, "@"+ev.OwnerID)
	}
	return strings.Join(parts, "\t")
}

// Ago renders t relative to now, or "never" for the zero time.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Count renders n with thousands separators and a pluralized noun.
func Count(n int, noun string) string {
	return fmt.Sprintf("%s %s", humanize.Comma(int64(n)), english.PluralWord(n, noun, ""))
}
