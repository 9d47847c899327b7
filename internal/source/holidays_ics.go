package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/normalize"
)

const maxHolidayOccurrences = 400

// ICSHolidays reads organization holidays from an iCalendar feed, given as an
// http(s) URL or a local file path. Yearly RRULEs are expanded into the
// requested window.
type ICSHolidays struct {
	location string
	client   *http.Client
}

func NewICSHolidays(location string, client *http.Client) *ICSHolidays {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ICSHolidays{location: strings.TrimSpace(location), client: client}
}

func (h *ICSHolidays) read(ctx context.Context) ([]byte, error) {
	if h.location == "" {
		return nil, errors.New("holiday feed location is empty")
	}
	if !strings.HasPrefix(h.location, "http://") && !strings.HasPrefix(h.location, "https://") {
		return os.ReadFile(h.location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (h *ICSHolidays) Holidays(ctx context.Context, f FetchFilter) ([]normalize.RawHoliday, error) {
	body, err := h.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("holiday feed: %w", err)
	}
	return ParseHolidays(body, f)
}

// ParseHolidays expands every VEVENT in an ICS payload into one raw holiday per
// day inside [f.From, f.To).
func ParseHolidays(body []byte, f FetchFilter) ([]normalize.RawHoliday, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse holiday feed: %w", err)
	}
	loc := f.From.Location()

	out := []normalize.RawHoliday{}
	for _, ve := range cal.Events() {
		uid := ""
		if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
			uid = strings.TrimSpace(p.Value)
		}
		dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
		if uid == "" || dtstart == nil {
			log.Debug("skipping holiday without uid or start", "uid", uid)
			continue
		}
		start, err := parseICSDate(dtstart.Value, loc)
		if err != nil {
			log.Debug("skipping holiday with bad start", "uid", uid, "value", dtstart.Value)
			continue
		}
		name := ""
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			name = p.Value
		}

		days := []time.Time{start}
		if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
			var exdates []string
			for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
				exdates = append(exdates, strings.Split(ex.Value, ",")...)
			}
			days, err = expandRule(p.Value, start, exdates, f, loc)
			if err != nil {
				log.Error("holiday rrule rejected", err, "uid", uid)
				continue
			}
		}
		for _, day := range days {
			if day.Before(f.From) || !day.Before(f.To) {
				continue
			}
			out = append(out, normalize.RawHoliday{
				ID:   uid + "-" + day.Format("20060102"),
				Name: name,
				Date: day.Format("2006-01-02"),
			})
		}
	}
	return out, nil
}

func expandRule(raw string, start time.Time, exdates []string, f FetchFilter, loc *time.Location) ([]time.Time, error) {
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, v := range exdates {
		if ex, err := parseICSDate(v, loc); err == nil {
			set.ExDate(ex)
		}
	}

	occ := set.Between(f.From, f.To, true)
	if len(occ) > maxHolidayOccurrences {
		occ = occ[:maxHolidayOccurrences]
	}
	return occ, nil
}

// parseICSDate reads DATE or DATE-TIME values and returns local midnight of
// that day.
func parseICSDate(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	var ts time.Time
	var err error
	switch {
	case strings.HasSuffix(v, "Z"):
		ts, err = time.Parse("20060102T150405Z", v)
		ts = ts.In(loc)
	case strings.Contains(v, "T"):
		ts, err = time.ParseInLocation("20060102T150405", v, loc)
	default:
		ts, err = time.ParseInLocation("20060102", v, loc)
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc), nil
}
