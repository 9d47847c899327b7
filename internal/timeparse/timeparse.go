package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDateTime accepts today/tomorrow/yesterday, relative +Nd/-Nw offsets and
// the absolute layouts ParseTimestamp understands.
func ParseDateTime(input string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}

	switch s {
	case "today":
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	case "tomorrow":
		v, _ := ParseDateTime("today", now, loc)
		return v.AddDate(0, 0, 1), nil
	case "yesterday":
		v, _ := ParseDateTime("today", now, loc)
		return v.AddDate(0, 0, -1), nil
	}

	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		sign := 1
		if strings.HasPrefix(s, "-") {
			sign = -1
		}
		raw := strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")
		unit := 1
		switch {
		case strings.HasSuffix(raw, "d"):
			raw = strings.TrimSuffix(raw, "d")
		case strings.HasSuffix(raw, "w"):
			raw = strings.TrimSuffix(raw, "w")
			unit = 7
		default:
			return time.Time{}, fmt.Errorf("invalid relative day: %s", input)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative day: %s", input)
		}
		v, _ := ParseDateTime("today", now, loc)
		return v.AddDate(0, 0, sign*n*unit), nil
	}

	return ParseTimestamp(input, loc)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses absolute timestamps only. Values without a zone are
// read in loc.
func ParseTimestamp(input string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(input)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported datetime format: %s", input)
}

// ParseDate parses a YYYY-MM-DD calendar date at midnight in loc. A full
// timestamp is accepted and truncated to its date.
func ParseDate(input string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(input)
	if ts, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return ts, nil
	}
	ts, err := ParseTimestamp(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported date format: %s", input)
	}
	ts = ts.In(loc)
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc), nil
}

// ParseClock parses HH:MM or HH:MM:SS.
func ParseClock(input string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(input), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("invalid clock value: %s", input)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %s", input)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %s", input)
	}
	return h, m, nil
}
