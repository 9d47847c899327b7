// Package duration converts between time.Duration and the "<H>h <M>m" strings
// the external field-service system stores as a task's length.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Max is the longest duration Parse accepts.
const Max = 9999 * time.Hour

var bareHours = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Format renders d in whole minutes as "8h 30m", or "2h" when the minutes are
// zero. Sub-minute remainders are rounded to the nearest minute.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int64(d.Round(time.Minute) / time.Minute)
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// Parse accepts "8h 30m", "8h30m", "2h", "45m" and bare decimal hour counts
// such as "1.5". Anything longer than Max is rejected.
func Parse(v string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if bareHours.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f > Max.Hours() {
			return 0, fmt.Errorf("duration out of range: %s", v)
		}
		return time.Duration(f * float64(time.Hour)).Round(time.Minute), nil
	}
	s = strings.ReplaceAll(s, " ", "")
	var total time.Duration
	seen := false
	for s != "" {
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("invalid duration: %s", v)
		}
		n, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil || n > int64(Max/time.Minute) {
			return 0, fmt.Errorf("duration out of range: %s", v)
		}
		switch s[i] {
		case 'h':
			if n > int64(Max/time.Hour) {
				return 0, fmt.Errorf("duration out of range: %s", v)
			}
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		default:
			return 0, fmt.Errorf("invalid duration unit in %s", v)
		}
		if total > Max {
			return 0, fmt.Errorf("duration out of range: %s", v)
		}
		seen = true
		s = s[i+1:]
	}
	if !seen {
		return 0, fmt.Errorf("invalid duration: %s", v)
	}
	return total, nil
}
