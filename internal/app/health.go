package app

import (
	"context"
	"sort"
	"strings"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/source"
	"github.com/agis/tcal/internal/store"
)

type healthResult struct {
	Ready     bool                   `json:"ready"`
	Degraded  bool                   `json:"degraded"`
	Checks    []contract.DoctorCheck `json:"checks"`
	NextSteps []string               `json:"next_steps,omitempty"`
	Notes     []string               `json:"notes,omitempty"`
	Backend   string                 `json:"backend"`
}

// runChecks gathers backend checks plus the local state database and the
// holiday feed when one is configured.
func runChecks(ctx context.Context, ro *globalOptions, be source.Backend) ([]contract.DoctorCheck, error) {
	checks, derr := doctorWithTimeout(ctx, be)
	checks = append(checks, stateDBCheck(ctx, ro.StateDB))
	if ro.HolidaysICS != "" {
		checks = append(checks, holidayFeedCheck(ctx, ro.HolidaysICS))
	}
	return checks, derr
}

func stateDBCheck(ctx context.Context, path string) contract.DoctorCheck {
	st, err := store.Open(ctx, path)
	if err != nil {
		return contract.DoctorCheck{Name: "state_db", Status: "fail", Message: err.Error()}
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return contract.DoctorCheck{Name: "state_db", Status: "fail", Message: err.Error()}
	}
	return contract.DoctorCheck{Name: "state_db", Status: "ok", Message: st.Path()}
}

func holidayFeedCheck(ctx context.Context, location string) contract.DoctorCheck {
	feed := source.NewICSHolidays(location, nil)
	if _, err := feed.Holidays(ctx, source.FetchFilter{}); err != nil {
		return contract.DoctorCheck{Name: "holidays_ics", Status: "warn", Message: err.Error()}
	}
	return contract.DoctorCheck{Name: "holidays_ics", Status: "ok", Message: location}
}

func buildHealth(checks []contract.DoctorCheck, derr error, backend string) healthResult {
	res := healthResult{
		Ready:   true,
		Checks:  checks,
		Backend: strings.TrimSpace(backend),
	}

	status := func(name string) (string, bool) {
		for _, c := range checks {
			if strings.EqualFold(strings.TrimSpace(c.Name), name) {
				return strings.ToLower(strings.TrimSpace(c.Status)), true
			}
		}
		return "", false
	}

	if derr != nil {
		res.Ready = false
		res.NextSteps = append(res.NextSteps, "Check base_url and that the calendar service is reachable, or use --backend fixture offline.")
	}
	if st, ok := status("state_db"); !ok || st != "ok" {
		res.Ready = false
		res.NextSteps = append(res.NextSteps, "Point state_db (or TCAL_STATE_DB) at a writable path.")
	}
	if st, ok := status("holidays_ics"); ok && st != "ok" {
		res.Degraded = true
		res.Notes = append(res.Notes, "Holiday feed is unreadable; holidays fall back to the service endpoint.")
	}
	for _, c := range checks {
		if s := strings.ToLower(c.Status); s == "fail" && c.Name != "state_db" {
			res.Degraded = true
		}
	}

	if res.Ready {
		res.NextSteps = append(res.NextSteps, "Verify reads with: `tcal view week --json`")
		res.NextSteps = append(res.NextSteps, "Verify writes with: `tcal move <event-id> --date YYYY-MM-DD --dry-run --json`")
	}
	if derr != nil {
		res.Notes = append(res.Notes, derr.Error())
	}
	return res
}

func deriveDegradedReasonCodes(checks []contract.DoctorCheck, derr error) []string {
	codeSet := map[string]struct{}{}
	for _, c := range checks {
		status := strings.ToLower(strings.TrimSpace(c.Status))
		if status == "" || status == "ok" || status == "pass" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(c.Name))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, "-", "_")
		if name == "" {
			name = "unknown_check"
		}
		codeSet[name+"_fail"] = struct{}{}
	}
	if derr != nil {
		codeSet["doctor_error"] = struct{}{}
	}
	if len(codeSet) == 0 {
		return nil
	}
	out := make([]string, 0, len(codeSet))
	for code := range codeSet {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
