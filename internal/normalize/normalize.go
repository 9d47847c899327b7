package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/duration"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/agis/tcal/internal/window"
)

// Prefixes namespaces source-local ids so events from different systems never
// collide.
var Prefixes = map[contract.EventType]string{
	contract.TypeExternalTask:  "task",
	contract.TypeWorkItem:      "work",
	contract.TypeLeaveRequest:  "leave",
	contract.TypePublicHoliday: "holiday",
	contract.TypeTimeBlock:     "block",
	contract.TypeBooking:       "booking",
}

var fallbackTitles = map[contract.EventType]string{
	contract.TypeExternalTask:  "Task",
	contract.TypeWorkItem:      "Work item",
	contract.TypeLeaveRequest:  "Leave",
	contract.TypePublicHoliday: "Holiday",
	contract.TypeTimeBlock:     "Blocked time",
	contract.TypeBooking:       "Booking",
}

// EventID builds the namespaced id for a source-local id.
func EventID(t contract.EventType, localID string) string {
	return Prefixes[t] + "-" + localID
}

// SplitID reverses EventID.
func SplitID(id string) (contract.EventType, string, bool) {
	for t, p := range Prefixes {
		if rest, ok := strings.CutPrefix(id, p+"-"); ok && rest != "" {
			return t, rest, true
		}
	}
	return "", "", false
}

// Diagnostic records one dropped record.
type Diagnostic struct {
	Source  contract.Source `json:"source"`
	LocalID string          `json:"local_id"`
	Reason  string          `json:"reason"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s/%s: %s", d.Source, d.LocalID, d.Reason)
}

type Result struct {
	Events      []contract.CalendarEvent `json:"events"`
	Diagnostics []Diagnostic             `json:"diagnostics,omitempty"`
}

// Normalize converts a batch into calendar events in win's location. Records
// that fail to parse are dropped with a diagnostic. Output is ordered by
// start, then id.
func Normalize(b Batch, win window.Window) Result {
	loc := win.Start.Location()
	if loc == nil {
		loc = time.Local
	}
	n := &normalizer{loc: loc, out: make([]contract.CalendarEvent, 0, b.Len())}

	for _, r := range b.ExternalTasks {
		n.add(contract.SourceTasks, strconv.FormatInt(r.ID, 10), func() (contract.CalendarEvent, error) { return n.externalTask(r) })
	}
	for _, r := range b.WorkItems {
		n.add(contract.SourceWorkItems, r.ID, func() (contract.CalendarEvent, error) { return n.workItem(r) })
	}
	for _, r := range b.Leave {
		n.add(contract.SourceLeave, r.ID, func() (contract.CalendarEvent, error) { return n.leave(r) })
	}
	for _, r := range b.Holidays {
		n.add(contract.SourceHolidays, r.ID, func() (contract.CalendarEvent, error) { return n.holiday(r) })
	}
	for _, r := range b.TimeBlocks {
		n.add(contract.SourceTimeBlocks, r.ID, func() (contract.CalendarEvent, error) { return n.timeBlock(r) })
	}
	for _, r := range b.Bookings {
		n.add(contract.SourceBookings, r.ID, func() (contract.CalendarEvent, error) { return n.booking(r) })
	}

	sort.SliceStable(n.out, func(i, j int) bool {
		if !n.out[i].Start.Equal(n.out[j].Start) {
			return n.out[i].Start.Before(n.out[j].Start)
		}
		return n.out[i].ID < n.out[j].ID
	})
	return Result{Events: n.out, Diagnostics: n.diags}
}

type normalizer struct {
	loc   *time.Location
	out   []contract.CalendarEvent
	diags []Diagnostic
}

func (n *normalizer) add(src contract.Source, localID string, build func() (contract.CalendarEvent, error)) {
	if strings.TrimSpace(localID) == "" {
		n.diags = append(n.diags, Diagnostic{Source: src, Reason: "missing id"})
		return
	}
	ev, err := build()
	if err != nil {
		n.diags = append(n.diags, Diagnostic{Source: src, LocalID: localID, Reason: err.Error()})
		return
	}
	if ev.End.Before(ev.Start) {
		n.diags = append(n.diags, Diagnostic{Source: src, LocalID: localID, Reason: "end before start"})
		return
	}
	if strings.TrimSpace(ev.Title) == "" {
		ev.Title = fallbackTitles[ev.Type]
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	ev.Metadata[contract.MetaSourceID] = localID
	n.out = append(n.out, ev)
}

func (n *normalizer) externalTask(r RawExternalTask) (contract.CalendarEvent, error) {
	day, err := timeparse.ParseDate(r.Date, n.loc)
	if err != nil {
		return contract.CalendarEvent{}, fmt.Errorf("date: %w", err)
	}
	localID := strconv.FormatInt(r.ID, 10)
	ev := contract.CalendarEvent{
		ID:      EventID(contract.TypeExternalTask, localID),
		Title:   r.Title,
		Type:    contract.TypeExternalTask,
		Status:  r.Status,
		OwnerID: r.AssigneeID,
		Metadata: map[string]string{
			contract.MetaTaskID: localID,
		},
	}
	if r.ProjectID != 0 {
		ev.Metadata[contract.MetaProjectID] = strconv.FormatInt(r.ProjectID, 10)
	}
	if r.CustomerID != 0 {
		ev.Metadata[contract.MetaCustomerID] = strconv.FormatInt(r.CustomerID, 10)
	}

	var d time.Duration
	if strings.TrimSpace(r.Duration) != "" {
		d, err = duration.Parse(r.Duration)
		if err != nil {
			return contract.CalendarEvent{}, fmt.Errorf("duration: %w", err)
		}
		ev.Metadata[contract.MetaDuration] = duration.Format(d)
	}

	if strings.TrimSpace(r.Time) == "" {
		ev.AllDay = true
		ev.Start, ev.End = day, day
		ev.Metadata[contract.MetaUntimed] = "true"
		return ev, nil
	}
	h, m, err := timeparse.ParseClock(r.Time)
	if err != nil {
		return contract.CalendarEvent{}, fmt.Errorf("time: %w", err)
	}
	ev.Start = time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, n.loc)
	ev.End = ev.Start.Add(d)
	ev.Metadata[contract.MetaDuration] = duration.Format(d)
	return ev, nil
}

func (n *normalizer) workItem(r RawWorkItem) (contract.CalendarEvent, error) {
	if strings.TrimSpace(r.DueDate) == "" {
		return contract.CalendarEvent{}, fmt.Errorf("missing due date")
	}
	day, err := timeparse.ParseDate(r.DueDate, n.loc)
	if err != nil {
		return contract.CalendarEvent{}, fmt.Errorf("due_date: %w", err)
	}
	ev := contract.CalendarEvent{
		ID:       EventID(contract.TypeWorkItem, r.ID),
		Title:    r.Title,
		Start:    day,
		End:      day,
		AllDay:   true,
		Type:     contract.TypeWorkItem,
		Status:   r.Status,
		OwnerID:  r.AssigneeID,
		Metadata: map[string]string{},
	}
	if r.ProjectID != "" {
		ev.Metadata[contract.MetaProjectID] = r.ProjectID
	}
	return ev, nil
}

func (n *normalizer) leave(r RawLeaveRequest) (contract.CalendarEvent, error) {
	start, err := timeparse.ParseDate(r.StartDate, n.loc)
	if err != nil {
		return contract.CalendarEvent{}, fmt.Errorf("start_date: %w", err)
	}
	end := start
	if strings.TrimSpace(r.EndDate) != "" {
		end, err = timeparse.ParseDate(r.EndDate, n.loc)
		if err != nil {
			return contract.CalendarEvent{}, fmt.Errorf("end_date: %w", err)
		}
	}
	owner := strings.TrimSpace(r.EmployeeName)
	if owner == "" {
		owner = r.EmployeeID
	}
	leaveType := strings.TrimSpace(r.LeaveType)
	if leaveType == "" {
		leaveType = fallbackTitles[contract.TypeLeaveRequest]
	}
	return contract.CalendarEvent{
		ID:      EventID(contract.TypeLeaveRequest, r.ID),
		Title:   owner + " - " + leaveType,
		Start:   start,
		End:     end,
		AllDay:  true,
		Type:    contract.TypeLeaveRequest,
		Status:  r.Status,
		OwnerID: r.EmployeeID,
		Metadata: map[string]string{
			contract.MetaOwnerName: r.EmployeeName,
			contract.MetaLeaveType: r.LeaveType,
			contract.MetaLeaveDays: strconv.FormatFloat(LeaveDays(start, end, r.HalfDayStart, r.HalfDayEnd), 'f', -1, 64),
		},
	}, nil
}

// LeaveDays counts inclusive calendar days, minus half a day per half-day
// flag. Weekends and holidays are not excluded.
func LeaveDays(start, end time.Time, halfStart, halfEnd bool) float64 {
	days := float64(calendarDays(start, end) + 1)
	if halfStart {
		days -= 0.5
	}
	if halfEnd {
		days -= 0.5
	}
	if days < 0.5 {
		days = 0.5
	}
	return days
}

func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func (n *normalizer) holiday(r RawHoliday) (contract.CalendarEvent, error) {
	day, err := timeparse.ParseDate(r.Date, n.loc)
	if err != nil {
		return contract.CalendarEvent{}, fmt.Errorf("date: %w", err)
	}
	ev := contract.CalendarEvent{
		ID:       EventID(contract.TypePublicHoliday, r.ID),
		Title:    r.Name,
		Start:    day,
		End:      day,
		AllDay:   true,
		Type:     contract.TypePublicHoliday,
		Metadata: map[string]string{},
	}
	if r.Region != "" {
		ev.Metadata["region"] = r.Region
	}
	return ev, nil
}

func (n *normalizer) timeBlock(r RawTimeBlock) (contract.CalendarEvent, error) {
	start, end, err := n.instants(r.Start, r.End)
	if err != nil {
		return contract.CalendarEvent{}, err
	}
	ev := contract.CalendarEvent{
		ID:       EventID(contract.TypeTimeBlock, r.ID),
		Title:    r.Title,
		Start:    start,
		End:      end,
		Type:     contract.TypeTimeBlock,
		OwnerID:  r.UserID,
		Metadata: map[string]string{},
	}
	if r.Kind != "" {
		ev.Metadata[contract.MetaKind] = r.Kind
	}
	if r.AllDay {
		ev.AllDay = true
		ev.Start, ev.End = allDaySpan(start, end)
		ev.Metadata[contract.MetaOriginStart] = start.Format(time.RFC3339)
		ev.Metadata[contract.MetaOriginEnd] = end.Format(time.RFC3339)
	}
	return ev, nil
}

// allDaySpan maps raw all-day instants to first and last covered day. An end
// at exactly midnight after the start is exclusive.
func allDaySpan(start, end time.Time) (time.Time, time.Time) {
	first, last := window.StartOfDay(start), window.StartOfDay(end)
	if end.Equal(last) && last.After(first) {
		last = last.AddDate(0, 0, -1)
	}
	return first, last
}

func (n *normalizer) booking(r RawBooking) (contract.CalendarEvent, error) {
	start, end, err := n.instants(r.Start, r.End)
	if err != nil {
		return contract.CalendarEvent{}, err
	}
	title := r.Title
	if strings.TrimSpace(title) == "" && r.CustomerName != "" {
		title = fallbackTitles[contract.TypeBooking] + ": " + r.CustomerName
	}
	ev := contract.CalendarEvent{
		ID:       EventID(contract.TypeBooking, r.ID),
		Title:    title,
		Start:    start,
		End:      end,
		Type:     contract.TypeBooking,
		Status:   r.Status,
		OwnerID:  r.StaffID,
		Metadata: map[string]string{},
	}
	if r.CustomerID != "" {
		ev.Metadata[contract.MetaCustomerID] = r.CustomerID
	}
	return ev, nil
}

func (n *normalizer) instants(rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := timeparse.ParseTimestamp(rawStart, n.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := timeparse.ParseTimestamp(rawEnd, n.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return start.In(n.loc), end.In(n.loc), nil
}
