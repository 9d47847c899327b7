package contract

import "time"

const SchemaVersion = "v1"

type ErrorCode string

const (
	ErrGeneric            ErrorCode = "GENERIC_FAILURE"
	ErrInvalidUsage       ErrorCode = "INVALID_USAGE"
	ErrValidation         ErrorCode = "VALIDATION_FAILED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrWriteFailed        ErrorCode = "WRITE_FAILED"
)

type ErrorEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Error         ErrorBody      `json:"error"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

type SuccessEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Command       string         `json:"command"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Data          any            `json:"data"`
	Meta          map[string]any `json:"meta"`
	Warnings      []string       `json:"warnings"`
}

// EventType names the origin system that owns an event.
type EventType string

const (
	TypeExternalTask  EventType = "externalTask"
	TypeWorkItem      EventType = "workItem"
	TypeLeaveRequest  EventType = "leaveRequest"
	TypePublicHoliday EventType = "publicHoliday"
	TypeTimeBlock     EventType = "timeBlock"
	TypeBooking       EventType = "booking"
)

// EventTypes lists every known type in a fixed order.
var EventTypes = []EventType{
	TypeExternalTask,
	TypeWorkItem,
	TypeLeaveRequest,
	TypePublicHoliday,
	TypeTimeBlock,
	TypeBooking,
}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Mutable reports whether events of this type may be dragged.
func (t EventType) Mutable() bool {
	switch t {
	case TypeExternalTask, TypeTimeBlock, TypeBooking, TypeWorkItem:
		return true
	default:
		return false
	}
}

// Resizable reports whether events of this type may have an edge stretched.
// Work items only move as whole days.
func (t EventType) Resizable() bool {
	switch t {
	case TypeExternalTask, TypeTimeBlock, TypeBooking:
		return true
	default:
		return false
	}
}

// Metadata keys understood by the dispatcher and detail views.
const (
	MetaSourceID   = "source_id"
	MetaTaskID     = "task_id"
	MetaProjectID  = "project_id"
	MetaCustomerID = "customer_id"
	MetaOwnerName  = "owner_name"
	MetaLeaveType  = "leave_type"
	MetaLeaveDays  = "days"
	MetaDuration   = "duration"
	MetaKind       = "kind"

	// Raw instants of an all-day interval, kept so a move can shift the
	// stored times instead of the day-truncated ones.
	MetaOriginStart = "origin_start"
	MetaOriginEnd   = "origin_end"

	// MetaUntimed marks an external task stored with a date and no time.
	MetaUntimed = "untimed"
)

// CalendarEvent is the single shape every source record is normalized into.
// For AllDay events Start and End are calendar dates at local midnight and End
// is the last covered day.
type CalendarEvent struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	AllDay   bool              `json:"all_day"`
	Type     EventType         `json:"type"`
	Status   string            `json:"status,omitempty"`
	OwnerID  string            `json:"owner_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value, or "" when absent.
func (e CalendarEvent) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Span returns the half-open interval the event covers. All-day events cover
// whole days through the end of End's day.
func (e CalendarEvent) Span() (time.Time, time.Time) {
	if !e.AllDay {
		return e.Start, e.End
	}
	y, m, d := e.Start.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.Start.Location())
	y, m, d = e.End.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, e.End.Location()).AddDate(0, 0, 1)
	if end.Before(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

// Duration is End minus Start for timed events.
func (e CalendarEvent) Duration() time.Duration {
	s, en := e.Span()
	return en.Sub(s)
}

// Overlaps reports whether the event intersects [from, to).
func (e CalendarEvent) Overlaps(from, to time.Time) bool {
	s, en := e.Span()
	if en.Equal(s) {
		return !s.Before(from) && s.Before(to)
	}
	return s.Before(to) && en.After(from)
}

// SourceFailure describes one source that could not be fetched for a window.
type SourceFailure struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

type Team struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type User struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Project struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Directory is the filters endpoint payload: teams, users and who belongs to
// which team.
type Directory struct {
	Teams       []Team              `json:"teams" yaml:"teams"`
	Users       []User              `json:"users" yaml:"users"`
	Projects    []Project           `json:"projects" yaml:"projects"`
	Memberships map[string][]string `json:"memberships" yaml:"memberships"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Source names one origin system's read endpoint.
type Source string

const (
	SourceTasks      Source = "tasks"
	SourceWorkItems  Source = "work-items"
	SourceLeave      Source = "leave"
	SourceHolidays   Source = "holidays"
	SourceTimeBlocks Source = "time-blocks"
	SourceBookings   Source = "bookings"
)

// Sources lists every read endpoint in fetch order.
var Sources = []Source{
	SourceTasks,
	SourceWorkItems,
	SourceLeave,
	SourceHolidays,
	SourceTimeBlocks,
	SourceBookings,
}

// SourceFor maps an event type to the source that owns it.
func SourceFor(t EventType) Source {
	switch t {
	case TypeExternalTask:
		return SourceTasks
	case TypeWorkItem:
		return SourceWorkItems
	case TypeLeaveRequest:
		return SourceLeave
	case TypePublicHoliday:
		return SourceHolidays
	case TypeTimeBlock:
		return SourceTimeBlocks
	case TypeBooking:
		return SourceBookings
	default:
		return ""
	}
}
