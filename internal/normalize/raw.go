package normalize

// Raw records mirror each source's wire shape. Field tags match both the JSON
// read endpoints and the YAML fixture files.

type RawExternalTask struct {
	ID         int64  `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Date       string `json:"date" yaml:"date"`
	Time       string `json:"time" yaml:"time"`
	Duration   string `json:"duration" yaml:"duration"`
	AssigneeID string `json:"assignee_id" yaml:"assignee_id"`
	ProjectID  int64  `json:"project_id" yaml:"project_id"`
	CustomerID int64  `json:"customer_id" yaml:"customer_id"`
	Status     string `json:"status" yaml:"status"`
}

type RawWorkItem struct {
	ID         string `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	DueDate    string `json:"due_date" yaml:"due_date"`
	AssigneeID string `json:"assignee_id" yaml:"assignee_id"`
	ProjectID  string `json:"project_id" yaml:"project_id"`
	Status     string `json:"status" yaml:"status"`
}

type RawLeaveRequest struct {
	ID           string `json:"id" yaml:"id"`
	EmployeeID   string `json:"employee_id" yaml:"employee_id"`
	EmployeeName string `json:"employee_name" yaml:"employee_name"`
	LeaveType    string `json:"leave_type" yaml:"leave_type"`
	StartDate    string `json:"start_date" yaml:"start_date"`
	EndDate      string `json:"end_date" yaml:"end_date"`
	HalfDayStart bool   `json:"half_day_start" yaml:"half_day_start"`
	HalfDayEnd   bool   `json:"half_day_end" yaml:"half_day_end"`
	Status       string `json:"status" yaml:"status"`
}

type RawHoliday struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Date   string `json:"date" yaml:"date"`
	Region string `json:"region" yaml:"region"`
}

type RawTimeBlock struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	Start  string `json:"start" yaml:"start"`
	End    string `json:"end" yaml:"end"`
	UserID string `json:"user_id" yaml:"user_id"`
	AllDay bool   `json:"all_day" yaml:"all_day"`
	Kind   string `json:"kind" yaml:"kind"`
}

type RawBooking struct {
	ID           string `json:"id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	CustomerID   string `json:"customer_id" yaml:"customer_id"`
	CustomerName string `json:"customer_name" yaml:"customer_name"`
	Start        string `json:"start" yaml:"start"`
	End          string `json:"end" yaml:"end"`
	StaffID      string `json:"staff_id" yaml:"staff_id"`
	Status       string `json:"status" yaml:"status"`
}

// Batch holds one window's worth of raw records from every source.
type Batch struct {
	ExternalTasks []RawExternalTask `json:"tasks" yaml:"tasks"`
	WorkItems     []RawWorkItem     `json:"work_items" yaml:"work_items"`
	Leave         []RawLeaveRequest `json:"leave" yaml:"leave"`
	Holidays      []RawHoliday      `json:"holidays" yaml:"holidays"`
	TimeBlocks    []RawTimeBlock    `json:"time_blocks" yaml:"time_blocks"`
	Bookings      []RawBooking      `json:"bookings" yaml:"bookings"`
}

// Len is the total record count across sources.
func (b Batch) Len() int {
	return len(b.ExternalTasks) + len(b.WorkItems) + len(b.Leave) + len(b.Holidays) + len(b.TimeBlocks) + len(b.Bookings)
}
