package source

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/window"
)

// fixtureFile is the on-disk YAML layout: the directory, raw records per
// source, and sources that should fail to simulate outages.
type fixtureFile struct {
	Directory       contract.Directory `yaml:"directory"`
	normalize.Batch `yaml:",inline"`
	Fail            []string `yaml:"fail,omitempty"`
}

// FixtureBackend serves records from a YAML file and applies writes to it.
type FixtureBackend struct {
	path string
	mu   sync.Mutex
	data fixtureFile
}

func NewFixtureBackend(path string) (*FixtureBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fixture path is required for the fixture backend")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var data fixtureFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &FixtureBackend{path: path, data: data}, nil
}

func (b *FixtureBackend) Doctor(context.Context) ([]contract.DoctorCheck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []contract.DoctorCheck{
		{Name: "fixture", Status: "ok", Message: b.path},
		{Name: "fixture_records", Status: "ok", Message: strconv.Itoa(b.data.Batch.Len()) + " records"},
	}, nil
}

func (b *FixtureBackend) failing(src contract.Source) bool {
	for _, f := range b.data.Fail {
		if strings.EqualFold(strings.TrimSpace(f), string(src)) {
			return true
		}
	}
	return false
}

// Fetch returns the source's records overlapping the filter. Records that do
// not parse are returned as-is so the normalizer can report them.
func (b *FixtureBackend) Fetch(_ context.Context, src contract.Source, f FetchFilter) (normalize.Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing(src) {
		return normalize.Batch{}, fmt.Errorf("fixture source %s is marked as failing", src)
	}

	var only normalize.Batch
	switch src {
	case contract.SourceTasks:
		only.ExternalTasks = append(only.ExternalTasks, b.data.ExternalTasks...)
	case contract.SourceWorkItems:
		only.WorkItems = append(only.WorkItems, b.data.WorkItems...)
	case contract.SourceLeave:
		only.Leave = append(only.Leave, b.data.Leave...)
	case contract.SourceHolidays:
		only.Holidays = append(only.Holidays, b.data.Holidays...)
	case contract.SourceTimeBlocks:
		only.TimeBlocks = append(only.TimeBlocks, b.data.TimeBlocks...)
	case contract.SourceBookings:
		only.Bookings = append(only.Bookings, b.data.Bookings...)
	default:
		return normalize.Batch{}, fmt.Errorf("unknown source: %s", src)
	}

	res := normalize.Normalize(only, window.Window{Start: f.From, End: f.To})
	outside := map[string]bool{}
	for _, ev := range res.Events {
		if !ev.Overlaps(f.From, f.To) {
			outside[ev.ID] = true
		}
	}
	keep := func(t contract.EventType, id string) bool {
		return !outside[normalize.EventID(t, id)]
	}

	out := normalize.Batch{}
	for _, r := range only.ExternalTasks {
		if keep(contract.TypeExternalTask, strconv.FormatInt(r.ID, 10)) {
			out.ExternalTasks = append(out.ExternalTasks, r)
		}
	}
	for _, r := range only.WorkItems {
		if keep(contract.TypeWorkItem, r.ID) {
			out.WorkItems = append(out.WorkItems, r)
		}
	}
	for _, r := range only.Leave {
		if keep(contract.TypeLeaveRequest, r.ID) {
			out.Leave = append(out.Leave, r)
		}
	}
	for _, r := range only.Holidays {
		if keep(contract.TypePublicHoliday, r.ID) {
			out.Holidays = append(out.Holidays, r)
		}
	}
	for _, r := range only.TimeBlocks {
		if keep(contract.TypeTimeBlock, r.ID) {
			out.TimeBlocks = append(out.TimeBlocks, r)
		}
	}
	for _, r := range only.Bookings {
		if keep(contract.TypeBooking, r.ID) {
			out.Bookings = append(out.Bookings, r)
		}
	}
	return out, nil
}

func (b *FixtureBackend) Directory(context.Context) (contract.Directory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Directory, nil
}

// Write applies a partial update to the fixture and saves the file.
func (b *FixtureBackend) Write(_ context.Context, req dispatch.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("unsupported write path: %s", req.Path)
	}
	collection, id := parts[0], parts[1]
	if b.failing(contract.Source(collection)) {
		return fmt.Errorf("fixture source %s is marked as failing", collection)
	}

	var err error
	switch collection {
	case "tasks":
		err = b.patchTask(id, req.Body)
	case "time-blocks":
		err = b.patchInterval(id, req.Body, func(id string) (*string, *string, bool) {
			for i := range b.data.TimeBlocks {
				if b.data.TimeBlocks[i].ID == id {
					return &b.data.TimeBlocks[i].Start, &b.data.TimeBlocks[i].End, true
				}
			}
			return nil, nil, false
		})
	case "bookings":
		err = b.patchInterval(id, req.Body, func(id string) (*string, *string, bool) {
			for i := range b.data.Bookings {
				if b.data.Bookings[i].ID == id {
					return &b.data.Bookings[i].Start, &b.data.Bookings[i].End, true
				}
			}
			return nil, nil, false
		})
	case "work-items":
		err = b.patchWorkItem(id, req.Body)
	default:
		return fmt.Errorf("unsupported write path: %s", req.Path)
	}
	if err != nil {
		return err
	}
	return b.save()
}

func (b *FixtureBackend) patchTask(id string, body map[string]string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	for i := range b.data.ExternalTasks {
		t := &b.data.ExternalTasks[i]
		if t.ID != n {
			continue
		}
		if v, ok := body["start"]; ok {
			start, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
			t.Date = start.Format("2006-01-02")
			t.Time = start.Format("15:04")
		}
		if v, ok := body["date"]; ok {
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return fmt.Errorf("invalid date: %w", err)
			}
			t.Date = v
		}
		if v, ok := body["duration"]; ok {
			t.Duration = v
		}
		return nil
	}
	return fmt.Errorf("%w: task %s", ErrNotFound, id)
}

func (b *FixtureBackend) patchInterval(id string, body map[string]string, lookup func(string) (*string, *string, bool)) error {
	start, end, ok := lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, key := range []string{"start", "end"} {
		if v, present := body[key]; present {
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}
	if v, ok := body["start"]; ok {
		*start = v
	}
	if v, ok := body["end"]; ok {
		*end = v
	}
	return nil
}

func (b *FixtureBackend) patchWorkItem(id string, body map[string]string) error {
	for i := range b.data.WorkItems {
		w := &b.data.WorkItems[i]
		if w.ID != id {
			continue
		}
		if v, ok := body["dueDate"]; ok {
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return fmt.Errorf("invalid dueDate: %w", err)
			}
			w.DueDate = v
		}
		return nil
	}
	return fmt.Errorf("%w: work item %s", ErrNotFound, id)
}

func (b *FixtureBackend) save() error {
	raw, err := yaml.Marshal(&b.data)
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
