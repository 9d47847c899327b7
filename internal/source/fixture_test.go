package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
)

const fixtureYAML = `directory:
  teams:
    - id: t1
      name: Field
  users:
    - id: u1
      name: Ana
  memberships:
    t1: [u1]
tasks:
  - id: 42
    title: Boiler service
    date: "2025-04-08"
    time: "13:00"
    duration: 1h
    assignee_id: u1
  - id: 43
    title: Next month
    date: "2025-05-20"
    time: "09:00"
    duration: 2h
work_items:
  - id: w1
    title: Report
    due_date: "2025-04-10"
time_blocks:
  - id: b1
    title: Focus
    start: "2025-04-08T09:00:00Z"
    end: "2025-04-08T11:00:00Z"
fail: [bookings]
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func aprilWeek() FetchFilter {
	from := time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)
	return FetchFilter{From: from, To: from.AddDate(0, 0, 7)}
}

func TestFixtureBackendFetchFiltersByWindow(t *testing.T) {
	b, err := NewFixtureBackend(writeFixture(t))
	if err != nil {
		t.Fatalf("NewFixtureBackend: %v", err)
	}
	batch, err := b.Fetch(context.Background(), contract.SourceTasks, aprilWeek())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch.ExternalTasks) != 1 || batch.ExternalTasks[0].ID != 42 {
		t.Fatalf("expected only the in-window task, got %+v", batch.ExternalTasks)
	}
	if _, err := b.Fetch(context.Background(), contract.SourceBookings, aprilWeek()); err == nil {
		t.Fatalf("expected failing source to error")
	}
	dir, _ := b.Directory(context.Background())
	if dir.Memberships["t1"][0] != "u1" {
		t.Fatalf("unexpected directory %+v", dir)
	}
}

func TestFixtureBackendWritePersists(t *testing.T) {
	path := writeFixture(t)
	b, err := NewFixtureBackend(path)
	if err != nil {
		t.Fatalf("NewFixtureBackend: %v", err)
	}
	err = b.Write(context.Background(), dispatch.Request{
		Method: "PATCH",
		Path:   "/tasks/42",
		Body:   map[string]string{"start": "2025-04-09T15:00:00Z", "duration": "1h 30m"},
	})
	if err != nil {
		t.Fatalf("Write task: %v", err)
	}
	err = b.Write(context.Background(), dispatch.Request{
		Method: "PATCH",
		Path:   "/work-items/w1",
		Body:   map[string]string{"dueDate": "2025-04-11"},
	})
	if err != nil {
		t.Fatalf("Write work item: %v", err)
	}

	reloaded, err := NewFixtureBackend(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	batch, _ := reloaded.Fetch(context.Background(), contract.SourceTasks, aprilWeek())
	task := batch.ExternalTasks[0]
	if task.Date != "2025-04-09" || task.Time != "15:00" || task.Duration != "1h 30m" {
		t.Fatalf("task patch not persisted: %+v", task)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "2025-04-11") {
		t.Fatalf("work item patch not persisted:\n%s", raw)
	}
}

func TestFixtureBackendWriteErrors(t *testing.T) {
	b, _ := NewFixtureBackend(writeFixture(t))
	cases := []dispatch.Request{
		{Path: "/tasks/999", Body: map[string]string{"duration": "1h"}},
		{Path: "/time-blocks/missing", Body: map[string]string{"start": "2025-04-08T09:00:00Z"}},
	}
	for _, req := range cases {
		if err := b.Write(context.Background(), req); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Write(%s) = %v, want ErrNotFound", req.Path, err)
		}
	}
	if err := b.Write(context.Background(), dispatch.Request{Path: "/time-blocks/b1", Body: map[string]string{"end": "tomorrow"}}); err == nil {
		t.Fatalf("expected invalid timestamp to be rejected")
	}
	if err := b.Write(context.Background(), dispatch.Request{Path: "/bookings/k1", Body: map[string]string{}}); err == nil {
		t.Fatalf("expected failing source write to error")
	}
}

func TestFixtureBackendDatePatchKeepsTime(t *testing.T) {
	path := writeFixture(t)
	b, err := NewFixtureBackend(path)
	if err != nil {
		t.Fatalf("NewFixtureBackend: %v", err)
	}
	err = b.Write(context.Background(), dispatch.Request{
		Method: "PATCH",
		Path:   "/tasks/42",
		Body:   map[string]string{"date": "2025-04-10"},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	batch, _ := b.Fetch(context.Background(), contract.SourceTasks, aprilWeek())
	task := batch.ExternalTasks[0]
	if task.Date != "2025-04-10" || task.Time != "13:00" || task.Duration != "1h" {
		t.Fatalf("date patch touched other fields: %+v", task)
	}
	if err := b.Write(context.Background(), dispatch.Request{Path: "/tasks/42", Body: map[string]string{"date": "10/04/2025"}}); err == nil {
		t.Fatalf("expected invalid date to fail")
	}
}
