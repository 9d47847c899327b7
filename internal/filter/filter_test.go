package filter

import (
	"reflect"
	"testing"

	"github.com/agis/tcal/internal/contract"
)

func fixtureEvents() []contract.CalendarEvent {
	return []contract.CalendarEvent{
		{ID: "task-1", Type: contract.TypeExternalTask, OwnerID: "u1", Metadata: map[string]string{contract.MetaProjectID: "7"}},
		{ID: "task-2", Type: contract.TypeExternalTask, OwnerID: "u2"},
		{ID: "task-3", Type: contract.TypeExternalTask, OwnerID: "u3", Metadata: map[string]string{contract.MetaProjectID: "0"}},
		{ID: "work-a", Type: contract.TypeWorkItem, OwnerID: "u1", Metadata: map[string]string{contract.MetaProjectID: "9"}},
		{ID: "leave-l", Type: contract.TypeLeaveRequest, OwnerID: "u2"},
		{ID: "holiday-h", Type: contract.TypePublicHoliday},
		{ID: "block-b", Type: contract.TypeTimeBlock, OwnerID: "u3"},
		{ID: "booking-k", Type: contract.TypeBooking, OwnerID: "u1"},
	}
}

var membership = Membership{
	"t1": {"u1", "u2"},
	"t2": {"u3"},
}

func ids(events []contract.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestApply(t *testing.T) {
	cases := []struct {
		name     string
		criteria Criteria
		want     []string
	}{
		{
			name:     "no filters",
			criteria: Criteria{},
			want:     []string{"task-1", "task-2", "task-3", "work-a", "leave-l", "holiday-h", "block-b", "booking-k"},
		},
		{
			name:     "hide synced group hides tasks and bookings",
			criteria: Criteria{Hidden: map[Group]bool{GroupSynced: true}},
			want:     []string{"work-a", "leave-l", "holiday-h", "block-b"},
		},
		{
			name:     "team keeps members only",
			criteria: Criteria{Filters: Filters{TeamID: "t2"}, Membership: membership},
			want:     []string{"task-3", "block-b"},
		},
		{
			name:     "user",
			criteria: Criteria{Filters: Filters{UserID: "u1"}},
			want:     []string{"task-1", "work-a", "booking-k"},
		},
		{
			name:     "project applies to external tasks only",
			criteria: Criteria{Filters: Filters{ProjectID: "7"}},
			want:     []string{"task-1", "work-a", "leave-l", "holiday-h", "block-b", "booking-k"},
		},
		{
			name:     "none project matches absent and zero",
			criteria: Criteria{Filters: Filters{ProjectID: NoProject}},
			want:     []string{"task-2", "task-3", "work-a", "leave-l", "holiday-h", "block-b", "booking-k"},
		},
		{
			name:     "predicates are and-ed",
			criteria: Criteria{Filters: Filters{TeamID: "t1", UserID: "u1", ProjectID: "7"}, Hidden: map[Group]bool{GroupWork: true}, Membership: membership},
			want:     []string{"task-1", "booking-k"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(Apply(fixtureEvents(), tc.criteria))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Apply = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	c := Criteria{Filters: Filters{TeamID: "t1", ProjectID: NoProject}, Hidden: map[Group]bool{GroupLeave: true}, Membership: membership}
	once := Apply(fixtureEvents(), c)
	twice := Apply(once, c)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("filtering twice changed output: %v vs %v", ids(once), ids(twice))
	}
}

func TestSelectTeam(t *testing.T) {
	f := SelectTeam(Filters{UserID: "u1"}, "t1", membership)
	if f.TeamID != "t1" || f.UserID != "u1" {
		t.Fatalf("member user should be kept: %+v", f)
	}
	f = SelectTeam(f, "t2", membership)
	if f.TeamID != "t2" || f.UserID != "" {
		t.Fatalf("non-member user should be cleared: %+v", f)
	}
	f = SelectTeam(Filters{UserID: "u3"}, "", membership)
	if f.UserID != "u3" {
		t.Fatalf("clearing the team should keep the user: %+v", f)
	}
}

func TestGroupOfCoversEveryType(t *testing.T) {
	for _, typ := range contract.EventTypes {
		if GroupOf(typ) == "" {
			t.Fatalf("type %s has no group", typ)
		}
	}
	if _, err := ParseGroup("Holidays"); err != nil {
		t.Fatalf("ParseGroup: %v", err)
	}
	if _, err := ParseGroup("meetings"); err == nil {
		t.Fatalf("expected unknown group error")
	}
}
