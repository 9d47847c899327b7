// Package filter narrows normalized events by the active team, user and
// project filters and by per-group visibility toggles.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agis/tcal/internal/contract"
)

// Group is a user-facing visibility toggle. Several event types may share one.
type Group string

const (
	GroupSynced   Group = "synced"
	GroupWork     Group = "work"
	GroupLeave    Group = "leave"
	GroupHolidays Group = "holidays"
	GroupBlocks   Group = "blocks"
)

var Groups = []Group{GroupSynced, GroupWork, GroupLeave, GroupHolidays, GroupBlocks}

// GroupOf maps an event type to its visibility group.
func GroupOf(t contract.EventType) Group {
	switch t {
	case contract.TypeExternalTask, contract.TypeBooking:
		return GroupSynced
	case contract.TypeWorkItem:
		return GroupWork
	case contract.TypeLeaveRequest:
		return GroupLeave
	case contract.TypePublicHoliday:
		return GroupHolidays
	case contract.TypeTimeBlock:
		return GroupBlocks
	default:
		return ""
	}
}

func ParseGroup(v string) (Group, error) {
	g := Group(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range Groups {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("invalid visibility group: %s", v)
}

// NoProject is the project filter value matching events without a project.
const NoProject = "none"

type Filters struct {
	TeamID    string `json:"team_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

func (f Filters) Empty() bool {
	return f.TeamID == "" && f.UserID == "" && f.ProjectID == ""
}

// Membership maps a team id to the user ids in it.
type Membership map[string][]string

func (m Membership) IsMember(teamID, userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range m[teamID] {
		if id == userID {
			return true
		}
	}
	return false
}

type Criteria struct {
	Filters    Filters
	Hidden     map[Group]bool
	Membership Membership
}

// Apply keeps events passing every active predicate. Input order is kept.
func Apply(events []contract.CalendarEvent, c Criteria) []contract.CalendarEvent {
	out := make([]contract.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if Match(ev, c) {
			out = append(out, ev)
		}
	}
	return out
}

func Match(ev contract.CalendarEvent, c Criteria) bool {
	if c.Hidden[GroupOf(ev.Type)] {
		return false
	}
	f := c.Filters
	if f.TeamID != "" && !c.Membership.IsMember(f.TeamID, ev.OwnerID) {
		return false
	}
	if f.UserID != "" && ev.OwnerID != f.UserID {
		return false
	}
	if f.ProjectID != "" && ev.Type == contract.TypeExternalTask {
		pid := ev.Meta(contract.MetaProjectID)
		if f.ProjectID == NoProject {
			if pid != "" && pid != "0" {
				return false
			}
		} else if pid != f.ProjectID {
			return false
		}
	}
	return true
}

// SelectTeam sets the team filter and clears a user filter whose user is not
// in the new team.
func SelectTeam(f Filters, teamID string, m Membership) Filters {
	f.TeamID = teamID
	if teamID != "" && f.UserID != "" && !m.IsMember(teamID, f.UserID) {
		f.UserID = ""
	}
	return f
}

// HiddenList returns the hidden groups in a stable order.
func HiddenList(hidden map[Group]bool) []Group {
	out := make([]Group, 0, len(hidden))
	for g, on := range hidden {
		if on {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
