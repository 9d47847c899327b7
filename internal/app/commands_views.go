package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
	"github.com/spf13/cobra"
)

type sessionFunc func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error

// withSession resolves options, opens the engine and runs fn under the
// command deadline.
func withSession(cmd *cobra.Command, opts *globalOptions, command string, fn sessionFunc) error {
	p, be, ro, err := buildContext(cmd, opts, command)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(ro)
	defer cancel()
	s, err := openSession(ctx, ro, be)
	if err != nil {
		return sessionErr(p, err)
	}
	defer s.Close()
	return fn(ctx, p, ro, s)
}

func sessionErr(p output.Printer, err error) error {
	var appErr AppError
	if errors.As(err, &appErr) {
		return failWithHint(p, contract.ErrInvalidUsage, appErr.Err, "Check the tz and week_start settings", appErr.Code)
	}
	return failWithHint(p, contract.ErrGeneric, err, "Check state_db path permissions", 1)
}

func timelineMeta(tl calendar.Timeline) map[string]any {
	return map[string]any{
		"count":  len(tl.Events),
		"total":  tl.Total,
		"window": tl.Window.Key(),
		"failed": len(tl.Failed),
	}
}

func newViewCmd(opts *globalOptions) *cobra.Command {
	var anchor string
	var prev, next, today bool
	cmd := &cobra.Command{
		Use:   "view [day|week|month|roadmap]",
		Short: "Render the current calendar window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, "view", func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
				if conflictCount(prev, next, today, anchor != "") > 1 {
					return failWithHint(p, contract.ErrInvalidUsage, errors.New("--anchor, --prev, --next and --today are mutually exclusive"), "Pick one navigation flag", 2)
				}
				var mode window.Mode
				if len(args) == 1 {
					m, err := window.ParseMode(args[0])
					if err != nil {
						return failWithHint(p, contract.ErrInvalidUsage, err, "Use day, week, month or roadmap", 2)
					}
					mode = m
				}
				var at time.Time
				if anchor != "" {
					ts, err := timeparse.ParseDateTime(anchor, time.Now(), s.loc)
					if err != nil {
						return failWithHint(p, contract.ErrInvalidUsage, fmt.Errorf("invalid --anchor: %w", err), "Use YYYY-MM-DD, today, or relative values like +1w", 2)
					}
					at = ts
				}
				var change viewstate.Change
				if mode != "" {
					change.Mode = &mode
				}
				switch {
				case !at.IsZero():
					change.Anchor = &at
				case prev:
					change.Step = -1
				case next:
					change.Step = 1
				case today:
					change.Today = true
				}
				_, err := s.engine.Update(ctx, func(ctx context.Context, st *viewstate.Store) error {
					return st.Apply(ctx, change)
				})
				if err != nil {
					return failWithHint(p, contract.ErrGeneric, err, "Check state_db path permissions", 1)
				}
				tl, warnings, err := s.refresh(ctx)
				if err != nil {
					return fail(p, err)
				}
				return successWithMeta(ctx, p, ro, timelineView{Timeline: tl, now: time.Now()}, timelineMeta(tl), warnings)
			})
		},
	}
	cmd.Flags().StringVar(&anchor, "anchor", "", "Date to anchor the view on")
	cmd.Flags().BoolVar(&prev, "prev", false, "Step one view back")
	cmd.Flags().BoolVar(&next, "next", false, "Step one view forward")
	cmd.Flags().BoolVar(&today, "today", false, "Jump back to today")
	return cmd
}

func newEventsCmd(opts *globalOptions) *cobra.Command {
	events := &cobra.Command{Use: "events", Short: "Normalized events of the current window"}

	var types []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the filtered events of the current window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, "events.list", func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
				want := map[contract.EventType]bool{}
				for _, t := range types {
					et := contract.EventType(strings.TrimSpace(t))
					if !et.Valid() {
						return failWithHint(p, contract.ErrInvalidUsage, fmt.Errorf("invalid --type: %s", t), "Use externalTask, workItem, leaveRequest, publicHoliday, timeBlock or booking", 2)
					}
					want[et] = true
				}
				tl, warnings, err := s.refresh(ctx)
				if err != nil {
					return fail(p, err)
				}
				items := make(eventList, 0, len(tl.Events))
				for _, ev := range tl.Events {
					if len(want) == 0 || want[ev.Type] {
						items = append(items, ev)
					}
				}
				meta := timelineMeta(tl)
				meta["count"] = len(items)
				return successWithMeta(ctx, p, ro, items, meta, warnings)
			})
		},
	}
	list.Flags().StringSliceVar(&types, "type", nil, "Event type (repeatable)")

	show := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one event of the current window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, "events.show", func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
				_, warnings, err := s.refresh(ctx)
				if err != nil {
					return fail(p, err)
				}
				ev, err := s.engine.Event(args[0])
				if err != nil {
					return fail(p, err)
				}
				return successWithMeta(ctx, p, ro, ev, map[string]any{"count": 1}, warnings)
			})
		},
	}

	events.AddCommand(list, show)
	return events
}
