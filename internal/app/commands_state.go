package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/filter"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/agis/tcal/internal/viewstate"
	"github.com/agis/tcal/internal/window"
	"github.com/spf13/cobra"
)

// stateResult is the saved view state with the window it resolves to.
type stateResult struct {
	viewstate.State
	Window window.Window `json:"window"`
}

// stateChange runs one view state mutation and prints the resulting state.
func stateChange(cmd *cobra.Command, opts *globalOptions, command string, prepare func(ctx context.Context, p output.Printer, s *session) (func(context.Context, *viewstate.Store) error, error)) error {
	return withSession(cmd, opts, command, func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
		fn, err := prepare(ctx, p, s)
		if err != nil {
			return err
		}
		if fn != nil {
			if _, err := s.engine.Update(ctx, fn); err != nil {
				return failWithHint(p, contract.ErrGeneric, err, "Check state_db path permissions", 1)
			}
		}
		tl := s.engine.Timeline()
		return successWithMeta(ctx, p, ro, stateResult{State: tl.State, Window: tl.Window}, map[string]any{"window": tl.Window.Key()}, nil)
	})
}

func usageErr(p output.Printer, err error, hint string) error {
	return failWithHint(p, contract.ErrInvalidUsage, err, hint, 2)
}

func newStateCmd(opts *globalOptions) *cobra.Command {
	state := &cobra.Command{Use: "state", Short: "Inspect and change the saved view state"}

	show := &cobra.Command{
		Use:   "show [group]",
		Short: "Print the view state, or make a hidden group visible again",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.show", func(_ context.Context, p output.Printer, _ *session) (func(context.Context, *viewstate.Store) error, error) {
				if len(args) == 0 {
					return nil, nil
				}
				g, err := filter.ParseGroup(args[0])
				if err != nil {
					return nil, usageErr(p, err, "Use synced, work, leave, holidays or blocks")
				}
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetHidden(ctx, g, false) }, nil
			})
		},
	}

	hide := &cobra.Command{
		Use:   "hide <group>",
		Short: "Hide a group of event types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.hide", func(_ context.Context, p output.Printer, _ *session) (func(context.Context, *viewstate.Store) error, error) {
				g, err := filter.ParseGroup(args[0])
				if err != nil {
					return nil, usageErr(p, err, "Use synced, work, leave, holidays or blocks")
				}
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetHidden(ctx, g, true) }, nil
			})
		},
	}

	mode := &cobra.Command{
		Use:   "mode <day|week|month|roadmap>",
		Short: "Set the view mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.mode", func(_ context.Context, p output.Printer, _ *session) (func(context.Context, *viewstate.Store) error, error) {
				m, err := window.ParseMode(args[0])
				if err != nil {
					return nil, usageErr(p, err, "Use day, week, month or roadmap")
				}
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetMode(ctx, m) }, nil
			})
		},
	}

	anchor := &cobra.Command{
		Use:   "anchor <date>",
		Short: "Set the anchor date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.anchor", func(_ context.Context, p output.Printer, s *session) (func(context.Context, *viewstate.Store) error, error) {
				at, err := timeparse.ParseDateTime(args[0], time.Now(), s.loc)
				if err != nil {
					return nil, usageErr(p, err, "Use YYYY-MM-DD, today, or relative values like -2w")
				}
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetAnchor(ctx, at) }, nil
			})
		},
	}

	today := &cobra.Command{
		Use:   "today",
		Short: "Anchor the view on today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stateChange(cmd, opts, "state.today", func(context.Context, output.Printer, *session) (func(context.Context, *viewstate.Store) error, error) {
				return func(ctx context.Context, st *viewstate.Store) error { return st.Today(ctx) }, nil
			})
		},
	}

	team := &cobra.Command{
		Use:   "team [team-id]",
		Short: "Filter by team; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.team", func(ctx context.Context, _ output.Printer, s *session) (func(context.Context, *viewstate.Store) error, error) {
				id := optionalArg(args)
				// Membership fetches outside the engine lock.
				members := s.engine.Membership(ctx)
				return func(ctx context.Context, st *viewstate.Store) error {
					return st.SetTeam(ctx, id, members)
				}, nil
			})
		},
	}

	user := &cobra.Command{
		Use:   "user [user-id]",
		Short: "Filter by user; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.user", func(context.Context, output.Printer, *session) (func(context.Context, *viewstate.Store) error, error) {
				id := optionalArg(args)
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetUser(ctx, id) }, nil
			})
		},
	}

	project := &cobra.Command{
		Use:   "project [project-id|none]",
		Short: "Filter synced tasks by project; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.project", func(context.Context, output.Printer, *session) (func(context.Context, *viewstate.Store) error, error) {
				id := optionalArg(args)
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetProject(ctx, id) }, nil
			})
		},
	}

	weekends := &cobra.Command{
		Use:   "weekends <on|off>",
		Short: "Show or hide weekend days in the week view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stateChange(cmd, opts, "state.weekends", func(_ context.Context, p output.Printer, _ *session) (func(context.Context, *viewstate.Store) error, error) {
				on, err := parseSwitch(args[0])
				if err != nil {
					return nil, usageErr(p, err, "Use on or off")
				}
				return func(ctx context.Context, st *viewstate.Store) error { return st.SetShowWeekends(ctx, on) }, nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved view state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stateChange(cmd, opts, "state.reset", func(context.Context, output.Printer, *session) (func(context.Context, *viewstate.Store) error, error) {
				return func(ctx context.Context, st *viewstate.Store) error { return st.Reset(ctx) }, nil
			})
		},
	}

	state.AddCommand(show, hide, mode, anchor, today, team, user, project, weekends, reset)
	return state
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid switch: %s", v)
	}
	return b, nil
}
