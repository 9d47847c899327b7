package app

import (
	"context"
	"fmt"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/spf13/cobra"
)

type targetFlags struct {
	date   string
	hour   int
	minute int
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Target day (YYYY-MM-DD or relative)")
	cmd.Flags().IntVar(&f.hour, "hour", 0, "Target hour slot 0-23; omit for the day cell")
	cmd.Flags().IntVar(&f.minute, "minute", 0, "Minute offset within the hour slot")
}

// target builds the drop location. Without --hour it is the day cell.
func (f *targetFlags) target(cmd *cobra.Command, s *session) (interact.Target, error) {
	if f.date == "" {
		return interact.Target{}, fmt.Errorf("--date is required")
	}
	day, err := timeparse.ParseDate(f.date, s.loc)
	if err != nil {
		return interact.Target{}, fmt.Errorf("invalid --date: %w", err)
	}
	if !flagValueChanged(cmd, "hour") {
		if flagValueChanged(cmd, "minute") {
			return interact.Target{}, fmt.Errorf("--minute needs --hour")
		}
		return interact.DayTarget(day), nil
	}
	return interact.SlotTarget(day, f.hour, f.minute), nil
}

func printDrop(ctx context.Context, p output.Printer, ro *globalOptions, res dropView, warnings []string) error {
	meta := map[string]any{
		"dry_run":  res.DryRun,
		"event_id": res.Intent.Event.ID,
		"kind":     res.Intent.Kind,
	}
	if res.Request.IdempotencyKey != "" {
		meta["idempotency_key"] = res.Request.IdempotencyKey
	}
	return successWithMeta(ctx, p, ro, res, meta, append(warnings, res.Warnings...))
}

func newMoveCmd(opts *globalOptions) *cobra.Command {
	var tf targetFlags
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "move <event-id>",
		Short: "Drag an event of the current window to another day or slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, "move", func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
				target, err := tf.target(cmd, s)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use --date YYYY-MM-DD with optional --hour and --minute", 2)
				}
				_, warnings, err := s.refresh(ctx)
				if err != nil {
					return fail(p, err)
				}
				res, err := s.engine.Move(ctx, args[0], target, dryRun)
				if err != nil {
					return fail(p, err)
				}
				return printDrop(ctx, p, ro, dropView{res}, warnings)
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show the update without sending it")
	return cmd
}

func newResizeCmd(opts *globalOptions) *cobra.Command {
	var tf targetFlags
	var edge string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "resize <event-id>",
		Short: "Stretch the start or end edge of an event to a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, "resize", func(ctx context.Context, p output.Printer, ro *globalOptions, s *session) error {
				e, err := interact.ParseEdge(edge)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use --edge start or --edge end", 2)
				}
				target, err := tf.target(cmd, s)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use --date YYYY-MM-DD --hour H", 2)
				}
				_, warnings, err := s.refresh(ctx)
				if err != nil {
					return fail(p, err)
				}
				res, err := s.engine.Resize(ctx, args[0], e, target, dryRun)
				if err != nil {
					return fail(p, err)
				}
				return printDrop(ctx, p, ro, dropView{res}, warnings)
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&edge, "edge", "", "Edge to move: start|end")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show the update without sending it")
	return cmd
}
