package app

import (
	"fmt"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/store"
	"github.com/agis/tcal/internal/timeparse"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Inspect the journal of dispatched changes"}

	var limit int
	var eventID, since string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent moves and resizes, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _, ro, err := buildContext(cmd, opts, "history.list")
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()

			f := store.MutationFilter{EventID: eventID, Limit: limit}
			if since != "" {
				loc, err := resolveLocation(ro.TZ)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use an IANA timezone such as Europe/Berlin", 2)
				}
				ts, err := timeparse.ParseDateTime(since, time.Now(), loc)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, fmt.Errorf("invalid --since: %w", err), "Use RFC3339, YYYY-MM-DD, or relative values like -7d", 2)
				}
				f.Since = ts
			}

			st, err := store.Open(ctx, ro.StateDB)
			if err != nil {
				return failWithHint(p, contract.ErrGeneric, err, "Check state_db path permissions", 1)
			}
			defer st.Close()
			entries, err := st.ListMutations(ctx, f)
			if err != nil {
				return failWithHint(p, contract.ErrGeneric, err, "Check state_db path permissions", 1)
			}
			meta := map[string]any{"count": len(entries)}
			if p.EffectiveSuccessMode() == output.ModePlain && len(p.Fields) == 0 {
				return successWithMeta(ctx, p, ro, historyView{entries: entries, now: time.Now()}, meta, nil)
			}
			return successWithMeta(ctx, p, ro, entries, meta, nil)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	list.Flags().StringVar(&eventID, "event", "", "Only entries for this event id")
	list.Flags().StringVar(&since, "since", "", "Only entries at or after this time")

	history.AddCommand(list)
	return history
}
