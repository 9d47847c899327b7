package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/output"
	"github.com/spf13/cobra"
)

type statusResult struct {
	Ready         bool                   `json:"ready"`
	Degraded      bool                   `json:"degraded"`
	Backend       string                 `json:"backend"`
	BaseURL       string                 `json:"base_url,omitempty"`
	Profile       string                 `json:"profile"`
	TZ            string                 `json:"tz,omitempty"`
	WeekStart     string                 `json:"week_start"`
	StateDB       string                 `json:"state_db,omitempty"`
	OutputMode    string                 `json:"output_mode"`
	SchemaVersion string                 `json:"schema_version"`
	Checks        []contract.DoctorCheck `json:"checks"`
	NextSteps     []string               `json:"next_steps,omitempty"`
	ReasonCodes   []string               `json:"degraded_reason_codes,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tcal %s\n", BuildVersionString())
		},
	}
}

func newDoctorCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks against the backend and local state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, be, ro, err := buildContext(cmd, opts, "doctor")
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			checks, derr := runChecks(ctx, ro, be)
			health := buildHealth(checks, derr, ro.Backend)
			reasonCodes := deriveDegradedReasonCodes(checks, derr)
			meta := map[string]any{
				"count":                 len(checks),
				"ready":                 health.Ready,
				"degraded":              health.Degraded,
				"degraded_reason_codes": reasonCodes,
			}
			if p.EffectiveSuccessMode() == output.ModePlain {
				_ = printDoctorPlain(cmd.OutOrStdout(), checks, health, reasonCodes)
			} else {
				_ = successWithMeta(ctx, p, ro, checks, meta, health.Notes)
			}
			if !health.Ready && derr != nil {
				return WrapPrinted(6, derr)
			}
			if !health.Ready {
				return Wrap(6, fmt.Errorf("doctor checks not ready"))
			}
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend health and active runtime configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, be, ro, err := buildContext(cmd, opts, "status")
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			checks, derr := runChecks(ctx, ro, be)
			health := buildHealth(checks, derr, ro.Backend)
			reasonCodes := deriveDegradedReasonCodes(checks, derr)
			res := statusResult{
				Ready:         health.Ready,
				Degraded:      health.Degraded,
				Backend:       ro.Backend,
				BaseURL:       ro.BaseURL,
				Profile:       ro.Profile,
				TZ:            ro.TZ,
				WeekStart:     ro.WeekStart,
				StateDB:       ro.StateDB,
				OutputMode:    string(p.EffectiveSuccessMode()),
				SchemaVersion: ro.SchemaVersion,
				Checks:        checks,
				NextSteps:     health.NextSteps,
				ReasonCodes:   reasonCodes,
			}
			meta := map[string]any{
				"ready":                 res.Ready,
				"degraded":              res.Degraded,
				"checks":                len(res.Checks),
				"degraded_reason_codes": reasonCodes,
			}
			if p.EffectiveSuccessMode() == output.ModePlain {
				_ = printStatusPlain(cmd.OutOrStdout(), res)
			} else {
				_ = successWithMeta(ctx, p, ro, res, meta, nil)
			}
			if !health.Ready {
				if derr != nil {
					_ = p.Error(contract.ErrBackendUnavailable, derr.Error(), "Run `tcal doctor` for remediation")
					return WrapPrinted(6, derr)
				}
				return Wrap(6, fmt.Errorf("status not ready"))
			}
			return nil
		},
	}
}

func newFiltersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List teams, users, memberships and projects for filtering",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, be, ro, err := buildContext(cmd, opts, "filters")
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			dir, err := directoryWithTimeout(ctx, be)
			if err != nil {
				return fail(p, err)
			}
			meta := map[string]any{
				"teams":    len(dir.Teams),
				"users":    len(dir.Users),
				"projects": len(dir.Projects),
			}
			return successWithMeta(ctx, p, ro, dir, meta, nil)
		},
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := strings.ToLower(args[0])
			switch shell {
			case "bash":
				return root.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return root.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return root.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return root.GenPowerShellCompletion(cmd.OutOrStdout())
			default:
				return Wrap(2, fmt.Errorf("unsupported shell: %s", shell))
			}
		},
	}
}

func printDoctorPlain(out io.Writer, checks []contract.DoctorCheck, health healthResult, reasonCodes []string) error {
	_, _ = fmt.Fprintf(out, "ready=%t degraded=%t checks=%d\n", health.Ready, health.Degraded, len(checks))
	if len(reasonCodes) > 0 {
		_, _ = fmt.Fprintf(out, "reasons=%s\n", strings.Join(reasonCodes, ","))
	}
	for _, c := range checks {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", c.Status, c.Name, c.Message)
	}
	for _, step := range health.NextSteps {
		_, _ = fmt.Fprintf(out, "next: %s\n", step)
	}
	return nil
}

func printStatusPlain(out io.Writer, res statusResult) error {
	_, _ = fmt.Fprintf(out, "ready=%t degraded=%t backend=%s profile=%s output_mode=%s checks=%d\n", res.Ready, res.Degraded, res.Backend, res.Profile, res.OutputMode, len(res.Checks))
	if len(res.ReasonCodes) > 0 {
		_, _ = fmt.Fprintf(out, "reasons=%s\n", strings.Join(res.ReasonCodes, ","))
	}
	for _, c := range res.Checks {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", c.Status, c.Name, c.Message)
	}
	return nil
}
