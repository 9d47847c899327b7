package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/source"
	"github.com/spf13/cobra"
)

var backendFactory = selectBackend

type globalOptions struct {
	JSON          bool
	JSONL         bool
	Plain         bool
	Fields        string
	Quiet         bool
	Verbose       bool
	Profile       string
	Config        string
	Backend       string
	BaseURL       string
	Fixture       string
	HolidaysICS   string
	TZ            string
	WeekStart     string
	StateDB       string
	Listen        string
	Refresh       string
	LogLevel      string
	Timeout       time.Duration
	SchemaVersion string
}

func Execute() int {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		renderTopLevelError(cmd, err)
	}
	return ExitCode(err)
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{
		Profile:       "default",
		Backend:       "http",
		WeekStart:     "monday",
		Listen:        "127.0.0.1:8787",
		Refresh:       "*/5 * * * *",
		Timeout:       15 * time.Second,
		SchemaVersion: contract.SchemaVersion,
	}

	root := &cobra.Command{
		Use:           "tcal",
		Short:         "Browse and reschedule a team's unified calendar from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       BuildVersionString(),
	}
	root.SetVersionTemplate("tcal {{.Version}}\n")

	root.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output structured JSON")
	root.PersistentFlags().BoolVar(&opts.JSONL, "jsonl", false, "Output newline-delimited JSON")
	root.PersistentFlags().BoolVar(&opts.Plain, "plain", false, "Output stable plain text")
	root.PersistentFlags().StringVar(&opts.Fields, "fields", "", "Projected fields, comma-separated")
	root.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Reduce success output")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose diagnostics")
	root.PersistentFlags().StringVar(&opts.Profile, "profile", "default", "Config profile")
	root.PersistentFlags().StringVar(&opts.Config, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&opts.Backend, "backend", "http", "Backend: http|fixture")
	root.PersistentFlags().StringVar(&opts.TZ, "tz", "", "IANA timezone for the calendar view")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "Backend call timeout (e.g. 10s, 1m, 0 to disable)")
	root.PersistentFlags().StringVar(&opts.SchemaVersion, "schema-version", contract.SchemaVersion, "Output schema version")

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newViewCmd(opts))
	root.AddCommand(newEventsCmd(opts))
	root.AddCommand(newMoveCmd(opts))
	root.AddCommand(newResizeCmd(opts))
	root.AddCommand(newStateCmd(opts))
	root.AddCommand(newFiltersCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newCompletionCmd(root))

	return root
}

func buildContext(cmd *cobra.Command, opts *globalOptions, command string) (output.Printer, source.Backend, *globalOptions, error) {
	resolved, err := resolveGlobalOptions(cmd, opts)
	if err != nil {
		return output.Printer{}, nil, nil, Wrap(2, err)
	}
	if conflictCount(resolved.JSON, resolved.JSONL, resolved.Plain) > 1 {
		return output.Printer{}, nil, nil, Wrap(2, errors.New("--json, --jsonl, and --plain are mutually exclusive"))
	}
	mode := output.ModeAuto
	if resolved.JSON {
		mode = output.ModeJSON
	} else if resolved.JSONL {
		mode = output.ModeJSONL
	} else if resolved.Plain {
		mode = output.ModePlain
	}

	printer := output.Printer{
		Mode:          mode,
		Command:       command,
		Fields:        splitCSV(resolved.Fields),
		Quiet:         resolved.Quiet,
		SchemaVersion: resolved.SchemaVersion,
		Out:           cmd.OutOrStdout(),
		Err:           cmd.ErrOrStderr(),
	}

	if err := configureLogging(cmd, resolved); err != nil {
		_ = printer.Error(contract.ErrInvalidUsage, err.Error(), "Use log_level debug|info|error")
		return printer, nil, nil, WrapPrinted(2, err)
	}

	be, err := backendFactory(resolved)
	if err != nil {
		_ = printer.Error(contract.ErrInvalidUsage, err.Error(), "Use --backend http with base_url, or --backend fixture with fixture")
		return printer, nil, nil, WrapPrinted(2, err)
	}
	if resolved.Verbose {
		_, _ = fmt.Fprintf(printer.Err, "tcal: command=%s backend=%s mode=%s tz=%s profile=%s timeout=%s\n", command, resolved.Backend, mode, resolved.TZ, resolved.Profile, resolved.Timeout)
	}
	return printer, be, resolved, nil
}

func configureLogging(cmd *cobra.Command, ro *globalOptions) error {
	level, err := log.ParseLevel(ro.LogLevel)
	if err != nil {
		return err
	}
	if ro.Verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func commandContext(ro *globalOptions) (context.Context, context.CancelFunc) {
	timing := &timingRecorder{calls: map[string]time.Duration{}}
	base := context.WithValue(context.Background(), timingContextKey{}, timing)
	if ro == nil || ro.Timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, ro.Timeout)
}

type timeoutResult[T any] struct {
	val T
	err error
}

type timingContextKey struct{}

type timingRecorder struct {
	mu    sync.Mutex
	calls map[string]time.Duration
}

func (r *timingRecorder) add(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name] += d
}

func backendTimings(ctx context.Context) map[string]string {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rec.calls))
	for k := range rec.calls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = rec.calls[k].String()
	}
	return out
}

func withTimeout[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	ch := make(chan timeoutResult[T], 1)
	go func() {
		v, err := fn()
		ch <- timeoutResult[T]{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.val, res.err
	}
}

// timed runs one backend phase under the command deadline and records its
// duration for --verbose.
func timed[T any](ctx context.Context, phase string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := withTimeout(ctx, fn)
	err = annotatePhase(ctx, phase, err)
	recordTiming(ctx, phase, time.Since(start))
	return v, err
}

func doctorWithTimeout(ctx context.Context, be source.Backend) ([]contract.DoctorCheck, error) {
	return timed(ctx, "backend.doctor", func() ([]contract.DoctorCheck, error) {
		return be.Doctor(ctx)
	})
}

func directoryWithTimeout(ctx context.Context, be source.Backend) (contract.Directory, error) {
	return timed(ctx, "backend.directory", func() (contract.Directory, error) {
		return be.Directory(ctx)
	})
}

func recordTiming(ctx context.Context, name string, d time.Duration) {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return
	}
	rec.add(name, d)
}

func successWithMeta(ctx context.Context, p output.Printer, ro *globalOptions, data any, meta map[string]any, warnings []string) error {
	if ro != nil && ro.Verbose {
		timings := backendTimings(ctx)
		if len(timings) > 0 {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["timings"] = timings
			_, _ = fmt.Fprintf(p.Err, "tcal: timings=%v\n", timings)
		}
	}
	return p.Success(data, meta, warnings)
}

func renderTopLevelError(cmd *cobra.Command, err error) {
	var appErr AppError
	if errors.As(err, &appErr) && appErr.Printed {
		return
	}
	if wantsStructuredErrorOutput(os.Args[1:]) {
		printer := output.Printer{
			Mode:          output.ModeJSON,
			SchemaVersion: contract.SchemaVersion,
			Err:           cmd.ErrOrStderr(),
		}
		_ = printer.Error(errorCodeForExit(ExitCode(err)), err.Error(), "")
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err.Error())
}

func wantsStructuredErrorOutput(args []string) bool {
	for _, arg := range args {
		switch {
		case arg == "--":
			return false
		case arg == "--json", arg == "--jsonl":
			return true
		case strings.HasPrefix(arg, "--json="), strings.HasPrefix(arg, "--jsonl="):
			return true
		}
	}
	return false
}

func errorCodeForExit(code int) contract.ErrorCode {
	switch code {
	case 2:
		return contract.ErrInvalidUsage
	case 4:
		return contract.ErrNotFound
	case 6:
		return contract.ErrBackendUnavailable
	default:
		return contract.ErrGeneric
	}
}

func selectBackend(ro *globalOptions) (source.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(ro.Backend)) {
	case "", "http":
		if strings.TrimSpace(ro.BaseURL) == "" {
			return nil, errors.New("http backend needs base_url (config, TCAL_BASE_URL)")
		}
		be, err := source.NewHTTPBackend(ro.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		return be, nil
	case "fixture":
		be, err := source.NewFixtureBackend(ro.Fixture)
		if err != nil {
			return nil, err
		}
		return be, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", ro.Backend)
	}
}

func resolveLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseWeekStart(v string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "monday", "mon":
		return time.Monday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return time.Monday, fmt.Errorf("invalid week_start: %s", v)
	}
}

func conflictCount(vals ...bool) int {
	total := 0
	for _, v := range vals {
		if v {
			total++
		}
	}
	return total
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
