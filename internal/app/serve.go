package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/server"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen, refresh string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar over HTTP and refresh it on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, be, ro, err := buildContext(cmd, opts, "serve")
			if err != nil {
				return err
			}
			if flagValueChanged(cmd, "listen") {
				ro.Listen = listen
			}
			if flagValueChanged(cmd, "refresh") {
				ro.Refresh = refresh
			}
			if ro.LogLevel == "" && !ro.Verbose {
				log.SetLevel(log.LevelInfo)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, ro, be)
			if err != nil {
				return sessionErr(p, err)
			}
			defer s.Close()

			sched := cron.New()
			if _, err := sched.AddFunc(ro.Refresh, func() { refreshOnce(ctx, s.engine, ro.Timeout) }); err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, fmt.Errorf("invalid refresh schedule: %w", err), "Use a five-field cron expression such as */5 * * * *", 2)
			}
			refreshOnce(ctx, s.engine, ro.Timeout)
			sched.Start()
			defer func() { <-sched.Stop().Done() }()

			mux := http.NewServeMux()
			server.NewHandler(s.engine, s.loc).RegisterRoutes(mux)
			mux.Handle("/metrics", promhttp.Handler())

			srv := &http.Server{
				Addr:              ro.Listen,
				Handler:           server.LogRequests(mux),
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      ro.Timeout + 5*time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", ro.Listen, "refresh", ro.Refresh)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return failWithHint(p, contract.ErrGeneric, err, "Check that the listen address is free", 1)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("shutdown", err)
			}
			log.Info("stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default from config)")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Cron schedule for background refreshes")
	return cmd
}

// refreshOnce reloads the directory and the current window. Failures are logged; the server
// keeps serving the last good timeline.
func refreshOnce(ctx context.Context, engine *calendar.Engine, timeout time.Duration) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := engine.RefreshDirectory(ctx); err != nil {
		log.Error("directory refresh", err)
	}
	tl, err := engine.Refresh(ctx)
	switch {
	case errors.Is(err, calendar.ErrStale):
		log.Debug("refresh discarded", "window", tl.Window.Key())
	case err != nil:
		log.Error("refresh", err)
	default:
		log.Info("refreshed", "window", tl.Window.Key(), "events", tl.Total, "failed", len(tl.Failed))
	}
}
