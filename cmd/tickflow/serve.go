package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/petrijr/tickflow/internal/httpapi"
	"github.com/petrijr/tickflow/internal/telemetry"
	"github.com/petrijr/tickflow/pkg/api"
)

// scheduleParser supports standard 5-field cron and descriptors like "@every 30s".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

func newServeCmd(a *app) *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and tick on the configured schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.Metrics.Enabled {
				provider, err := telemetry.NewPrometheusProvider()
				if err != nil {
					return fmt.Errorf("metrics provider: %w", err)
				}
				a.metrics = provider
				defer func() {
					if err := provider.Shutdown(context.Background()); err != nil {
						a.logger.Warn("metrics shutdown failed", "error", err)
					}
				}()
			}

			eng, closeFn, err := a.openEngine(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			if !noSchedule && a.cfg.Scheduler.Schedule != "" {
				c, err := a.startSchedule(ctx, eng)
				if err != nil {
					return err
				}
				defer func() { <-c.Stop().Done() }()
			}

			opts := httpapi.Options{
				CronSecret:  a.cfg.HTTP.CronSecret,
				TickTimeout: a.cfg.Scheduler.TickTimeout,
				Logger:      a.logger,
			}
			if a.metrics != nil {
				opts.Metrics = a.metrics.Handler()
				opts.MetricsPath = a.cfg.Metrics.Path
			}
			srv := httpapi.NewServer(eng, opts)
			server := &http.Server{
				Addr:         a.cfg.HTTP.Addr,
				Handler:      srv.Echo(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: a.cfg.Scheduler.TickTimeout + 15*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "address", server.Addr, "store", a.cfg.Store.Driver)
				serverErrors <- server.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", "error", err)
				return server.Close()
			}
			a.logger.Info("server stopped gracefully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "only serve HTTP; rely on an external cron hitting /cron/tick")
	return cmd
}

// startSchedule ticks the engine in-process. Overlapping runs are skipped.
func (a *app) startSchedule(ctx context.Context, eng api.Engine) (*cronlib.Cron, error) {
	c := cronlib.New(
		cronlib.WithParser(scheduleParser),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
	)
	_, err := c.AddFunc(a.cfg.Scheduler.Schedule, func() {
		tickCtx := ctx
		if a.cfg.Scheduler.TickTimeout > 0 {
			var cancel context.CancelFunc
			tickCtx, cancel = context.WithTimeout(ctx, a.cfg.Scheduler.TickTimeout)
			defer cancel()
		}
		if _, err := eng.RunOnce(tickCtx); err != nil {
			a.logger.ErrorContext(tickCtx, "scheduled tick failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	a.logger.Info("tick schedule started", "schedule", a.cfg.Scheduler.Schedule)
	return c, nil
}
