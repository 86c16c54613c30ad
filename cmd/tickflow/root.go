package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/tickflow/internal/config"
	"github.com/petrijr/tickflow/internal/engine"
	"github.com/petrijr/tickflow/internal/logging"
	"github.com/petrijr/tickflow/internal/telemetry"
	"github.com/petrijr/tickflow/pkg/actions"
	"github.com/petrijr/tickflow/pkg/api"
)

// app is the state shared by every subcommand once config is loaded.
type app struct {
	configFile string

	cfg    *config.Config
	logger *slog.Logger
	// metrics is set by serve when the Prometheus endpoint is enabled.
	metrics *telemetry.Provider
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "tickflow",
		Short:        "Tick-driven workflow automation engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default ./tickflow.yaml if present)")

	root.AddCommand(newServeCmd(a), newTickCmd(a), newImportCmd(a))
	return root
}

// openEngine connects the configured backend and builds an engine on it.
// The returned close function releases the backend connections.
func (a *app) openEngine(ctx context.Context, withLocalLock bool) (api.Engine, func(), error) {
	b, err := openBackend(ctx, a.cfg, withLocalLock)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}

	webhook := actions.NewWebhookHandler(actions.WebhookOptions{
		Timeout:   a.cfg.Webhook.Timeout,
		RateLimit: a.cfg.Webhook.RateLimit,
	})
	metrics := telemetry.NewMetricsObserver()
	if a.metrics != nil {
		metrics = a.metrics.NewObserver()
	}
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: b.persistence,
		Actions: actions.DryRun(a.logger, map[api.ActionType]api.ActionHandler{
			api.ActionWebhook: webhook,
		}),
		Observer: api.NewCompositeObserver(
			api.NewLoggingObserver(a.logger),
			metrics,
		),
		Logger:        a.logger,
		Locker:        b.locker,
		BatchSize:     a.cfg.Scheduler.BatchSize,
		Parallelism:   a.cfg.Scheduler.Parallelism,
		StepDelay:     a.cfg.Scheduler.StepDelay,
		LockTTL:       a.cfg.Scheduler.LockTTL,
		ActionTimeout: a.cfg.Scheduler.ActionTimeout,
	})
	return eng, b.close, nil
}
