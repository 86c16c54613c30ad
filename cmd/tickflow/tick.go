package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func newTickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler sweep and print its summary as JSON",
		Long: "Run one scheduler sweep over every tenant and print the processing summary.\n" +
			"Intended to be invoked by an external scheduler such as cron.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.Scheduler.TickTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.Scheduler.TickTimeout)
				defer cancel()
			}

			eng, closeFn, err := a.openEngine(ctx, false)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := eng.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
