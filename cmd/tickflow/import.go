package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/tickflow/internal/definitions"
)

func newImportCmd(a *app) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "import FILE|DIR...",
		Short: "Validate and store workflow definitions from YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := definitions.Load(args, tenantID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, closeFn, err := a.openEngine(ctx, false)
			if err != nil {
				return err
			}
			defer closeFn()

			n := 0
			for _, f := range files {
				for _, def := range f.Definitions {
					if err := eng.SaveWorkflow(ctx, def); err != nil {
						return fmt.Errorf("%s: workflow %s: %w", f.Path, def.ID, err)
					}
					a.logger.InfoContext(ctx, "workflow imported",
						"tenant_id", def.TenantID, "workflow_id", def.ID, "file", f.Path)
					n++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d workflow(s) from %d file(s)\n", n, len(files))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant for definitions that do not name one")
	return cmd
}
