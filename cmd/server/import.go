package main

import (
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/seed"
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.yaml>",
		Short: "Import channels, escalation policies, rules and suppressions",
		Long: `Import a YAML bundle. Entities are matched by name and existing ones are
left untouched, so the same bundle can be imported repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			result, err := seed.NewImporter(a.engine.Service(), a.store, a.log).ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, kind := range []string{"channels", "escalation_policies", "rules", "suppression_rules"} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s created %d, skipped %d\n", kind, result.Created[kind], result.Skipped[kind])
			}
			return nil
		},
	}
}
