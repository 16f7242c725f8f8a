package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest/threshold"
	"github.com/wesleyorama2/invload/internal/output"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration without running it",
		Long: `Resolve the configuration exactly as "run" would, report errors and
capacity warnings, and print the resulting plan.

  invload validate --config inventory.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := threshold.ParseAll(cfg.Thresholds); err != nil {
				return fmt.Errorf("invalid thresholds: %w", err)
			}

			avgResponse, _ := cmd.Flags().GetDuration("avg-response")

			console := output.NewConsole(output.ConsoleConfig{
				Writer:  cmd.OutOrStdout(),
				NoColor: a.noColor,
			})
			console.PrintHeader(cfg)
			console.PrintWarnings(config.CapacityWarnings(cfg, avgResponse))

			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid\n", console.Colors().Mark(true))
			return nil
		},
	}

	addConfigFlags(cmd)
	return cmd
}
