package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

// addRunFlags registers the flags shared by apply and remove.
func addRunFlags(cmd *cobra.Command, ro *runOptions) {
	cmd.Flags().BoolVarP(&ro.yes, "yes", "y", false, "accept every confirmation without asking")
	cmd.Flags().StringSliceVar(&ro.policyDirs, "policy-dir", nil, "load additional Rego policies from this directory")
	addEnablePolicyFlag(cmd, &ro.enable)
	cmd.Flags().StringVar(&ro.historyPath, "history", "", "record the run in this SQLite database")
}

func newApplyCommand(g *globalOptions) *cobra.Command {
	var (
		ro         runOptions
		configPath string
		dryRun     bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the control plane with a configuration",
		Long: `Reconcile the remote control plane with an application's configuration.

This command:
  - Loads and validates the configuration
  - Plans every resource kind against the remote state in parallel
  - Evaluates plan policies
  - Asks before ownership transfers, adoptions and deletions that lose data
  - Applies the plan phase by phase, in dependency order

A failed phase stops the run. Changes made by earlier phases are kept.`,
		Example: `  # Apply with confirmation prompts
  converge apply -w ws-123 -e cp.example.com:443 -c app.yaml

  # Accept every confirmation (CI)
  converge apply -c app.cue --yes

  # Only show what would change
  converge apply -c app.star --dry-run

  # Enforce extra policies and keep a local run history
  converge apply -c app.yaml --policy-dir ./policies --history converge.db

  # Refuse to delete database types in production applications
  converge apply -c app.yaml --enable-policy production-data-retention`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("config", configPath).
				Str("workspace", g.workspace).
				Bool("dry_run", dryRun).
				Bool("yes", ro.yes).
				Msg("Applying configuration")

			app, err := loadConfig(ctx, configPath)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, g, ro)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			res, runErr := s.run(ctx, app, engine.RunRequest{
				Application: app.Name,
				DryRun:      dryRun,
			}, ro)
			if err := printResult(cmd.OutOrStdout(), res, output); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file or CUE package directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only; do not apply")
	cmd.Flags().BoolVar(&ro.noSchemaCheck, "no-schema-check", false, "allow database type changes that drop or retype fields")
	cmd.Flags().StringVarP(&output, "output", "o", engine.FormatTable, "report format (table, json, yaml)")
	addRunFlags(cmd, &ro)
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
