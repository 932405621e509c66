package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

func newRemoveCommand(g *globalOptions) *cobra.Command {
	var (
		ro     runOptions
		dryRun bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "remove <application>",
		Short: "Delete every resource an application owns",
		Long: `Remove an application from the workspace.

Every resource labelled with the application's name is deleted, in the same
phase order apply uses. Resources owned by other applications and unmanaged
resources are never touched.`,
		Example: `  # Remove with confirmation prompts
  converge remove shop

  # Show what would be deleted
  converge remove shop --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			log.Info().
				Str("application", name).
				Str("workspace", g.workspace).
				Bool("dry_run", dryRun).
				Msg("Removing application")

			s, err := openSession(ctx, g, ro)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			res, runErr := s.run(ctx, nil, engine.RunRequest{
				Application: name,
				Removal:     true,
				DryRun:      dryRun,
			}, ro)
			if err := printResult(cmd.OutOrStdout(), res, output); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only; do not delete")
	cmd.Flags().StringVarP(&output, "output", "o", engine.FormatTable, "report format (table, json, yaml)")
	addRunFlags(cmd, &ro)

	return cmd
}
