package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
)

func newValidateCommand(g *globalOptions) *cobra.Command {
	var policyDirs, enable []string

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration without contacting the control plane",
		Long: `Validate an application configuration.

This command checks:
  - Syntax of the YAML, JSON, CUE or Starlark source
  - Required fields, enumerations and resource names
  - That every rego file in --policy-dir compiles`,
		Example: `  # Validate a YAML configuration
  converge validate app.yaml

  # Validate a CUE package directory
  converge validate ./config

  # Also compile custom policies
  converge validate app.yaml --policy-dir ./policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			log.Info().
				Str("path", path).
				Strs("policy_dirs", policyDirs).
				Msg("Validating configuration")

			app, err := loadConfig(ctx, path)
			if err != nil {
				return err
			}

			pe, err := loadPolicies(ctx, policyDirs, enable, log.Logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration for application %q is valid.\n\n", app.Name)
			fmt.Fprint(out, renderInventory(app))
			fmt.Fprintf(out, "\n%d policy(ies) loaded.\n", len(pe.ListPolicies()))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "compile the Rego policies in this directory")
	addEnablePolicyFlag(cmd, &enable)

	return cmd
}

func renderInventory(app *config.AppConfig) string {
	var types, authConfigs, clients, resolvers int
	for _, db := range app.Databases {
		types += len(db.Types)
	}
	for _, a := range app.Auth {
		authConfigs += len(a.Configs)
	}
	for _, idp := range app.IdentityProviders {
		clients += len(idp.Clients)
	}
	for _, p := range app.Pipelines {
		resolvers += len(p.Resolvers)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Resource", "Count"})
	t.AppendRows([]table.Row{
		{"database services", len(app.Databases)},
		{"database types", types},
		{"auth services", len(app.Auth)},
		{"auth configs", authConfigs},
		{"identity providers", len(app.IdentityProviders)},
		{"identity provider clients", clients},
		{"pipelines", len(app.Pipelines)},
		{"pipeline resolvers", resolvers},
		{"static websites", len(app.StaticSites)},
		{"executors", len(app.Executors)},
		{"workflows", len(app.Workflows)},
	})
	return t.Render() + "\n"
}
