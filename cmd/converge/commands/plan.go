package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/policy"
)

func newPlanCommand(g *globalOptions) *cobra.Command {
	var (
		ro         runOptions
		configPath string
		output     string
		removal    bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes apply would make",
		Long: `Compute the change set between a configuration and the remote state without
modifying anything.

The plan lists every create, update and delete, resources owned by another
application and unmanaged resources that would be adopted. Plan policies are
evaluated and their violations reported, but never abort the plan.`,
		Example: `  # Human-readable plan
  converge plan -c app.yaml

  # Machine-readable plan
  converge plan -c app.yaml --output json

  # What removing the application would delete
  converge plan -c app.yaml --remove`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("config", configPath).
				Str("workspace", g.workspace).
				Str("output", output).
				Msg("Planning configuration")

			app, err := loadConfig(ctx, configPath)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, g, ro)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			req := engine.RunRequest{Application: app.Name, Removal: removal, DryRun: true}
			if removal {
				app = nil
			}
			res, err := s.run(ctx, app, req, ro)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := engine.WriteReport(out, res.Report, output); err != nil {
				return err
			}
			if output != "" && output != engine.FormatTable {
				return nil
			}

			result, err := s.policies.EvaluateReport(ctx, res.Report)
			if err != nil {
				return err
			}
			printViolations(out, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file or CUE package directory")
	cmd.Flags().StringVarP(&output, "output", "o", engine.FormatTable, "report format (table, json, yaml)")
	cmd.Flags().BoolVar(&removal, "remove", false, "plan the removal of the application")
	cmd.Flags().StringSliceVar(&ro.policyDirs, "policy-dir", nil, "load additional Rego policies from this directory")
	addEnablePolicyFlag(cmd, &ro.enable)
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func printViolations(w io.Writer, result *policy.Result) {
	if result == nil || len(result.Violations) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, v := range result.Violations {
		fmt.Fprintf(w, "[%s] %s: %s\n", v.Severity, v.Policy, v.Message)
	}
	if !result.Allowed() {
		fmt.Fprintln(w, "\napply would be refused by the violations above.")
	}
}
