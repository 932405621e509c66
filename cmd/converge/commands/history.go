package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/stores"
)

func newHistoryCommand(_ *globalOptions) *cobra.Command {
	var (
		dbPath string
		app    string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List the runs recorded with apply --history or remove --history, newest
first.`,
		Example: `  # Last 20 runs
  converge history --db converge.db

  # Every run of one application as JSON
  converge history --db converge.db --app shop --limit 0 --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Debug().
				Str("db", dbPath).
				Str("application", app).
				Int("limit", limit).
				Msg("Listing run history")

			store, err := stores.Open(ctx, stores.Config{Path: dbPath})
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, app, limit)
			if err != nil {
				return err
			}
			return writeRuns(cmd.OutOrStdout(), runs, output)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "converge.db", "SQLite database the runs were recorded in")
	cmd.Flags().StringVar(&app, "app", "", "only list runs of this application")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs; 0 lists all")
	cmd.Flags().StringVarP(&output, "output", "o", engine.FormatTable, "output format (table, json, yaml)")

	return cmd
}

func writeRuns(w io.Writer, runs []*stores.RunRecord, format string) error {
	switch format {
	case "", engine.FormatTable:
		if len(runs) == 0 {
			_, err := fmt.Fprintln(w, "No runs recorded.")
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Started", "Run", "Application", "Mode", "Status", "Changes", "Duration", "Error"})
		for _, r := range runs {
			mode := "apply"
			if r.Removal {
				mode = "remove"
			}
			changes := fmt.Sprintf("+%d ~%d -%d", r.Summary.ToCreate, r.Summary.ToUpdate, r.Summary.ToDelete)
			msg := ""
			if r.Error != nil {
				msg = *r.Error
			}
			t.AppendRow(table.Row{
				r.StartedAt.Local().Format(time.DateTime),
				r.ID,
				r.Application,
				mode,
				r.Status,
				changes,
				r.Duration.Round(time.Millisecond),
				msg,
			})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 8, WidthMax: 60}})
		t.Render()
		return nil
	case engine.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case engine.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return err
		}
		return enc.Close()
	default:
		return engine.NewValidationError(fmt.Sprintf("unknown output format %q (want table, json or yaml)", format), nil)
	}
}
