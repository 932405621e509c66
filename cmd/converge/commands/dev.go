package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
)

func newDevCommand(g *globalOptions) *cobra.Command {
	var (
		ro         runOptions
		configPath string
		debounce   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Re-plan whenever the configuration changes",
		Long: `Watch a configuration and print a fresh plan every time it changes.

Nothing is applied. Policies from --policy-dir are watched too and reloaded
when their files change. Stop with Ctrl+C.`,
		Example: `  # Watch a YAML configuration against the local emulator
  converge emulator &
  converge dev -w dev -e localhost:7443 --insecure -c app.yaml

  # Watch a CUE package and its policies
  converge dev -c ./config --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("config", configPath).
				Str("workspace", g.workspace).
				Dur("debounce", debounce).
				Msg("Starting dev loop")

			ro.dev = true
			s, err := openSession(ctx, g, ro)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if len(ro.policyDirs) > 0 {
				if err := s.policies.Watch(ctx, ro.policyDirs); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			plan := func() {
				if err := devPlan(ctx, s, out, configPath); err != nil {
					log.Error().Err(err).Msg("Plan failed")
				}
			}

			plan()
			return watchConfig(ctx, configPath, debounce, plan)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file or CUE package directory")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "wait this long after the last change before planning")
	cmd.Flags().StringSliceVar(&ro.policyDirs, "policy-dir", nil, "load and watch Rego policies in this directory")
	addEnablePolicyFlag(cmd, &ro.enable)
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func devPlan(ctx context.Context, s *session, out io.Writer, path string) error {
	app, err := loadConfig(ctx, path)
	if err != nil {
		return err
	}

	res, err := s.run(ctx, app, engine.RunRequest{Application: app.Name, DryRun: true}, runOptions{})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n--- %s (%s) ---\n", app.Name, time.Now().Format(time.TimeOnly))
	if err := engine.WriteReport(out, res.Report, engine.FormatTable); err != nil {
		return err
	}
	result, err := s.policies.EvaluateReport(ctx, res.Report)
	if err != nil {
		return err
	}
	printViolations(out, result)
	return nil
}

// watchConfig calls onChange after configuration files under path change,
// until ctx is done. Changes closer together than debounce are coalesced.
func watchConfig(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	// Editors replace files on save, so watch the directory and filter.
	dir, file := path, ""
	if !info.IsDir() {
		dir, file = filepath.Dir(path), filepath.Clean(path)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if file != "" && filepath.Clean(event.Name) != file {
				continue
			}
			if file == "" {
				if _, err := config.FormatOf(event.Name); err != nil {
					continue
				}
			}

			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Configuration changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			trigger = timer.C

		case <-trigger:
			trigger = nil
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
