package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/kinds"
	"github.com/openfroyo/converge/pkg/policy"
	"github.com/openfroyo/converge/pkg/prompt"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
	"github.com/openfroyo/converge/pkg/transport"
)

// runOptions are the flags shared by commands that reconcile.
type runOptions struct {
	yes           bool
	noSchemaCheck bool
	policyDirs    []string
	enable        []string
	historyPath   string
	// dev selects the development telemetry defaults.
	dev bool
}

// session holds the per-invocation telemetry, connection and optional
// policy engine and run history.
type session struct {
	workspace string
	tel       *telemetry.Telemetry
	conn      *grpc.ClientConn
	client    *controlplane.Client
	policies  *policy.Engine
	history   *stores.SQLiteStore
	confirmer engine.Confirmer
	logger    zerolog.Logger
}

// dialControlPlane is replaced in tests.
var dialControlPlane = controlplane.Dial

func openSession(ctx context.Context, g *globalOptions, ro runOptions) (*session, error) {
	if g.workspace == "" {
		return nil, engine.NewValidationError("workspace is required (--workspace or "+envWorkspace+")", nil)
	}
	if g.endpoint == "" {
		return nil, engine.NewValidationError("control plane endpoint is required (--endpoint or "+envEndpoint+")", nil)
	}

	base := telemetry.DefaultConfig()
	if ro.dev {
		base = telemetry.DevelopmentConfig()
	}
	tel, err := telemetry.NewTelemetry(g.telemetryConfig(base))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{
		workspace: g.workspace,
		tel:       tel,
		confirmer: prompt.NewTerminal(),
		logger:    tel.Logger.NewComponentLogger("cli").Zerolog(),
	}
	tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger.NewComponentLogger("events").Zerolog()),
		telemetry.FilterByLevel(telemetry.EventLevelInfo))

	if err := tel.Metrics.StartMetricsServer(ctx, func(err error) {
		s.logger.Error().Err(err).Msg("Metrics server stopped")
	}); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	retry := transport.DefaultRetryPolicy(controlplane.IsRetrySafe)
	retry.MaxRetries = g.maxRetries
	retry.Logger = tel.Logger.NewComponentLogger("transport").Zerolog()
	retry.OnRetry = tel.Metrics.RecordRetry

	s.conn, err = dialControlPlane(controlplane.DialConfig{
		Endpoint:     g.endpoint,
		Token:        g.token,
		Insecure:     g.insecure,
		Retry:        retry,
		Interceptors: []grpc.UnaryClientInterceptor{tel.Metrics.UnaryClientInterceptor()},
	})
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.client = controlplane.NewClient(s.conn, g.workspace)

	if s.policies, err = loadPolicies(ctx, ro.policyDirs, ro.enable, tel.Logger.NewComponentLogger("policy").Zerolog()); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	if ro.historyPath != "" {
		if s.history, err = stores.Open(ctx, stores.Config{Path: ro.historyPath}); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
	}

	return s, nil
}

// loadPolicies builds a policy engine with the built-ins, the policies under
// dirs, and the named policies switched on.
func loadPolicies(ctx context.Context, dirs, enable []string, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(dirs) > 0 {
		if err := pe.LoadPolicies(ctx, dirs); err != nil {
			return nil, err
		}
	}
	for _, name := range enable {
		if err := pe.EnablePolicy(name); err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("cannot enable policy %q", name), err)
		}
	}
	return pe, nil
}

func addEnablePolicyFlag(cmd *cobra.Command, enable *[]string) {
	cmd.Flags().StringSliceVar(enable, "enable-policy", nil, "enable a policy that is off by default, such as production-data-retention")
}

// Close releases the connection, the history database and telemetry.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	errs = append(errs, s.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

// orchestrator wires a fresh ownership resolver and kind set for one run.
func (s *session) orchestrator(app *config.AppConfig, ro runOptions) *engine.Orchestrator {
	owners := engine.NewOwnershipResolver(s.client, s.workspace, s.logger)
	all := kinds.All(kinds.Options{
		Remote: s.client,
		Owners: owners,
		App:    app,
		Logger: s.logger,
	})

	return engine.NewOrchestrator(all,
		engine.WithReportCheck(s.policies),
		engine.WithGate(engine.NewGate(s.confirmer, ro.yes, s.logger)),
		engine.WithRecorder(s.tel.Metrics),
		engine.WithEventPublisher(s.tel.Events),
		engine.WithTracer(s.tel.Tracer.Tracer()),
		engine.WithLogger(s.logger),
	)
}

// run executes one reconciliation and records it in the run history.
func (s *session) run(ctx context.Context, app *config.AppConfig, req engine.RunRequest, ro runOptions) (*engine.Result, error) {
	req.Workspace = s.workspace
	req.SkipSchemaCheck = ro.noSchemaCheck

	res, err := s.orchestrator(app, ro).Run(ctx, req)
	if err != nil {
		s.tel.Metrics.RecordError(err)
	}

	if s.history != nil && res != nil {
		if herr := s.history.SaveRun(ctx, stores.NewRunRecord(req, res, err)); herr != nil {
			s.logger.Warn().Err(herr).Str("run_id", res.RunID).Msg("Failed to record run history")
		}
	}
	return res, err
}

// printResult writes the plan and a one-line outcome.
func printResult(w io.Writer, res *engine.Result, format string) error {
	if res == nil || res.Report == nil {
		return nil
	}
	if err := engine.WriteReport(w, res.Report, format); err != nil {
		return err
	}
	if format != "" && format != engine.FormatTable {
		return nil
	}

	switch res.Status {
	case engine.RunStatusSucceeded:
		fmt.Fprintf(w, "\nApply complete in %s (run %s).\n", res.Duration.Round(time.Millisecond), res.RunID)
	case engine.RunStatusCancelled:
		fmt.Fprintln(w, "\nApply cancelled. No resources were modified.")
	case engine.RunStatusFailed:
		fmt.Fprintf(w, "\nApply failed after %d phase(s) (run %s).\n", len(res.Phases), res.RunID)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*config.AppConfig, error) {
	if path == "" {
		return nil, engine.NewValidationError("configuration path is required (--config)", nil)
	}
	app, err := config.NewLoader().Load(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Str("application", app.Name).Msg("Configuration loaded")
	return app, nil
}
