package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Recorder receives run measurements. telemetry.Metrics implements it.
type Recorder interface {
	RecordRunCompleted(status string, duration time.Duration)
	RecordPhase(phase, status string, duration time.Duration)
	RecordPlannedChanges(kind, operation string, count int)
}

// ReportCheck inspects an aggregated plan before the confirmation gate.
// A returned error aborts the run before any mutation.
type ReportCheck interface {
	CheckReport(ctx context.Context, r *Report) error
}

// RunRequest describes one invocation.
type RunRequest struct {
	Application string
	Workspace   string

	// Removal plans every owned resource for deletion.
	Removal bool

	// DryRun stops after planning.
	DryRun bool

	// SkipSchemaCheck disables breaking-change detection for schema kinds.
	SkipSchemaCheck bool
}

// PhaseResult records the outcome of one phase barrier.
type PhaseResult struct {
	Phase    Phase         `json:"phase" yaml:"phase"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Status    RunStatus     `json:"status" yaml:"status"`
	Report    *Report       `json:"report" yaml:"report"`
	Phases    []PhaseResult `json:"phases,omitempty" yaml:"phases,omitempty"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Orchestrator plans every kind, passes the plan through the report checks
// and the confirmation gate, then applies it phase by phase.
type Orchestrator struct {
	kinds    []Kind
	gate     *Gate
	checks   []ReportCheck
	events   EventPublisher
	recorder Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGate sets the confirmation gate. Without one, nothing is asked.
func WithGate(g *Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithReportCheck adds a check run on the aggregated plan.
func WithReportCheck(c ReportCheck) Option {
	return func(o *Orchestrator) { o.checks = append(o.checks, c) }
}

// WithEventPublisher sets the event publisher.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer sets the tracer; the global otel tracer is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator over kinds. Kinds are reported in
// the given order.
func NewOrchestrator(kinds []Kind, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		kinds:  kinds,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/openfroyo/converge/pkg/engine")
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o
}

// Run executes one reconciliation. The returned Result is non-nil whenever
// planning started, including on failure.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	res := &Result{
		RunID:     uuid.New().String(),
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}
	logger := o.logger.With().Str("run_id", res.RunID).Str("application", req.Application).Logger()

	ctx, span := o.tracer.Start(ctx, "converge.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("application", req.Application),
		attribute.String("workspace", req.Workspace),
		attribute.Bool("removal", req.Removal),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	o.publish(ctx, &Event{RunID: res.RunID, Type: EventTypeRunStarted, Message: "Run started", Level: "info"})

	report, plans, err := o.plan(ctx, res.RunID, req)
	if err != nil {
		return o.finish(ctx, span, res, RunStatusFailed, err), err
	}
	res.Report = report
	res.Status = RunStatusPlanned
	o.publish(ctx, &Event{
		RunID:   res.RunID,
		Type:    EventTypeRunPlanned,
		Message: fmt.Sprintf("Planned %d change(s)", report.Summary.Total()),
		Level:   "info",
		Summary: &report.Summary,
	})
	logger.Info().
		Int("create", report.Summary.ToCreate).
		Int("update", report.Summary.ToUpdate).
		Int("delete", report.Summary.ToDelete).
		Int("conflicts", report.Summary.Conflicts).
		Int("adoptions", report.Summary.Adoptions).
		Msg("Plan computed")

	if req.DryRun {
		return o.finish(ctx, span, res, RunStatusPlanned, nil), nil
	}

	for _, c := range o.checks {
		if err := c.CheckReport(ctx, report); err != nil {
			return o.finish(ctx, span, res, RunStatusFailed, err), err
		}
	}

	if o.gate != nil {
		if err := o.gate.Check(ctx, report); err != nil {
			status := RunStatusFailed
			if IsCancelled(err) {
				status = RunStatusCancelled
			}
			return o.finish(ctx, span, res, status, err), err
		}
	}

	if !report.HasChanges() {
		logger.Info().Msg("Nothing to apply")
		return o.finish(ctx, span, res, RunStatusSucceeded, nil), nil
	}

	res.Status = RunStatusRunning
	for _, phase := range Phases {
		pr, err := o.runPhase(ctx, res.RunID, phase, req, report, plans)
		res.Phases = append(res.Phases, pr)
		if err != nil {
			err = fmt.Errorf("phase %s failed; changes applied by earlier phases were kept and no automatic cleanup was performed: %w", phase, err)
			return o.finish(ctx, span, res, RunStatusFailed, err), err
		}
	}

	return o.finish(ctx, span, res, RunStatusSucceeded, nil), nil
}

// Plan computes the aggregated report without applying anything.
func (o *Orchestrator) Plan(ctx context.Context, req RunRequest) (*Report, error) {
	report, _, err := o.plan(ctx, uuid.New().String(), req)
	return report, err
}

func (o *Orchestrator) plan(ctx context.Context, runID string, req RunRequest) (*Report, []KindPlan, error) {
	ctx, span := o.tracer.Start(ctx, "converge.plan")
	defer span.End()

	preq := &PlanRequest{
		Application:     req.Application,
		Removal:         req.Removal,
		SkipSchemaCheck: req.SkipSchemaCheck,
	}

	plans := make([]KindPlan, len(o.kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range o.kinds {
		g.Go(func() error {
			kctx, kspan := o.tracer.Start(gctx, "converge.plan."+k.Name())
			defer kspan.End()

			p, err := k.Plan(kctx, preq)
			if err != nil {
				kspan.RecordError(err)
				kspan.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("failed to plan %s: %w", k.Name(), err)
			}
			plans[i] = p
			o.publish(gctx, &Event{RunID: runID, Type: EventTypeKindPlanned, Kind: k.Name(), Message: "Kind planned", Level: "debug"})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	reports := make([]*KindReport, len(plans))
	for i, p := range plans {
		if p != nil {
			reports[i] = p.Report()
		}
	}
	report := NewReport(runID, req.Application, req.Workspace, req.Removal, reports)
	report.CreatedAt = time.Now().UTC()

	if o.recorder != nil {
		for _, row := range report.Rows {
			o.recorder.RecordPlannedChanges(row.Kind, string(row.Operation), 1)
		}
	}
	return report, plans, nil
}

// runPhase applies one phase for every kind concurrently and waits for all
// of them. The first error cancels the siblings' context.
func (o *Orchestrator) runPhase(ctx context.Context, runID string, phase Phase, req RunRequest, report *Report, plans []KindPlan) (PhaseResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "converge.phase", trace.WithAttributes(
		attribute.String("phase", string(phase)),
	))
	defer span.End()

	o.publish(ctx, &Event{RunID: runID, Type: EventTypePhaseStarted, Phase: phase, Message: "Phase started", Level: "debug"})
	o.logger.Debug().Str("run_id", runID).Str("phase", string(phase)).Msg("Phase started")

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range o.kinds {
		areq := &ApplyRequest{
			Phase:             phase,
			Application:       req.Application,
			Plan:              plans[i],
			EmptyApplications: report.EmptyApplications,
		}
		g.Go(func() error {
			if err := k.Apply(gctx, areq); err != nil {
				return fmt.Errorf("%s: %w", k.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	pr := PhaseResult{Phase: phase, Duration: time.Since(start)}
	status := RunStatusSucceeded
	if err != nil {
		status = RunStatusFailed
		pr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.publish(ctx, &Event{RunID: runID, Type: EventTypePhaseFailed, Phase: phase, Duration: pr.Duration, Message: err.Error(), Level: "error", Err: err})
	} else {
		o.publish(ctx, &Event{RunID: runID, Type: EventTypePhaseCompleted, Phase: phase, Duration: pr.Duration, Message: "Phase completed", Level: "info"})
	}
	if o.recorder != nil {
		o.recorder.RecordPhase(string(phase), string(status), pr.Duration)
	}
	return pr, err
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, res *Result, status RunStatus, err error) *Result {
	res.Status = status
	res.Duration = time.Since(res.StartedAt)

	if o.recorder != nil {
		o.recorder.RecordRunCompleted(string(status), res.Duration)
	}

	logger := o.logger.With().Str("run_id", res.RunID).Str("status", string(status)).Dur("duration", res.Duration).Logger()
	switch status {
	case RunStatusCancelled:
		logger.Warn().Err(err).Msg("Run cancelled")
		o.publish(ctx, &Event{RunID: res.RunID, Type: EventTypeRunCancelled, Duration: res.Duration, Message: err.Error(), Level: "warning", Err: err})
	case RunStatusFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Run failed")
		o.publish(ctx, &Event{RunID: res.RunID, Type: EventTypeRunFailed, Duration: res.Duration, Message: err.Error(), Level: "error", Err: err})
	default:
		span.SetStatus(codes.Ok, "")
		logger.Info().Msg("Run completed")
		o.publish(ctx, &Event{RunID: res.RunID, Type: EventTypeRunCompleted, Duration: res.Duration, Message: "Run completed", Level: "info"})
	}
	return res
}

func (o *Orchestrator) publish(ctx context.Context, e *Event) {
	if o.events == nil {
		return
	}
	e.ID = uuid.New().String()
	e.Timestamp = time.Now()
	if err := o.events.Publish(ctx, e); err != nil {
		o.logger.Debug().Err(err).Str("event", string(e.Type)).Msg("Failed to publish event")
	}
}
