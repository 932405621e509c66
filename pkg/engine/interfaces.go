package engine

import (
	"context"
	"time"
)

// Kind plans and applies one resource kind. The orchestrator only ever calls
// these methods and never inspects the concrete kind.
type Kind interface {
	// Name returns the kind name used in reports and logs.
	Name() string

	// Plan fetches remote state and diffs it against the desired state.
	Plan(ctx context.Context, req *PlanRequest) (KindPlan, error)

	// Apply executes the part of plan that belongs to req.Phase.
	// Kinds that do not participate in a phase return nil.
	Apply(ctx context.Context, req *ApplyRequest) error
}

// KindPlan is a kind-specific change-set. Only its report is visible to the engine.
type KindPlan interface {
	Report() *KindReport
}

// PlanRequest carries run-wide planning parameters.
type PlanRequest struct {
	// Application is the current application name, used as the owner label.
	Application string

	// Removal plans every owned resource for deletion.
	Removal bool

	// SkipSchemaCheck disables breaking-change detection for schema kinds.
	SkipSchemaCheck bool
}

// ApplyRequest carries one phase of one kind's plan.
type ApplyRequest struct {
	Phase       Phase
	Application string
	Plan        KindPlan

	// EmptyApplications lists applications to delete in PhaseDeleteEmptyApplications.
	EmptyApplications []string
}

// LabelStore reads and writes side-channel metadata labels keyed by resource TRN.
type LabelStore interface {
	// GetLabels returns the labels stored for trn; a missing entry yields an empty map.
	GetLabels(ctx context.Context, trn string) (map[string]string, error)

	// SetLabels replaces the labels stored for trn.
	SetLabels(ctx context.Context, trn string, labels map[string]string) error
}

// Confirmer asks an operator a yes/no question.
type Confirmer interface {
	// Confirm presents prompt and returns the operator's answer.
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// Prompt is a confirmation question with its supporting table.
type Prompt struct {
	// Title is the question headline.
	Title string

	// Body is the rendered table of affected resources.
	Body string

	// Question is the yes/no question.
	Question string
}

// EventPublisher publishes run events to subscribers.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// EventType identifies the kind of run event.
type EventType string

const (
	EventTypeRunStarted     EventType = "run.started"
	EventTypeRunPlanned     EventType = "run.planned"
	EventTypeRunCompleted   EventType = "run.completed"
	EventTypeRunFailed      EventType = "run.failed"
	EventTypeRunCancelled   EventType = "run.cancelled"
	EventTypePhaseStarted   EventType = "phase.started"
	EventTypePhaseCompleted EventType = "phase.completed"
	EventTypePhaseFailed    EventType = "phase.failed"
	EventTypeKindPlanned    EventType = "kind.planned"
)

// Event is a timeline event emitted during a run.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run that emitted the event.
	RunID string `json:"run_id"`

	// Phase is set for phase events.
	Phase Phase `json:"phase,omitempty"`

	// Kind is set for kind events.
	Kind string `json:"kind,omitempty"`

	// Duration is set for completion events.
	Duration time.Duration `json:"duration,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Summary is set on run.planned events.
	Summary *DiffSummary `json:"summary,omitempty"`

	// Err is set on failure events.
	Err error `json:"-"`
}
