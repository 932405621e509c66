package policy

import (
	"time"

	"github.com/openfroyo/converge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity abort a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego v1 module. Its package must define a "deny" set.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy" yaml:"policy"`

	// Message describes the violation.
	Message string `json:"message" yaml:"message"`

	// Severity overrides the policy severity when the rule sets one.
	Severity Severity `json:"severity" yaml:"severity"`

	// Resource identifies the offending resource, if any.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against a report.
type Result struct {
	// Violations lists every violation in policy order.
	Violations []Violation `json:"violations" yaml:"violations"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// Allowed reports whether no violation blocks the run.
func (r *Result) Allowed() bool {
	return len(r.Blocking()) == 0
}

// Blocking returns the violations with a blocking severity.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as "input".
type Input struct {
	// Report is the aggregated plan.
	Report *engine.Report `json:"report"`

	// Context carries evaluation metadata.
	Context Context `json:"context"`
}

// Context carries evaluation metadata.
type Context struct {
	// Operation is "apply" or "remove".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`
}
