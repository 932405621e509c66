package stores

import (
	"time"

	"github.com/openfroyo/converge/pkg/engine"
)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RunRecord is one finished run kept in the run history.
type RunRecord struct {
	ID          string               `json:"id" yaml:"id"`
	Application string               `json:"application" yaml:"application"`
	Workspace   string               `json:"workspace" yaml:"workspace"`
	Removal     bool                 `json:"removal,omitempty" yaml:"removal,omitempty"`
	Status      engine.RunStatus     `json:"status" yaml:"status"`
	StartedAt   time.Time            `json:"started_at" yaml:"started_at"`
	Duration    time.Duration        `json:"duration" yaml:"duration"`
	Summary     engine.DiffSummary   `json:"summary" yaml:"summary"`
	Phases      []engine.PhaseResult `json:"phases,omitempty" yaml:"phases,omitempty"`
	Error       *string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRunRecord builds a history record from a run result and its error.
func NewRunRecord(req engine.RunRequest, res *engine.Result, runErr error) *RunRecord {
	rec := &RunRecord{
		ID:          res.RunID,
		Application: req.Application,
		Workspace:   req.Workspace,
		Removal:     req.Removal,
		Status:      res.Status,
		StartedAt:   res.StartedAt,
		Duration:    res.Duration,
		Phases:      res.Phases,
	}
	if res.Report != nil {
		rec.Summary = res.Report.Summary
	}
	if runErr != nil {
		msg := runErr.Error()
		rec.Error = &msg
	}
	return rec
}
