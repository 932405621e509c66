package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Gate asks for consent before ownership transfers, adoptions and
// irreversible deletions are applied. It runs before any mutation.
type Gate struct {
	confirmer Confirmer
	bypass    bool
	logger    zerolog.Logger
}

// NewGate creates a confirmation gate. With bypass set every question is
// accepted without calling confirmer, which may then be nil.
func NewGate(confirmer Confirmer, bypass bool, logger zerolog.Logger) *Gate {
	return &Gate{
		confirmer: confirmer,
		bypass:    bypass,
		logger:    logger.With().Str("component", "confirm").Logger(),
	}
}

// Check presents each non-empty category of r as a separate question, in
// order: ownership transfers, adoptions, important deletions. The first
// rejection returns ErrCancelled.
func (g *Gate) Check(ctx context.Context, r *Report) error {
	for _, p := range g.prompts(r) {
		if g.bypass {
			g.logger.Info().Str("question", p.Title).Msg("Confirmation bypassed")
			continue
		}
		if g.confirmer == nil {
			return NewValidationError(
				fmt.Sprintf("%s: confirmation required; rerun with --yes to accept", p.Title), nil)
		}

		ok, err := g.confirmer.Confirm(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			g.logger.Info().Str("question", p.Title).Msg("Operator declined")
			return ErrCancelled
		}
	}
	return nil
}

func (g *Gate) prompts(r *Report) []Prompt {
	var prompts []Prompt

	if len(r.Conflicts) > 0 {
		prompts = append(prompts, Prompt{
			Title: fmt.Sprintf("%d resource(s) are owned by another application", len(r.Conflicts)),
			Body:  renderConflicts(r.Conflicts),
			Question: fmt.Sprintf("Transfer ownership of these resources to %q?",
				r.Application),
		})
	}

	if len(r.Adoptions) > 0 {
		prompts = append(prompts, Prompt{
			Title:    fmt.Sprintf("%d resource(s) exist but are not managed by any application", len(r.Adoptions)),
			Body:     renderUnmanaged(r.Adoptions),
			Question: fmt.Sprintf("Adopt these resources into %q?", r.Application),
		})
	}

	if rows := r.ImportantDeletions(); len(rows) > 0 {
		prompts = append(prompts, Prompt{
			Title:    fmt.Sprintf("%d resource(s) will be deleted and their data lost", len(rows)),
			Body:     renderDeletions(rows),
			Question: "Delete these resources?",
		})
	}

	return prompts
}
