package kinds

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
)

// flatDef describes a kind without sub-resources.
type flatDef[S any] struct {
	name      string
	kind      string
	important bool

	upsertPhase engine.Phase
	deletePhase engine.Phase

	desired func(*config.AppConfig) []engine.Entry[S]
}

type flatKind[S any] struct {
	def        flatDef[S]
	app        *config.AppConfig
	collection collection[S]
}

func newFlatKind[S any](def flatDef[S], opts Options) *flatKind[S] {
	logger := opts.Logger.With().Str("component", "kind").Str("kind", def.name).Logger()
	return &flatKind[S]{
		def:        def,
		app:        opts.App,
		collection: collection[S]{kind: def.kind, remote: opts.Remote, owners: opts.Owners, logger: logger},
	}
}

type flatPlan[S any] struct {
	report   *engine.KindReport
	snapshot *snapshot[S]
}

func (p *flatPlan[S]) Report() *engine.KindReport {
	return p.report
}

func (k *flatKind[S]) Name() string {
	return k.def.name
}

func (k *flatKind[S]) Plan(ctx context.Context, req *engine.PlanRequest) (engine.KindPlan, error) {
	var desired []engine.Entry[S]
	if !req.Removal && k.app != nil {
		desired = k.def.desired(k.app)
	}

	s, err := k.collection.plan(ctx, "", req.Application, desired, specEqual[S])
	if err != nil {
		return nil, err
	}

	report := &engine.KindReport{Kind: k.def.name}
	s.outcome.Report(report, "", k.def.important)
	return &flatPlan[S]{report: report, snapshot: s}, nil
}

func (k *flatKind[S]) Apply(ctx context.Context, req *engine.ApplyRequest) error {
	plan, ok := req.Plan.(*flatPlan[S])
	if !ok {
		return fmt.Errorf("%s: unexpected plan type %T", k.def.name, req.Plan)
	}

	g, gctx := errgroup.WithContext(ctx)
	switch req.Phase {
	case k.def.upsertPhase:
		k.collection.upsert(gctx, g, plan.snapshot, req.Application, nil)
	case k.def.deletePhase:
		k.collection.remove(gctx, g, plan.snapshot)
	}
	return g.Wait()
}
