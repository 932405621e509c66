package kinds

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
)

// serviceDecl is one declared service and its sub-resources.
type serviceDecl[S, C any] struct {
	name     string
	spec     S
	children []engine.Entry[C]
}

// serviceDef describes a service kind with one sub-resource kind.
type serviceDef[S, C any] struct {
	name      string
	kind      string
	childKind string

	// importantChildren flags sub-resource deletions for the confirmation gate.
	importantChildren bool

	desired func(*config.AppConfig) []serviceDecl[S, C]

	// checkChild vets the update of an existing sub-resource; nil accepts all.
	checkChild func(id engine.ResourceIdentity, desired, existing C) error
}

// serviceKind provides a service in PhaseProvideDependencies together with
// its sub-resources, sheds stale sub-resources in PhaseShedSubResources and
// deletes the service in PhaseDeleteServices.
type serviceKind[S, C any] struct {
	def      serviceDef[S, C]
	app      *config.AppConfig
	services collection[S]
	children collection[C]
	logger   zerolog.Logger
}

func newServiceKind[S, C any](def serviceDef[S, C], opts Options) *serviceKind[S, C] {
	logger := opts.Logger.With().Str("component", "kind").Str("kind", def.name).Logger()
	return &serviceKind[S, C]{
		def:      def,
		app:      opts.App,
		services: collection[S]{kind: def.kind, remote: opts.Remote, owners: opts.Owners, logger: logger},
		children: collection[C]{kind: def.childKind, remote: opts.Remote, owners: opts.Owners, logger: logger},
		logger:   logger,
	}
}

type servicePlan[S, C any] struct {
	report   *engine.KindReport
	services *snapshot[S]
	children []*snapshot[C]
}

func (p *servicePlan[S, C]) Report() *engine.KindReport {
	return p.report
}

func (k *serviceKind[S, C]) Name() string {
	return k.def.name
}

func (k *serviceKind[S, C]) Plan(ctx context.Context, req *engine.PlanRequest) (engine.KindPlan, error) {
	var decls []serviceDecl[S, C]
	if !req.Removal && k.app != nil {
		decls = k.def.desired(k.app)
	}

	desired := make([]engine.Entry[S], len(decls))
	for i, d := range decls {
		desired[i] = engine.Entry[S]{Name: d.name, Payload: d.spec}
	}
	services, err := k.services.plan(ctx, "", req.Application, desired, specEqual[S])
	if err != nil {
		return nil, err
	}

	// Sub-resources are planned under every declared service and under every
	// owned service about to be deleted.
	type target struct {
		namespace string
		desired   []engine.Entry[C]
	}
	targets := make([]target, 0, len(decls)+len(services.outcome.Deletes))
	for _, d := range decls {
		targets = append(targets, target{namespace: d.name, desired: d.children})
	}
	for _, e := range services.outcome.Deletes {
		targets = append(targets, target{namespace: e.Name})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].namespace < targets[j].namespace })

	children := make([]*snapshot[C], len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			s, err := k.children.plan(gctx, t.namespace, req.Application, t.desired, specEqual[C])
			if err != nil {
				return err
			}
			children[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if k.def.checkChild != nil && !req.SkipSchemaCheck {
		for _, s := range children {
			for _, e := range s.outcome.Updates {
				ex := s.existing[e.Name]
				if err := k.def.checkChild(k.children.identity(s.namespace, e.Name), e.Payload, ex.Payload); err != nil {
					return nil, err
				}
			}
		}
	}

	report := &engine.KindReport{Kind: k.def.name}
	services.outcome.Report(report, "", false)
	for _, s := range children {
		s.outcome.Report(report, s.namespace, k.def.importantChildren)
	}

	return &servicePlan[S, C]{report: report, services: services, children: children}, nil
}

func (k *serviceKind[S, C]) Apply(ctx context.Context, req *engine.ApplyRequest) error {
	plan, ok := req.Plan.(*servicePlan[S, C])
	if !ok {
		return fmt.Errorf("%s: unexpected plan type %T", k.def.name, req.Plan)
	}

	switch req.Phase {
	case engine.PhaseProvideDependencies:
		g, gctx := errgroup.WithContext(ctx)
		k.services.upsert(gctx, g, plan.services, req.Application, nil)
		if err := g.Wait(); err != nil {
			return err
		}

		g, gctx = errgroup.WithContext(ctx)
		for _, s := range plan.children {
			k.children.upsert(gctx, g, s, req.Application, nil)
		}
		return g.Wait()

	case engine.PhaseShedSubResources:
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range plan.children {
			k.children.remove(gctx, g, s)
		}
		return g.Wait()

	case engine.PhaseDeleteServices:
		g, gctx := errgroup.WithContext(ctx)
		k.services.remove(gctx, g, plan.services)
		return g.Wait()
	}
	return nil
}

func specEqual[S any](a, b S) bool {
	return engine.SpecEqual(a, b)
}
