package kinds

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transport"
)

// applicationKind manages the gateway: created or updated in
// PhaseUpdateGateway, deleted in PhaseDeleteGateway. It also deletes the
// records of applications renamed away in PhaseDeleteEmptyApplications.
type applicationKind struct {
	app    *config.AppConfig
	remote Remote
	apps   collection[controlplane.ApplicationSpec]
	logger zerolog.Logger
}

func newApplicationKind(opts Options) *applicationKind {
	logger := opts.Logger.With().Str("component", "kind").Str("kind", NameApplication).Logger()
	return &applicationKind{
		app:    opts.App,
		remote: opts.Remote,
		apps: collection[controlplane.ApplicationSpec]{
			kind:   controlplane.KindApplication,
			remote: opts.Remote,
			owners: opts.Owners,
			logger: logger,
		},
		logger: logger,
	}
}

type applicationPlan struct {
	report   *engine.KindReport
	snapshot *snapshot[controlplane.ApplicationSpec]
}

func (p *applicationPlan) Report() *engine.KindReport {
	return p.report
}

func (k *applicationKind) Name() string {
	return NameApplication
}

func (k *applicationKind) Plan(ctx context.Context, req *engine.PlanRequest) (engine.KindPlan, error) {
	var desired []engine.Entry[controlplane.ApplicationSpec]
	if !req.Removal && k.app != nil {
		desired = []engine.Entry[controlplane.ApplicationSpec]{{Name: req.Application, Payload: gateway(k.app)}}
	}

	existing, resources, err := k.apps.fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	// Another application's own record says nothing about which applications
	// still hold resources, so it must not count towards OtherOwners.
	for name, ex := range existing {
		if name != req.Application && ex.Owner == name {
			delete(existing, name)
		}
	}

	sites, err := k.siteURLs(ctx)
	if err != nil {
		return nil, err
	}
	unchanged := func(d, e controlplane.ApplicationSpec) bool {
		origins, ok := resolveOrigins(d.CORSOrigins, func(name string) (string, bool) {
			url, ok := sites[name]
			return url, ok
		})
		if !ok {
			return false
		}
		d.CORSOrigins = origins
		return engine.SpecEqual(d, e)
	}

	s := &snapshot[controlplane.ApplicationSpec]{
		outcome:   engine.Diff(controlplane.KindApplication, desired, existing, req.Application, unchanged),
		existing:  existing,
		resources: resources,
	}
	report := &engine.KindReport{Kind: NameApplication}
	s.outcome.Report(report, "", false)
	return &applicationPlan{report: report, snapshot: s}, nil
}

func (k *applicationKind) Apply(ctx context.Context, req *engine.ApplyRequest) error {
	plan, ok := req.Plan.(*applicationPlan)
	if !ok {
		return fmt.Errorf("%s: unexpected plan type %T", NameApplication, req.Plan)
	}

	g, gctx := errgroup.WithContext(ctx)
	switch req.Phase {
	case engine.PhaseUpdateGateway:
		k.apps.upsert(gctx, g, plan.snapshot, req.Application, k.resolve)
	case engine.PhaseDeleteGateway:
		k.apps.remove(gctx, g, plan.snapshot)
	case engine.PhaseDeleteEmptyApplications:
		for _, name := range req.EmptyApplications {
			g.Go(func() error {
				k.deleteEmpty(gctx, name)
				return nil
			})
		}
	}
	return g.Wait()
}

// deleteEmpty removes the record of an application left without resources.
// Failures are logged and do not fail the run.
func (k *applicationKind) deleteEmpty(ctx context.Context, name string) {
	err := transport.IgnoreNotFound(k.remote.Delete(ctx, controlplane.KindApplication, "", name))
	if err != nil {
		k.logger.Warn().Err(err).Str("application", name).Msg("Failed to delete empty application")
		return
	}
	k.logger.Info().Str("application", name).Msg("Deleted empty application")
}

// resolve replaces "site:<name>" CORS origins with the site's URL. The site
// exists by now, since static websites are provided in an earlier phase.
func (k *applicationKind) resolve(ctx context.Context, spec controlplane.ApplicationSpec) (controlplane.ApplicationSpec, error) {
	var lookupErr error
	origins, _ := resolveOrigins(spec.CORSOrigins, func(name string) (string, bool) {
		site, err := k.remote.Get(ctx, controlplane.KindStaticWebsite, "", name)
		if err != nil {
			if transport.IsNotFound(err) {
				lookupErr = engine.NewValidationError(
					fmt.Sprintf("CORS origin %s%s names a static website that does not exist", config.SiteOriginPrefix, name), err)
			} else {
				lookupErr = err
			}
			return "", false
		}
		return site.URL, true
	})
	if lookupErr != nil {
		return spec, lookupErr
	}
	spec.CORSOrigins = origins
	return spec, nil
}

func (k *applicationKind) siteURLs(ctx context.Context) (map[string]string, error) {
	sites, err := k.remote.List(ctx, controlplane.KindStaticWebsite, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", controlplane.KindStaticWebsite, err)
	}
	urls := make(map[string]string, len(sites))
	for _, s := range sites {
		urls[s.Name] = s.URL
	}
	return urls, nil
}

// resolveOrigins maps site origins through lookup, stopping at the first
// site it cannot resolve.
func resolveOrigins(origins []string, lookup func(site string) (string, bool)) ([]string, bool) {
	if origins == nil {
		return nil, true
	}
	out := make([]string, len(origins))
	for i, origin := range origins {
		name, ok := strings.CutPrefix(origin, config.SiteOriginPrefix)
		if !ok {
			out[i] = origin
			continue
		}
		url, ok := lookup(name)
		if !ok {
			return nil, false
		}
		out[i] = url
	}
	return out, true
}
