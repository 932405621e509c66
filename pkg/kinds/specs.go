package kinds

import (
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
)

// Wire specifications, one per remote kind. Names and children are carried
// by the resource envelope, not the specification.

type databaseServiceSpec struct {
	Engine string `json:"engine,omitempty"`
}

type databaseTypeSpec struct {
	Fields []config.Field `json:"fields"`
}

type authServiceSpec struct {
	Provider string `json:"provider"`
}

type authConfigSpec struct {
	Settings map[string]string `json:"settings,omitempty"`
}

type idpServiceSpec struct {
	Issuer string `json:"issuer,omitempty"`
}

type idpClientSpec struct {
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

type pipelineServiceSpec struct{}

type pipelineResolverSpec struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"`
}

type staticWebsiteSpec struct {
	Root      string `json:"root,omitempty"`
	Index     string `json:"index,omitempty"`
	ErrorPage string `json:"error_page,omitempty"`
}

type executorSpec struct {
	Trigger    string `json:"trigger"`
	Schedule   string `json:"schedule,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
	Entrypoint string `json:"entrypoint"`
}

type workflowSpec struct {
	Steps []config.WorkflowStep `json:"steps"`
}

func databases(app *config.AppConfig) []serviceDecl[databaseServiceSpec, databaseTypeSpec] {
	out := make([]serviceDecl[databaseServiceSpec, databaseTypeSpec], 0, len(app.Databases))
	for _, d := range app.Databases {
		decl := serviceDecl[databaseServiceSpec, databaseTypeSpec]{
			name: d.Name,
			spec: databaseServiceSpec{Engine: d.Engine},
		}
		for _, t := range d.Types {
			decl.children = append(decl.children, engine.Entry[databaseTypeSpec]{Name: t.Name, Payload: databaseTypeSpec{Fields: t.Fields}})
		}
		out = append(out, decl)
	}
	return out
}

func authServices(app *config.AppConfig) []serviceDecl[authServiceSpec, authConfigSpec] {
	out := make([]serviceDecl[authServiceSpec, authConfigSpec], 0, len(app.Auth))
	for _, a := range app.Auth {
		decl := serviceDecl[authServiceSpec, authConfigSpec]{
			name: a.Name,
			spec: authServiceSpec{Provider: a.Provider},
		}
		for _, c := range a.Configs {
			decl.children = append(decl.children, engine.Entry[authConfigSpec]{Name: c.Name, Payload: authConfigSpec{Settings: c.Settings}})
		}
		out = append(out, decl)
	}
	return out
}

func idpServices(app *config.AppConfig) []serviceDecl[idpServiceSpec, idpClientSpec] {
	out := make([]serviceDecl[idpServiceSpec, idpClientSpec], 0, len(app.IdentityProviders))
	for _, p := range app.IdentityProviders {
		decl := serviceDecl[idpServiceSpec, idpClientSpec]{
			name: p.Name,
			spec: idpServiceSpec{Issuer: p.Issuer},
		}
		for _, c := range p.Clients {
			decl.children = append(decl.children, engine.Entry[idpClientSpec]{
				Name:    c.Name,
				Payload: idpClientSpec{RedirectURIs: c.RedirectURIs, Scopes: c.Scopes},
			})
		}
		out = append(out, decl)
	}
	return out
}

func pipelineServices(app *config.AppConfig) []serviceDecl[pipelineServiceSpec, pipelineResolverSpec] {
	out := make([]serviceDecl[pipelineServiceSpec, pipelineResolverSpec], 0, len(app.Pipelines))
	for _, p := range app.Pipelines {
		decl := serviceDecl[pipelineServiceSpec, pipelineResolverSpec]{name: p.Name}
		for _, r := range p.Resolvers {
			decl.children = append(decl.children, engine.Entry[pipelineResolverSpec]{
				Name:    r.Name,
				Payload: pipelineResolverSpec{Query: r.Query, Source: r.Source},
			})
		}
		out = append(out, decl)
	}
	return out
}

func staticWebsites(app *config.AppConfig) []engine.Entry[staticWebsiteSpec] {
	out := make([]engine.Entry[staticWebsiteSpec], 0, len(app.StaticSites))
	for _, s := range app.StaticSites {
		out = append(out, engine.Entry[staticWebsiteSpec]{
			Name:    s.Name,
			Payload: staticWebsiteSpec{Root: s.Root, Index: s.Index, ErrorPage: s.ErrorPage},
		})
	}
	return out
}

func executors(app *config.AppConfig) []engine.Entry[executorSpec] {
	out := make([]engine.Entry[executorSpec], 0, len(app.Executors))
	for _, e := range app.Executors {
		out = append(out, engine.Entry[executorSpec]{
			Name: e.Name,
			Payload: executorSpec{
				Trigger:    e.Trigger,
				Schedule:   e.Schedule,
				Runtime:    e.Runtime,
				Entrypoint: e.Entrypoint,
			},
		})
	}
	return out
}

func workflows(app *config.AppConfig) []engine.Entry[workflowSpec] {
	out := make([]engine.Entry[workflowSpec], 0, len(app.Workflows))
	for _, w := range app.Workflows {
		out = append(out, engine.Entry[workflowSpec]{Name: w.Name, Payload: workflowSpec{Steps: w.Steps}})
	}
	return out
}

// gateway returns the application specification with CORS origins unresolved.
func gateway(app *config.AppConfig) controlplane.ApplicationSpec {
	spec := controlplane.ApplicationSpec{
		CORSOrigins: app.Gateway.CORSOrigins,
		Domains:     app.Gateway.Domains,
	}
	add := func(kind, name string) {
		spec.Services = append(spec.Services, controlplane.ServiceRef{Kind: kind, Name: name})
	}
	for _, d := range app.Databases {
		add(controlplane.KindDatabaseService, d.Name)
	}
	for _, a := range app.Auth {
		add(controlplane.KindAuthService, a.Name)
	}
	for _, p := range app.IdentityProviders {
		add(controlplane.KindIdPService, p.Name)
	}
	for _, p := range app.Pipelines {
		add(controlplane.KindPipelineService, p.Name)
	}
	return spec
}
