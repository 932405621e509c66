package kinds_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/controlplane/controlplanetest"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/kinds"
)

const workspace = "ws"

func shop() *config.AppConfig {
	return &config.AppConfig{
		Name: "shop",
		Databases: []config.DatabaseService{
			{Name: "orders", Engine: "postgres", Types: []config.DatabaseType{{
				Name: "Order",
				Fields: []config.Field{
					{Name: "id", Type: "string", Required: true},
					{Name: "total", Type: "float"},
				},
			}}},
			{Name: "users", Types: []config.DatabaseType{{
				Name:   "User",
				Fields: []config.Field{{Name: "email", Type: "string", Unique: true}},
			}}},
		},
		Auth: []config.AuthService{{
			Name:     "login",
			Provider: "oauth",
			Configs:  []config.AuthConfig{{Name: "google", Settings: map[string]string{"client_id": "abc"}}},
		}},
		IdentityProviders: []config.IdPService{{
			Name:    "idp",
			Issuer:  "https://id.example.com",
			Clients: []config.IdPClient{{Name: "web", Scopes: []string{"openid"}}},
		}},
		Pipelines: []config.PipelineService{{
			Name:      "search",
			Resolvers: []config.PipelineResolver{{Name: "byName", Query: "SELECT 1"}},
		}},
		StaticSites: []config.StaticWebsite{{Name: "web", Index: "index.html"}},
		Executors:   []config.Executor{{Name: "nightly", Trigger: "schedule", Schedule: "@daily", Entrypoint: "jobs/nightly.js"}},
		Workflows: []config.Workflow{{
			Name:  "etl",
			Steps: []config.WorkflowStep{{Name: "run", Executor: "nightly"}},
		}},
		Gateway: config.Gateway{CORSOrigins: []string{"site:web", "https://admin.example.com"}},
	}
}

type harness struct {
	t   *testing.T
	env *controlplanetest.Env
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, env: controlplanetest.New(t, controlplanetest.Options{})}
}

func (h *harness) client() *controlplane.Client {
	return h.env.Client(workspace)
}

// run builds fresh kinds over app, as the CLI does for every invocation.
func (h *harness) run(app *config.AppConfig, req engine.RunRequest) (*engine.Result, error) {
	h.t.Helper()
	client := h.client()
	owners := engine.NewOwnershipResolver(client, workspace, zerolog.Nop())
	ks := kinds.All(kinds.Options{Remote: client, Owners: owners, App: app, Logger: zerolog.Nop()})

	req.Workspace = workspace
	if req.Application == "" {
		req.Application = app.Name
	}
	return engine.NewOrchestrator(ks).Run(context.Background(), req)
}

func (h *harness) apply(app *config.AppConfig) *engine.Result {
	h.t.Helper()
	res, err := h.run(app, engine.RunRequest{})
	require.NoError(h.t, err)
	require.Equal(h.t, engine.RunStatusSucceeded, res.Status)
	return res
}

func (h *harness) owner(kind, namespace, name string) string {
	h.t.Helper()
	id := engine.ResourceIdentity{Kind: kind, Namespace: namespace, Name: name}
	labels, err := h.client().GetLabels(context.Background(), id.TRN(workspace))
	require.NoError(h.t, err)
	return labels[engine.OwnerLabelKey]
}

func (h *harness) names(kind, namespace string) []string {
	h.t.Helper()
	items, err := h.client().List(context.Background(), kind, namespace)
	require.NoError(h.t, err)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func (h *harness) application(name string) controlplane.ApplicationSpec {
	h.t.Helper()
	r, err := h.client().Get(context.Background(), controlplane.KindApplication, "", name)
	require.NoError(h.t, err)
	var spec controlplane.ApplicationSpec
	require.NoError(h.t, json.Unmarshal(r.Spec, &spec))
	return spec
}

func TestApply_CreatesAndOwnsEverything(t *testing.T) {
	h := newHarness(t)
	res := h.apply(shop())

	assert.Equal(t, 14, res.Report.Summary.ToCreate)
	assert.Len(t, res.Phases, len(engine.Phases))

	assert.Equal(t, []string{"orders", "users"}, h.names(controlplane.KindDatabaseService, ""))
	assert.Equal(t, []string{"Order"}, h.names(controlplane.KindDatabaseType, "orders"))
	assert.Equal(t, []string{"google"}, h.names(controlplane.KindAuthConfig, "login"))
	assert.Equal(t, []string{"web"}, h.names(controlplane.KindIdPClient, "idp"))
	assert.Equal(t, []string{"byName"}, h.names(controlplane.KindPipelineResolver, "search"))
	assert.Equal(t, []string{"etl"}, h.names(controlplane.KindWorkflow, ""))

	assert.Equal(t, "shop", h.owner(controlplane.KindDatabaseService, "", "orders"))
	assert.Equal(t, "shop", h.owner(controlplane.KindDatabaseType, "orders", "Order"))
	assert.Equal(t, "shop", h.owner(controlplane.KindApplication, "", "shop"))
	assert.Equal(t, "shop", h.owner(controlplane.KindExecutor, "", "nightly"))

	app := h.application("shop")
	assert.Equal(t, []string{"https://web--ws.sites.converge.local", "https://admin.example.com"}, app.CORSOrigins)
	assert.True(t, app.References(controlplane.KindDatabaseService, "users"))
	assert.True(t, app.References(controlplane.KindPipelineService, "search"))
}

func TestApply_ReapplyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())
	h.env.Calls.Reset()

	res := h.apply(shop())

	assert.Zero(t, res.Report.Summary.Total())
	assert.Equal(t, 14, res.Report.Summary.NoChange)
	assert.Empty(t, res.Phases, "a converged plan runs no phase")
	assert.Empty(t, h.env.Calls.Mutations())
}

func TestApply_DryRunMutatesNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.run(shop(), engine.RunRequest{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, engine.RunStatusPlanned, res.Status)
	assert.Equal(t, 14, res.Report.Summary.ToCreate)
	assert.Empty(t, h.env.Calls.Mutations())
}

func TestApply_ServiceDeletedAfterGateway(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())
	h.env.Calls.Reset()

	cfg := shop()
	cfg.Databases = cfg.Databases[:1]
	h.apply(cfg)

	updateApp := h.env.Calls.Index("UpdateApplication")
	deleteType := h.env.Calls.Index("DeleteDatabaseType")
	deleteService := h.env.Calls.Index("DeleteDatabaseService")
	require.NotEqual(t, -1, updateApp)
	require.NotEqual(t, -1, deleteType)
	require.NotEqual(t, -1, deleteService)

	assert.Less(t, deleteType, updateApp, "sub-resources are shed before the gateway update")
	assert.Less(t, updateApp, deleteService, "services are deleted after the gateway stops referencing them")
	assert.Equal(t, []string{"orders"}, h.names(controlplane.KindDatabaseService, ""))
	app := h.application("shop")
	assert.False(t, app.References(controlplane.KindDatabaseService, "users"))
}

func TestRemove_DeletesGatewayBeforeServices(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())
	h.env.Calls.Reset()

	res, err := h.run(shop(), engine.RunRequest{Removal: true})
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusSucceeded, res.Status)
	assert.Zero(t, res.Report.Summary.ToCreate)

	calls := h.env.Calls.Calls()
	deleteApp := h.env.Calls.Index("DeleteApplication")
	require.NotEqual(t, -1, deleteApp)
	for i, c := range calls {
		switch c.Method {
		case "DeleteDatabaseService", "DeleteAuthService", "DeleteIdPService", "DeletePipelineService":
			assert.Greater(t, i, deleteApp, "%s completed before DeleteApplication", c.Method)
		case "DeleteExecutor", "DeleteWorkflow", "DeleteStaticWebsite":
			assert.Less(t, i, deleteApp, "%s completed after DeleteApplication", c.Method)
		}
		assert.NoError(t, c.Err, c.Method)
	}
	assert.Equal(t, 2, h.env.Calls.Count("DeleteDatabaseService"))

	for _, k := range []string{controlplane.KindDatabaseService, controlplane.KindApplication, controlplane.KindStaticWebsite, controlplane.KindExecutor} {
		assert.Empty(t, h.names(k, ""), k)
	}
}

func TestApply_LeavesOtherApplicationsAlone(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())

	blog := &config.AppConfig{
		Name:      "blog",
		Databases: []config.DatabaseService{{Name: "posts"}},
	}
	res := h.apply(blog)

	assert.Zero(t, res.Report.Summary.ToDelete)
	assert.Contains(t, res.Report.OtherOwners, "shop")
	assert.Empty(t, res.Report.EmptyApplications)
	assert.ElementsMatch(t, []string{"orders", "users", "posts"}, h.names(controlplane.KindDatabaseService, ""))
	assert.ElementsMatch(t, []string{"shop", "blog"}, h.names(controlplane.KindApplication, ""))
}

func TestPlan_ReportsConflict(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())

	blog := &config.AppConfig{
		Name:      "blog",
		Databases: []config.DatabaseService{{Name: "orders", Engine: "postgres"}},
	}
	res, err := h.run(blog, engine.RunRequest{DryRun: true})
	require.NoError(t, err)
	require.Len(t, res.Report.Conflicts, 1)
	assert.Equal(t, engine.OwnerConflict{
		ResourceType: controlplane.KindDatabaseService,
		ResourceName: "orders",
		CurrentOwner: "shop",
	}, res.Report.Conflicts[0])
	// shop still owns other resources, so it is not an empty application.
	assert.Empty(t, res.Report.EmptyApplications)
	assert.Equal(t, "shop", h.owner(controlplane.KindDatabaseService, "", "orders"))
}

func TestApply_AdoptsUnmanaged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client().Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseService, Name: "legacy", Spec: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = h.client().Create(ctx, controlplane.Resource{Kind: controlplane.KindIdPService, Name: "corp", Spec: json.RawMessage(`{}`)})
	require.NoError(t, err)

	cfg := &config.AppConfig{Name: "shop", Databases: []config.DatabaseService{{Name: "legacy"}}}
	res := h.apply(cfg)

	assert.Equal(t, []engine.UnmanagedResource{{ResourceType: controlplane.KindDatabaseService, ResourceName: "legacy"}}, res.Report.Adoptions)
	assert.Contains(t, res.Report.Unmanaged, engine.UnmanagedResource{ResourceType: controlplane.KindIdPService, ResourceName: "corp"})
	assert.Equal(t, "shop", h.owner(controlplane.KindDatabaseService, "", "legacy"))
	assert.Equal(t, "", h.owner(controlplane.KindIdPService, "", "corp"))
	assert.Equal(t, []string{"corp"}, h.names(controlplane.KindIdPService, ""), "unmanaged resources are never deleted")
}

func TestApply_RenameDeletesEmptyApplication(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())

	renamed := shop()
	renamed.Name = "store"
	res := h.apply(renamed)

	assert.Equal(t, []string{"shop"}, res.Report.EmptyApplications)
	assert.NotEmpty(t, res.Report.Conflicts)
	assert.Equal(t, []string{"store"}, h.names(controlplane.KindApplication, ""))
	assert.Equal(t, "store", h.owner(controlplane.KindDatabaseService, "", "orders"))
	assert.Equal(t, "store", h.owner(controlplane.KindWorkflow, "", "etl"))
	assert.Equal(t, 1, h.env.Calls.Count("DeleteApplication"))
}

func TestPlan_BreakingSchemaChange(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())

	cfg := shop()
	cfg.Databases[0].Types[0].Fields = cfg.Databases[0].Types[0].Fields[:1]

	h.env.Calls.Reset()
	_, err := h.run(cfg, engine.RunRequest{})
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.ErrorIs(t, err, engine.NewValidationError("", nil).WithCode(engine.ErrCodeSchemaBreaking))
	assert.Contains(t, err.Error(), `drops field "total"`)
	assert.Empty(t, h.env.Calls.Mutations())

	res, err := h.run(cfg, engine.RunRequest{SkipSchemaCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Summary.ToUpdate)
}

func TestPlan_ImportantDeletions(t *testing.T) {
	h := newHarness(t)
	h.apply(shop())

	cfg := shop()
	cfg.StaticSites = nil
	cfg.Gateway.CORSOrigins = nil
	cfg.Databases[1].Types = nil

	res, err := h.run(cfg, engine.RunRequest{DryRun: true})
	require.NoError(t, err)

	var important []string
	for _, row := range res.Report.ImportantDeletions() {
		important = append(important, row.ResourceType+"/"+row.Name)
	}
	assert.ElementsMatch(t, []string{"database_type/User", "static_website/web"}, important)
}
