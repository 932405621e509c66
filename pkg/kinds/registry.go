package kinds

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
)

// Kind names as they appear in reports.
const (
	NameDatabase      = "database"
	NameAuth          = "auth"
	NameIdP           = "idp"
	NamePipeline      = "pipeline"
	NameStaticWebsite = "static_website"
	NameApplication   = "application"
	NameExecutor      = "executor"
	NameWorkflow      = "workflow"
)

// Options are shared by every kind of one run.
type Options struct {
	// Remote is the control-plane client.
	Remote Remote

	// Owners resolves and writes ownership labels. It must be fresh per run.
	Owners *engine.OwnershipResolver

	// App is the desired state. It may be nil in removal mode.
	App *config.AppConfig

	// Logger is the parent logger.
	Logger zerolog.Logger
}

// All returns every kind in report order.
func All(opts Options) []engine.Kind {
	return []engine.Kind{
		newServiceKind(serviceDef[databaseServiceSpec, databaseTypeSpec]{
			name:              NameDatabase,
			kind:              controlplane.KindDatabaseService,
			childKind:         controlplane.KindDatabaseType,
			importantChildren: true,
			desired:           databases,
			checkChild:        checkSchema,
		}, opts),
		newServiceKind(serviceDef[authServiceSpec, authConfigSpec]{
			name:      NameAuth,
			kind:      controlplane.KindAuthService,
			childKind: controlplane.KindAuthConfig,
			desired:   authServices,
		}, opts),
		newServiceKind(serviceDef[idpServiceSpec, idpClientSpec]{
			name:      NameIdP,
			kind:      controlplane.KindIdPService,
			childKind: controlplane.KindIdPClient,
			desired:   idpServices,
		}, opts),
		newServiceKind(serviceDef[pipelineServiceSpec, pipelineResolverSpec]{
			name:      NamePipeline,
			kind:      controlplane.KindPipelineService,
			childKind: controlplane.KindPipelineResolver,
			desired:   pipelineServices,
		}, opts),
		newFlatKind(flatDef[staticWebsiteSpec]{
			name:        NameStaticWebsite,
			kind:        controlplane.KindStaticWebsite,
			important:   true,
			upsertPhase: engine.PhaseProvideDependencies,
			deletePhase: engine.PhaseDeleteStaticSites,
			desired:     staticWebsites,
		}, opts),
		newApplicationKind(opts),
		newFlatKind(flatDef[executorSpec]{
			name:        NameExecutor,
			kind:        controlplane.KindExecutor,
			upsertPhase: engine.PhaseProvideDependents,
			deletePhase: engine.PhaseDeleteDependents,
			desired:     executors,
		}, opts),
		newFlatKind(flatDef[workflowSpec]{
			name:        NameWorkflow,
			kind:        controlplane.KindWorkflow,
			upsertPhase: engine.PhaseProvideDependents,
			deletePhase: engine.PhaseDeleteDependents,
			desired:     workflows,
		}, opts),
	}
}

// checkSchema rejects database type updates that drop a field or change its
// type, since existing records would lose data.
func checkSchema(id engine.ResourceIdentity, desired, existing databaseTypeSpec) error {
	want := make(map[string]string, len(desired.Fields))
	for _, f := range desired.Fields {
		want[f.Name] = f.Type
	}

	var breaking []string
	for _, f := range existing.Fields {
		typ, ok := want[f.Name]
		switch {
		case !ok:
			breaking = append(breaking, fmt.Sprintf("drops field %q", f.Name))
		case typ != f.Type:
			breaking = append(breaking, fmt.Sprintf("changes field %q from %s to %s", f.Name, f.Type, typ))
		}
	}
	if len(breaking) == 0 {
		return nil
	}

	sort.Strings(breaking)
	return engine.NewValidationError(
		fmt.Sprintf("breaking schema change: update %s; rerun with --no-schema-check to apply it anyway", strings.Join(breaking, ", ")), nil).
		WithResource(id.String()).
		WithOperation(controlplane.OpUpdate).
		WithCode(engine.ErrCodeSchemaBreaking)
}
