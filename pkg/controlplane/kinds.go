package controlplane

// Remote resource kinds.
const (
	KindDatabaseService  = "database_service"
	KindDatabaseType     = "database_type"
	KindAuthService      = "auth_service"
	KindAuthConfig       = "auth_config"
	KindIdPService       = "idp_service"
	KindIdPClient        = "idp_client"
	KindPipelineService  = "pipeline_service"
	KindPipelineResolver = "pipeline_resolver"
	KindStaticWebsite    = "static_website"
	KindApplication      = "application"
	KindExecutor         = "executor"
	KindWorkflow         = "workflow"
)

// KindInfo describes how a resource kind is addressed on the wire.
type KindInfo struct {
	// Kind is the resource kind.
	Kind string

	// Method is the suffix of the kind's RPC method names.
	Method string

	// Parent is the service kind owning this sub-resource kind, if any.
	// Sub-resources are namespaced by their parent service's name.
	Parent string

	// Referenceable marks services an application may compose.
	Referenceable bool

	// NeedsApplication marks kinds that require an application in the workspace.
	NeedsApplication bool
}

var kindTable = []KindInfo{
	{Kind: KindDatabaseService, Method: "DatabaseService", Referenceable: true},
	{Kind: KindDatabaseType, Method: "DatabaseType", Parent: KindDatabaseService},
	{Kind: KindAuthService, Method: "AuthService", Referenceable: true},
	{Kind: KindAuthConfig, Method: "AuthConfig", Parent: KindAuthService},
	{Kind: KindIdPService, Method: "IdPService", Referenceable: true},
	{Kind: KindIdPClient, Method: "IdPClient", Parent: KindIdPService},
	{Kind: KindPipelineService, Method: "PipelineService", Referenceable: true},
	{Kind: KindPipelineResolver, Method: "PipelineResolver", Parent: KindPipelineService},
	{Kind: KindStaticWebsite, Method: "StaticWebsite"},
	{Kind: KindApplication, Method: "Application"},
	{Kind: KindExecutor, Method: "Executor", NeedsApplication: true},
	{Kind: KindWorkflow, Method: "Workflow", NeedsApplication: true},
}

var kindIndex = func() map[string]KindInfo {
	m := make(map[string]KindInfo, len(kindTable))
	for _, k := range kindTable {
		m[k.Kind] = k
	}
	return m
}()

// Lookup returns the description of kind.
func Lookup(kind string) (KindInfo, bool) {
	k, ok := kindIndex[kind]
	return k, ok
}

// Kinds returns every known resource kind.
func Kinds() []KindInfo {
	return append([]KindInfo(nil), kindTable...)
}

// Children returns the sub-resource kinds of a service kind.
func Children(serviceKind string) []string {
	var out []string
	for _, k := range kindTable {
		if k.Parent == serviceKind {
			out = append(out, k.Kind)
		}
	}
	return out
}
