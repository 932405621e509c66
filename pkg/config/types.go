package config

import (
	"time"
)

// AppConfig is the desired state of one application: the services it
// declares, the gateway composing them and the resources depending on it.
type AppConfig struct {
	// Name is the application name. It is also the ownership label written
	// on every resource the application manages.
	Name string `json:"name" yaml:"name" validate:"required,resourcename"`

	// Databases are database services with their record types.
	Databases []DatabaseService `json:"databases,omitempty" yaml:"databases,omitempty" validate:"dive"`

	// Auth are authentication services with their configurations.
	Auth []AuthService `json:"auth,omitempty" yaml:"auth,omitempty" validate:"dive"`

	// IdentityProviders are identity provider services with their clients.
	IdentityProviders []IdPService `json:"identity_providers,omitempty" yaml:"identity_providers,omitempty" validate:"dive"`

	// Pipelines are query pipeline services with their resolvers.
	Pipelines []PipelineService `json:"pipelines,omitempty" yaml:"pipelines,omitempty" validate:"dive"`

	// StaticSites are static websites.
	StaticSites []StaticWebsite `json:"static_sites,omitempty" yaml:"static_sites,omitempty" validate:"dive"`

	// Executors are functions run on a schedule, on HTTP requests or on events.
	Executors []Executor `json:"executors,omitempty" yaml:"executors,omitempty" validate:"dive"`

	// Workflows chain executors.
	Workflows []Workflow `json:"workflows,omitempty" yaml:"workflows,omitempty" validate:"dive"`

	// Gateway configures the composing application resource.
	Gateway Gateway `json:"gateway,omitempty" yaml:"gateway,omitempty"`
}

// DatabaseService is a database and its record types.
type DatabaseService struct {
	Name   string         `json:"name" yaml:"name" validate:"required,resourcename"`
	Engine string         `json:"engine,omitempty" yaml:"engine,omitempty" validate:"omitempty,oneof=postgres mysql document"`
	Types  []DatabaseType `json:"types,omitempty" yaml:"types,omitempty" validate:"dive"`
}

// DatabaseType is a record type of a database.
type DatabaseType struct {
	Name   string  `json:"name" yaml:"name" validate:"required,resourcename"`
	Fields []Field `json:"fields" yaml:"fields" validate:"required,min=1,dive"`
}

// Field is one field of a record type.
type Field struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Type     string `json:"type" yaml:"type" validate:"required,oneof=string int float bool timestamp json reference"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// AuthService is an authentication service.
type AuthService struct {
	Name     string       `json:"name" yaml:"name" validate:"required,resourcename"`
	Provider string       `json:"provider" yaml:"provider" validate:"required,oneof=password oauth magic_link"`
	Configs  []AuthConfig `json:"configs,omitempty" yaml:"configs,omitempty" validate:"dive"`
}

// AuthConfig is a named settings block of an auth service.
type AuthConfig struct {
	Name     string            `json:"name" yaml:"name" validate:"required,resourcename"`
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// IdPService is an identity provider.
type IdPService struct {
	Name    string      `json:"name" yaml:"name" validate:"required,resourcename"`
	Issuer  string      `json:"issuer,omitempty" yaml:"issuer,omitempty" validate:"omitempty,url"`
	Clients []IdPClient `json:"clients,omitempty" yaml:"clients,omitempty" validate:"dive"`
}

// IdPClient is a client registered with an identity provider.
type IdPClient struct {
	Name         string   `json:"name" yaml:"name" validate:"required,resourcename"`
	RedirectURIs []string `json:"redirect_uris,omitempty" yaml:"redirect_uris,omitempty" validate:"dive,url"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// PipelineService is a query pipeline.
type PipelineService struct {
	Name      string             `json:"name" yaml:"name" validate:"required,resourcename"`
	Resolvers []PipelineResolver `json:"resolvers,omitempty" yaml:"resolvers,omitempty" validate:"dive"`
}

// PipelineResolver is a named query of a pipeline.
type PipelineResolver struct {
	Name   string `json:"name" yaml:"name" validate:"required,resourcename"`
	Query  string `json:"query" yaml:"query" validate:"required"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// StaticWebsite is a statically served site.
type StaticWebsite struct {
	Name      string `json:"name" yaml:"name" validate:"required,resourcename"`
	Root      string `json:"root,omitempty" yaml:"root,omitempty"`
	Index     string `json:"index,omitempty" yaml:"index,omitempty"`
	ErrorPage string `json:"error_page,omitempty" yaml:"error_page,omitempty"`
}

// Executor is a function attached to the gateway.
type Executor struct {
	Name       string `json:"name" yaml:"name" validate:"required,resourcename"`
	Trigger    string `json:"trigger" yaml:"trigger" validate:"required,oneof=schedule http event"`
	Schedule   string `json:"schedule,omitempty" yaml:"schedule,omitempty" validate:"required_if=Trigger schedule"`
	Runtime    string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Entrypoint string `json:"entrypoint" yaml:"entrypoint" validate:"required"`
}

// Workflow chains executors.
type Workflow struct {
	Name  string         `json:"name" yaml:"name" validate:"required,resourcename"`
	Steps []WorkflowStep `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// WorkflowStep runs one executor.
type WorkflowStep struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Executor string `json:"executor" yaml:"executor" validate:"required"`
}

// Gateway configures the application resource.
type Gateway struct {
	// CORSOrigins are allowed origins. An entry "site:<name>" names a
	// declared static website and resolves to its URL.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// Domains are custom domains served by the gateway.
	Domains []string `json:"domains,omitempty" yaml:"domains,omitempty" validate:"dive,hostname"`
}

// SiteOriginPrefix marks a CORS origin naming a static website.
const SiteOriginPrefix = "site:"

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "databases[0].types[1].name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error with its location.
func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmtLocation(e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
