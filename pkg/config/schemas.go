package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// application schema registered as "app".
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("app", builtinAppSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles schema and registers the definition #<Name> it
// declares under name. The definition is looked up by the capitalised name
// of the schema, so "app" expects #App.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename("schema:"+name))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definitionName(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definitionName(name))
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies val with the named schema and checks the result is concrete.
func (sr *SchemaRegistry) Apply(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	b := []byte(name)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return "#" + string(b)
}

// Built-in schema definitions

const builtinAppSchema = `
#Name: string & =~"^[A-Za-z][A-Za-z0-9_-]{0,62}$"

#Field: {
	name:      string
	type:      "string" | "int" | "float" | "bool" | "timestamp" | "json" | "reference"
	required?: bool
	unique?:   bool
}

#App: {
	name: #Name

	databases?: [...{
		name:    #Name
		engine?: "postgres" | "mysql" | "document"
		types?: [...{
			name: #Name
			fields: [#Field, ...#Field]
		}]
	}]

	auth?: [...{
		name:     #Name
		provider: "password" | "oauth" | "magic_link"
		configs?: [...{
			name:      #Name
			settings?: {[string]: string}
		}]
	}]

	identity_providers?: [...{
		name:    #Name
		issuer?: string
		clients?: [...{
			name:           #Name
			redirect_uris?: [...string]
			scopes?:        [...string]
		}]
	}]

	pipelines?: [...{
		name: #Name
		resolvers?: [...{
			name:    #Name
			query:   string
			source?: string
		}]
	}]

	static_sites?: [...{
		name:        #Name
		root?:       string
		index?:      string
		error_page?: string
	}]

	executors?: [...{
		name:        #Name
		trigger:     "schedule" | "http" | "event"
		schedule?:   string
		runtime?:    string
		entrypoint:  string
	}]

	workflows?: [...{
		name: #Name
		steps: [...{
			name:     string
			executor: string
		}]
	}]

	gateway?: {
		cors_origins?: [...string]
		domains?:      [...string]
	}
}
`
