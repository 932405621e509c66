package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses application configuration written in CUE. The
// configuration is the value of the top-level "app" field, unified with the
// built-in #App schema.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	registry := NewSchemaRegistry()
	return &CUEParser{
		ctx:            registry.ctx,
		schemaRegistry: registry,
	}
}

// ParseFile parses a single CUE file.
func (cp *CUEParser) ParseFile(path string) (*AppConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.ParseBytes(path, content)
}

// ParseBytes parses CUE source; filename is only used in error positions.
func (cp *CUEParser) ParseBytes(filename string, content []byte) (*AppConfig, error) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, validationFailure(cp.convertCUEErrors(err))
	}
	return cp.extract(val, filename)
}

// ParseDirectory loads a directory as one CUE package.
func (cp *CUEParser) ParseDirectory(dir string) (*AppConfig, error) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return nil, validationFailure([]ValidationError{{File: dir, Message: "no CUE files found"}})
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return nil, validationFailure(cp.convertCUEErrors(inst.Err))
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, validationFailure(cp.convertCUEErrors(err))
	}
	return cp.extract(val, dir)
}

func (cp *CUEParser) extract(val cue.Value, source string) (*AppConfig, error) {
	appVal := val.LookupPath(cue.ParsePath("app"))
	if !appVal.Exists() {
		return nil, validationFailure([]ValidationError{{File: source, Path: "app", Message: "is required"}})
	}

	unified, err := cp.schemaRegistry.Apply("app", appVal)
	if err != nil {
		return nil, validationFailure(cp.convertCUEErrors(err))
	}

	var cfg AppConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, validationFailure([]ValidationError{{File: source, Path: "app", Message: fmt.Sprintf("failed to decode: %v", err)}})
	}
	return &cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    pathOf(e),
			Message: errors.Details(e, nil),
		})
	}

	return validationErrors
}

func pathOf(e errors.Error) string {
	return strings.Join(e.Path(), ".")
}
