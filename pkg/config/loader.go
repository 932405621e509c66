package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/engine"
)

// Supported configuration formats.
const (
	FormatYAML     = "yaml"
	FormatJSON     = "json"
	FormatCUE      = "cue"
	FormatStarlark = "starlark"
)

// Loader reads and validates application configuration. A Loader is safe for
// concurrent use.
type Loader struct {
	validate *validator.Validate
	cue      *CUEParser
	starlark *StarlarkEvaluator
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStarlarkTimeout bounds the execution of Starlark configuration scripts.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.starlark = NewStarlarkEvaluator(d)
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		validate: NewValidator(),
		cue:      NewCUEParser(),
		starlark: NewStarlarkEvaluator(DefaultStarlarkTimeout),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FormatOf returns the configuration format implied by path's extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	case ".star", ".starlark":
		return FormatStarlark, nil
	default:
		return "", engine.NewValidationError(
			fmt.Sprintf("unsupported configuration file %q (expected .yaml, .yml, .json, .cue or .star)", path), nil)
	}
}

// Load reads the configuration at path. A directory is loaded as a CUE package.
func (l *Loader) Load(ctx context.Context, path string) (*AppConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewValidationError("cannot read configuration", err).WithResource(path)
	}

	var cfg *AppConfig
	if info.IsDir() {
		cfg, err = l.cue.ParseDirectory(path)
	} else {
		var format string
		if format, err = FormatOf(path); err != nil {
			return nil, err
		}
		var data []byte
		if data, err = os.ReadFile(path); err != nil {
			return nil, engine.NewValidationError("cannot read configuration", err).WithResource(path)
		}
		cfg, err = l.decode(ctx, format, path, data)
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(l.validate, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes decodes and validates configuration in the given format.
func (l *Loader) LoadBytes(ctx context.Context, format, filename string, data []byte) (*AppConfig, error) {
	cfg, err := l.decode(ctx, format, filename, data)
	if err != nil {
		return nil, err
	}
	if err := Validate(l.validate, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) decode(ctx context.Context, format, filename string, data []byte) (*AppConfig, error) {
	switch format {
	case FormatYAML:
		return decodeYAML(filename, data)
	case FormatJSON:
		return decodeJSON(filename, data)
	case FormatCUE:
		return l.cue.ParseBytes(filename, data)
	case FormatStarlark:
		return l.evaluateStarlark(ctx, filename, data)
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unsupported configuration format %q", format), nil)
	}
}

func decodeYAML(filename string, data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, decodeFailure(filename, err)
	}
	return &cfg, nil
}

func decodeJSON(filename string, data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, decodeFailure(filename, err)
	}
	return &cfg, nil
}

// evaluateStarlark runs a script that must bind the global "app" to a dict
// shaped like AppConfig.
func (l *Loader) evaluateStarlark(ctx context.Context, filename string, data []byte) (*AppConfig, error) {
	result, err := l.starlark.Evaluate(ctx, filename, string(data), nil)
	if err != nil {
		return nil, engine.NewValidationError("configuration script failed", err).WithResource(filename)
	}

	app, ok := result.Output["app"]
	if !ok {
		return nil, validationFailure([]ValidationError{{File: filename, Path: "app", Message: "script must define a global named app"}})
	}
	raw, err := json.Marshal(app)
	if err != nil {
		return nil, decodeFailure(filename, err)
	}
	return decodeJSON(filename, raw)
}

func decodeFailure(filename string, err error) error {
	return engine.NewValidationError("cannot decode configuration", err).WithResource(filename)
}
