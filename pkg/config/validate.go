package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/converge/pkg/engine"
)

var resourceNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// NewValidator returns a validator with the custom rules used by AppConfig.
// Field paths in errors use JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("resourcename", func(fl validator.FieldLevel) bool {
		return resourceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field rules and cross-references of cfg. All problems are
// reported together in one validation error.
func Validate(v *validator.Validate, cfg *AppConfig) error {
	var problems []ValidationError

	if err := v.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return engine.NewValidationError("invalid configuration", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, ValidationError{
				Path:    strings.TrimPrefix(fe.Namespace(), "AppConfig."),
				Message: describeFieldError(fe),
			})
		}
	}
	problems = append(problems, checkReferences(cfg)...)

	if len(problems) == 0 {
		return nil
	}
	return validationFailure(problems)
}

func validationFailure(problems []ValidationError) error {
	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = p.String()
	}
	return engine.NewValidationError("invalid configuration", errors.New(strings.Join(lines, "; "))).
		WithDetail("problems", problems)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "resourcename":
		return fmt.Sprintf("%q is not a valid name (letters, digits, '-' and '_', starting with a letter)", fe.Value())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// checkReferences reports duplicate names and dangling references.
func checkReferences(cfg *AppConfig) []ValidationError {
	var problems []ValidationError
	dup := func(path string, names []string) {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if seen[n] {
				problems = append(problems, ValidationError{Path: path, Message: fmt.Sprintf("duplicate name %q", n)})
			}
			seen[n] = true
		}
	}

	dup("databases", namesOf(cfg.Databases, func(d DatabaseService) string { return d.Name }))
	for i, d := range cfg.Databases {
		dup(fmt.Sprintf("databases[%d].types", i), namesOf(d.Types, func(t DatabaseType) string { return t.Name }))
	}
	dup("auth", namesOf(cfg.Auth, func(a AuthService) string { return a.Name }))
	for i, a := range cfg.Auth {
		dup(fmt.Sprintf("auth[%d].configs", i), namesOf(a.Configs, func(c AuthConfig) string { return c.Name }))
	}
	dup("identity_providers", namesOf(cfg.IdentityProviders, func(p IdPService) string { return p.Name }))
	for i, p := range cfg.IdentityProviders {
		dup(fmt.Sprintf("identity_providers[%d].clients", i), namesOf(p.Clients, func(c IdPClient) string { return c.Name }))
	}
	dup("pipelines", namesOf(cfg.Pipelines, func(p PipelineService) string { return p.Name }))
	for i, p := range cfg.Pipelines {
		dup(fmt.Sprintf("pipelines[%d].resolvers", i), namesOf(p.Resolvers, func(r PipelineResolver) string { return r.Name }))
	}
	dup("static_sites", namesOf(cfg.StaticSites, func(s StaticWebsite) string { return s.Name }))
	dup("executors", namesOf(cfg.Executors, func(e Executor) string { return e.Name }))
	dup("workflows", namesOf(cfg.Workflows, func(w Workflow) string { return w.Name }))

	sites := make(map[string]bool, len(cfg.StaticSites))
	for _, s := range cfg.StaticSites {
		sites[s.Name] = true
	}
	for i, origin := range cfg.Gateway.CORSOrigins {
		if name, ok := strings.CutPrefix(origin, SiteOriginPrefix); ok && !sites[name] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("gateway.cors_origins[%d]", i),
				Message: fmt.Sprintf("static site %q is not declared", name),
			})
		}
	}

	executors := make(map[string]bool, len(cfg.Executors))
	for _, e := range cfg.Executors {
		executors[e.Name] = true
	}
	for i, w := range cfg.Workflows {
		for j, s := range w.Steps {
			if !executors[s.Executor] {
				problems = append(problems, ValidationError{
					Path:    fmt.Sprintf("workflows[%d].steps[%d].executor", i, j),
					Message: fmt.Sprintf("executor %q is not declared", s.Executor),
				})
			}
		}
	}

	return problems
}

func namesOf[T any](items []T, name func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = name(item)
	}
	return out
}

func fmtLocation(file string, line, column int) string {
	if column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, column)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
