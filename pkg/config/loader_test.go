package config

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/openfroyo/converge/pkg/engine"
)

func expectedShop() *AppConfig {
	return &AppConfig{
		Name: "shop",
		Databases: []DatabaseService{{
			Name:   "orders",
			Engine: "postgres",
			Types: []DatabaseType{{
				Name: "Order",
				Fields: []Field{
					{Name: "id", Type: "string", Required: true, Unique: true},
					{Name: "total", Type: "float"},
				},
			}},
		}},
		StaticSites: []StaticWebsite{{Name: "web", Root: "./dist", Index: "index.html"}},
		Executors: []Executor{{
			Name:       "nightly",
			Trigger:    "schedule",
			Schedule:   "0 3 * * *",
			Entrypoint: "jobs/nightly.js",
		}},
		Gateway: Gateway{CORSOrigins: []string{"site:web", "https://admin.example.com"}},
	}
}

func TestLoader_AllFormatsAgree(t *testing.T) {
	loader := NewLoader()
	want := expectedShop()

	for _, file := range []string{"shop.yaml", "shop.json", "shop.cue", "shop.star"} {
		t.Run(file, func(t *testing.T) {
			got, err := loader.Load(context.Background(), filepath.Join("testdata", file))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Load() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestLoader_CUEPackageDirectory(t *testing.T) {
	cfg, err := NewLoader().Load(context.Background(), filepath.Join("testdata", "cuepkg"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Pipelines) != 1 || len(cfg.Pipelines[0].Resolvers) != 2 {
		t.Fatalf("expected one pipeline with two resolvers, got %+v", cfg.Pipelines)
	}
	if cfg.Pipelines[0].Resolvers[1].Name != "recent" {
		t.Errorf("expected resolvers in declared order, got %+v", cfg.Pipelines[0].Resolvers)
	}
}

func TestLoader_Errors(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader()

	tests := []struct {
		name    string
		format  string
		content string
		wantMsg string
	}{
		{
			name:    "unknown yaml field",
			format:  FormatYAML,
			content: "name: shop\ndatabase:\n  - name: orders\n",
			wantMsg: "database",
		},
		{
			name:    "unknown json field",
			format:  FormatJSON,
			content: `{"name": "shop", "dbs": []}`,
			wantMsg: "dbs",
		},
		{
			name:    "unknown enum tag",
			format:  FormatYAML,
			content: "name: shop\nauth:\n  - name: login\n    provider: ldap\n",
			wantMsg: "auth[0].provider",
		},
		{
			name:    "missing required field",
			format:  FormatYAML,
			content: "name: shop\nexecutors:\n  - name: hook\n    trigger: http\n",
			wantMsg: "executors[0].entrypoint",
		},
		{
			name:    "cue schema violation",
			format:  FormatCUE,
			content: `app: {name: "shop", executors: [{name: "x", trigger: "cron", entrypoint: "a.js"}]}`,
			wantMsg: "trigger",
		},
		{
			name:    "cue without app",
			format:  FormatCUE,
			content: `name: "shop"`,
			wantMsg: "app",
		},
		{
			name:    "starlark without app",
			format:  FormatStarlark,
			content: `name = "shop"`,
			wantMsg: "app",
		},
		{
			name:    "starlark runtime error",
			format:  FormatStarlark,
			content: `app = undefined`,
			wantMsg: "undefined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadBytes(ctx, tt.format, "inline", []byte(tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !engine.IsValidation(err) {
				t.Errorf("expected a validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]string{
		"app.yaml":     FormatYAML,
		"app.YML":      FormatYAML,
		"app.json":     FormatJSON,
		"app.cue":      FormatCUE,
		"app.star":     FormatStarlark,
		"app.starlark": FormatStarlark,
	}
	for path, want := range tests {
		got, err := FormatOf(path)
		if err != nil || got != want {
			t.Errorf("FormatOf(%q) = %q, %v; want %q", path, got, err, want)
		}
	}

	if _, err := FormatOf("app.toml"); !engine.IsValidation(err) {
		t.Errorf("expected validation error for .toml, got %v", err)
	}
}
