package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

const denyAll = `package test.policy

import rego.v1

deny contains "denied" if true
`

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	regoContent := "# Test policy for validation.\n# Second line.\n# severity: critical\n\n" + denyAll
	writeFile(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Test policy for validation. Second line." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_RegoDefaults(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "plain.rego")
	writeFile(t, policyFile, denyAll)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Description != "" {
		t.Errorf("Expected no description, got %q", policy.Description)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
}

func TestLoadFromFile_Definitions(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		severity Severity
		wantErr  bool
	}{
		{
			name:     "json",
			file:     "def.json",
			content:  `{"name": "from-json", "severity": "error", "enabled": true, "rego": "package a\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"}`,
			severity: SeverityError,
		},
		{
			name: "yaml",
			file: "def.yaml",
			content: `name: from-yaml
enabled: true
tags: [safety]
rego: |
  package b

  import rego.v1

  deny contains "x" if false
`,
			severity: SeverityWarning,
		},
		{
			name:    "missing name",
			file:    "noname.yml",
			content: "rego: package c\n",
			wantErr: true,
		},
		{
			name:    "missing rego",
			file:    "norego.json",
			content: `{"name": "empty"}`,
			wantErr: true,
		},
		{
			name:    "malformed",
			file:    "bad.json",
			content: `{"name": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			policy, err := loader.loadFromFile(context.Background(), path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected an error, got %+v", policy)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Name != "from-"+tt.name {
				t.Errorf("Unexpected name %s", policy.Name)
			}
			if policy.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, policy.Severity)
			}
			if policy.Source != path {
				t.Errorf("Expected source %s, got %s", path, policy.Source)
			}
		})
	}
}

func TestLoadFromFile_DefinitionEnablement(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		want    bool
	}{
		{name: "omitted", enabled: "", want: true},
		{name: "explicit true", enabled: "enabled: true\n", want: true},
		{name: "explicit false", enabled: "enabled: false\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			path := filepath.Join(t.TempDir(), "guard.yaml")
			writeFile(t, path, "name: guard\nseverity: error\n"+tt.enabled+"rego: |\n  package guard\n\n  import rego.v1\n\n  deny contains \"x\" if true\n")

			policy, err := loader.loadFromFile(context.Background(), path)
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Enabled != tt.want {
				t.Errorf("Expected enabled=%v, got %v", tt.want, policy.Enabled)
			}
		})
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), denyAll)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), denyAll)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestLoader_Cache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, path, denyAll)

	first, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	writeFile(t, path, "# changed\n"+denyAll)
	second, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first != second {
		t.Error("Expected the cached policy")
	}

	loader.ClearCache()
	third, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if third.Description != "changed" {
		t.Errorf("Expected a fresh load, got description %q", third.Description)
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), denyAll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var reloaded []Policy
	done := make(chan struct{}, 1)

	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		mu.Lock()
		reloaded = policies
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "b.rego"), denyAll)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reloaded) != 2 {
		t.Errorf("Expected 2 policies after reload, got %d", len(reloaded))
	}
}
