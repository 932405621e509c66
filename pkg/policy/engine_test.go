package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func deleteRows(kind, resourceType string, n int, important bool) []engine.ChangeRow {
	rows := make([]engine.ChangeRow, n)
	for i := range rows {
		rows[i] = engine.ChangeRow{
			Kind:         kind,
			ResourceType: resourceType,
			Name:         fmt.Sprintf("r%02d", i),
			Operation:    engine.OperationDelete,
			Important:    important,
		}
	}
	return rows
}

func report(app string, kinds ...*engine.KindReport) *engine.Report {
	return engine.NewReport("run-1", app, "ws-1", false, kinds)
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"adoption-notice", "bulk-deletion", "ownership-transfer", "production-data-retention"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("Policy %d: expected %s, got %s", i, expected[i], p.Name)
		}
	}

	p, err := eng.GetPolicy("production-data-retention")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Enabled {
		t.Error("production-data-retention should be disabled by default")
	}
}

func TestEvaluateReport_BulkDeletion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		deletes    int
		removal    bool
		violations int
	}{
		{name: "few deletions", deletes: 3},
		{name: "at the threshold", deletes: 10},
		{name: "over the threshold", deletes: 11, violations: 1},
		{name: "removal is exempt", deletes: 20, removal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := engine.NewReport("run-1", "shop", "ws-1", tt.removal, []*engine.KindReport{
				{Kind: "executor", Rows: deleteRows("executor", "executor", tt.deletes, false)},
			})

			result, err := eng.EvaluateReport(ctx, r)
			if err != nil {
				t.Fatalf("EvaluateReport failed: %v", err)
			}
			if len(result.Violations) != tt.violations {
				t.Fatalf("Expected %d violations, got %+v", tt.violations, result.Violations)
			}
			if tt.violations > 0 {
				v := result.Violations[0]
				if v.Policy != "bulk-deletion" || v.Severity != SeverityWarning {
					t.Errorf("Unexpected violation: %+v", v)
				}
				if !strings.Contains(v.Message, "deletes 11 resources") {
					t.Errorf("Unexpected message: %s", v.Message)
				}
			}
			if !result.Allowed() {
				t.Error("Warnings must not block the run")
			}
		})
	}
}

func TestEvaluateReport_Ownership(t *testing.T) {
	eng := newTestEngine(t)

	r := report("shop", &engine.KindReport{
		Kind: "database",
		Rows: []engine.ChangeRow{
			{Kind: "database", ResourceType: "database_service", Name: "orders", Operation: engine.OperationUpdate},
			{Kind: "database", ResourceType: "database_service", Name: "users", Operation: engine.OperationUpdate},
		},
		Conflicts: []engine.OwnerConflict{{ResourceType: "database_service", ResourceName: "orders", CurrentOwner: "old-shop"}},
		Adoptions: []engine.UnmanagedResource{{ResourceType: "database_service", ResourceName: "users"}},
	})

	result, err := eng.EvaluateReport(context.Background(), r)
	if err != nil {
		t.Fatalf("EvaluateReport failed: %v", err)
	}
	if len(result.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %+v", result.Violations)
	}

	adoption, transfer := result.Violations[0], result.Violations[1]
	if adoption.Policy != "adoption-notice" || adoption.Severity != SeverityInfo || adoption.Resource != "database_service/users" {
		t.Errorf("Unexpected adoption violation: %+v", adoption)
	}
	if transfer.Policy != "ownership-transfer" || transfer.Resource != "database_service/orders" {
		t.Errorf("Unexpected transfer violation: %+v", transfer)
	}
	if !strings.Contains(transfer.Message, "owned by old-shop and will be transferred to shop") {
		t.Errorf("Unexpected message: %s", transfer.Message)
	}
}

func TestCheckReport_ProductionDataRetention(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	prod := report("shop-prod", &engine.KindReport{
		Kind: "database",
		Rows: []engine.ChangeRow{{
			Kind: "database", ResourceType: "database_type", Namespace: "orders", Name: "Order",
			Operation: engine.OperationDelete, Important: true,
		}},
	})

	if err := eng.CheckReport(ctx, prod); err != nil {
		t.Fatalf("Disabled policy must not block: %v", err)
	}

	if err := eng.EnablePolicy("production-data-retention"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}

	err := eng.CheckReport(ctx, prod)
	if err == nil {
		t.Fatal("Expected a policy violation")
	}
	if !engine.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodePolicyViolation {
		t.Fatalf("Expected code %s, got %v", engine.ErrCodePolicyViolation, err)
	}
	if !strings.Contains(err.Error(), "must not delete database_type/orders/Order") {
		t.Errorf("Unexpected error: %v", err)
	}

	staging := report("shop-staging", &engine.KindReport{Kind: "database", Rows: prod.Rows})
	if err := eng.CheckReport(ctx, staging); err != nil {
		t.Errorf("Non-production application must pass: %v", err)
	}

	if err := eng.DisablePolicy("production-data-retention"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	if err := eng.CheckReport(ctx, prod); err != nil {
		t.Errorf("Disabled policy must not block: %v", err)
	}
}

func TestLoadPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	rego := `# Orders types are never deleted.
# severity: error
package custom.orders

import rego.v1

deny contains msg if {
	some row in input.report.changes
	row.resource_type == "database_type"
	row.operation == "delete"
	msg := sprintf("orders type %s must not be deleted", [row.name])
}
`
	if err := os.WriteFile(filepath.Join(dir, "orders.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("orders")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", p.Severity)
	}

	r := report("shop", &engine.KindReport{Kind: "database", Rows: deleteRows("database", "database_type", 1, true)})
	err = eng.CheckReport(ctx, r)
	if err == nil || !strings.Contains(err.Error(), "orders: orders type r00 must not be deleted") {
		t.Fatalf("Expected the custom policy to block, got %v", err)
	}
}

func TestLoadPolicies_DefinitionBlocksWithoutEnabledKey(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	def := `name: always-deny
severity: error
rego: |
  package custom.deny

  import rego.v1

  deny contains "no applies today" if true
`
	if err := os.WriteFile(filepath.Join(dir, "deny.yaml"), []byte(def), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	err := eng.CheckReport(ctx, report("shop"))
	if err == nil || !strings.Contains(err.Error(), "no applies today") {
		t.Fatalf("Expected the definition to block, got %v", err)
	}
	if !engine.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	file := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(file, []byte("package broken\n\ndeny contains msg if {"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{file}); err == nil {
		t.Fatal("Expected a compile error")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "always",
		Severity: SeverityInfo,
		Enabled:  true,
		Rego:     "package custom.always\n\nimport rego.v1\n\ndeny contains \"noted\" if true\n",
	}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Fatalf("Expected built-ins plus one custom policy, got %d", len(eng.ListPolicies()))
	}

	broken := Policy{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains"}
	if err := eng.ReplacePolicies(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected a compile error")
	}
	if _, err := eng.GetPolicy("always"); err != nil {
		t.Errorf("A failed replace must keep the previous policies: %v", err)
	}
}

func TestCreateViolation(t *testing.T) {
	p := &Policy{Name: "p", Severity: SeverityWarning}

	v := createViolation(p, "plain")
	if v.Message != "plain" || v.Severity != SeverityWarning {
		t.Errorf("Unexpected violation: %+v", v)
	}

	v = createViolation(p, map[string]interface{}{"message": "m", "severity": "critical", "resource": "x/y"})
	if v.Message != "m" || v.Severity != SeverityCritical || v.Resource != "x/y" {
		t.Errorf("Unexpected violation: %+v", v)
	}
	if !v.Severity.Blocking() {
		t.Error("Critical must block")
	}
}

func TestReplacePolicies_KeepsToggles(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.EnablePolicy("production-data-retention"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	if err := eng.DisablePolicy("bulk-deletion"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("production-data-retention")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if !p.Enabled {
		t.Error("production-data-retention should stay enabled after a reload")
	}
	p, err = eng.GetPolicy("bulk-deletion")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Enabled {
		t.Error("bulk-deletion should stay disabled after a reload")
	}
}
