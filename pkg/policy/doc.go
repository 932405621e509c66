// Package policy evaluates Open Policy Agent (OPA) policies against plan
// reports.
//
// The Engine implements engine.ReportCheck, so the orchestrator runs it on
// the aggregated report after planning and before the confirmation gate.
// Violations with severity error or critical abort the run with a validation
// error coded POLICY_VIOLATION; info and warning violations are logged.
//
// # Input
//
// Policies are Rego v1 modules whose package defines a "deny" set. Each
// entry is either a message string or an object with "message", "severity"
// and "resource" keys. The input document is:
//
//	{
//	  "report": {
//	    "application": "shop",
//	    "workspace": "ws-1",
//	    "removal": false,
//	    "changes": [{"kind": "database", "resource_type": "database_type",
//	                 "namespace": "orders", "name": "Order",
//	                 "operation": "delete", "important": true}],
//	    "conflicts": [{"resource_type": "...", "resource_name": "...", "current_owner": "..."}],
//	    "adoptions": [{"resource_type": "...", "resource_name": "..."}],
//	    "empty_applications": ["old-shop"],
//	    "summary": {"to_create": 0, "to_update": 0, "to_delete": 1, ...}
//	  },
//	  "context": {"operation": "apply", "timestamp": "..."}
//	}
//
// # Built-in Policies
//
//  1. bulk-deletion - warns when an apply deletes more than ten resources
//  2. adoption-notice - reports unmanaged resources that will be adopted
//  3. ownership-transfer - warns about resources taken over from another application
//  4. production-data-retention - disabled by default; denies deleting
//     important resources of applications named like "*-prod"
//
// # Custom Policies
//
// LoadPolicies reads .rego files and JSON or YAML policy definitions:
//
//	# Orders must never lose their schema.
//	# severity: error
//	package custom.orders
//
//	import rego.v1
//
//	deny contains msg if {
//	    some row in input.report.changes
//	    row.resource_type == "database_type"
//	    row.namespace == "orders"
//	    row.operation == "delete"
//	    msg := sprintf("orders type %s must not be deleted", [row.name])
//	}
package policy
