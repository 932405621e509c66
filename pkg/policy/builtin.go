package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		bulkDeletionPolicy(),
		adoptionNoticePolicy(),
		ownershipTransferPolicy(),
		productionDataRetentionPolicy(),
	}
}

// bulkDeletionPolicy flags applies that delete many resources at once.
func bulkDeletionPolicy() Policy {
	return Policy{
		Name:        "bulk-deletion",
		Description: "Warns when an apply deletes more than ten resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"deletion", "safety"},
		Rego: `package converge.policies.bulk_deletion

import rego.v1

max_deletions := 10

deny contains violation if {
	input.context.operation == "apply"
	n := input.report.summary.to_delete
	n > max_deletions
	violation := {
		"message": sprintf("plan deletes %d resources, more than %d", [n, max_deletions]),
	}
}
`,
	}
}

// adoptionNoticePolicy reports every unmanaged resource the plan adopts.
func adoptionNoticePolicy() Policy {
	return Policy{
		Name:        "adoption-notice",
		Description: "Reports unmanaged resources that will be adopted",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"ownership"},
		Rego: `package converge.policies.adoption

import rego.v1

deny contains violation if {
	some a in input.report.adoptions
	violation := {
		"message": sprintf("%s %s is unmanaged and will be adopted by %s", [a.resource_type, a.resource_name, input.report.application]),
		"resource": sprintf("%s/%s", [a.resource_type, a.resource_name]),
	}
}
`,
	}
}

// ownershipTransferPolicy warns about resources moving between applications.
func ownershipTransferPolicy() Policy {
	return Policy{
		Name:        "ownership-transfer",
		Description: "Warns when resources owned by another application will be transferred",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"ownership"},
		Rego: `package converge.policies.ownership

import rego.v1

deny contains violation if {
	some c in input.report.conflicts
	violation := {
		"message": sprintf("%s %s is owned by %s and will be transferred to %s", [c.resource_type, c.resource_name, c.current_owner, input.report.application]),
		"resource": sprintf("%s/%s", [c.resource_type, c.resource_name]),
	}
}
`,
	}
}

// productionDataRetentionPolicy blocks data loss in production applications.
// It is disabled unless enabled explicitly.
func productionDataRetentionPolicy() Policy {
	return Policy{
		Name:        "production-data-retention",
		Description: "Denies deleting database types or static sites of production applications outside removal",
		Severity:    SeverityError,
		Enabled:     false,
		Tags:        []string{"deletion", "production"},
		Rego: `package converge.policies.production

import rego.v1

production if regex.match("(^|[-_])prod(uction)?$", input.report.application)

resource_id(row) := id if {
	ns := object.get(row, "namespace", "")
	ns != ""
	id := sprintf("%s/%s/%s", [row.resource_type, ns, row.name])
}

resource_id(row) := id if {
	object.get(row, "namespace", "") == ""
	id := sprintf("%s/%s", [row.resource_type, row.name])
}

deny contains violation if {
	production
	input.context.operation == "apply"
	some row in input.report.changes
	row.operation == "delete"
	row.important == true
	violation := {
		"message": sprintf("production application %s must not delete %s", [input.report.application, resource_id(row)]),
		"resource": resource_id(row),
	}
}
`,
	}
}
