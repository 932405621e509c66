package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OwnerLabelKey is the metadata label recording which application owns a resource.
const OwnerLabelKey = "converge-app"

// ResourceIdentity uniquely addresses one remote resource within one workspace.
type ResourceIdentity struct {
	// Kind is the remote resource kind (e.g., "database_service").
	Kind string `json:"kind"`

	// Namespace is the parent service name for sub-resources; empty for services.
	Namespace string `json:"namespace,omitempty"`

	// Name is the resource name, unique within kind and namespace.
	Name string `json:"name"`
}

// TRN builds the stable identifier used for metadata lookups.
func (id ResourceIdentity) TRN(workspace string) string {
	parts := []string{"trn", "v1", "workspace", workspace, id.Kind}
	if id.Namespace != "" {
		parts = append(parts, id.Namespace)
	}
	parts = append(parts, id.Name)
	return strings.Join(parts, ":")
}

// String returns a human-readable form of the identity.
func (id ResourceIdentity) String() string {
	if id.Namespace == "" {
		return fmt.Sprintf("%s/%s", id.Kind, id.Name)
	}
	return fmt.Sprintf("%s/%s/%s", id.Kind, id.Namespace, id.Name)
}

// Entry is one named item of a change-set or of the desired configuration.
type Entry[P any] struct {
	Name    string
	Payload P
}

// Existing is a remote resource as seen during planning.
type Existing[P any] struct {
	// Payload is the decoded remote specification.
	Payload P

	// Owner is the ownership label; empty means unmanaged.
	Owner string
}

// ChangeSet is the product of diffing one collection of one resource type.
type ChangeSet[C, U, D any] struct {
	ResourceType string
	Creates      []Entry[C]
	Updates      []Entry[U]
	Deletes      []Entry[D]

	// Unchanged lists desired names already converged; they issue no RPC.
	Unchanged []string
}

// Empty reports whether the change-set contains no mutations.
func (c *ChangeSet[C, U, D]) Empty() bool {
	return len(c.Creates) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// OwnerConflict is emitted when a desired resource is owned by another application.
type OwnerConflict struct {
	ResourceType string `json:"resource_type" yaml:"resource_type"`
	ResourceName string `json:"resource_name" yaml:"resource_name"`
	CurrentOwner string `json:"current_owner" yaml:"current_owner"`
}

// UnmanagedResource is an existing resource carrying no ownership label.
type UnmanagedResource struct {
	ResourceType string `json:"resource_type" yaml:"resource_type"`
	ResourceName string `json:"resource_name" yaml:"resource_name"`
}

// OwnerSet is the set of other applications' names discovered while diffing.
type OwnerSet map[string]struct{}

// NewOwnerSet creates an owner set containing names.
func NewOwnerSet(names ...string) OwnerSet {
	s := make(OwnerSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts an application name; empty names are ignored.
func (s OwnerSet) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

// Has reports whether name is in the set.
func (s OwnerSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Merge adds every name of other into s.
func (s OwnerSet) Merge(other OwnerSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Sorted returns the names in lexical order.
func (s OwnerSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ChangeRow is one line of a plan report.
type ChangeRow struct {
	Kind         string        `json:"kind" yaml:"kind"`
	ResourceType string        `json:"resource_type" yaml:"resource_type"`
	Namespace    string        `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Name         string        `json:"name" yaml:"name"`
	Operation    OperationType `json:"operation" yaml:"operation"`
	Important    bool          `json:"important,omitempty" yaml:"important,omitempty"`
}

// DiffSummary provides statistics about a plan.
type DiffSummary struct {
	ToCreate  int `json:"to_create" yaml:"to_create"`
	ToUpdate  int `json:"to_update" yaml:"to_update"`
	ToDelete  int `json:"to_delete" yaml:"to_delete"`
	NoChange  int `json:"no_change" yaml:"no_change"`
	Conflicts int `json:"conflicts" yaml:"conflicts"`
	Adoptions int `json:"adoptions" yaml:"adoptions"`
}

// Total returns the number of mutations in the summary.
func (s DiffSummary) Total() int {
	return s.ToCreate + s.ToUpdate + s.ToDelete
}

// KindReport is the kind-agnostic view of one kind's plan.
type KindReport struct {
	Kind        string              `json:"kind" yaml:"kind"`
	Rows        []ChangeRow         `json:"rows" yaml:"rows"`
	Conflicts   []OwnerConflict     `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Unmanaged   []UnmanagedResource `json:"unmanaged,omitempty" yaml:"unmanaged,omitempty"`
	Adoptions   []UnmanagedResource `json:"adoptions,omitempty" yaml:"adoptions,omitempty"`
	OtherOwners OwnerSet            `json:"-" yaml:"-"`
}

// Report aggregates every kind's plan for one run.
type Report struct {
	RunID       string              `json:"run_id" yaml:"run_id"`
	Application string              `json:"application" yaml:"application"`
	Workspace   string              `json:"workspace" yaml:"workspace"`
	Removal     bool                `json:"removal,omitempty" yaml:"removal,omitempty"`
	CreatedAt   time.Time           `json:"created_at" yaml:"created_at"`
	Rows        []ChangeRow         `json:"changes" yaml:"changes"`
	Conflicts   []OwnerConflict     `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Unmanaged   []UnmanagedResource `json:"unmanaged,omitempty" yaml:"unmanaged,omitempty"`
	Adoptions   []UnmanagedResource `json:"adoptions,omitempty" yaml:"adoptions,omitempty"`
	OtherOwners []string            `json:"other_owners,omitempty" yaml:"other_owners,omitempty"`

	// EmptyApplications lists applications left with no resources after a rename.
	EmptyApplications []string    `json:"empty_applications,omitempty" yaml:"empty_applications,omitempty"`
	Summary           DiffSummary `json:"summary" yaml:"summary"`
}

// ImportantDeletions returns the delete rows of kinds flagged important.
func (r *Report) ImportantDeletions() []ChangeRow {
	var out []ChangeRow
	for _, row := range r.Rows {
		if row.Operation == OperationDelete && row.Important {
			out = append(out, row)
		}
	}
	return out
}

// HasChanges reports whether applying the report would mutate anything.
func (r *Report) HasChanges() bool {
	return r.Summary.Total() > 0 || len(r.EmptyApplications) > 0
}
