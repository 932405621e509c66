package engine

import (
	"encoding/json"
	"reflect"
	"sort"
)

// DiffOutcome is the result of diffing one collection: the change-set plus
// the ownership findings surfaced while building it.
type DiffOutcome[P, E any] struct {
	ChangeSet[P, P, E]

	// Conflicts lists desired names owned by another application.
	Conflicts []OwnerConflict

	// Unmanaged lists every existing name without an ownership label,
	// whether or not it is desired.
	Unmanaged []UnmanagedResource

	// OtherOwners holds the owners of existing resources left untouched.
	OtherOwners OwnerSet

	// owners records the current label of every desired name found remotely.
	owners map[string]string
}

// Diff partitions desired and existing collections of one resource type.
//
// Every desired name lands in exactly one of Creates, Updates or Unchanged.
// Existing names not desired are deleted only when owned by currentApp;
// otherwise their owner is recorded and they are left alone. unchanged may be
// nil, in which case every matched name is updated.
func Diff[P, E any](
	resourceType string,
	desired []Entry[P],
	existing map[string]Existing[E],
	currentApp string,
	unchanged func(desired P, existing E) bool,
) *DiffOutcome[P, E] {
	out := &DiffOutcome[P, E]{
		ChangeSet:   ChangeSet[P, P, E]{ResourceType: resourceType},
		OtherOwners: NewOwnerSet(),
		owners:      make(map[string]string),
	}

	matched := make(map[string]bool, len(desired))
	for _, d := range desired {
		matched[d.Name] = true

		ex, ok := existing[d.Name]
		if !ok {
			out.Creates = append(out.Creates, d)
			continue
		}

		out.owners[d.Name] = ex.Owner
		switch {
		case ex.Owner == "":
			out.Unmanaged = append(out.Unmanaged, UnmanagedResource{
				ResourceType: resourceType,
				ResourceName: d.Name,
			})
		case ex.Owner != currentApp:
			out.Conflicts = append(out.Conflicts, OwnerConflict{
				ResourceType: resourceType,
				ResourceName: d.Name,
				CurrentOwner: ex.Owner,
			})
		case unchanged != nil && unchanged(d.Payload, ex.Payload):
			out.Unchanged = append(out.Unchanged, d.Name)
			continue
		}
		out.Updates = append(out.Updates, d)
	}

	names := make([]string, 0, len(existing))
	for name := range existing {
		if !matched[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ex := existing[name]
		switch ex.Owner {
		case currentApp:
			out.Deletes = append(out.Deletes, Entry[E]{Name: name, Payload: ex.Payload})
		case "":
			out.Unmanaged = append(out.Unmanaged, UnmanagedResource{
				ResourceType: resourceType,
				ResourceName: name,
			})
		default:
			out.OtherOwners.Add(ex.Owner)
		}
	}

	return out
}

// Adoptions returns the unmanaged resources that will be claimed by an update.
func (o *DiffOutcome[P, E]) Adoptions() []UnmanagedResource {
	var out []UnmanagedResource
	for _, u := range o.Unmanaged {
		if owner, ok := o.owners[u.ResourceName]; ok && owner == "" {
			out = append(out, u)
		}
	}
	return out
}

// NeedsOwnership reports whether updating name must (re)write its label.
func (o *DiffOutcome[P, E]) NeedsOwnership(name, currentApp string) bool {
	owner, ok := o.owners[name]
	return ok && owner != currentApp
}

// Rows renders the outcome as plan report rows.
func (o *DiffOutcome[P, E]) Rows(kind, namespace string, important bool) []ChangeRow {
	rows := make([]ChangeRow, 0, len(o.Creates)+len(o.Updates)+len(o.Deletes)+len(o.Unchanged))
	row := func(name string, op OperationType) ChangeRow {
		return ChangeRow{
			Kind:         kind,
			ResourceType: o.ResourceType,
			Namespace:    namespace,
			Name:         name,
			Operation:    op,
			Important:    important && op == OperationDelete,
		}
	}
	for _, e := range o.Creates {
		rows = append(rows, row(e.Name, OperationCreate))
	}
	for _, e := range o.Updates {
		rows = append(rows, row(e.Name, OperationUpdate))
	}
	for _, e := range o.Deletes {
		rows = append(rows, row(e.Name, OperationDelete))
	}
	for _, n := range o.Unchanged {
		rows = append(rows, row(n, OperationNoop))
	}
	return rows
}

// Report folds the outcome into a kind report.
func (o *DiffOutcome[P, E]) Report(r *KindReport, namespace string, important bool) {
	r.Rows = append(r.Rows, o.Rows(r.Kind, namespace, important)...)
	r.Conflicts = append(r.Conflicts, o.Conflicts...)
	r.Unmanaged = append(r.Unmanaged, o.Unmanaged...)
	r.Adoptions = append(r.Adoptions, o.Adoptions()...)
	if r.OtherOwners == nil {
		r.OtherOwners = NewOwnerSet()
	}
	r.OtherOwners.Merge(o.OtherOwners)
}

// SpecEqual compares two specifications by their JSON form.
func SpecEqual(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aVal, bVal interface{}
	if err := json.Unmarshal(aj, &aVal); err != nil {
		return false
	}
	if err := json.Unmarshal(bj, &bVal); err != nil {
		return false
	}
	return reflect.DeepEqual(aVal, bVal)
}
