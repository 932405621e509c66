package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Report output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// NewReport aggregates kind reports in kind order.
//
// EmptyApplications is computed as the owners of every conflict, minus every
// owner still holding an untouched resource, minus the current application.
// Only kinds planned in this run are seen, so the result is best-effort.
func NewReport(runID, application, workspace string, removal bool, kinds []*KindReport) *Report {
	r := &Report{
		RunID:       runID,
		Application: application,
		Workspace:   workspace,
		Removal:     removal,
		Rows:        []ChangeRow{},
	}

	others := NewOwnerSet()
	for _, k := range kinds {
		if k == nil {
			continue
		}
		r.Rows = append(r.Rows, k.Rows...)
		r.Conflicts = append(r.Conflicts, k.Conflicts...)
		r.Unmanaged = append(r.Unmanaged, k.Unmanaged...)
		r.Adoptions = append(r.Adoptions, k.Adoptions...)
		others.Merge(k.OtherOwners)
	}
	r.OtherOwners = others.Sorted()

	previous := NewOwnerSet()
	for _, c := range r.Conflicts {
		previous.Add(c.CurrentOwner)
	}
	for _, name := range previous.Sorted() {
		if name == application || others.Has(name) {
			continue
		}
		r.EmptyApplications = append(r.EmptyApplications, name)
	}

	for _, row := range r.Rows {
		switch row.Operation {
		case OperationCreate:
			r.Summary.ToCreate++
		case OperationUpdate:
			r.Summary.ToUpdate++
		case OperationDelete:
			r.Summary.ToDelete++
		case OperationNoop:
			r.Summary.NoChange++
		}
	}
	r.Summary.Conflicts = len(r.Conflicts)
	r.Summary.Adoptions = len(r.Adoptions)

	return r
}

// WriteReport renders r to w in the given format.
func WriteReport(w io.Writer, r *Report, format string) error {
	switch format {
	case "", FormatTable:
		_, err := io.WriteString(w, RenderTable(r))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return NewValidationError(fmt.Sprintf("unknown output format %q (want table, json or yaml)", format), nil)
	}
}

// RenderTable renders the change rows and the summary line.
func RenderTable(r *Report) string {
	rows := make([]ChangeRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Operation != OperationNoop {
			rows = append(rows, row)
		}
	}

	var buf bytes.Buffer
	if len(rows) == 0 && len(r.EmptyApplications) == 0 {
		buf.WriteString("No changes. Remote state matches the configuration.\n")
	} else {
		t := newTable(&buf)
		t.AppendHeader(table.Row{"Action", "Kind", "Type", "Namespace", "Name"})
		for _, row := range rows {
			action := string(row.Operation)
			if row.Important {
				action += " (!)"
			}
			t.AppendRow(table.Row{action, row.Kind, row.ResourceType, row.Namespace, row.Name})
		}
		for _, app := range r.EmptyApplications {
			t.AppendRow(table.Row{string(OperationDelete), "application", "application", "", app})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, AutoMerge: true},
			{Number: 2, AutoMerge: true},
		})
		t.Render()
	}

	fmt.Fprintf(&buf, "\nPlan: %d to create, %d to update, %d to delete, %d unchanged.\n",
		r.Summary.ToCreate, r.Summary.ToUpdate, r.Summary.ToDelete+len(r.EmptyApplications), r.Summary.NoChange)
	if n := len(r.Conflicts); n > 0 {
		fmt.Fprintf(&buf, "%d resource(s) owned by another application.\n", n)
	}
	if n := len(r.Adoptions); n > 0 {
		fmt.Fprintf(&buf, "%d unmanaged resource(s) will be adopted.\n", n)
	}
	return buf.String()
}

func renderConflicts(conflicts []OwnerConflict) string {
	sorted := append([]OwnerConflict(nil), conflicts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ResourceType != sorted[j].ResourceType {
			return sorted[i].ResourceType < sorted[j].ResourceType
		}
		return sorted[i].ResourceName < sorted[j].ResourceName
	})

	var buf bytes.Buffer
	t := newTable(&buf)
	t.AppendHeader(table.Row{"Type", "Name", "Current owner"})
	for _, c := range sorted {
		t.AppendRow(table.Row{c.ResourceType, c.ResourceName, c.CurrentOwner})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	t.Render()
	return buf.String()
}

func renderUnmanaged(resources []UnmanagedResource) string {
	var buf bytes.Buffer
	t := newTable(&buf)
	t.AppendHeader(table.Row{"Type", "Name"})
	for _, u := range resources {
		t.AppendRow(table.Row{u.ResourceType, u.ResourceName})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	t.Render()
	return buf.String()
}

func renderDeletions(rows []ChangeRow) string {
	var buf bytes.Buffer
	t := newTable(&buf)
	t.AppendHeader(table.Row{"Type", "Namespace", "Name"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.ResourceType, row.Namespace, row.Name})
	}
	t.Render()
	return buf.String()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}
