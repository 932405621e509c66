package controlplane

import (
	"encoding/json"
	"time"
)

// Resource is one remote resource as stored by the control plane.
type Resource struct {
	Kind      string          `json:"kind"`
	Namespace string          `json:"namespace,omitempty"`
	Name      string          `json:"name"`
	Spec      json.RawMessage `json:"spec,omitempty"`

	// URL is assigned by the server for resources served publicly.
	URL string `json:"url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteRequest creates or updates a resource.
type WriteRequest struct {
	Workspace string   `json:"workspace"`
	Resource  Resource `json:"resource"`
}

// ResourceRequest addresses a single resource for get and delete.
type ResourceRequest struct {
	Workspace string `json:"workspace"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// ListRequest asks for one page of a kind's resources.
type ListRequest struct {
	Workspace string `json:"workspace"`
	Namespace string `json:"namespace,omitempty"`
	PageToken string `json:"page_token,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
}

// ListResponse is one page of resources.
type ListResponse struct {
	Resources     []Resource `json:"resources"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// MetadataRequest reads the labels stored under a resource TRN.
type MetadataRequest struct {
	TRN string `json:"trn"`
}

// Metadata is the label set stored under a resource TRN.
type Metadata struct {
	TRN    string            `json:"trn"`
	Labels map[string]string `json:"labels,omitempty"`
}

// SetMetadataRequest replaces the labels stored under a resource TRN.
type SetMetadataRequest struct {
	TRN    string            `json:"trn"`
	Labels map[string]string `json:"labels"`
}

// Empty is returned by calls without a result.
type Empty struct{}

// ServiceRef names a service composed by an application.
type ServiceRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// ApplicationSpec is the specification of the composing gateway. The server
// reads it to enforce referential integrity.
type ApplicationSpec struct {
	Services    []ServiceRef `json:"services,omitempty"`
	CORSOrigins []string     `json:"cors_origins,omitempty"`
	Domains     []string     `json:"domains,omitempty"`
}

// References reports whether the application composes the given service.
func (s *ApplicationSpec) References(kind, name string) bool {
	for _, ref := range s.Services {
		if ref.Kind == kind && ref.Name == name {
			return true
		}
	}
	return false
}
