package controlplane

import (
	"context"
	"errors"
)

// Store errors.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

// Store persists control-plane resources and metadata. Referential rules are
// enforced by Server, not by stores.
type Store interface {
	// Create inserts r. It returns ErrAlreadyExists when the identity is taken.
	Create(ctx context.Context, workspace string, r *Resource) error

	// Update replaces r. It returns ErrNotFound when the identity is unknown.
	Update(ctx context.Context, workspace string, r *Resource) error

	// Delete removes a resource. It returns ErrNotFound when the identity is unknown.
	Delete(ctx context.Context, workspace, kind, namespace, name string) error

	// Get returns a resource or ErrNotFound.
	Get(ctx context.Context, workspace, kind, namespace, name string) (*Resource, error)

	// List returns every resource of kind in namespace, ordered by name.
	List(ctx context.Context, workspace, kind, namespace string) ([]Resource, error)

	// GetMetadata returns the labels stored under trn; unknown TRNs yield nil.
	GetMetadata(ctx context.Context, trn string) (map[string]string, error)

	// SetMetadata replaces the labels stored under trn. Nil labels delete the entry.
	SetMetadata(ctx context.Context, trn string, labels map[string]string) error

	// Close releases the store.
	Close() error
}
