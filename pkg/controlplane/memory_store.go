package controlplane

import (
	"context"
	"maps"
	"sort"
	"sync"
)

type resourceKey struct {
	workspace, kind, namespace, name string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[resourceKey]Resource
	metadata  map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[resourceKey]Resource),
		metadata:  make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, workspace string, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey{workspace, r.Kind, r.Namespace, r.Name}
	if _, ok := m.resources[key]; ok {
		return ErrAlreadyExists
	}
	m.resources[key] = cloneResource(*r)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, workspace string, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey{workspace, r.Kind, r.Namespace, r.Name}
	if _, ok := m.resources[key]; !ok {
		return ErrNotFound
	}
	m.resources[key] = cloneResource(*r)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, workspace, kind, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey{workspace, kind, namespace, name}
	if _, ok := m.resources[key]; !ok {
		return ErrNotFound
	}
	delete(m.resources, key)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, workspace, kind, namespace, name string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[resourceKey{workspace, kind, namespace, name}]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneResource(r)
	return &out, nil
}

func (m *MemoryStore) List(_ context.Context, workspace, kind, namespace string) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Resource
	for k, r := range m.resources {
		if k.workspace == workspace && k.kind == kind && k.namespace == namespace {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetMetadata(_ context.Context, trn string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.metadata[trn]), nil
}

func (m *MemoryStore) SetMetadata(_ context.Context, trn string, labels map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if labels == nil {
		delete(m.metadata, trn)
		return nil
	}
	m.metadata[trn] = maps.Clone(labels)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneResource(r Resource) Resource {
	if r.Spec != nil {
		r.Spec = append([]byte(nil), r.Spec...)
	}
	return r
}
