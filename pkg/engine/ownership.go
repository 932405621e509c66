package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// OwnershipResolver maps resource identities to owning-application labels.
//
// Labels read during a run are remembered for that run only so that a later
// SetOwner preserves labels written by other tools. A resolver must not be
// reused across runs.
type OwnershipResolver struct {
	store     LabelStore
	workspace string
	logger    zerolog.Logger

	mu     sync.Mutex
	labels map[string]map[string]string
}

// NewOwnershipResolver creates a resolver over the given label store.
func NewOwnershipResolver(store LabelStore, workspace string, logger zerolog.Logger) *OwnershipResolver {
	return &OwnershipResolver{
		store:     store,
		workspace: workspace,
		logger:    logger.With().Str("component", "ownership").Logger(),
		labels:    make(map[string]map[string]string),
	}
}

// Workspace returns the workspace the resolver builds identifiers for.
func (r *OwnershipResolver) Workspace() string {
	return r.workspace
}

// LabelOf returns the owning application of id, or ok=false when unmanaged.
func (r *OwnershipResolver) LabelOf(ctx context.Context, id ResourceIdentity) (string, bool, error) {
	trn := id.TRN(r.workspace)
	labels, err := r.store.GetLabels(ctx, trn)
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata for %s: %w", id, err)
	}

	r.mu.Lock()
	r.labels[trn] = maps.Clone(labels)
	r.mu.Unlock()

	owner := labels[OwnerLabelKey]
	return owner, owner != "", nil
}

// Resolve reads the owner of every identity concurrently, one metadata read
// per identity. Unmanaged identities map to the empty string.
func (r *OwnershipResolver) Resolve(ctx context.Context, ids []ResourceIdentity) (map[ResourceIdentity]string, error) {
	owners := make(map[ResourceIdentity]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			owner, _, err := r.LabelOf(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			owners[id] = owner
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return owners, nil
}

// SetOwner records app as the owner of id.
//
// The write is not rolled back on later failures. A failed write is logged
// and otherwise ignored: the next run sees the resource as unmanaged and asks
// for adoption again.
func (r *OwnershipResolver) SetOwner(ctx context.Context, id ResourceIdentity, app string) {
	trn := id.TRN(r.workspace)

	r.mu.Lock()
	labels := maps.Clone(r.labels[trn])
	r.mu.Unlock()
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels[OwnerLabelKey] = app

	if err := r.store.SetLabels(ctx, trn, labels); err != nil {
		r.logger.Warn().Err(err).
			Str("trn", trn).
			Str("owner", app).
			Msg("Failed to write ownership label; resource stays unmanaged until the next run")
		return
	}

	r.mu.Lock()
	r.labels[trn] = labels
	r.mu.Unlock()
}

// MemoryLabelStore is an in-memory LabelStore.
type MemoryLabelStore struct {
	mu     sync.RWMutex
	labels map[string]map[string]string
}

// NewMemoryLabelStore creates an empty in-memory label store.
func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{labels: make(map[string]map[string]string)}
}

// GetLabels implements LabelStore.
func (m *MemoryLabelStore) GetLabels(_ context.Context, trn string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.labels[trn]), nil
}

// SetLabels implements LabelStore.
func (m *MemoryLabelStore) SetLabels(_ context.Context, trn string, labels map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[trn] = maps.Clone(labels)
	return nil
}
