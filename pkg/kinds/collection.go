package kinds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
)

// Remote is the part of the control-plane client used by kinds.
type Remote interface {
	Create(ctx context.Context, r controlplane.Resource) (*controlplane.Resource, error)
	Update(ctx context.Context, r controlplane.Resource) (*controlplane.Resource, error)
	Delete(ctx context.Context, kind, namespace, name string) error
	Get(ctx context.Context, kind, namespace, name string) (*controlplane.Resource, error)
	List(ctx context.Context, kind, namespace string) ([]controlplane.Resource, error)
}

// collection plans and applies one remote kind within one namespace. S is
// the wire specification of the kind.
type collection[S any] struct {
	kind   string
	remote Remote
	owners *engine.OwnershipResolver
	logger zerolog.Logger
}

// snapshot is one collection's remote state and its diff.
type snapshot[S any] struct {
	namespace string
	outcome   *engine.DiffOutcome[S, S]
	existing  map[string]engine.Existing[S]
	resources map[string]controlplane.Resource
}

// fetch lists the collection and resolves the owner of every item.
func (c collection[S]) fetch(ctx context.Context, namespace string) (map[string]engine.Existing[S], map[string]controlplane.Resource, error) {
	items, err := c.remote.List(ctx, c.kind, namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", c.kind, err)
	}

	ids := make([]engine.ResourceIdentity, len(items))
	for i, item := range items {
		ids[i] = engine.ResourceIdentity{Kind: c.kind, Namespace: namespace, Name: item.Name}
	}
	owners, err := c.owners.Resolve(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	existing := make(map[string]engine.Existing[S], len(items))
	resources := make(map[string]controlplane.Resource, len(items))
	for i, item := range items {
		var spec S
		if len(item.Spec) > 0 {
			if err := json.Unmarshal(item.Spec, &spec); err != nil {
				return nil, nil, engine.NewPermanentError("cannot decode remote specification", err).
					WithResource(ids[i].String()).
					WithOperation(controlplane.OpList)
			}
		}
		existing[item.Name] = engine.Existing[S]{Payload: spec, Owner: owners[ids[i]]}
		resources[item.Name] = item
	}
	return existing, resources, nil
}

// plan fetches the collection and diffs it against desired.
func (c collection[S]) plan(ctx context.Context, namespace, app string, desired []engine.Entry[S], unchanged func(S, S) bool) (*snapshot[S], error) {
	existing, resources, err := c.fetch(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return &snapshot[S]{
		namespace: namespace,
		outcome:   engine.Diff(c.kind, desired, existing, app, unchanged),
		existing:  existing,
		resources: resources,
	}, nil
}

func (c collection[S]) identity(namespace, name string) engine.ResourceIdentity {
	return engine.ResourceIdentity{Kind: c.kind, Namespace: namespace, Name: name}
}

func (c collection[S]) resource(namespace, name string, spec S) (controlplane.Resource, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return controlplane.Resource{}, engine.NewPermanentError("cannot encode specification", err).
			WithResource(c.identity(namespace, name).String())
	}
	return controlplane.Resource{Kind: c.kind, Namespace: namespace, Name: name, Spec: raw}, nil
}

// upsert creates and updates the snapshot's resources concurrently. The owner
// label is written after every create and after updates that claim a
// resource. encode may rewrite a specification just before it is sent.
func (c collection[S]) upsert(ctx context.Context, g *errgroup.Group, s *snapshot[S], app string, encode func(context.Context, S) (S, error)) {
	send := func(ctx context.Context, e engine.Entry[S], create bool) error {
		spec := e.Payload
		if encode != nil {
			var err error
			if spec, err = encode(ctx, spec); err != nil {
				return err
			}
		}
		r, err := c.resource(s.namespace, e.Name, spec)
		if err != nil {
			return err
		}

		id := c.identity(s.namespace, e.Name)
		if create {
			if _, err := c.remote.Create(ctx, r); err != nil {
				return fmt.Errorf("failed to create %s: %w", id, err)
			}
			c.owners.SetOwner(ctx, id, app)
			c.logger.Info().Str("resource", id.String()).Msg("Created")
			return nil
		}

		if _, err := c.remote.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to update %s: %w", id, err)
		}
		if s.outcome.NeedsOwnership(e.Name, app) {
			c.owners.SetOwner(ctx, id, app)
		}
		c.logger.Info().Str("resource", id.String()).Msg("Updated")
		return nil
	}

	for _, e := range s.outcome.Creates {
		g.Go(func() error { return send(ctx, e, true) })
	}
	for _, e := range s.outcome.Updates {
		g.Go(func() error { return send(ctx, e, false) })
	}
}

// remove deletes the snapshot's owned stale resources concurrently.
func (c collection[S]) remove(ctx context.Context, g *errgroup.Group, s *snapshot[S]) {
	for _, e := range s.outcome.Deletes {
		g.Go(func() error {
			id := c.identity(s.namespace, e.Name)
			if err := c.remote.Delete(ctx, c.kind, s.namespace, e.Name); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
			c.logger.Info().Str("resource", id.String()).Msg("Deleted")
			return nil
		})
	}
}
