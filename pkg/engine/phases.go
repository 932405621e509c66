package engine

import "fmt"

// Phase identifies one barrier of the apply sequence.
type Phase string

const (
	// PhaseProvideDependencies creates or updates every service the gateway can reference.
	PhaseProvideDependencies Phase = "provide-dependencies"

	// PhaseShedSubResources deletes stale sub-resources of dependency services.
	PhaseShedSubResources Phase = "shed-sub-resources"

	// PhaseUpdateGateway creates or updates the composing gateway.
	PhaseUpdateGateway Phase = "update-gateway"

	// PhaseProvideDependents creates or updates resources that need the gateway.
	PhaseProvideDependents Phase = "provide-dependents"

	// PhaseDeleteDependents deletes resources that need the gateway.
	PhaseDeleteDependents Phase = "delete-dependents"

	// PhaseDeleteStaticSites deletes static sites once nothing depends on them.
	PhaseDeleteStaticSites Phase = "delete-static-sites"

	// PhaseDeleteGateway deletes the gateway.
	PhaseDeleteGateway Phase = "delete-gateway"

	// PhaseDeleteServices deletes dependency services no longer referenced.
	PhaseDeleteServices Phase = "delete-services"

	// PhaseDeleteEmptyApplications deletes applications renamed away.
	PhaseDeleteEmptyApplications Phase = "delete-empty-applications"
)

// Phases is the apply order. Services are deleted only after the gateway,
// because the control plane rejects deleting a service still referenced by it;
// stale sub-resources are shed before the gateway is updated so its
// composition never sees them.
var Phases = []Phase{
	PhaseProvideDependencies,
	PhaseShedSubResources,
	PhaseUpdateGateway,
	PhaseProvideDependents,
	PhaseDeleteDependents,
	PhaseDeleteStaticSites,
	PhaseDeleteGateway,
	PhaseDeleteServices,
	PhaseDeleteEmptyApplications,
}

// Index returns the position of p in Phases, or -1.
func (p Phase) Index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// Validate checks if the phase is known.
func (p Phase) Validate() error {
	if p.Index() < 0 {
		return fmt.Errorf("unknown phase: %s", p)
	}
	return nil
}
