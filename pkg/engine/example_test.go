package engine_test

import (
	"fmt"

	"github.com/openfroyo/converge/pkg/engine"
)

// Example_diff shows how existing resources are partitioned by owner.
func Example_diff() {
	desired := []engine.Entry[string]{
		{Name: "A", Payload: "a"},
		{Name: "B", Payload: "b"},
	}
	existing := map[string]engine.Existing[string]{
		"B": {Payload: "b-old", Owner: "app1"},
		"C": {Payload: "c", Owner: "app2"},
		"D": {Payload: "d"},
	}

	out := engine.Diff("database_service", desired, existing, "app1", nil)

	fmt.Println("creates:", len(out.Creates), out.Creates[0].Name)
	fmt.Println("updates:", len(out.Updates), out.Updates[0].Name)
	fmt.Println("deletes:", len(out.Deletes))
	fmt.Println("other owners:", out.OtherOwners.Sorted())
	fmt.Println("unmanaged:", out.Unmanaged[0].ResourceName)
	// Output:
	// creates: 1 A
	// updates: 1 B
	// deletes: 0
	// other owners: [app2]
	// unmanaged: D
}

// Example_errorHandling demonstrates error classification.
func Example_errorHandling() {
	rejected := engine.NewRemoteRejectionError("service still referenced", nil).
		WithResource("database_service/orders").
		WithOperation("delete").
		WithCode(engine.ErrCodeStillReferenced)

	fmt.Println(engine.IsRemoteRejection(rejected))
	fmt.Println(engine.IsRetryable(rejected))
	fmt.Println(engine.IsCancelled(engine.ErrCancelled))
	// Output:
	// true
	// false
	// true
}

// Example_phases prints the apply order.
func Example_phases() {
	for i, p := range engine.Phases {
		fmt.Println(i+1, p)
	}
	// Output:
	// 1 provide-dependencies
	// 2 shed-sub-resources
	// 3 update-gateway
	// 4 provide-dependents
	// 5 delete-dependents
	// 6 delete-static-sites
	// 7 delete-gateway
	// 8 delete-services
	// 9 delete-empty-applications
}
