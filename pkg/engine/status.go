package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of an apply run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not yet planned.
	RunStatusPending RunStatus = "pending"

	// RunStatusPlanned indicates planning finished; used as the final status of dry runs.
	RunStatusPlanned RunStatus = "planned"

	// RunStatusRunning indicates phases are being applied.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every phase completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a phase aborted the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the operator declined a confirmation gate.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusPlanned || s == RunStatusSucceeded ||
		s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusPlanned, RunStatusRunning,
		RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// OperationType represents the type of operation to perform on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource should be created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource should be updated.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource should be deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the resource is already in the desired state.
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation destroys resources.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// IsMutating returns true if the operation issues a mutation RPC.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// MarshalJSON implements json.Marshaler.
func (o OperationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OperationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op := OperationType(s)
	if err := op.Validate(); err != nil {
		return err
	}
	*o = op
	return nil
}
