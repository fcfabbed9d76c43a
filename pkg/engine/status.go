package engine

import (
	"encoding/json"
	"fmt"
)

// CodeStatus represents the lifecycle state of a pool slot. The non-AVAILABLE
// values mirror the external resource manager's stack lifecycle vocabulary
// one-to-one; AVAILABLE is the engine's own unlinked state layered underneath.
type CodeStatus string

const (
	// StatusAvailable indicates the code is not linked to any resource.
	StatusAvailable CodeStatus = "AVAILABLE"

	// StatusCreatePending indicates resource creation is in flight.
	StatusCreatePending CodeStatus = "CREATE_PENDING"

	// StatusCreateComplete indicates the resource was created successfully.
	StatusCreateComplete CodeStatus = "CREATE_COMPLETE"

	// StatusCreateFailed indicates resource creation failed.
	StatusCreateFailed CodeStatus = "CREATE_FAILED"

	// StatusUpdatePending indicates a resource update is in flight.
	StatusUpdatePending CodeStatus = "UPDATE_PENDING"

	// StatusUpdateComplete indicates the last resource update succeeded.
	StatusUpdateComplete CodeStatus = "UPDATE_COMPLETE"

	// StatusUpdateFailed indicates the last resource update failed.
	StatusUpdateFailed CodeStatus = "UPDATE_FAILED"

	// StatusDeletePending indicates resource deletion is in flight.
	StatusDeletePending CodeStatus = "DELETE_PENDING"

	// StatusDeleteComplete indicates the resource was deleted. Records never
	// persist in this state: observing it resets the code to AVAILABLE.
	StatusDeleteComplete CodeStatus = "DELETE_COMPLETE"

	// StatusDeleteFailed indicates resource deletion failed.
	StatusDeleteFailed CodeStatus = "DELETE_FAILED"

	// StatusRollbackPending indicates the resource manager is rolling back.
	StatusRollbackPending CodeStatus = "ROLLBACK_PENDING"

	// StatusRollbackComplete indicates a rollback finished.
	StatusRollbackComplete CodeStatus = "ROLLBACK_COMPLETE"

	// StatusRollbackFailed indicates a rollback failed.
	StatusRollbackFailed CodeStatus = "ROLLBACK_FAILED"

	// StatusReviewPending indicates the resource is awaiting review before
	// execution proceeds in the external system.
	StatusReviewPending CodeStatus = "REVIEW_PENDING"
)

// allStatuses enumerates every valid CodeStatus value.
var allStatuses = []CodeStatus{
	StatusAvailable,
	StatusCreatePending, StatusCreateComplete, StatusCreateFailed,
	StatusUpdatePending, StatusUpdateComplete, StatusUpdateFailed,
	StatusDeletePending, StatusDeleteComplete, StatusDeleteFailed,
	StatusRollbackPending, StatusRollbackComplete, StatusRollbackFailed,
	StatusReviewPending,
}

// Validate checks if the status is a known value.
func (s CodeStatus) Validate() error {
	for _, v := range allStatuses {
		if s == v {
			return nil
		}
	}
	return fmt.Errorf("invalid code status: %s", s)
}

// IsPending returns true if the status represents an in-flight transition in
// the external system.
func (s CodeStatus) IsPending() bool {
	switch s {
	case StatusCreatePending, StatusUpdatePending, StatusDeletePending,
		StatusRollbackPending, StatusReviewPending:
		return true
	}
	return false
}

// IsSettled returns true if the resource is not actively transitioning.
// Settled records still get reconciled: external deletion of a completed
// stack must be detected, so only AVAILABLE is excluded from scans.
func (s CodeStatus) IsSettled() bool {
	return !s.IsPending()
}

// IsSuccessfulComplete returns true for the states in which the external
// resource carries authoritative outputs.
func (s CodeStatus) IsSuccessfulComplete() bool {
	return s == StatusCreateComplete || s == StatusUpdateComplete
}

// IsFailure returns true for terminal failure states.
func (s CodeStatus) IsFailure() bool {
	switch s {
	case StatusCreateFailed, StatusUpdateFailed, StatusDeleteFailed, StatusRollbackFailed:
		return true
	}
	return false
}

// Linked returns true if the status implies an associated external resource.
func (s CodeStatus) Linked() bool {
	return s != StatusAvailable
}

// legalTransitions is the closed transition table for locally initiated
// writes. Reconciliation projections from the external system are validated
// separately: any linked state may be overwritten by the externally observed
// one, and any linked state may reset to AVAILABLE when the resource is gone.
var legalTransitions = map[CodeStatus][]CodeStatus{
	StatusAvailable:     {StatusCreatePending},
	StatusCreatePending: {StatusAvailable, StatusDeletePending},
	StatusCreateComplete: {
		StatusUpdatePending, StatusDeletePending,
	},
	StatusCreateFailed:     {StatusDeletePending},
	StatusUpdatePending:    {StatusDeletePending},
	StatusUpdateComplete:   {StatusUpdatePending, StatusDeletePending},
	StatusUpdateFailed:     {StatusUpdatePending, StatusDeletePending},
	StatusDeletePending:    {},
	StatusDeleteComplete:   {},
	StatusDeleteFailed:     {StatusDeletePending},
	StatusRollbackPending:  {StatusDeletePending},
	StatusRollbackComplete: {StatusDeletePending},
	StatusRollbackFailed:   {StatusDeletePending},
	StatusReviewPending:    {StatusDeletePending},
}

// ValidateTransition checks whether a locally initiated transition from one
// status to another is legal.
func ValidateTransition(from, to CodeStatus) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if err := to.Validate(); err != nil {
		return err
	}
	for _, allowed := range legalTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return NewConflictError(
		fmt.Sprintf("illegal status transition %s -> %s", from, to), nil,
	).WithCode(ErrCodeOperationInFlight)
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s CodeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *CodeStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = CodeStatus(str)
	return s.Validate()
}
