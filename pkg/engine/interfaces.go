package engine

import (
	"context"
)

// CodeStore is the durable key-value store of pool records. Implementations
// must provide per-record read-modify-write atomicity: Update applies the
// given precondition and fails with a conflict-classified error
// (ErrCodeConditionFailed) when it does not hold. Every applied write bumps
// the record's Version and refreshes UpdatedAt.
type CodeStore interface {
	// Get returns the record for id, or a NOT_FOUND-coded error.
	Get(ctx context.Context, id string) (*CodeRecord, error)

	// BatchGet returns the records for the given ids, keyed by id.
	// Missing ids are absent from the result, not an error.
	BatchGet(ctx context.Context, ids []string) (map[string]*CodeRecord, error)

	// Put writes a full record unconditionally.
	Put(ctx context.Context, record *CodeRecord) error

	// BatchPut writes the given records unconditionally.
	BatchPut(ctx context.Context, records []*CodeRecord) error

	// Scan returns every record in the pool.
	Scan(ctx context.Context) ([]*CodeRecord, error)

	// Update applies a partial update (set + remove) to one record,
	// guarded by the precondition when non-nil.
	Update(ctx context.Context, id string, update RecordUpdate, pre *Precondition) error
}

// ResourceClient abstracts the external resource manager. It is the source
// of truth for resource status; the engine only projects it.
type ResourceClient interface {
	// Create provisions a named resource and returns the manager's reference.
	Create(ctx context.Context, input CreateResourceInput) (string, error)

	// Describe returns the externally observed state of a resource.
	// A missing resource is signalled with a RESOURCE_NOT_FOUND-coded error,
	// distinct from any other failure.
	Describe(ctx context.Context, name string) (*ResourceDescription, error)

	// Delete requests deletion of a resource. Deleting a resource that is
	// already gone is not an error.
	Delete(ctx context.Context, name string) error

	// ListByStatus returns summaries of managed resources in the given
	// states. An empty filter lists all live resources.
	ListByStatus(ctx context.Context, statuses []CodeStatus) ([]ResourceSummary, error)
}

// SchedulerRules is the external scheduler primitive behind the
// reconciliation trigger.
type SchedulerRules interface {
	// EnableRule turns the named rule on. Enabling an enabled rule succeeds.
	EnableRule(ctx context.Context, name string) error

	// DisableRule turns the named rule off. Disabling a disabled rule succeeds.
	DisableRule(ctx context.Context, name string) error

	// DescribeRule reports the rule's current state.
	DescribeRule(ctx context.Context, name string) (*RuleState, error)

	// FindRuleByPrefix resolves a rule name from a name prefix.
	FindRuleByPrefix(ctx context.Context, prefix string) (string, error)
}
