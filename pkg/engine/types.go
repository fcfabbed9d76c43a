package engine

import (
	"time"
)

// Output is one key/value pair exported by an external resource.
type Output struct {
	// Key is the output name as reported by the resource manager.
	Key string `json:"key"`

	// Value is the output value.
	Value string `json:"value"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`
}

// CodeRecord is the durable state of one pool slot. Exactly one record exists
// per slot for the lifetime of the pool; records are never physically deleted.
type CodeRecord struct {
	// ID is the opaque slot identifier, assigned once at pool initialization.
	ID string `json:"id"`

	// Status is the reconciled lifecycle state.
	Status CodeStatus `json:"status"`

	// ResourceRef is the external resource manager's reference (e.g. a stack
	// ARN). Present iff the record is linked (Status != AVAILABLE).
	ResourceRef string `json:"resource_ref,omitempty"`

	// ResourceName is the deterministically generated resource name.
	ResourceName string `json:"resource_name,omitempty"`

	// CreatedAt is when a resource was first linked; cleared on reset.
	CreatedAt *time.Time `json:"created_at,omitempty"`

	// UpdatedAt is refreshed by the store on every write.
	UpdatedAt time.Time `json:"updated_at"`

	// Outputs holds the resource outputs; present only while the status is a
	// successful-complete state.
	Outputs []Output `json:"outputs,omitempty"`

	// LastSyncAt is when the last reconciliation attempt touched this record.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// SyncError is the sanitized error from the last failed reconciliation
	// attempt; cleared on a successful pass.
	SyncError string `json:"sync_error,omitempty"`

	// Version is a monotonic counter bumped by the store on every write.
	// Conditional updates use it to serialize concurrent writers.
	Version int64 `json:"version"`
}

// Linked returns true if the record references an external resource.
func (r *CodeRecord) Linked() bool {
	return r.Status.Linked()
}

// Clone returns a deep copy of the record.
func (r *CodeRecord) Clone() *CodeRecord {
	c := *r
	if r.CreatedAt != nil {
		t := *r.CreatedAt
		c.CreatedAt = &t
	}
	if r.LastSyncAt != nil {
		t := *r.LastSyncAt
		c.LastSyncAt = &t
	}
	if r.Outputs != nil {
		c.Outputs = make([]Output, len(r.Outputs))
		copy(c.Outputs, r.Outputs)
	}
	return &c
}

// FieldName identifies a CodeRecord field in partial updates. The store layer
// maps these onto its native column or attribute names.
type FieldName string

const (
	FieldStatus       FieldName = "status"
	FieldResourceRef  FieldName = "resource_ref"
	FieldResourceName FieldName = "resource_name"
	FieldCreatedAt    FieldName = "created_at"
	FieldOutputs      FieldName = "outputs"
	FieldLastSyncAt   FieldName = "last_sync_at"
	FieldSyncError    FieldName = "sync_error"
)

// Precondition guards a conditional record update. A nil Precondition means
// unconditional write; engine code always supplies one for mutating paths.
type Precondition struct {
	// Status requires the stored status to equal this value.
	Status *CodeStatus

	// Version requires the stored version to equal this value.
	Version *int64
}

// ExpectStatus builds a status precondition.
func ExpectStatus(s CodeStatus) *Precondition {
	return &Precondition{Status: &s}
}

// ExpectVersion builds a version precondition.
func ExpectVersion(v int64) *Precondition {
	return &Precondition{Version: &v}
}

// RecordUpdate is a partial update: Set assigns fields, Remove unsets them.
// The store refreshes UpdatedAt and bumps Version on every applied update.
type RecordUpdate struct {
	Set    map[FieldName]interface{}
	Remove []FieldName
}

// ResetToAvailable builds the only update that returns a linked record to
// AVAILABLE: status flips and every linked field is unset.
func ResetToAvailable() RecordUpdate {
	return RecordUpdate{
		Set: map[FieldName]interface{}{
			FieldStatus: StatusAvailable,
		},
		Remove: []FieldName{
			FieldResourceRef, FieldResourceName, FieldCreatedAt,
			FieldOutputs, FieldSyncError,
		},
	}
}

// CreateResourceInput describes one external resource creation request.
type CreateResourceInput struct {
	// Name is the deterministic resource name.
	Name string

	// TemplateRef locates the provisioning template (file path or URL).
	TemplateRef string

	// Parameters are template parameters passed through to the manager.
	Parameters map[string]string

	// Tags are applied to the resource for discovery and attribution.
	Tags map[string]string
}

// ResourceDescription is the externally observed state of one resource.
type ResourceDescription struct {
	// Name is the resource name.
	Name string

	// Ref is the resource manager's reference.
	Ref string

	// Status is the external lifecycle state mapped onto the engine's
	// vocabulary; never AVAILABLE.
	Status CodeStatus

	// Outputs are the resource outputs, if any.
	Outputs []Output

	// Tags are the resource tags.
	Tags map[string]string
}

// ResourceSummary is one entry in a status-filtered resource listing.
type ResourceSummary struct {
	Name   string
	Ref    string
	Status CodeStatus
	Tags   map[string]string
}

// RuleState reports the scheduler trigger's current configuration.
type RuleState struct {
	// Name is the resolved rule name.
	Name string `json:"name"`

	// Enabled is the trigger's on/off state.
	Enabled bool `json:"enabled"`

	// ScheduleExpression is the scheduler's interval expression.
	ScheduleExpression string `json:"schedule_expression,omitempty"`
}

// CodeSummary is the read-model projection of one pool slot.
type CodeSummary struct {
	ID           string     `json:"id"`
	Linked       bool       `json:"linked"`
	Status       CodeStatus `json:"status"`
	ResourceName string     `json:"resource_name,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// Tag keys applied to every managed resource.
const (
	TagCode      = "codepool:code"
	TagBatch     = "codepool:batch"
	TagCreatedAt = "codepool:created-at"
	TagManagedBy = "codepool:managed-by"

	// ManagedByValue marks resources owned by this engine.
	ManagedByValue = "codepool"
)
