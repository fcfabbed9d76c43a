package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codepool/codepool/pkg/telemetry"
)

// AllocationConfig configures resource creation for allocated codes.
type AllocationConfig struct {
	// NamePrefix is the prefix of generated resource names.
	NamePrefix string

	// TemplateRef locates the provisioning template handed to the resource
	// manager for every created resource.
	TemplateRef string

	// Parameters are template parameters applied to every creation.
	Parameters map[string]string

	// Tags are extra tags merged under the engine's fixed tag set.
	Tags map[string]string

	// CallTimeout bounds each external create call.
	CallTimeout time.Duration
}

// AllocationOutcome is the per-code result of one allocation batch.
type AllocationOutcome struct {
	// ID is the allocated code.
	ID string `json:"id"`

	// Status is CREATE_PENDING on success, CREATE_FAILED otherwise.
	Status CodeStatus `json:"status"`

	// ResourceName is the generated resource name.
	ResourceName string `json:"resource_name,omitempty"`

	// ResourceRef is the manager's reference, set on success.
	ResourceRef string `json:"resource_ref,omitempty"`

	// Reason is a sanitized failure cause, set on failure.
	Reason string `json:"reason,omitempty"`
}

// AllocationResult is the outcome of one Allocate call. AssignedIDs includes
// codes whose creation failed, so callers can see which slots were spent.
type AllocationResult struct {
	// BatchID ties the batch to resource tags and audit events.
	BatchID string `json:"batch_id"`

	// AssignedIDs lists every code assigned to this batch, in order.
	AssignedIDs []string `json:"assigned_ids"`

	// Outcomes holds the per-code results, in assignment order.
	Outcomes []AllocationOutcome `json:"outcomes"`

	// TriggerEnable reports the best-effort trigger toggle.
	TriggerEnable Advisory[bool] `json:"trigger_enable"`
}

// Succeeded counts CREATE_PENDING outcomes.
func (r *AllocationResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusCreatePending {
			n++
		}
	}
	return n
}

// AllocationService assigns available codes to batch requests and drives
// sequential resource creation. Creation is intentionally sequential: it
// bounds external API load and keeps failure attribution simple.
type AllocationService struct {
	store   CodeStore
	client  ResourceClient
	trigger *TriggerController
	cfg     AllocationConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	// now is swappable for tests.
	now func() time.Time
}

// NewAllocationService creates an allocation service.
func NewAllocationService(
	store CodeStore,
	client ResourceClient,
	trigger *TriggerController,
	cfg AllocationConfig,
	tel *telemetry.Telemetry,
) *AllocationService {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	return &AllocationService{
		store:   store,
		client:  client,
		trigger: trigger,
		cfg:     cfg,
		logger:  componentLogger(tel, "allocator"),
		metrics: metricsOf(tel),
		events:  eventsOf(tel),
		now:     time.Now,
	}
}

// Allocate assigns count codes and creates one external resource per code.
// With explicitIDs the selection is validated against the pool; otherwise the
// first count AVAILABLE codes in ascending id order are taken, so behavior is
// deterministic. Mid-batch failures release the affected reservations back to
// AVAILABLE; if failures exceed half the batch the remainder is aborted and a
// BATCH_PARTIALLY_FAILED error is returned together with the partial result.
func (a *AllocationService) Allocate(ctx context.Context, count int, explicitIDs []string) (*AllocationResult, error) {
	if count <= 0 {
		return nil, NewPermanentError("allocation count must be positive", nil).
			WithCode(ErrCodeInvalidSelection).WithOperation("allocate")
	}

	records, err := a.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*CodeRecord, len(records))
	available := make([]string, 0, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
		if rec.Status == StatusAvailable {
			available = append(available, rec.ID)
		}
	}
	sort.Strings(available)

	assigned, err := a.selectIDs(count, explicitIDs, byID, available)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	batchTime := a.now().UTC()
	stamp := batchTime.Format("20060102150405")
	logger := a.logger.WithField("batch_id", batchID)

	names := make(map[string]string, len(assigned))
	for i, id := range assigned {
		names[id] = fmt.Sprintf("%s-%s-%s-%d", a.cfg.NamePrefix, id, stamp, i)
	}

	// Reserve every selected code before touching the external system. The
	// conditional transition AVAILABLE -> CREATE_PENDING with the resource
	// name pre-assigned serializes against concurrent allocators and against
	// the reconciliation pass.
	reserved := make([]string, 0, len(assigned))
	for _, id := range assigned {
		upd := RecordUpdate{Set: map[FieldName]interface{}{
			FieldStatus:       StatusCreatePending,
			FieldResourceName: names[id],
			FieldCreatedAt:    batchTime,
		}}
		if err := a.store.Update(ctx, id, upd, ExpectStatus(StatusAvailable)); err != nil {
			a.releaseReservations(ctx, logger, reserved, names)
			if IsConflict(err) {
				return nil, NewConflictError("code was concurrently allocated", err).
					WithCode(ErrCodeConditionFailed).WithCodeID(id).WithOperation("allocate")
			}
			return nil, err
		}
		reserved = append(reserved, id)
	}

	result := &AllocationResult{
		BatchID:     batchID,
		AssignedIDs: assigned,
		Outcomes:    make([]AllocationOutcome, 0, len(assigned)),
	}

	failures := 0
	aborted := false
	for i, id := range assigned {
		name := names[id]
		if aborted {
			a.releaseReservations(ctx, logger, []string{id}, names)
			result.Outcomes = append(result.Outcomes, AllocationOutcome{
				ID:           id,
				Status:       StatusCreateFailed,
				ResourceName: name,
				Reason:       "aborted: batch failure threshold exceeded",
			})
			continue
		}

		outcome := a.createOne(ctx, logger, id, name, batchID, batchTime, i)
		result.Outcomes = append(result.Outcomes, outcome)
		a.metrics.RecordAllocation(string(outcome.Status))
		if outcome.Status == StatusCreateFailed {
			failures++
			if failures*2 > len(assigned) {
				aborted = true
			}
		}
	}

	if result.Succeeded() > 0 {
		result.TriggerEnable = AdvisoryOf(true, a.trigger.Enable(ctx))
		if result.TriggerEnable.Err != nil {
			logger.WithError(result.TriggerEnable.Err).
				Warn("failed to enable reconciliation trigger")
		}
	} else {
		result.TriggerEnable = AdvisorySkipped[bool]()
	}

	a.events.PublishAllocationCompleted(batchID, result.Succeeded(), failures)
	logger.WithFields(map[string]interface{}{
		"assigned": len(assigned),
		"failed":   failures,
	}).Info("allocation batch finished")

	if aborted {
		return result, NewPermanentError("allocation batch partially failed", nil).
			WithCode(ErrCodeBatchPartial).
			WithOperation("allocate").
			WithDetail("succeeded", result.Succeeded()).
			WithDetail("failed", failures)
	}
	return result, nil
}

// selectIDs validates an explicit selection or picks the first count
// available codes in ascending order.
func (a *AllocationService) selectIDs(
	count int,
	explicitIDs []string,
	byID map[string]*CodeRecord,
	available []string,
) ([]string, error) {
	if len(explicitIDs) == 0 {
		if len(available) < count {
			return nil, NewPermanentError("insufficient available codes", nil).
				WithCode(ErrCodePoolExhausted).
				WithOperation("allocate").
				WithDetail("requested", count).
				WithDetail("available", len(available))
		}
		return available[:count], nil
	}

	if len(explicitIDs) != count {
		return nil, NewPermanentError(
			fmt.Sprintf("selection size %d does not match requested count %d", len(explicitIDs), count), nil).
			WithCode(ErrCodeInvalidSelection).WithOperation("allocate")
	}
	seen := make(map[string]bool, len(explicitIDs))
	for _, id := range explicitIDs {
		if seen[id] {
			return nil, NewPermanentError("duplicate code in selection", nil).
				WithCode(ErrCodeInvalidSelection).WithCodeID(id).WithOperation("allocate")
		}
		seen[id] = true
		rec, ok := byID[id]
		if !ok {
			return nil, NewPermanentError("code does not exist in pool", nil).
				WithCode(ErrCodeInvalidSelection).WithCodeID(id).WithOperation("allocate")
		}
		if rec.Status != StatusAvailable {
			return nil, NewPermanentError("code is not available", nil).
				WithCode(ErrCodeInvalidSelection).WithCodeID(id).WithOperation("allocate").
				WithDetail("status", string(rec.Status))
		}
	}
	return explicitIDs, nil
}

// createOne runs one external create and records the outcome. On failure the
// reservation is released so the pool does not leak capacity.
func (a *AllocationService) createOne(
	ctx context.Context,
	logger *telemetry.Logger,
	id, name, batchID string,
	batchTime time.Time,
	ordinal int,
) AllocationOutcome {
	tags := map[string]string{
		TagCode:      id,
		TagBatch:     batchID,
		TagCreatedAt: batchTime.Format(time.RFC3339),
		TagManagedBy: ManagedByValue,
	}
	for k, v := range a.cfg.Tags {
		if _, fixed := tags[k]; !fixed {
			tags[k] = v
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	timer := telemetry.NewTimer()
	ref, err := a.client.Create(callCtx, CreateResourceInput{
		Name:        name,
		TemplateRef: a.cfg.TemplateRef,
		Parameters:  a.cfg.Parameters,
		Tags:        tags,
	})
	a.metrics.RecordExternalCall("create", timer.Duration(), err)
	if err != nil {
		logger.WithError(err).WithField("code", id).Warn("resource creation failed")
		a.releaseReservations(ctx, logger, []string{id}, map[string]string{id: name})
		return AllocationOutcome{
			ID:           id,
			Status:       StatusCreateFailed,
			ResourceName: name,
			Reason:       "resource creation failed",
		}
	}

	upd := RecordUpdate{Set: map[FieldName]interface{}{
		FieldResourceRef: ref,
	}}
	if err := a.store.Update(ctx, id, upd, ExpectStatus(StatusCreatePending)); err != nil {
		// Losing the condition means another writer owns the record now;
		// the reservation is no longer ours to release.
		logger.WithError(err).WithField("code", id).
			Error("failed to persist resource reference")
		return AllocationOutcome{
			ID:           id,
			Status:       StatusCreateFailed,
			ResourceName: name,
			ResourceRef:  ref,
			Reason:       "failed to record resource reference",
		}
	}

	return AllocationOutcome{
		ID:           id,
		Status:       StatusCreatePending,
		ResourceName: name,
		ResourceRef:  ref,
	}
}

// releaseReservations reverts reserved codes to AVAILABLE.
func (a *AllocationService) releaseReservations(
	ctx context.Context,
	logger *telemetry.Logger,
	ids []string,
	names map[string]string,
) {
	for _, id := range ids {
		if err := a.store.Update(ctx, id, ResetToAvailable(), ExpectStatus(StatusCreatePending)); err != nil {
			logger.WithError(err).WithField("code", id).
				WithField("resource_name", names[id]).
				Error("failed to release reservation")
		}
	}
}
