package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/codepool/codepool/pkg/telemetry"
)

// ReconcileConfig configures one reconciliation pass.
type ReconcileConfig struct {
	// MaxParallel bounds concurrent per-record reconciliations.
	MaxParallel int

	// PassBudget is the wall-clock budget for one pass. When exceeded, the
	// pass stops dispatching further records and resumes on the next
	// scheduled invocation.
	PassBudget time.Duration

	// CallTimeout bounds each external describe call.
	CallTimeout time.Duration
}

// RecordError is one per-record failure captured during a pass.
type RecordError struct {
	ID  string `json:"id"`
	Err string `json:"error"`
}

// ReconcileSummary reports one pass for observability.
type ReconcileSummary struct {
	// Processed is the number of records examined.
	Processed int `json:"processed"`

	// Succeeded is the number of records reconciled without error.
	Succeeded int `json:"succeeded"`

	// Failed is the number of records whose reconciliation errored.
	Failed int `json:"failed"`

	// Reset is the number of records returned to AVAILABLE.
	Reset int `json:"reset"`

	// Truncated is true when the pass budget expired before every record
	// was dispatched.
	Truncated bool `json:"truncated"`

	// Errors carries the per-record failures.
	Errors []RecordError `json:"errors,omitempty"`

	// Remaining is the post-pass count of non-AVAILABLE records.
	Remaining int `json:"remaining"`

	// TriggerDisable reports the best-effort trigger toggle when the pool
	// drained during this pass.
	TriggerDisable Advisory[bool] `json:"trigger_disable"`
}

// Reconciler runs reconciliation passes: it compares every linked record
// against the external system, corrects drift, and disables the trigger once
// nothing is left to reconcile.
type Reconciler struct {
	store   CodeStore
	client  ResourceClient
	trigger *TriggerController
	cfg     ReconcileConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	now func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(
	store CodeStore,
	client ResourceClient,
	trigger *TriggerController,
	cfg ReconcileConfig,
	tel *telemetry.Telemetry,
) *Reconciler {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.PassBudget <= 0 {
		cfg.PassBudget = 10 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Reconciler{
		store:   store,
		client:  client,
		trigger: trigger,
		cfg:     cfg,
		logger:  componentLogger(tel, "reconciler"),
		metrics: metricsOf(tel),
		events:  eventsOf(tel),
		now:     time.Now,
	}
}

// Run executes one reconciliation pass. Records are processed independently
// with bounded concurrency; one record's failure never aborts the pass.
// Per-record updates are serialized against concurrent allocation and
// deletion through version preconditions.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileSummary, error) {
	passCtx, cancel := context.WithTimeout(ctx, r.cfg.PassBudget)
	defer cancel()

	timer := telemetry.NewTimer()
	summary := &ReconcileSummary{TriggerDisable: AdvisorySkipped[bool]()}

	records, err := r.store.Scan(passCtx)
	if err != nil {
		return nil, err
	}
	linked := make([]*CodeRecord, 0, len(records))
	for _, rec := range records {
		if rec.Linked() {
			linked = append(linked, rec)
		}
	}
	r.metrics.SetPoolGauges(len(records)-len(linked), len(linked))

	if len(linked) > 0 {
		r.reconcileAll(passCtx, linked, summary)

		// Re-fetch so concurrent allocations during the pass are seen.
		records, err = r.store.Scan(ctx)
		if err != nil {
			return summary, err
		}
	}

	remaining := 0
	for _, rec := range records {
		if rec.Linked() {
			remaining++
		}
	}
	summary.Remaining = remaining
	r.metrics.SetPoolGauges(len(records)-remaining, remaining)

	if remaining == 0 {
		summary.TriggerDisable = AdvisoryOf(true, r.trigger.Disable(ctx))
		if summary.TriggerDisable.Err != nil {
			r.logger.WithError(summary.TriggerDisable.Err).
				Warn("failed to disable reconciliation trigger")
		}
	}

	status := "succeeded"
	if summary.Failed > 0 {
		status = "partial"
	}
	r.metrics.RecordReconcilePass(status, timer.Duration())
	r.events.PublishReconcilePassCompleted(summary.Processed, summary.Succeeded, summary.Failed)
	r.logger.WithFields(map[string]interface{}{
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"reset":     summary.Reset,
		"remaining": summary.Remaining,
	}).Info("reconciliation pass finished")
	return summary, nil
}

func (r *Reconciler) reconcileAll(ctx context.Context, linked []*CodeRecord, summary *ReconcileSummary) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.cfg.MaxParallel)
	)
	for _, rec := range linked {
		select {
		case <-ctx.Done():
			summary.Truncated = true
		case sem <- struct{}{}:
		}
		if summary.Truncated {
			break
		}

		wg.Add(1)
		go func(rec *CodeRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			didReset, err := r.reconcileRecord(ctx, rec)
			mu.Lock()
			summary.Processed++
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, RecordError{ID: rec.ID, Err: err.Error()})
			} else {
				summary.Succeeded++
				if didReset {
					summary.Reset++
				}
			}
			mu.Unlock()
		}(rec)
	}
	wg.Wait()
}

// reconcileRecord reconciles one record against the external system.
// It returns whether the record was reset to AVAILABLE. A describe or update
// failure is persisted as the record's syncError and returned; the stored
// status is left untouched.
func (r *Reconciler) reconcileRecord(ctx context.Context, rec *CodeRecord) (bool, error) {
	logger := r.logger.WithField("code", rec.ID)

	if rec.ResourceName == "" {
		// A reservation that never received its name cannot be described;
		// surface it instead of guessing.
		err := NewPermanentError("record has no resource name", nil).
			WithCode(ErrCodeUnknown).WithCodeID(rec.ID).WithOperation("reconcile")
		r.persistSyncError(ctx, rec, err)
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	timer := telemetry.NewTimer()
	desc, err := r.client.Describe(callCtx, rec.ResourceName)
	r.metrics.RecordExternalCall("describe", timer.Duration(), err)

	if err != nil && !IsNotFound(err) {
		logger.WithError(err).Warn("describe failed")
		r.persistSyncError(ctx, rec, err)
		return false, err
	}

	// The resource being gone, or externally observed as fully deleted, is
	// the only path back to AVAILABLE after linking.
	if err != nil || desc.Status == StatusDeleteComplete {
		if err := r.resetRecord(ctx, rec); err != nil {
			return false, err
		}
		logger.Info("resource gone, code released")
		r.metrics.RecordCodeReset()
		r.events.PublishCodeReset(rec.ID, rec.ResourceName)
		return true, nil
	}

	if err := r.applyDiff(ctx, rec, desc); err != nil {
		logger.WithError(err).Warn("record update failed")
		r.persistSyncError(ctx, rec, err)
		return false, err
	}
	return false, nil
}

// resetRecord returns a record to AVAILABLE, clearing every linked field.
// The version precondition keeps a concurrent re-allocation from being
// clobbered: if it fails, the other writer's view wins.
func (r *Reconciler) resetRecord(ctx context.Context, rec *CodeRecord) error {
	upd := ResetToAvailable()
	upd.Set[FieldLastSyncAt] = r.now().UTC()
	return r.store.Update(ctx, rec.ID, upd, ExpectVersion(rec.Version))
}

// applyDiff writes the externally observed fields that differ from the
// stored record, plus the sync bookkeeping.
func (r *Reconciler) applyDiff(ctx context.Context, rec *CodeRecord, desc *ResourceDescription) error {
	set := map[FieldName]interface{}{
		FieldLastSyncAt: r.now().UTC(),
	}
	var remove []FieldName

	if desc.Status != rec.Status {
		set[FieldStatus] = desc.Status
	}
	if desc.Name != "" && desc.Name != rec.ResourceName {
		set[FieldResourceName] = desc.Name
	}
	if desc.Ref != "" && desc.Ref != rec.ResourceRef {
		set[FieldResourceRef] = desc.Ref
	}

	// Outputs are authoritative only in successful-complete states; outside
	// them stale outputs are dropped.
	if desc.Status.IsSuccessfulComplete() {
		if !reflect.DeepEqual(desc.Outputs, rec.Outputs) {
			set[FieldOutputs] = desc.Outputs
		}
	} else if len(rec.Outputs) > 0 {
		remove = append(remove, FieldOutputs)
	}

	if rec.SyncError != "" {
		remove = append(remove, FieldSyncError)
	}

	return r.store.Update(ctx, rec.ID, RecordUpdate{Set: set, Remove: remove}, ExpectVersion(rec.Version))
}

// persistSyncError records the failure on the record without touching its
// status. This write is itself best-effort.
func (r *Reconciler) persistSyncError(ctx context.Context, rec *CodeRecord, cause error) {
	msg := "reconciliation failed"
	var e *EngineError
	if errors.As(cause, &e) {
		msg = e.Message
	}
	upd := RecordUpdate{Set: map[FieldName]interface{}{
		FieldSyncError:  msg,
		FieldLastSyncAt: r.now().UTC(),
	}}
	if err := r.store.Update(ctx, rec.ID, upd, ExpectVersion(rec.Version)); err != nil {
		r.logger.WithError(err).WithField("code", rec.ID).
			Warn("failed to persist sync error")
	}
}
