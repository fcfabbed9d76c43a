package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codepool/codepool/pkg/telemetry"
)

// DeleteClass classifies the per-code result of a bulk deletion.
type DeleteClass string

const (
	// DeleteInitiated means the external deletion was requested.
	DeleteInitiated DeleteClass = "initiated"

	// DeleteAlreadyDeleting means a deletion was already in flight.
	DeleteAlreadyDeleting DeleteClass = "already_deleting"

	// DeleteSkippedInProgress means a conflicting transition blocked deletion.
	DeleteSkippedInProgress DeleteClass = "skipped_in_progress"

	// DeleteFailed means the deletion request failed.
	DeleteFailed DeleteClass = "failed"
)

// DeleteOutcome is the result of one deletion request.
type DeleteOutcome struct {
	// ID is the code whose resource was targeted.
	ID string `json:"id"`

	// Initiated is true when the external deletion was requested.
	Initiated bool `json:"initiated"`

	// Class is the coarse classification of this outcome.
	Class DeleteClass `json:"class"`

	// Message explains the outcome in one line.
	Message string `json:"message"`

	// StatusWrite reports the best-effort record write that follows a
	// successful external delete call.
	StatusWrite Advisory[bool] `json:"status_write"`
}

// BulkDeleteSummary aggregates a DeleteAll run.
type BulkDeleteSummary struct {
	Total             int                      `json:"total"`
	Initiated         int                      `json:"initiated"`
	AlreadyDeleting   int                      `json:"already_deleting"`
	SkippedInProgress int                      `json:"skipped_in_progress"`
	Failed            int                      `json:"failed"`
	Outcomes          map[string]DeleteOutcome `json:"outcomes"`
}

// DeletionStatus is the polling projection of one code's deletion progress.
type DeletionStatus struct {
	// ID is the code.
	ID string `json:"id"`

	// Status is the stored lifecycle state.
	Status CodeStatus `json:"status"`

	// Progress is the fixed human-readable message for the status.
	Progress string `json:"progress"`

	// Complete is true only for DELETE_COMPLETE and terminal failure states.
	Complete bool `json:"complete"`
}

// progressMessages is the fixed projection table, one message per status.
var progressMessages = map[CodeStatus]string{
	StatusAvailable:        "deletion complete, code released",
	StatusCreatePending:    "resource creation in progress",
	StatusCreateComplete:   "resource active, deletion not requested",
	StatusCreateFailed:     "resource creation failed",
	StatusUpdatePending:    "resource update in progress",
	StatusUpdateComplete:   "resource active, deletion not requested",
	StatusUpdateFailed:     "resource update failed",
	StatusDeletePending:    "deletion in progress",
	StatusDeleteComplete:   "deletion complete",
	StatusDeleteFailed:     "deletion failed",
	StatusRollbackPending:  "rollback in progress",
	StatusRollbackComplete: "rollback complete, deletion not requested",
	StatusRollbackFailed:   "rollback failed",
	StatusReviewPending:    "resource awaiting review",
}

// DeletionConfig configures bulk deletion fan-out.
type DeletionConfig struct {
	// MaxParallel bounds concurrent delete requests in DeleteAll.
	MaxParallel int

	// CallTimeout bounds each external delete call.
	CallTimeout time.Duration
}

// DeletionService deletes linked resources and projects deletion progress
// for polling clients.
type DeletionService struct {
	store   CodeStore
	client  ResourceClient
	cfg     DeletionConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// NewDeletionService creates a deletion service.
func NewDeletionService(
	store CodeStore,
	client ResourceClient,
	cfg DeletionConfig,
	tel *telemetry.Telemetry,
) *DeletionService {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	return &DeletionService{
		store:   store,
		client:  client,
		cfg:     cfg,
		logger:  componentLogger(tel, "deleter"),
		metrics: metricsOf(tel),
		events:  eventsOf(tel),
	}
}

// DeleteOne requests deletion of the resource linked to id.
//
// An unlinked or unknown code fails with NOT_FOUND. A deletion already in
// flight is an idempotent duplicate: it returns a non-initiated outcome, not
// an error. Any other in-flight transition fails with OPERATION_IN_PROGRESS,
// because deletion must not race a concurrent transition.
func (d *DeletionService) DeleteOne(ctx context.Context, id string) (*DeleteOutcome, error) {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.deleteRecord(ctx, rec)
}

func (d *DeletionService) deleteRecord(ctx context.Context, rec *CodeRecord) (*DeleteOutcome, error) {
	id := rec.ID
	if !rec.Linked() || rec.ResourceRef == "" {
		return nil, NewPermanentError("code is not linked to a resource", nil).
			WithCode(ErrCodeNotFound).WithCodeID(id).WithOperation("delete")
	}
	if rec.Status == StatusDeletePending {
		return &DeleteOutcome{
			ID:          id,
			Initiated:   false,
			Class:       DeleteAlreadyDeleting,
			Message:     "deletion already in progress",
			StatusWrite: AdvisorySkipped[bool](),
		}, nil
	}
	if rec.Status.IsPending() {
		return nil, NewConflictError("another transition is in progress", nil).
			WithCode(ErrCodeOperationInFlight).WithCodeID(id).WithOperation("delete").
			WithDetail("status", string(rec.Status))
	}
	if err := ValidateTransition(rec.Status, StatusDeletePending); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	timer := telemetry.NewTimer()
	err := d.client.Delete(callCtx, rec.ResourceName)
	d.metrics.RecordExternalCall("delete", timer.Duration(), err)
	if err != nil {
		return nil, err
	}

	// The external deletion is underway regardless of whether this write
	// lands; reconciliation repairs a missed transition on the next pass.
	expect := rec.Status
	upd := RecordUpdate{
		Set:    map[FieldName]interface{}{FieldStatus: StatusDeletePending},
		Remove: []FieldName{FieldOutputs},
	}
	writeErr := d.store.Update(ctx, id, upd, ExpectStatus(expect))
	if writeErr != nil {
		d.logger.WithError(writeErr).WithField("code", id).
			Warn("failed to record deletion status")
	}

	d.metrics.RecordDeletion(string(DeleteInitiated))
	d.events.PublishDeletionInitiated(id, rec.ResourceName)
	return &DeleteOutcome{
		ID:          id,
		Initiated:   true,
		Class:       DeleteInitiated,
		Message:     "deletion initiated",
		StatusWrite: AdvisoryOf(writeErr == nil, writeErr),
	}, nil
}

// DeleteAll requests deletion of every linked resource, fanning out with
// bounded concurrency. One resource's failure never blocks the others.
func (d *DeletionService) DeleteAll(ctx context.Context) (*BulkDeleteSummary, error) {
	records, err := d.store.Scan(ctx)
	if err != nil {
		return nil, err
	}

	linked := make([]*CodeRecord, 0, len(records))
	for _, rec := range records {
		if rec.Linked() {
			linked = append(linked, rec)
		}
	}
	sort.Slice(linked, func(i, j int) bool { return linked[i].ID < linked[j].ID })

	summary := &BulkDeleteSummary{
		Total:    len(linked),
		Outcomes: make(map[string]DeleteOutcome, len(linked)),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.cfg.MaxParallel)
	)
	for _, rec := range linked {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *CodeRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.classifyBulkDelete(ctx, rec)
			mu.Lock()
			summary.Outcomes[rec.ID] = outcome
			switch outcome.Class {
			case DeleteInitiated:
				summary.Initiated++
			case DeleteAlreadyDeleting:
				summary.AlreadyDeleting++
			case DeleteSkippedInProgress:
				summary.SkippedInProgress++
			case DeleteFailed:
				summary.Failed++
			}
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	d.logger.WithFields(map[string]interface{}{
		"total":     summary.Total,
		"initiated": summary.Initiated,
		"failed":    summary.Failed,
	}).Info("bulk deletion finished")
	return summary, nil
}

func (d *DeletionService) classifyBulkDelete(ctx context.Context, rec *CodeRecord) DeleteOutcome {
	outcome, err := d.deleteRecord(ctx, rec)
	if err == nil {
		return *outcome
	}
	class := DeleteFailed
	message := "deletion request failed"
	if HasCode(err, ErrCodeOperationInFlight) {
		class = DeleteSkippedInProgress
		message = "skipped: another transition is in progress"
	} else {
		d.logger.WithError(err).WithField("code", rec.ID).
			Warn("bulk deletion item failed")
	}
	d.metrics.RecordDeletion(string(class))
	return DeleteOutcome{
		ID:          rec.ID,
		Initiated:   false,
		Class:       class,
		Message:     message,
		StatusWrite: AdvisorySkipped[bool](),
	}
}

// Status projects one code's deletion progress. A missing record, or one
// already reset to AVAILABLE, reports as complete: the resource disappeared,
// which is success.
func (d *DeletionService) Status(ctx context.Context, id string) (*DeletionStatus, error) {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		if HasCode(err, ErrCodeNotFound) {
			return &DeletionStatus{
				ID:       id,
				Status:   StatusDeleteComplete,
				Progress: progressMessages[StatusDeleteComplete],
				Complete: true,
			}, nil
		}
		return nil, err
	}
	return projectStatus(rec), nil
}

// StatusAll projects deletion progress for every linked code. Codes already
// reset to AVAILABLE are absent from the result.
func (d *DeletionService) StatusAll(ctx context.Context) (map[string]DeletionStatus, error) {
	records, err := d.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]DeletionStatus)
	for _, rec := range records {
		if rec.Linked() {
			out[rec.ID] = *projectStatus(rec)
		}
	}
	return out, nil
}

func projectStatus(rec *CodeRecord) *DeletionStatus {
	status := rec.Status
	complete := status == StatusDeleteComplete ||
		status == StatusAvailable ||
		status.IsFailure()
	return &DeletionStatus{
		ID:       rec.ID,
		Status:   status,
		Progress: progressMessages[status],
		Complete: complete,
	}
}
