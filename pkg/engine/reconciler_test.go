package engine_test

import (
	"context"
	"testing"

	"github.com/codepool/codepool/pkg/engine"
)

func newTestReconciler(store engine.CodeStore, client engine.ResourceClient, trigger *engine.TriggerController) *engine.Reconciler {
	return engine.NewReconciler(store, client, trigger, engine.ReconcileConfig{MaxParallel: 2}, nil)
}

func describeAs(status engine.CodeStatus, outputs ...engine.Output) func(context.Context, string) (*engine.ResourceDescription, error) {
	return func(_ context.Context, name string) (*engine.ResourceDescription, error) {
		return &engine.ResourceDescription{
			Name:    name,
			Ref:     "ref-" + name,
			Status:  status,
			Outputs: outputs,
		}, nil
	}
}

func TestReconcileAdoptsExternalStatus(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "01", engine.StatusCreatePending)
	client := &fakeClient{describeFn: describeAs(
		engine.StatusCreateComplete,
		engine.Output{Key: "Endpoint", Value: "https://01.example.com"},
	)}

	summary, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec := mustGet(t, store, "01")
	if rec.Status != engine.StatusCreateComplete {
		t.Errorf("expected the external status to win, got %s", rec.Status)
	}
	if len(rec.Outputs) != 1 || rec.Outputs[0].Key != "Endpoint" {
		t.Errorf("expected outputs to be stored, got %v", rec.Outputs)
	}
	if rec.LastSyncAt == nil {
		t.Error("expected last sync time to be recorded")
	}
}

func TestReconcileResetsVanishedResource(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "02", engine.StatusDeletePending)
	client := &fakeClient{} // describes nothing

	summary, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Reset != 1 {
		t.Fatalf("expected one reset, got %d", summary.Reset)
	}

	rec := mustGet(t, store, "02")
	if rec.Status != engine.StatusAvailable {
		t.Errorf("expected AVAILABLE after reset, got %s", rec.Status)
	}
	if rec.ResourceRef != "" || rec.ResourceName != "" || rec.CreatedAt != nil {
		t.Error("reset must clear every linked field")
	}
}

func TestReconcileResetsDeleteComplete(t *testing.T) {
	store, _ := seedPool(t, 2)
	linkCode(t, store, "01", engine.StatusDeletePending)
	client := &fakeClient{describeFn: describeAs(engine.StatusDeleteComplete)}

	if _, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if mustGet(t, store, "01").Status != engine.StatusAvailable {
		t.Error("an externally deleted resource must release its code")
	}
}

func TestReconcileDisablesTriggerWhenDrained(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "01", engine.StatusDeletePending)
	sched := &fakeScheduler{enabled: true}
	client := &fakeClient{} // resource gone -> record resets

	rec := newTestReconciler(store, client, newTestTrigger(sched))
	summary, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Remaining != 0 {
		t.Fatalf("expected a drained pool, got %d remaining", summary.Remaining)
	}
	if !summary.TriggerDisable.OK() || sched.disables != 1 {
		t.Fatal("expected the trigger to be disabled once")
	}

	// A second pass over the drained pool disables again without error.
	summary, err = rec.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.Processed != 0 || !summary.TriggerDisable.OK() {
		t.Fatalf("second pass must be a clean no-op: %+v", summary)
	}
}

func TestReconcileKeepsTriggerWhileLinked(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "01", engine.StatusCreatePending)
	sched := &fakeScheduler{enabled: true}
	client := &fakeClient{describeFn: describeAs(engine.StatusCreatePending)}

	summary, err := newTestReconciler(store, client, newTestTrigger(sched)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Remaining != 1 {
		t.Fatalf("expected one linked record to remain, got %d", summary.Remaining)
	}
	if summary.TriggerDisable.Attempted || sched.disables != 0 {
		t.Error("the trigger must stay enabled while records remain")
	}
}

func TestReconcileIsolatesRecordFailures(t *testing.T) {
	store, _ := seedPool(t, 4)
	linkCode(t, store, "01", engine.StatusCreatePending)
	linkCode(t, store, "02", engine.StatusCreatePending)
	client := &fakeClient{
		describeFn: func(_ context.Context, name string) (*engine.ResourceDescription, error) {
			if name == "stack-01" {
				return nil, engine.NewTransientError("describe failed", nil).
					WithCode(engine.ErrCodeExternalDown)
			}
			return &engine.ResourceDescription{Name: name, Status: engine.StatusCreateComplete}, nil
		},
	}

	summary, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background())
	if err != nil {
		t.Fatalf("a record failure must not fail the pass: %v", err)
	}
	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].ID != "01" {
		t.Fatalf("expected the failure attributed to 01, got %v", summary.Errors)
	}

	failed := mustGet(t, store, "01")
	if failed.Status != engine.StatusCreatePending {
		t.Error("a describe failure must not change the stored status")
	}
	if failed.SyncError == "" {
		t.Error("the failure must be recorded as a sync error")
	}
	if mustGet(t, store, "02").Status != engine.StatusCreateComplete {
		t.Error("the healthy record must still be reconciled")
	}
}

func TestReconcileClearsStaleSyncError(t *testing.T) {
	store, _ := seedPool(t, 2)
	rec := linkCode(t, store, "01", engine.StatusCreatePending)
	rec.SyncError = "describe failed"
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	client := &fakeClient{describeFn: describeAs(engine.StatusCreateComplete)}

	if _, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := mustGet(t, store, "01").SyncError; got != "" {
		t.Errorf("a healthy reconcile must clear the sync error, got %q", got)
	}
}

func TestReconcileDropsOutputsOutsideCompleteStates(t *testing.T) {
	store, _ := seedPool(t, 2)
	rec := linkCode(t, store, "01", engine.StatusCreateComplete)
	rec.Outputs = []engine.Output{{Key: "Endpoint", Value: "https://01.example.com"}}
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	client := &fakeClient{describeFn: describeAs(engine.StatusUpdatePending)}

	if _, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := mustGet(t, store, "01")
	if got.Status != engine.StatusUpdatePending {
		t.Errorf("expected UPDATE_PENDING, got %s", got.Status)
	}
	if len(got.Outputs) != 0 {
		t.Error("outputs must be dropped while the resource is in transition")
	}
}

func TestReconcileVersionConflictLosesGracefully(t *testing.T) {
	store, _ := seedPool(t, 2)
	linkCode(t, store, "01", engine.StatusDeletePending)

	// The record changes between the reconciler's scan and its update, as a
	// concurrent allocation would do.
	client := &fakeClient{
		describeFn: func(ctx context.Context, name string) (*engine.ResourceDescription, error) {
			upd := engine.RecordUpdate{Set: map[engine.FieldName]interface{}{
				engine.FieldStatus: engine.StatusDeleteComplete,
			}}
			if err := store.Update(ctx, "01", upd, nil); err != nil {
				t.Errorf("interleaved update failed: %v", err)
			}
			return nil, resourceGone(name)
		},
	}

	summary, err := newTestReconciler(store, client, newTestTrigger(&fakeScheduler{})).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("the lost write must surface as a record failure: %+v", summary)
	}
	if mustGet(t, store, "01").Status != engine.StatusDeleteComplete {
		t.Error("the concurrent writer's view must win")
	}
}
