package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/stores"
)

func newAllocator(store engine.CodeStore, client engine.ResourceClient, trigger *engine.TriggerController) *engine.AllocationService {
	return engine.NewAllocationService(store, client, trigger, engine.AllocationConfig{
		NamePrefix:  "pool",
		TemplateRef: "https://templates.example.com/stack.yaml",
	}, nil)
}

func TestAllocateAssignsLowestAvailable(t *testing.T) {
	store, _ := seedPool(t, 5)
	client := &fakeClient{}
	sched := &fakeScheduler{}

	result, err := newAllocator(store, client, newTestTrigger(sched)).Allocate(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if got := result.AssignedIDs; len(got) != 2 || got[0] != "01" || got[1] != "02" {
		t.Fatalf("expected codes 01 and 02, got %v", got)
	}
	if result.Succeeded() != 2 {
		t.Fatalf("expected 2 creations, got %d", result.Succeeded())
	}
	for _, o := range result.Outcomes {
		if o.ResourceRef == "" {
			t.Errorf("outcome %s has no resource ref", o.ID)
		}
		if !strings.HasPrefix(o.ResourceName, "pool-"+o.ID+"-") {
			t.Errorf("unexpected resource name %q for %s", o.ResourceName, o.ID)
		}
	}

	rec := mustGet(t, store, "01")
	if rec.Status != engine.StatusCreatePending {
		t.Errorf("expected CREATE_PENDING, got %s", rec.Status)
	}
	if rec.ResourceRef == "" || rec.CreatedAt == nil {
		t.Error("linked fields missing after allocation")
	}
	if countByStatus(t, store, engine.StatusAvailable) != 3 {
		t.Error("unallocated codes must stay AVAILABLE")
	}
}

func TestAllocateEnablesTriggerOnce(t *testing.T) {
	store, _ := seedPool(t, 3)
	sched := &fakeScheduler{}

	result, err := newAllocator(store, &fakeClient{}, newTestTrigger(sched)).Allocate(context.Background(), 2, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if !result.TriggerEnable.OK() {
		t.Fatal("expected trigger enable to succeed")
	}
	if sched.enables != 1 {
		t.Fatalf("expected one enable call for the batch, got %d", sched.enables)
	}
}

func TestAllocateTriggerFailureIsAdvisory(t *testing.T) {
	store, _ := seedPool(t, 2)
	sched := &fakeScheduler{failOn: "enable"}

	result, err := newAllocator(store, &fakeClient{}, newTestTrigger(sched)).Allocate(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("allocation must succeed despite trigger failure, got %v", err)
	}
	if result.Succeeded() != 1 {
		t.Fatalf("expected 1 creation, got %d", result.Succeeded())
	}
	if !result.TriggerEnable.Attempted || result.TriggerEnable.Err == nil {
		t.Error("expected an attempted, failed trigger toggle")
	}
}

func TestAllocatePoolExhausted(t *testing.T) {
	store, _ := seedPool(t, 2)
	client := &fakeClient{}

	_, err := newAllocator(store, client, newTestTrigger(&fakeScheduler{})).Allocate(context.Background(), 3, nil)
	if !engine.HasCode(err, engine.ErrCodePoolExhausted) {
		t.Fatalf("expected POOL_EXHAUSTED, got %v", err)
	}
	if len(client.creates) != 0 {
		t.Error("no external call may happen when the pool is exhausted")
	}
	if countByStatus(t, store, engine.StatusAvailable) != 2 {
		t.Error("exhausted allocation must not consume codes")
	}
}

func TestAllocateExplicitSelection(t *testing.T) {
	store, _ := seedPool(t, 5)

	result, err := newAllocator(store, &fakeClient{}, newTestTrigger(&fakeScheduler{})).
		Allocate(context.Background(), 2, []string{"04", "02"})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got := result.AssignedIDs; got[0] != "04" || got[1] != "02" {
		t.Fatalf("explicit selection order must be preserved, got %v", got)
	}
}

func TestAllocateRejectsBadSelection(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "02", engine.StatusCreateComplete)
	alloc := newAllocator(store, &fakeClient{}, newTestTrigger(&fakeScheduler{}))

	cases := []struct {
		name string
		ids  []string
	}{
		{"unknown code", []string{"99"}},
		{"duplicate code", []string{"01", "01"}},
		{"unavailable code", []string{"02"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := alloc.Allocate(context.Background(), len(tc.ids), tc.ids)
			if !engine.HasCode(err, engine.ErrCodeInvalidSelection) {
				t.Fatalf("expected INVALID_SELECTION, got %v", err)
			}
		})
	}
}

func TestAllocateFailedCreationReleasesCode(t *testing.T) {
	store, _ := seedPool(t, 4)
	client := &fakeClient{
		createFn: func(_ context.Context, input engine.CreateResourceInput) (string, error) {
			if strings.Contains(input.Name, "-02-") {
				return "", engine.NewPermanentError("template rejected", nil).
					WithCode(engine.ErrCodeExternalValidation)
			}
			return "ref-" + input.Name, nil
		},
	}

	result, err := newAllocator(store, client, newTestTrigger(&fakeScheduler{})).
		Allocate(context.Background(), 3, nil)
	if err != nil {
		t.Fatalf("a sub-majority failure must not fail the batch, got %v", err)
	}
	if result.Succeeded() != 2 {
		t.Fatalf("expected 2 creations, got %d", result.Succeeded())
	}

	rec := mustGet(t, store, "02")
	if rec.Status != engine.StatusAvailable {
		t.Errorf("failed code must return to AVAILABLE, got %s", rec.Status)
	}
	if rec.ResourceName != "" || rec.CreatedAt != nil {
		t.Error("released code must have its linked fields cleared")
	}
	if countByStatus(t, store, engine.StatusCreatePending) != 2 {
		t.Error("successful codes must stay CREATE_PENDING")
	}
}

func TestAllocateAbortsPastFailureThreshold(t *testing.T) {
	store, _ := seedPool(t, 4)
	client := &fakeClient{
		createFn: func(_ context.Context, input engine.CreateResourceInput) (string, error) {
			return "", engine.NewTransientError("service unavailable", nil).
				WithCode(engine.ErrCodeExternalDown)
		},
	}

	result, err := newAllocator(store, client, newTestTrigger(&fakeScheduler{})).
		Allocate(context.Background(), 4, nil)
	if !engine.HasCode(err, engine.ErrCodeBatchPartial) {
		t.Fatalf("expected BATCH_PARTIALLY_FAILED, got %v", err)
	}
	if result == nil {
		t.Fatal("partial result must accompany the batch error")
	}
	// Failures exceed half the batch after the third one; the fourth create
	// is never attempted.
	if len(client.creates) != 3 {
		t.Errorf("expected creation to stop after the threshold, got %d calls", len(client.creates))
	}
	if countByStatus(t, store, engine.StatusAvailable) != 4 {
		t.Error("every reserved code must be released after the aborted batch")
	}
	if result.TriggerEnable.Attempted {
		t.Error("trigger must not be enabled when nothing was created")
	}
}

func TestAllocateConservesPoolSize(t *testing.T) {
	store, ids := seedPool(t, 6)
	alloc := newAllocator(store, &fakeClient{}, newTestTrigger(&fakeScheduler{}))

	if _, err := alloc.Allocate(context.Background(), 4, nil); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	records, err := store.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != len(ids) {
		t.Fatalf("pool size changed: %d records for %d ids", len(records), len(ids))
	}
}

func TestAllocateZeroCount(t *testing.T) {
	store := stores.NewMemoryStore()
	_, err := newAllocator(store, &fakeClient{}, newTestTrigger(&fakeScheduler{})).
		Allocate(context.Background(), 0, nil)
	if !engine.HasCode(err, engine.ErrCodeInvalidSelection) {
		t.Fatalf("expected INVALID_SELECTION for zero count, got %v", err)
	}
}
