package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/stores"
)

// fakeClient is a hand-rolled resource manager double. The zero value
// creates successfully and describes nothing.
type fakeClient struct {
	mu sync.Mutex

	createFn   func(ctx context.Context, input engine.CreateResourceInput) (string, error)
	describeFn func(ctx context.Context, name string) (*engine.ResourceDescription, error)
	deleteFn   func(ctx context.Context, name string) error
	listFn     func(ctx context.Context, statuses []engine.CodeStatus) ([]engine.ResourceSummary, error)

	creates []engine.CreateResourceInput
	deletes []string
}

func (f *fakeClient) Create(ctx context.Context, input engine.CreateResourceInput) (string, error) {
	f.mu.Lock()
	f.creates = append(f.creates, input)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, input)
	}
	return "ref-" + input.Name, nil
}

func (f *fakeClient) Describe(ctx context.Context, name string) (*engine.ResourceDescription, error) {
	if f.describeFn != nil {
		return f.describeFn(ctx, name)
	}
	return nil, resourceGone(name)
}

func (f *fakeClient) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, name)
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(ctx, name)
	}
	return nil
}

func (f *fakeClient) ListByStatus(ctx context.Context, statuses []engine.CodeStatus) ([]engine.ResourceSummary, error) {
	if f.listFn != nil {
		return f.listFn(ctx, statuses)
	}
	return nil, nil
}

func resourceGone(name string) error {
	return engine.NewPermanentError(fmt.Sprintf("stack %s does not exist", name), nil).
		WithCode(engine.ErrCodeResourceNotFound)
}

// fakeScheduler records rule toggles. The zero value resolves any prefix to
// itself.
type fakeScheduler struct {
	mu sync.Mutex

	enabled  bool
	enables  int
	disables int

	findFn func(ctx context.Context, prefix string) (string, error)
	failOn string
}

func (f *fakeScheduler) EnableRule(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "enable" {
		return engine.NewTransientError("scheduler unavailable", nil).
			WithCode(engine.ErrCodeExternalDown)
	}
	f.enabled = true
	f.enables++
	return nil
}

func (f *fakeScheduler) DisableRule(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "disable" {
		return engine.NewTransientError("scheduler unavailable", nil).
			WithCode(engine.ErrCodeExternalDown)
	}
	f.enabled = false
	f.disables++
	return nil
}

func (f *fakeScheduler) DescribeRule(ctx context.Context, name string) (*engine.RuleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &engine.RuleState{Name: name, Enabled: f.enabled}, nil
}

func (f *fakeScheduler) FindRuleByPrefix(ctx context.Context, prefix string) (string, error) {
	if f.findFn != nil {
		return f.findFn(ctx, prefix)
	}
	return prefix + "-rule", nil
}

func newTestTrigger(rules engine.SchedulerRules) *engine.TriggerController {
	return engine.NewTriggerController(rules, engine.TriggerConfig{RuleName: "reconcile-rule"}, nil)
}

// seedPool initializes a memory store with size AVAILABLE codes.
func seedPool(t *testing.T, size int) (*stores.MemoryStore, []string) {
	t.Helper()
	store := stores.NewMemoryStore()
	ids := engine.GenerateIDs(size)
	if err := engine.NewPoolService(store, nil).Initialize(context.Background(), ids); err != nil {
		t.Fatalf("pool initialization failed: %v", err)
	}
	return store, ids
}

// linkCode puts a record directly into a linked state.
func linkCode(t *testing.T, store *stores.MemoryStore, id string, status engine.CodeStatus) *engine.CodeRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &engine.CodeRecord{
		ID:           id,
		Status:       status,
		ResourceRef:  "ref-" + id,
		ResourceName: "stack-" + id,
		CreatedAt:    &now,
		UpdatedAt:    now,
		Version:      1,
	}
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed record %s: %v", id, err)
	}
	return rec
}

func mustGet(t *testing.T, store engine.CodeStore, id string) *engine.CodeRecord {
	t.Helper()
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return rec
}

func countByStatus(t *testing.T, store engine.CodeStore, status engine.CodeStatus) int {
	t.Helper()
	records, err := store.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	n := 0
	for _, rec := range records {
		if rec.Status == status {
			n++
		}
	}
	return n
}
