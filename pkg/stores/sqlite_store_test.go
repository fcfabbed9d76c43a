package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codepool/codepool/pkg/engine"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "codes.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &engine.CodeRecord{
		ID:           "01",
		Status:       engine.StatusCreateComplete,
		ResourceRef:  "ref-01",
		ResourceName: "pool-01-20240101000000-1",
		CreatedAt:    &now,
		UpdatedAt:    now,
		Outputs: []engine.Output{
			{Key: "Endpoint", Value: "https://example.com", Description: "service URL"},
		},
		Version: 1,
	}

	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "01")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != engine.StatusCreateComplete {
		t.Errorf("expected CREATE_COMPLETE, got %s", got.Status)
	}
	if got.ResourceRef != "ref-01" {
		t.Errorf("unexpected resource ref %q", got.ResourceRef)
	}
	if got.CreatedAt == nil || !got.CreatedAt.Equal(now) {
		t.Errorf("created_at mismatch: %v", got.CreatedAt)
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Key != "Endpoint" {
		t.Errorf("outputs mismatch: %+v", got.Outputs)
	}
}

func TestSQLiteStoreGetNotFound(t *testing.T) {
	store := setupSQLiteStore(t)

	_, err := store.Get(context.Background(), "99")
	if !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND error, got %v", err)
	}
}

func TestSQLiteStoreScanOrdersByID(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	records := []*engine.CodeRecord{
		{ID: "03", Status: engine.StatusAvailable, UpdatedAt: time.Now().UTC(), Version: 1},
		{ID: "01", Status: engine.StatusAvailable, UpdatedAt: time.Now().UTC(), Version: 1},
		{ID: "02", Status: engine.StatusCreatePending, UpdatedAt: time.Now().UTC(), Version: 1},
	}
	if err := store.BatchPut(ctx, records); err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}

	got, err := store.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, want := range []string{"01", "02", "03"} {
		if got[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestSQLiteStoreConditionalUpdate(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	rec := &engine.CodeRecord{
		ID: "01", Status: engine.StatusAvailable,
		UpdatedAt: time.Now().UTC(), Version: 1,
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	upd := engine.RecordUpdate{Set: map[engine.FieldName]interface{}{
		engine.FieldStatus:       engine.StatusCreatePending,
		engine.FieldResourceName: "pool-01",
	}}
	if err := store.Update(ctx, "01", upd, engine.ExpectStatus(engine.StatusAvailable)); err != nil {
		t.Fatalf("conditional update failed: %v", err)
	}

	got, _ := store.Get(ctx, "01")
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	// Same condition again must fail: the status already moved on.
	err := store.Update(ctx, "01", upd, engine.ExpectStatus(engine.StatusAvailable))
	if !engine.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
	if !engine.HasCode(err, engine.ErrCodeConditionFailed) {
		t.Errorf("expected CONDITION_FAILED code, got %v", err)
	}
}

func TestSQLiteStoreUpdateMissingRecord(t *testing.T) {
	store := setupSQLiteStore(t)

	upd := engine.RecordUpdate{Set: map[engine.FieldName]interface{}{
		engine.FieldStatus: engine.StatusDeletePending,
	}}
	err := store.Update(context.Background(), "99", upd, nil)
	if !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND for missing record, got %v", err)
	}
}

func TestSQLiteStoreUpdateRemovesFields(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &engine.CodeRecord{
		ID: "05", Status: engine.StatusCreateComplete,
		ResourceRef: "ref-05", ResourceName: "pool-05",
		CreatedAt: &now, UpdatedAt: now,
		Outputs: []engine.Output{{Key: "k", Value: "v"}},
		Version: 2,
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Update(ctx, "05", engine.ResetToAvailable(), engine.ExpectVersion(2)); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	got, _ := store.Get(ctx, "05")
	if got.Status != engine.StatusAvailable {
		t.Errorf("expected AVAILABLE, got %s", got.Status)
	}
	if got.ResourceRef != "" || got.ResourceName != "" || got.CreatedAt != nil || got.Outputs != nil {
		t.Errorf("reset left linked fields behind: %+v", got)
	}
	if got.Version != 3 {
		t.Errorf("expected version 3, got %d", got.Version)
	}
}
