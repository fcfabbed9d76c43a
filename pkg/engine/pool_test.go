package engine_test

import (
	"context"
	"testing"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/stores"
)

func TestGenerateIDs(t *testing.T) {
	cases := []struct {
		size  int
		first string
		last  string
	}{
		{1, "01", "01"},
		{10, "01", "10"},
		{150, "001", "150"},
	}
	for _, tc := range cases {
		ids := engine.GenerateIDs(tc.size)
		if len(ids) != tc.size {
			t.Fatalf("GenerateIDs(%d) returned %d ids", tc.size, len(ids))
		}
		if ids[0] != tc.first || ids[len(ids)-1] != tc.last {
			t.Errorf("GenerateIDs(%d) = %s..%s, want %s..%s",
				tc.size, ids[0], ids[len(ids)-1], tc.first, tc.last)
		}
	}
}

func TestInitializeCreatesAvailablePool(t *testing.T) {
	store := stores.NewMemoryStore()
	pool := engine.NewPoolService(store, nil)

	if err := pool.Initialize(context.Background(), []string{"01", "02", "03"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	counts, err := pool.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Total != 3 || counts.Available != 3 || counts.Linked != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestInitializeRefusesExistingPool(t *testing.T) {
	store, ids := seedPool(t, 2)

	err := engine.NewPoolService(store, nil).Initialize(context.Background(), ids)
	if err == nil {
		t.Fatal("re-initialization must be refused")
	}
	counts, countErr := engine.NewPoolService(store, nil).Counts(context.Background())
	if countErr != nil {
		t.Fatalf("Counts failed: %v", countErr)
	}
	if counts.Total != 2 {
		t.Fatalf("the existing pool must be untouched, got %d records", counts.Total)
	}
}

func TestInitializeRejectsEmptyAndDuplicateIDs(t *testing.T) {
	pool := engine.NewPoolService(stores.NewMemoryStore(), nil)

	if err := pool.Initialize(context.Background(), nil); err == nil {
		t.Error("an empty id list must be rejected")
	}
	if err := pool.Initialize(context.Background(), []string{"01", "01"}); err == nil {
		t.Error("duplicate ids must be rejected")
	}
}

func TestListAllCodesSortsAndProjects(t *testing.T) {
	store, _ := seedPool(t, 3)
	linkCode(t, store, "02", engine.StatusCreateComplete)

	codes, err := engine.NewPoolService(store, nil).ListAllCodes(context.Background())
	if err != nil {
		t.Fatalf("ListAllCodes failed: %v", err)
	}
	if len(codes) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(codes))
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1].ID >= codes[i].ID {
			t.Fatalf("codes out of order: %s before %s", codes[i-1].ID, codes[i].ID)
		}
	}
	if !codes[1].Linked || codes[1].ResourceName != "stack-02" {
		t.Errorf("unexpected projection for 02: %+v", codes[1])
	}
	if codes[0].Linked {
		t.Error("an AVAILABLE code must not report as linked")
	}
}
