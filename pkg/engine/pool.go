package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/codepool/codepool/pkg/telemetry"
)

// PoolService initializes the fixed code pool and serves its read model.
// The id set is established once and never grows or shrinks afterwards.
type PoolService struct {
	store  CodeStore
	logger *telemetry.Logger

	now func() time.Time
}

// NewPoolService creates a pool service.
func NewPoolService(store CodeStore, tel *telemetry.Telemetry) *PoolService {
	return &PoolService{
		store:  store,
		logger: componentLogger(tel, "pool"),
		now:    time.Now,
	}
}

// GenerateIDs builds a zero-padded numeric id list of the given size,
// starting at 1. Width follows the largest id, with a minimum of two digits.
func GenerateIDs(size int) []string {
	width := len(fmt.Sprintf("%d", size))
	if width < 2 {
		width = 2
	}
	ids := make([]string, size)
	for i := range ids {
		ids[i] = fmt.Sprintf("%0*d", width, i+1)
	}
	return ids
}

// Initialize bulk-creates the pool records as AVAILABLE. It refuses to run
// against a store that already holds records: pool membership is immutable,
// re-initialization would grow or shrink it.
func (p *PoolService) Initialize(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return NewPermanentError("pool id list is empty", nil).
			WithCode(ErrCodeInvalidSelection).WithOperation("initialize")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return NewPermanentError("pool ids must be non-empty", nil).
				WithCode(ErrCodeInvalidSelection).WithOperation("initialize")
		}
		if seen[id] {
			return NewPermanentError("duplicate pool id", nil).
				WithCode(ErrCodeInvalidSelection).WithCodeID(id).WithOperation("initialize")
		}
		seen[id] = true
	}

	existing, err := p.store.Scan(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return NewPermanentError("pool is already initialized", nil).
			WithCode(ErrCodeAlreadyInProgress).WithOperation("initialize").
			WithDetail("existing", len(existing))
	}

	now := p.now().UTC()
	records := make([]*CodeRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, &CodeRecord{
			ID:        id,
			Status:    StatusAvailable,
			UpdatedAt: now,
			Version:   1,
		})
	}
	if err := p.store.BatchPut(ctx, records); err != nil {
		return err
	}
	p.logger.WithField("size", len(ids)).Info("pool initialized")
	return nil
}

// ListAllCodes returns the per-code read model in ascending id order.
func (p *PoolService) ListAllCodes(ctx context.Context) ([]CodeSummary, error) {
	records, err := p.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CodeSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, CodeSummary{
			ID:           rec.ID,
			Linked:       rec.Linked(),
			Status:       rec.Status,
			ResourceName: rec.ResourceName,
			CreatedAt:    rec.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PoolCounts is the availability summary rendered by the read model.
type PoolCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Linked    int `json:"linked"`
}

// Counts returns pool-level availability counts.
func (p *PoolService) Counts(ctx context.Context) (*PoolCounts, error) {
	records, err := p.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	counts := &PoolCounts{Total: len(records)}
	for _, rec := range records {
		if rec.Linked() {
			counts.Linked++
		} else {
			counts.Available++
		}
	}
	return counts, nil
}
