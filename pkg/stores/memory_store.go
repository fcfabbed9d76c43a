package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codepool/codepool/pkg/engine"
)

// MemoryStore is an in-memory engine.CodeStore with the same conditional
// update semantics as the durable backends. It backs tests and local
// dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*engine.CodeRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*engine.CodeRecord),
		now:     time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the record for id, or a NOT_FOUND-coded error.
func (s *MemoryStore) Get(_ context.Context, id string) (*engine.CodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("code %s not found", id), nil).
			WithCode(engine.ErrCodeNotFound).WithCodeID(id)
	}
	return rec.Clone(), nil
}

// BatchGet returns the records for the given ids, keyed by id.
func (s *MemoryStore) BatchGet(_ context.Context, ids []string) (map[string]*engine.CodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*engine.CodeRecord, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			result[id] = rec.Clone()
		}
	}
	return result, nil
}

// Put writes a full record unconditionally.
func (s *MemoryStore) Put(_ context.Context, rec *engine.CodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec.Clone()
	return nil
}

// BatchPut writes the given records unconditionally.
func (s *MemoryStore) BatchPut(_ context.Context, records []*engine.CodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.records[rec.ID] = rec.Clone()
	}
	return nil
}

// Scan returns every record in the pool.
func (s *MemoryStore) Scan(_ context.Context) ([]*engine.CodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*engine.CodeRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec.Clone())
	}
	return records, nil
}

// Update applies a partial update guarded by the precondition, bumping the
// version and refreshing UpdatedAt on success.
func (s *MemoryStore) Update(_ context.Context, id string, update engine.RecordUpdate, pre *engine.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("code %s not found", id), nil).
			WithCode(engine.ErrCodeNotFound).WithCodeID(id)
	}

	if pre != nil {
		if pre.Status != nil && rec.Status != *pre.Status {
			return engine.NewConflictError(
				fmt.Sprintf("conditional update of code %s failed: status is %s", id, rec.Status), nil).
				WithCode(engine.ErrCodeConditionFailed).WithCodeID(id)
		}
		if pre.Version != nil && rec.Version != *pre.Version {
			return engine.NewConflictError(
				fmt.Sprintf("conditional update of code %s failed: version is %d", id, rec.Version), nil).
				WithCode(engine.ErrCodeConditionFailed).WithCodeID(id)
		}
	}

	next := rec.Clone()
	for f, v := range update.Set {
		if err := applyField(next, f, v); err != nil {
			return engine.NewPermanentError("invalid update value", err).WithCodeID(id)
		}
	}
	for _, f := range update.Remove {
		clearField(next, f)
	}
	next.Version++
	next.UpdatedAt = s.now().UTC()

	s.records[id] = next
	return nil
}

func applyField(rec *engine.CodeRecord, f engine.FieldName, v interface{}) error {
	switch f {
	case engine.FieldStatus:
		st, err := fieldAsStatus(f, v)
		if err != nil {
			return err
		}
		rec.Status = st
	case engine.FieldResourceRef:
		s, err := fieldAsString(f, v)
		if err != nil {
			return err
		}
		rec.ResourceRef = s
	case engine.FieldResourceName:
		s, err := fieldAsString(f, v)
		if err != nil {
			return err
		}
		rec.ResourceName = s
	case engine.FieldCreatedAt:
		t, err := fieldAsTime(f, v)
		if err != nil {
			return err
		}
		rec.CreatedAt = &t
	case engine.FieldLastSyncAt:
		t, err := fieldAsTime(f, v)
		if err != nil {
			return err
		}
		rec.LastSyncAt = &t
	case engine.FieldOutputs:
		outs, err := fieldAsOutputs(f, v)
		if err != nil {
			return err
		}
		rec.Outputs = outs
	case engine.FieldSyncError:
		s, err := fieldAsString(f, v)
		if err != nil {
			return err
		}
		rec.SyncError = s
	default:
		return fmt.Errorf("unknown field %s", f)
	}
	return nil
}

func clearField(rec *engine.CodeRecord, f engine.FieldName) {
	switch f {
	case engine.FieldResourceRef:
		rec.ResourceRef = ""
	case engine.FieldResourceName:
		rec.ResourceName = ""
	case engine.FieldCreatedAt:
		rec.CreatedAt = nil
	case engine.FieldLastSyncAt:
		rec.LastSyncAt = nil
	case engine.FieldOutputs:
		rec.Outputs = nil
	case engine.FieldSyncError:
		rec.SyncError = ""
	}
}
