package rowlevel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/ids"
)

// Record is a minimal owner-scoped CRM row. Business columns live in Payload.
type Record struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	OwnerUserID string          `json:"owner_user_id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RecordStore persists records. Implementations must apply scope to every
// statement they run.
type RecordStore interface {
	ListRecords(ctx context.Context, scope Scope, kind Kind, limit int) ([]Record, error)
	GetRecord(ctx context.Context, scope Scope, kind Kind, id string) (Record, error)
	InsertRecord(ctx context.Context, scope Scope, rec Record) (Record, error)
	UpdateRecord(ctx context.Context, scope Scope, rec Record) (Record, error)
	DeleteRecord(ctx context.Context, scope Scope, kind Kind, id string) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Records is the CRUD entry point the CRM layer calls.
type Records struct {
	guard *Guard
	store RecordStore
}

func NewRecords(guard *Guard, store RecordStore) (*Records, error) {
	if guard == nil || store == nil {
		return nil, errors.New("guard and record store are required")
	}
	return &Records{guard: guard, store: store}, nil
}

func (r *Records) List(ctx context.Context, viewerID string, kind Kind, limit int) ([]Record, error) {
	scope, err := r.guard.Scope(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	recs, err := r.store.ListRecords(ctx, scope, kind, limit)
	if err != nil {
		return nil, err
	}
	return Filter(scope, recs, func(rec Record) string { return rec.OwnerUserID }), nil
}

func (r *Records) Get(ctx context.Context, viewerID string, kind Kind, id string) (Record, error) {
	scope, err := r.guard.Scope(ctx, viewerID)
	if err != nil {
		return Record{}, err
	}
	return r.get(ctx, scope, kind, id)
}

// get reports rows outside scope, and ids New never produces, as missing.
func (r *Records) get(ctx context.Context, scope Scope, kind Kind, id string) (Record, error) {
	if !ids.Valid(id) {
		return Record{}, fmt.Errorf("%w: record %s", access.ErrNotFound, id)
	}
	rec, err := r.store.GetRecord(ctx, scope, kind, id)
	if err != nil {
		return Record{}, err
	}
	if !scope.CanRead(rec.OwnerUserID) {
		return Record{}, fmt.Errorf("%w: record %s", access.ErrNotFound, id)
	}
	return rec, nil
}

// Create inserts rec owned by the viewer. A blank owner defaults to the viewer.
func (r *Records) Create(ctx context.Context, viewerID string, rec Record) (Record, error) {
	scope, err := r.guard.Scope(ctx, viewerID)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerUserID == "" {
		rec.OwnerUserID = scope.ViewerID
	}
	if err := scope.CheckInsert(rec.OwnerUserID); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(rec.Name) == "" {
		return Record{}, fmt.Errorf("%w: name is required", access.ErrInvalidInput)
	}
	return r.store.InsertRecord(ctx, scope, rec)
}

// Update rewrites name and payload. Ownership never changes here.
func (r *Records) Update(ctx context.Context, viewerID string, rec Record) (Record, error) {
	scope, err := r.guard.Scope(ctx, viewerID)
	if err != nil {
		return Record{}, err
	}
	current, err := r.get(ctx, scope, rec.Kind, rec.ID)
	if err != nil {
		return Record{}, err
	}
	rec.OwnerUserID = current.OwnerUserID
	if strings.TrimSpace(rec.Name) == "" {
		rec.Name = current.Name
	}
	return r.store.UpdateRecord(ctx, scope, rec)
}

func (r *Records) Delete(ctx context.Context, viewerID string, kind Kind, id string) error {
	scope, err := r.guard.Scope(ctx, viewerID)
	if err != nil {
		return err
	}
	if _, err := r.get(ctx, scope, kind, id); err != nil {
		return err
	}
	return r.store.DeleteRecord(ctx, scope, kind, id)
}

// MemoryRecords is an in-process RecordStore. It trusts its callers to pass a
// resolved scope and filters reads by it the same way the SQL predicate does.
type MemoryRecords struct {
	mu   sync.RWMutex
	rows map[string]Record
}

var _ RecordStore = (*MemoryRecords)(nil)

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{rows: make(map[string]Record)}
}

func (m *MemoryRecords) ListRecords(_ context.Context, scope Scope, kind Kind, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.rows {
		if rec.Kind == kind && scope.CanRead(rec.OwnerUserID) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRecords) GetRecord(_ context.Context, scope Scope, kind Kind, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rows[id]
	if !ok || rec.Kind != kind || !scope.CanRead(rec.OwnerUserID) {
		return Record{}, fmt.Errorf("%w: record %s", access.ErrNotFound, id)
	}
	return rec, nil
}

func (m *MemoryRecords) InsertRecord(_ context.Context, scope Scope, rec Record) (Record, error) {
	if err := scope.CheckInsert(rec.OwnerUserID); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rec.ID = ids.New()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.rows[rec.ID] = rec
	return rec, nil
}

func (m *MemoryRecords) UpdateRecord(_ context.Context, scope Scope, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[rec.ID]
	if !ok || current.Kind != rec.Kind || !scope.CanRead(current.OwnerUserID) {
		return Record{}, fmt.Errorf("%w: record %s", access.ErrNotFound, rec.ID)
	}
	current.Name = rec.Name
	if rec.Payload != nil {
		current.Payload = rec.Payload
	}
	current.UpdatedAt = time.Now().UTC()
	m.rows[rec.ID] = current
	return current, nil
}

func (m *MemoryRecords) DeleteRecord(_ context.Context, scope Scope, kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[id]
	if !ok || current.Kind != kind || !scope.CanRead(current.OwnerUserID) {
		return fmt.Errorf("%w: record %s", access.ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}
