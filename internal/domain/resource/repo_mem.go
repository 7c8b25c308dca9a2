package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/db"
)

type memRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Resource
}

// NewMemoryRepo returns a process-local Repository. Writes made inside a
// db.MemoryTransactor unit are undone if the unit fails.
func NewMemoryRepo() Repository {
	return &memRepo{items: make(map[uuid.UUID]*Resource)}
}

func (m *memRepo) Create(ctx context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, exists := m.items[r.ID]; exists {
		return fmt.Errorf("resource %s: %w", r.ID, flow.ErrValidation)
	}
	now := time.Now().UTC()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	m.items[r.ID] = r.clone()

	id := r.ID
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.items[id]; ok && cur.Version == 1 {
			delete(m.items, id)
		}
	})
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, flow.ErrNotFound)
	}
	return r.clone(), nil
}

func (m *memRepo) Update(ctx context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.items[r.ID]
	if !ok {
		return fmt.Errorf("resource %s: %w", r.ID, flow.ErrNotFound)
	}
	if prev.Version != r.Version {
		return fmt.Errorf("resource %s at version %d, expected %d: %w", r.ID, prev.Version, r.Version, flow.ErrStaleState)
	}
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	m.items[r.ID] = r.clone()

	written := r.Version
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.items[prev.ID]; ok && cur.Version == written {
			m.items[prev.ID] = prev
		}
	})
	return nil
}

func (m *memRepo) ListByPool(_ context.Context, pool string) ([]*Resource, error) {
	return m.filter(func(r *Resource) bool { return r.Pool == pool }), nil
}

func (m *memRepo) ListByStatus(_ context.Context, pool string, status Status) ([]*Resource, error) {
	return m.filter(func(r *Resource) bool {
		return (pool == "" || r.Pool == pool) && r.Status == status
	}), nil
}

func (m *memRepo) FindByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Resource, error) {
	return m.filter(func(r *Resource) bool {
		return r.CurrentEncounterID != nil && *r.CurrentEncounterID == encounterID
	}), nil
}

func (m *memRepo) filter(keep func(*Resource) bool) []*Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Resource
	for _, r := range m.items {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
