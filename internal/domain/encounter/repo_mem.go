package encounter

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
	mu      sync.RWMutex
	items   map[uuid.UUID]*Encounter
	history map[uuid.UUID][]*StatusHistory
}

// NewMemoryRepo returns a process-local Repository. Writes made inside a
// db.MemoryTransactor unit are undone if the unit fails.
func NewMemoryRepo() Repository {
	return &memRepo{
		items:   make(map[uuid.UUID]*Encounter),
		history: make(map[uuid.UUID][]*StatusHistory),
	}
}

func (m *memRepo) Create(ctx context.Context, e *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, exists := m.items[e.ID]; exists {
		return fmt.Errorf("encounter %s: %w", e.ID, flow.ErrValidation)
	}
	now := time.Now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	m.items[e.ID] = e.clone()

	id := e.ID
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.items[id]; ok && cur.Version == 1 {
			delete(m.items, id)
		}
	})
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("encounter %s: %w", id, flow.ErrNotFound)
	}
	return e.clone(), nil
}

func (m *memRepo) Update(ctx context.Context, e *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.items[e.ID]
	if !ok {
		return fmt.Errorf("encounter %s: %w", e.ID, flow.ErrNotFound)
	}
	if prev.Version != e.Version {
		return fmt.Errorf("encounter %s at version %d, expected %d: %w", e.ID, prev.Version, e.Version, flow.ErrStaleState)
	}
	e.Version++
	e.UpdatedAt = time.Now().UTC()
	m.items[e.ID] = e.clone()

	written := e.Version
	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.items[prev.ID]; ok && cur.Version == written {
			m.items[prev.ID] = prev
		}
	})
	return nil
}

func (m *memRepo) ListActive(_ context.Context, pool string, kind Kind) ([]*Encounter, error) {
	items := m.filter(func(e *Encounter) bool {
		return e.Pool == pool && (kind == "" || e.Kind == kind) && !e.IsTerminal()
	})
	return items, nil
}

func (m *memRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	items := m.filter(func(e *Encounter) bool {
		if f.PatientID != uuid.Nil && e.PatientID != f.PatientID {
			return false
		}
		if f.Pool != "" && e.Pool != f.Pool {
			return false
		}
		if f.Kind != "" && e.Kind != f.Kind {
			return false
		}
		if f.Status != "" && e.Status != f.Status {
			return false
		}
		return !f.ActiveOnly || !e.IsTerminal()
	})
	// newest first, like the Postgres listing
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if offset >= total {
		return []*Encounter{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (m *memRepo) ListDueNoShows(_ context.Context, cutoff time.Time) ([]*Encounter, error) {
	return m.filter(func(e *Encounter) bool {
		return e.Kind == KindAppointment &&
			(e.Status == StatusScheduled || e.Status == StatusConfirmed) &&
			e.AppointmentTime != nil && !e.AppointmentTime.After(cutoff)
	}), nil
}

func (m *memRepo) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uuid.New()
	c := *h
	m.history[h.EncounterID] = append(m.history[h.EncounterID], &c)

	db.RecordUndo(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		rows := m.history[c.EncounterID]
		for i, r := range rows {
			if r.ID == c.ID {
				m.history[c.EncounterID] = append(rows[:i:i], rows[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *memRepo) GetStatusHistory(_ context.Context, encounterID uuid.UUID) ([]*StatusHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*StatusHistory, 0, len(m.history[encounterID]))
	for _, h := range m.history[encounterID] {
		c := *h
		out = append(out, &c)
	}
	return out, nil
}

func (m *memRepo) filter(keep func(*Encounter) bool) []*Encounter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Encounter
	for _, e := range m.items {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArrivalTime.Equal(out[j].ArrivalTime) {
			return out[i].ArrivalTime.Before(out[j].ArrivalTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
