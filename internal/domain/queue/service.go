// Package queue computes who is served next in a pool. Queues are derived
// from the encounter store on every call and never stored.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/flow"
)

// Source lists the active encounters of a pool.
type Source interface {
	ListActive(ctx context.Context, pool string, kind encounter.Kind) ([]*encounter.Encounter, error)
}

// Entry is one position in a queue.
type Entry struct {
	Encounter *encounter.Encounter `json:"encounter"`
	Position  int                  `json:"position"`
	// WaitTime is zero for appointments whose patient has not checked in.
	WaitTime time.Duration `json:"-"`
	WaitSecs int64         `json:"wait_seconds"`
}

type Service struct {
	src    Source
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(src Source, logger zerolog.Logger) *Service {
	return &Service{
		src:    src,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "queue_sequencer").Logger(),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OrderedQueue returns the pool in service order. The ER pool holds the
// waiting and triaged cases; any other pool is a doctor's appointment list.
func (s *Service) OrderedQueue(ctx context.Context, pool string) ([]Entry, error) {
	if pool == "" {
		return nil, fmt.Errorf("pool is required: %w", flow.ErrValidation)
	}
	items, err := s.load(ctx, pool)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Entry, 0, len(items))
	for i, e := range items {
		wait := time.Duration(0)
		if arrived(e) {
			wait = now.Sub(e.ArrivalTime)
			if wait < 0 {
				wait = 0
			}
		}
		out = append(out, Entry{Encounter: e, Position: i + 1, WaitTime: wait, WaitSecs: int64(wait / time.Second)})
	}
	return out, nil
}

// NextFor returns the first encounter in the pool that is not already being
// served, or nil when there is none.
func (s *Service) NextFor(ctx context.Context, pool string) (*encounter.Encounter, error) {
	entries, err := s.OrderedQueue(ctx, pool)
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		if en.Encounter.Status != encounter.StatusInProgress {
			return en.Encounter, nil
		}
	}
	return nil, nil
}

func (s *Service) load(ctx context.Context, pool string) ([]*encounter.Encounter, error) {
	if pool == flow.ERPool {
		all, err := s.src.ListActive(ctx, pool, encounter.KindERCase)
		if err != nil {
			return nil, err
		}
		var board []*encounter.Encounter
		for _, e := range all {
			if e.Status == encounter.StatusWaiting || e.Status == encounter.StatusTriage {
				board = append(board, e)
			}
		}
		SortER(board)
		return board, nil
	}

	items, err := s.src.ListActive(ctx, pool, encounter.KindAppointment)
	if err != nil {
		return nil, err
	}
	serving := 0
	for _, e := range items {
		if e.Status == encounter.StatusInProgress {
			serving++
		}
	}
	if serving > 1 {
		s.logger.Error().Str("pool", pool).Int("in_progress", serving).Msg("more than one consultation in progress")
		return nil, fmt.Errorf("pool %s has %d consultations in progress: %w", pool, serving, flow.ErrIntegrityViolation)
	}
	SortAppointments(items)
	return items, nil
}

func arrived(e *encounter.Encounter) bool {
	return e.Kind != encounter.KindAppointment ||
		e.Status == encounter.StatusCheckedIn || e.Status == encounter.StatusInProgress
}
