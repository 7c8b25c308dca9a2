// Package events fans status change notifications out to the live queue
// board, downstream collaborators and anything else that subscribes.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/flow"
)

// Bus is an in-process flow.Publisher that forwards every notification to
// each attached subscriber in order. A failing subscriber does not stop the
// others.
type Bus struct {
	mu     sync.RWMutex
	subs   []namedPublisher
	logger zerolog.Logger
}

type namedPublisher struct {
	name string
	pub  flow.Publisher
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger.With().Str("component", "event_bus").Logger()}
}

// Attach adds a subscriber. name only appears in logs.
func (b *Bus) Attach(name string, p flow.Publisher) {
	b.mu.Lock()
	b.subs = append(b.subs, namedPublisher{name: name, pub: p})
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, evt flow.StatusChanged) error {
	b.mu.RLock()
	subs := append([]namedPublisher(nil), b.subs...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.pub.Publish(ctx, evt); err != nil {
			b.logger.Warn().Err(err).
				Str("subscriber", s.name).
				Str("encounter_id", evt.EncounterID.String()).
				Msg("deliver status change")
			errs = append(errs, err)
		}
	}
	b.logger.Debug().
		Str("encounter_id", evt.EncounterID.String()).
		Str("pool", evt.Pool).
		Str("from", evt.From).
		Str("to", evt.To).
		Msg("status change published")
	return errors.Join(errs...)
}
