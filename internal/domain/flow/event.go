package flow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusChanged is emitted after every committed encounter transition.
type StatusChanged struct {
	EncounterID uuid.UUID  `json:"encounter_id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	Kind        string     `json:"kind"`
	Pool        string     `json:"pool"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Event       string     `json:"event"`
	Version     int        `json:"version"`
	ResourceRef *uuid.UUID `json:"resource_ref,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Publisher delivers StatusChanged notifications to interested parties.
type Publisher interface {
	Publish(ctx context.Context, evt StatusChanged) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt StatusChanged) error

func (f PublisherFunc) Publish(ctx context.Context, evt StatusChanged) error {
	return f(ctx, evt)
}

// NopPublisher discards every notification.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusChanged) error { return nil }
