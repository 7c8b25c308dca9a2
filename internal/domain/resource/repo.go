package resource

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists resources. Update is compare-and-set on Version: it
// fails with flow.ErrStaleState when the stored version differs from
// r.Version, and increments r.Version on success.
type Repository interface {
	Create(ctx context.Context, r *Resource) error
	GetByID(ctx context.Context, id uuid.UUID) (*Resource, error)
	Update(ctx context.Context, r *Resource) error
	ListByPool(ctx context.Context, pool string) ([]*Resource, error)
	ListByStatus(ctx context.Context, pool string, status Status) ([]*Resource, error)
	FindByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Resource, error)
}

// EncounterLinker keeps Encounter.resource_ref in step with the resource
// side of a reservation. It is implemented by the encounter package.
type EncounterLinker interface {
	LinkResource(ctx context.Context, encounterID, resourceID uuid.UUID) error
	UnlinkResource(ctx context.Context, encounterID, resourceID uuid.UUID) error
}
