package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists encounters. Update is compare-and-set on Version: it
// fails with flow.ErrStaleState when the stored version differs from
// e.Version, and increments e.Version on success.
type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	ListActive(ctx context.Context, pool string, kind Kind) ([]*Encounter, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error)
	ListDueNoShows(ctx context.Context, cutoff time.Time) ([]*Encounter, error)
	// Status History
	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	GetStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusHistory, error)
}
