package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/domain/resource"
)

// LinkResource sets resource_ref for a reservation made through the
// resource registry. It implements resource.EncounterLinker.
func (s *Service) LinkResource(ctx context.Context, encounterID, resourceID uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, encounterID)
	if err != nil {
		return err
	}
	if e.IsTerminal() {
		return fmt.Errorf("encounter %s is %s: %w", e.ID, e.Status, flow.ErrAlreadyTerminal)
	}
	if e.ResourceRef != nil {
		if *e.ResourceRef == resourceID {
			return nil
		}
		return fmt.Errorf("encounter %s already holds resource %s: %w", e.ID, *e.ResourceRef, flow.ErrResourceUnavailable)
	}
	if err := s.checkResource(ctx, resourceID, ResourceKindFor(e.Kind), e.Pool); err != nil {
		return err
	}
	e.ResourceRef = &resourceID
	return s.repo.Update(ctx, e)
}

// ResourceKindFor returns the kind of resource an encounter of kind k may
// hold: a slot for an appointment, a bay for an ER case, a bed for an
// admission. The resource must also be in the encounter's pool.
func ResourceKindFor(k Kind) resource.Kind {
	switch k {
	case KindAppointment:
		return resource.KindSlot
	case KindERCase:
		return resource.KindBay
	}
	return resource.KindBed
}

// UnlinkResource clears resource_ref when the registry releases the
// resource. Nothing happens if the encounter points elsewhere.
func (s *Service) UnlinkResource(ctx context.Context, encounterID, resourceID uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, encounterID)
	if err != nil {
		return err
	}
	if e.ResourceRef == nil || *e.ResourceRef != resourceID {
		return nil
	}
	e.ResourceRef = nil
	return s.repo.Update(ctx, e)
}
