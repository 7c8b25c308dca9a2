package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/db"
)

// Service is the resource registry. Reserve and Release keep the encounter
// link in the same unit of work as the resource change; Claim, Occupy and
// Vacate only touch the resource row and are meant to be composed by callers
// that already run inside a unit of work and update the encounter themselves.
type Service struct {
	repo   Repository
	tx     db.Transactor
	linker EncounterLinker
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger.With().Str("component", "resource_registry").Logger()}
}

// SetEncounterLinker attaches the encounter side of reservations.
func (s *Service) SetEncounterLinker(l EncounterLinker) {
	s.linker = l
}

func (s *Service) Register(ctx context.Context, r *Resource) error {
	if !validKind(r.Kind) {
		return fmt.Errorf("kind must be slot, bay or bed: %w", flow.ErrValidation)
	}
	r.Pool = strings.TrimSpace(r.Pool)
	if r.Pool == "" {
		return fmt.Errorf("pool is required: %w", flow.ErrValidation)
	}
	if r.Kind == KindBay && r.Pool != flow.ERPool {
		return fmt.Errorf("bays belong to the %s pool: %w", flow.ERPool, flow.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", flow.ErrValidation)
	}
	if r.DailyRate < 0 {
		return fmt.Errorf("daily_rate must not be negative: %w", flow.ErrValidation)
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return fmt.Errorf("ends_at must be after starts_at: %w", flow.ErrValidation)
	}
	switch r.Status {
	case "":
		r.Status = StatusAvailable
	case StatusAvailable, StatusMaintenance:
	default:
		return fmt.Errorf("new resources start available or in maintenance: %w", flow.ErrValidation)
	}
	r.CurrentEncounterID = nil
	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Resource, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, pool string) ([]*Resource, error) {
	return s.repo.ListByPool(ctx, pool)
}

// ListAvailable returns the resources of pool that can be reserved now.
func (s *Service) ListAvailable(ctx context.Context, pool string) ([]*Resource, error) {
	return s.repo.ListByStatus(ctx, pool, StatusAvailable)
}

// Reserve moves an available resource to reserved and links it to the
// encounter. Both sides commit together or not at all. A non-zero
// expectedVersion must match the resource's current version.
func (s *Service) Reserve(ctx context.Context, resourceID, encounterID uuid.UUID, expectedVersion int) (*Resource, error) {
	var out *Resource
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetByID(ctx, resourceID)
		if err != nil {
			return err
		}
		if err := checkVersion(cur, expectedVersion); err != nil {
			return err
		}
		res, err := s.Claim(ctx, resourceID, encounterID)
		if err != nil {
			return err
		}
		if s.linker != nil {
			if err := s.linker.LinkResource(ctx, encounterID, resourceID); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release moves a reserved or occupied resource to cleaning and clears both
// sides of the link. Releasing a resource that is already cleaning is a
// no-op that returns its current state. A non-zero expectedVersion must
// match the resource's current version.
func (s *Service) Release(ctx context.Context, resourceID uuid.UUID, expectedVersion int) (*Resource, error) {
	var out *Resource
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.repo.GetByID(ctx, resourceID)
		if err != nil {
			return err
		}
		if res.Status == StatusCleaning {
			out = res
			return nil
		}
		if err := checkVersion(res, expectedVersion); err != nil {
			return err
		}
		if !res.Status.Held() || res.CurrentEncounterID == nil {
			return fmt.Errorf("release resource in status %s: %w", res.Status, flow.ErrInvalidTransition)
		}
		encounterID := *res.CurrentEncounterID
		res, err = s.Vacate(ctx, resourceID, encounterID)
		if err != nil {
			return err
		}
		if s.linker != nil {
			if err := s.linker.UnlinkResource(ctx, encounterID, resourceID); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkVersion(res *Resource, expected int) error {
	if expected != 0 && expected != res.Version {
		return fmt.Errorf("resource %s is at version %d, expected %d: %w", res.ID, res.Version, expected, flow.ErrStaleState)
	}
	return nil
}

// Claim reserves the resource row for encounterID without touching the
// encounter.
func (s *Service) Claim(ctx context.Context, resourceID, encounterID uuid.UUID) (*Resource, error) {
	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusAvailable {
		return nil, fmt.Errorf("resource %s is %s: %w", res.ID, res.Status, flow.ErrResourceUnavailable)
	}
	held, err := s.repo.FindByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if len(held) > 0 {
		return nil, fmt.Errorf("encounter %s already holds resource %s: %w", encounterID, held[0].ID, flow.ErrResourceUnavailable)
	}
	res.Status = StatusReserved
	res.CurrentEncounterID = &encounterID
	if err := s.repo.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Occupy moves a resource reserved for encounterID to occupied.
func (s *Service) Occupy(ctx context.Context, resourceID, encounterID uuid.UUID) (*Resource, error) {
	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res.CurrentEncounterID == nil || *res.CurrentEncounterID != encounterID {
		return nil, fmt.Errorf("resource %s is not held by encounter %s: %w", res.ID, encounterID, flow.ErrResourceUnavailable)
	}
	switch res.Status {
	case StatusOccupied:
		return res, nil
	case StatusReserved:
	default:
		return nil, fmt.Errorf("occupy resource in status %s: %w", res.Status, flow.ErrInvalidTransition)
	}
	res.Status = StatusOccupied
	if err := s.repo.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Vacate moves a resource held by encounterID to cleaning without touching
// the encounter.
func (s *Service) Vacate(ctx context.Context, resourceID, encounterID uuid.UUID) (*Resource, error) {
	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !res.Status.Held() {
		if res.Status == StatusCleaning {
			return res, nil
		}
		return nil, fmt.Errorf("vacate resource in status %s: %w", res.Status, flow.ErrInvalidTransition)
	}
	if res.CurrentEncounterID == nil || *res.CurrentEncounterID != encounterID {
		s.logger.Error().
			Str("resource_id", res.ID.String()).
			Str("encounter_id", encounterID.String()).
			Msg("resource link does not match encounter")
		return nil, fmt.Errorf("resource %s is not linked to encounter %s: %w", res.ID, encounterID, flow.ErrIntegrityViolation)
	}
	res.Status = StatusCleaning
	res.CurrentEncounterID = nil
	if err := s.repo.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkClean is the housekeeping event that returns a cleaned resource to the
// available pool.
func (s *Service) MarkClean(ctx context.Context, resourceID uuid.UUID) (*Resource, error) {
	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case StatusAvailable:
		return res, nil
	case StatusCleaning:
	default:
		return nil, fmt.Errorf("mark clean resource in status %s: %w", res.Status, flow.ErrInvalidTransition)
	}
	res.Status = StatusAvailable
	if err := s.repo.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SetMaintenance takes a free resource out of service, or returns it.
func (s *Service) SetMaintenance(ctx context.Context, resourceID uuid.UUID, on bool) (*Resource, error) {
	res, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	want := StatusAvailable
	if on {
		want = StatusMaintenance
	}
	if res.Status == want {
		return res, nil
	}
	if on && res.Status != StatusAvailable && res.Status != StatusCleaning {
		return nil, fmt.Errorf("resource %s is %s: %w", res.ID, res.Status, flow.ErrResourceUnavailable)
	}
	if !on && res.Status != StatusMaintenance {
		return nil, fmt.Errorf("resource %s is %s: %w", res.ID, res.Status, flow.ErrInvalidTransition)
	}
	res.Status = want
	if err := s.repo.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// WardOccupancy aggregates the ward's beds on every call.
func (s *Service) WardOccupancy(ctx context.Context, wardID string) (WardOccupancy, error) {
	beds, err := s.repo.ListByPool(ctx, wardID)
	if err != nil {
		return WardOccupancy{}, err
	}
	occ := Tally(wardID, beds)
	if occ.Total == 0 {
		return occ, fmt.Errorf("ward %s has no beds: %w", wardID, flow.ErrNotFound)
	}
	return occ, nil
}
