// Package admission is the admission controller: it moves patients from the
// ER or a consultation into a ward bed, between wards, and out again.
package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/domain/resource"
	"github.com/ehr/patientflow/internal/platform/db"
)

// Encounters is the part of the encounter store the controller drives.
type Encounters interface {
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	ListActive(ctx context.Context, pool string, kind encounter.Kind) ([]*encounter.Encounter, error)
	CreateAdmission(ctx context.Context, e *encounter.Encounter) error
	Transition(ctx context.Context, id uuid.UUID, req encounter.TransitionRequest) (*encounter.Encounter, error)
	Handoff(ctx context.Context, id uuid.UUID, event string, expectedVersion int, successorID uuid.UUID) (*encounter.Encounter, error)
}

// Beds is the part of the resource registry the controller drives.
type Beds interface {
	Get(ctx context.Context, id uuid.UUID) (*resource.Resource, error)
	ListAvailable(ctx context.Context, pool string) ([]*resource.Resource, error)
	Claim(ctx context.Context, resourceID, encounterID uuid.UUID) (*resource.Resource, error)
	Occupy(ctx context.Context, resourceID, encounterID uuid.UUID) (*resource.Resource, error)
	WardOccupancy(ctx context.Context, wardID string) (resource.WardOccupancy, error)
}

type Service struct {
	enc    Encounters
	beds   Beds
	tx     db.Transactor
	logger zerolog.Logger
}

func NewService(enc Encounters, beds Beds, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{enc: enc, beds: beds, tx: tx, logger: logger.With().Str("component", "admission_controller").Logger()}
}

// Admit admits the patient of an ER case under treatment or observation, or
// of a consultation in progress, into a bed of wardID. The bed is chosen
// before anything is written; when none fits the source encounter is left
// as it was.
func (s *Service) Admit(ctx context.Context, sourceID uuid.UUID, wardID string, opts AdmitOptions) (*Admission, error) {
	wardID = strings.TrimSpace(wardID)
	if wardID == "" {
		return nil, fmt.Errorf("ward_id is required: %w", flow.ErrValidation)
	}
	src, err := s.enc.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	event, err := encounter.AdmissionEvent(src)
	if err != nil {
		return nil, err
	}
	bed, err := s.chooseBed(ctx, wardID, opts)
	if err != nil {
		return nil, err
	}

	out, err := s.placeInBed(ctx, src, wardID, bed.ID, event)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("admission_id", out.Encounter.ID.String()).
		Str("source_id", src.ID.String()).
		Str("ward", wardID).
		Str("bed", out.Bed.Name).
		Msg("patient admitted")
	return out, nil
}

// Discharge ends a stay and releases its bed. Discharging an already
// discharged admission returns it unchanged.
func (s *Service) Discharge(ctx context.Context, admissionID uuid.UUID) (*Admission, error) {
	if _, err := s.admission(ctx, admissionID); err != nil {
		return nil, err
	}
	e, err := s.enc.Transition(ctx, admissionID, encounter.TransitionRequest{Event: encounter.EventDischarge})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, e)
}

// Transfer moves a stay to a bed in targetWard. The target bed is chosen
// first and nothing changes when none fits. An empty targetWard transfers
// the patient out of the hospital. Repeating a transfer returns the stay
// that followed it.
func (s *Service) Transfer(ctx context.Context, admissionID uuid.UUID, targetWard string, opts AdmitOptions) (*Admission, error) {
	cur, err := s.admission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if cur.Status == encounter.StatusTransferred {
		if cur.SuccessorID != nil {
			return s.Get(ctx, *cur.SuccessorID)
		}
		return s.view(ctx, cur)
	}
	if cur.IsTerminal() {
		return nil, fmt.Errorf("admission %s is %s: %w", cur.ID, cur.Status, flow.ErrAlreadyTerminal)
	}

	targetWard = strings.TrimSpace(targetWard)
	if targetWard == "" {
		e, err := s.enc.Transition(ctx, cur.ID, encounter.TransitionRequest{Event: encounter.EventTransfer})
		if err != nil {
			return nil, err
		}
		return s.view(ctx, e)
	}

	bed, err := s.chooseBed(ctx, targetWard, opts)
	if err != nil {
		return nil, err
	}
	out, err := s.placeInBed(ctx, cur, targetWard, bed.ID, encounter.EventTransfer)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("from_admission", cur.ID.String()).
		Str("admission_id", out.Encounter.ID.String()).
		Str("from_ward", cur.Pool).
		Str("ward", targetWard).
		Msg("patient transferred")
	return out, nil
}

func (s *Service) Get(ctx context.Context, admissionID uuid.UUID) (*Admission, error) {
	e, err := s.admission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, e)
}

// Census combines live ward occupancy with the ward's current stays.
func (s *Service) Census(ctx context.Context, wardID string) (*Census, error) {
	occ, err := s.beds.WardOccupancy(ctx, wardID)
	if err != nil {
		return nil, err
	}
	active, err := s.enc.ListActive(ctx, wardID, encounter.KindAdmission)
	if err != nil {
		return nil, err
	}
	c := &Census{Occupancy: occ, Admissions: make([]*Admission, 0, len(active))}
	for _, e := range active {
		a, err := s.view(ctx, e)
		if err != nil {
			return nil, err
		}
		c.Admissions = append(c.Admissions, a)
	}
	return c, nil
}

// placeInBed creates the new admission, puts it in bed and closes prev with
// event, all in one unit of work. prev must still be at the version the
// caller read, otherwise a concurrent admit or transfer got there first.
func (s *Service) placeInBed(ctx context.Context, prev *encounter.Encounter, wardID string, bedID uuid.UUID, event string) (*Admission, error) {
	var out *Admission
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		adm := &encounter.Encounter{
			PatientID:         prev.PatientID,
			Pool:              wardID,
			SourceEncounterID: &prev.ID,
			ResourceRef:       &bedID,
		}
		if err := s.enc.CreateAdmission(ctx, adm); err != nil {
			return err
		}
		if _, err := s.beds.Claim(ctx, bedID, adm.ID); err != nil {
			return err
		}
		bed, err := s.beds.Occupy(ctx, bedID, adm.ID)
		if err != nil {
			return err
		}
		if _, err := s.enc.Handoff(ctx, prev.ID, event, prev.Version, adm.ID); err != nil {
			return err
		}
		out = &Admission{Encounter: adm, Bed: bed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) chooseBed(ctx context.Context, wardID string, opts AdmitOptions) (*resource.Resource, error) {
	if opts.BedID != nil {
		bed, err := s.beds.Get(ctx, *opts.BedID)
		if err != nil {
			return nil, err
		}
		if bed.Kind != resource.KindBed || bed.Pool != wardID {
			return nil, fmt.Errorf("resource %s is not a bed in ward %s: %w", bed.ID, wardID, flow.ErrValidation)
		}
		if bed.Status != resource.StatusAvailable {
			return nil, fmt.Errorf("bed %s is %s: %w", bed.Name, bed.Status, flow.ErrResourceUnavailable)
		}
		if !bed.HasFeatures(opts.Features) {
			return nil, fmt.Errorf("bed %s lacks %v: %w", bed.Name, opts.Features, flow.ErrResourceUnavailable)
		}
		return bed, nil
	}

	avail, err := s.beds.ListAvailable(ctx, wardID)
	if err != nil {
		return nil, err
	}
	bed := CheapestFit(avail, opts.Features)
	if bed == nil {
		return nil, fmt.Errorf("no available bed in ward %s: %w", wardID, flow.ErrResourceUnavailable)
	}
	return bed, nil
}

func (s *Service) admission(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	e, err := s.enc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Kind != encounter.KindAdmission {
		return nil, fmt.Errorf("encounter %s is not an admission: %w", id, flow.ErrNotFound)
	}
	return e, nil
}

func (s *Service) view(ctx context.Context, e *encounter.Encounter) (*Admission, error) {
	a := &Admission{Encounter: e}
	if e.ResourceRef != nil {
		bed, err := s.beds.Get(ctx, *e.ResourceRef)
		if err != nil {
			return nil, err
		}
		a.Bed = bed
	}
	return a, nil
}
