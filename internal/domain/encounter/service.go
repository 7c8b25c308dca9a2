package encounter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/domain/resource"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/internal/platform/db"
)

// DefaultNoShowTimeout is how long after its appointment time a scheduled
// or confirmed appointment may be marked as a no-show.
const DefaultNoShowTimeout = 15 * time.Minute

// Allocator is the part of the resource registry that transitions use. All
// calls are made inside the transition's unit of work.
type Allocator interface {
	Get(ctx context.Context, id uuid.UUID) (*resource.Resource, error)
	ListAvailable(ctx context.Context, pool string) ([]*resource.Resource, error)
	Claim(ctx context.Context, resourceID, encounterID uuid.UUID) (*resource.Resource, error)
	Occupy(ctx context.Context, resourceID, encounterID uuid.UUID) (*resource.Resource, error)
	Vacate(ctx context.Context, resourceID, encounterID uuid.UUID) (*resource.Resource, error)
}

// TransitionRequest is an event applied to an encounter. A zero
// ExpectedVersion skips the version check.
type TransitionRequest struct {
	Event           string     `json:"event"`
	ExpectedVersion int        `json:"expected_version"`
	TriageLevel     *int       `json:"triage_level,omitempty"`
	ResourceID      *uuid.UUID `json:"resource_id,omitempty"`
	Note            *string    `json:"note,omitempty"`
}

// Service is the encounter store. Transition is the only way an encounter's
// status changes once it exists.
type Service struct {
	repo          Repository
	tx            db.Transactor
	alloc         Allocator
	publisher     flow.Publisher
	noShowTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, alloc Allocator, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		tx:            tx,
		alloc:         alloc,
		publisher:     flow.NopPublisher{},
		noShowTimeout: DefaultNoShowTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With().Str("component", "encounter_store").Logger(),
	}
}

// SetPublisher sets where StatusChanged notifications go after commit.
func (s *Service) SetPublisher(p flow.Publisher) {
	if p == nil {
		p = flow.NopPublisher{}
	}
	s.publisher = p
}

func (s *Service) SetNoShowTimeout(d time.Duration) {
	s.noShowTimeout = d
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new appointment or ER case in its initial status. An
// appointment carrying a ResourceRef is booked against that slot, and the
// slot is reserved in the same unit of work.
func (s *Service) Create(ctx context.Context, e *Encounter) error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required: %w", flow.ErrValidation)
	}
	e.Pool = strings.TrimSpace(e.Pool)
	switch e.Kind {
	case KindAppointment:
		if e.Pool == "" {
			return fmt.Errorf("pool is required: %w", flow.ErrValidation)
		}
		if e.Pool == flow.ERPool {
			return fmt.Errorf("appointments cannot be booked into the %s pool: %w", flow.ERPool, flow.ErrValidation)
		}
		if e.AppointmentTime == nil {
			return fmt.Errorf("appointment_time is required: %w", flow.ErrValidation)
		}
		t := e.AppointmentTime.UTC()
		e.AppointmentTime = &t
		e.TriageLevel = nil
	case KindERCase:
		if e.Pool != "" && e.Pool != flow.ERPool {
			return fmt.Errorf("ER cases belong to the %s pool: %w", flow.ERPool, flow.ErrValidation)
		}
		e.Pool = flow.ERPool
		if e.TriageLevel != nil {
			return fmt.Errorf("triage_level is set by the triage event: %w", flow.ErrValidation)
		}
		if e.ResourceRef != nil {
			return fmt.Errorf("ER bays are assigned when treatment starts: %w", flow.ErrValidation)
		}
		e.AppointmentTime = nil
	case KindAdmission:
		return fmt.Errorf("admissions are created by the admission controller: %w", flow.ErrValidation)
	default:
		return fmt.Errorf("kind must be appointment or er_case: %w", flow.ErrValidation)
	}

	now := s.now()
	e.ID = uuid.New()
	e.Status = InitialStatus(e.Kind)
	e.ArrivalTime = now
	e.StatusChangedAt = now
	e.SourceEncounterID = nil
	e.SuccessorID = nil

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slotID := e.ResourceRef
		if slotID != nil {
			if err := s.checkResource(ctx, *slotID, resource.KindSlot, e.Pool); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		if slotID != nil {
			if _, err := s.alloc.Claim(ctx, *slotID, e.ID); err != nil {
				return err
			}
		}
		return s.recorded(ctx, e, "", "create")
	})
}

// CreateAdmission stores an admission encounter. It is called by the
// admission controller inside its own unit of work, after the bed has been
// chosen and before it is claimed.
func (s *Service) CreateAdmission(ctx context.Context, e *Encounter) error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required: %w", flow.ErrValidation)
	}
	if e.Pool == "" {
		return fmt.Errorf("ward is required: %w", flow.ErrValidation)
	}
	now := s.now()
	e.ID = uuid.New()
	e.Kind = KindAdmission
	e.Status = InitialStatus(KindAdmission)
	e.TriageLevel = nil
	e.AppointmentTime = nil
	e.SuccessorID = nil
	e.ArrivalTime = now
	e.StatusChangedAt = now

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		return s.recorded(ctx, e, "", "admit")
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns the non-terminal encounters of a pool. An empty kind
// returns every kind.
func (s *Service) ListActive(ctx context.Context, pool string, kind Kind) ([]*Encounter, error) {
	return s.repo.ListActive(ctx, pool, kind)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.Search(ctx, f, limit, offset)
}

// History returns the status history of an encounter, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, id)
}

// Transition applies one lifecycle event. The admit event is reserved for
// the admission controller, which uses Handoff.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, req TransitionRequest) (*Encounter, error) {
	if req.Event == EventAdmit {
		return nil, fmt.Errorf("admit is performed through the admission controller: %w", flow.ErrInvalidTransition)
	}
	return s.apply(ctx, id, req, nil)
}

// Handoff closes an encounter with event and records the encounter that
// continues the patient's care. Used for admit, for completing an appointment
// that turns into an admission, and for transfers between wards.
//
// A handoff is never treated as a repeated command: an encounter that is
// already terminal, or no longer at expectedVersion, fails so the caller's
// unit of work rolls back the successor it created.
func (s *Service) Handoff(ctx context.Context, id uuid.UUID, event string, expectedVersion int, successorID uuid.UUID) (*Encounter, error) {
	return s.apply(ctx, id, TransitionRequest{Event: event, ExpectedVersion: expectedVersion}, &successorID)
}

// AdmissionEvent returns the event that closes e when the patient is
// admitted: admit for an ER case under treatment or observation, complete
// for an appointment in progress.
func AdmissionEvent(e *Encounter) (string, error) {
	if e.IsTerminal() {
		return "", fmt.Errorf("encounter %s is %s: %w", e.ID, e.Status, flow.ErrAlreadyTerminal)
	}
	switch {
	case e.Kind == KindERCase && (e.Status == StatusTreatment || e.Status == StatusObservation):
		return EventAdmit, nil
	case e.Kind == KindAppointment && e.Status == StatusInProgress:
		return EventComplete, nil
	}
	return "", fmt.Errorf("%s in status %s cannot be admitted: %w", e.Kind, e.Status, flow.ErrInvalidTransition)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, req TransitionRequest, successorID *uuid.UUID) (*Encounter, error) {
	var out *Encounter
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		r, known := lookupRule(e.Kind, req.Event)

		handoff := successorID != nil
		if handoff && req.ExpectedVersion != 0 && req.ExpectedVersion != e.Version {
			return fmt.Errorf("encounter %s is at version %d, expected %d: %w", e.ID, e.Version, req.ExpectedVersion, flow.ErrStaleState)
		}
		if e.IsTerminal() {
			if !handoff && known && r.to == e.Status {
				out = e
				return nil
			}
			return fmt.Errorf("encounter %s is %s: %w", e.ID, e.Status, flow.ErrAlreadyTerminal)
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != e.Version {
			return fmt.Errorf("encounter %s is at version %d, expected %d: %w", e.ID, e.Version, req.ExpectedVersion, flow.ErrStaleState)
		}
		if !known || !r.allows(e.Status) {
			return fmt.Errorf("%s %s from %s: %w", e.Kind, req.Event, e.Status, flow.ErrInvalidTransition)
		}

		from := e.Status
		now := s.now()
		if err := s.effects(ctx, e, req, now); err != nil {
			return err
		}
		if IsTerminal(e.Kind, r.to) && e.ResourceRef != nil {
			if _, err := s.alloc.Vacate(ctx, *e.ResourceRef, e.ID); err != nil {
				return err
			}
			e.ResourceRef = nil
		}
		if successorID != nil {
			e.SuccessorID = successorID
		}
		if req.Note != nil {
			e.Note = req.Note
		}
		e.Status = r.to
		e.StatusChangedAt = now
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		if err := s.recorded(ctx, e, from, req.Event); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// effects runs the event specific guards and resource moves before the
// status is written.
func (s *Service) effects(ctx context.Context, e *Encounter, req TransitionRequest, now time.Time) error {
	switch req.Event {
	case EventCheckIn:
		e.ArrivalTime = now

	case EventNoShow:
		if e.AppointmentTime == nil || now.Before(e.AppointmentTime.Add(s.noShowTimeout)) {
			return fmt.Errorf("appointment %s is not overdue yet: %w", e.ID, flow.ErrInvalidTransition)
		}

	case EventStartConsultation:
		active, err := s.repo.ListActive(ctx, e.Pool, KindAppointment)
		if err != nil {
			return err
		}
		for _, other := range active {
			if other.ID != e.ID && other.Status == StatusInProgress {
				return fmt.Errorf("pool %s is already serving encounter %s: %w", e.Pool, other.ID, flow.ErrInvalidTransition)
			}
		}
		return s.allocate(ctx, e, resource.KindSlot, req.ResourceID)

	case EventTriage:
		if req.TriageLevel == nil || !ValidTriageLevel(*req.TriageLevel) {
			return fmt.Errorf("triage_level must be between 1 and 5: %w", flow.ErrValidation)
		}
		level := *req.TriageLevel
		e.TriageLevel = &level

	case EventStartTreatment:
		return s.allocate(ctx, e, resource.KindBay, req.ResourceID)
	}
	return nil
}

// allocate makes sure e occupies a resource of kind in its pool: the one it
// already holds, the requested one, or the first available one.
func (s *Service) allocate(ctx context.Context, e *Encounter, kind resource.Kind, requested *uuid.UUID) error {
	if e.ResourceRef != nil {
		if requested != nil && *requested != *e.ResourceRef {
			return fmt.Errorf("encounter %s already holds resource %s: %w", e.ID, *e.ResourceRef, flow.ErrValidation)
		}
		if err := s.checkResource(ctx, *e.ResourceRef, kind, e.Pool); err != nil {
			return err
		}
		_, err := s.alloc.Occupy(ctx, *e.ResourceRef, e.ID)
		return err
	}

	var target uuid.UUID
	if requested != nil {
		if err := s.checkResource(ctx, *requested, kind, e.Pool); err != nil {
			return err
		}
		target = *requested
	} else {
		picked, err := s.pick(ctx, kind, e.Pool)
		if err != nil {
			return err
		}
		target = picked.ID
	}
	if _, err := s.alloc.Claim(ctx, target, e.ID); err != nil {
		return err
	}
	if _, err := s.alloc.Occupy(ctx, target, e.ID); err != nil {
		return err
	}
	e.ResourceRef = &target
	return nil
}

// pick returns the first available resource of kind in pool. Slots are
// taken in start time order, everything else by name.
func (s *Service) pick(ctx context.Context, kind resource.Kind, pool string) (*resource.Resource, error) {
	avail, err := s.alloc.ListAvailable(ctx, pool)
	if err != nil {
		return nil, err
	}
	var candidates []*resource.Resource
	for _, r := range avail {
		if r.Kind == kind {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no available %s in pool %s: %w", kind, pool, flow.ErrResourceUnavailable)
	}
	if kind == resource.KindSlot {
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i].StartsAt, candidates[j].StartsAt
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			}
			return a.Before(*b)
		})
	}
	return candidates[0], nil
}

func (s *Service) checkResource(ctx context.Context, id uuid.UUID, kind resource.Kind, pool string) error {
	res, err := s.alloc.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.Kind != kind || res.Pool != pool {
		return fmt.Errorf("resource %s is a %s in pool %s, need a %s in pool %s: %w",
			res.ID, res.Kind, res.Pool, kind, pool, flow.ErrValidation)
	}
	return nil
}

// recorded writes the status history row and queues the StatusChanged
// notification for after commit.
func (s *Service) recorded(ctx context.Context, e *Encounter, from, event string) error {
	h := &StatusHistory{
		EncounterID: e.ID,
		FromStatus:  from,
		ToStatus:    e.Status,
		Event:       event,
		Version:     e.Version,
		ChangedAt:   e.StatusChangedAt,
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		h.ChangedBy = &uid
	}
	if err := s.repo.AddStatusHistory(ctx, h); err != nil {
		return err
	}

	evt := flow.StatusChanged{
		EncounterID: e.ID,
		PatientID:   e.PatientID,
		Kind:        string(e.Kind),
		Pool:        e.Pool,
		From:        from,
		To:          e.Status,
		Event:       event,
		Version:     e.Version,
		ResourceRef: e.ResourceRef,
		OccurredAt:  e.StatusChangedAt,
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn().Err(err).
				Str("encounter_id", evt.EncounterID.String()).
				Str("to", evt.To).
				Msg("publish status change")
		}
	})
	return nil
}

// SweepNoShows marks every overdue scheduled or confirmed appointment as a
// no-show and returns how many were marked. Appointments changed by someone
// else in the meantime are skipped.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	due, err := s.repo.ListDueNoShows(ctx, s.now().Add(-s.noShowTimeout))
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, e := range due {
		_, err := s.apply(ctx, e.ID, TransitionRequest{Event: EventNoShow, ExpectedVersion: e.Version}, nil)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, flow.ErrStaleState), errors.Is(err, flow.ErrInvalidTransition), errors.Is(err, flow.ErrAlreadyTerminal):
			s.logger.Debug().Err(err).Str("encounter_id", e.ID.String()).Msg("no-show skipped")
		default:
			return marked, err
		}
	}
	if marked > 0 {
		s.logger.Info().Int("marked", marked).Msg("no-show sweep")
	}
	return marked, nil
}
