package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/flow"
)

// -- Mock Source --

type mockSource struct {
	items []*encounter.Encounter
	err   error
}

func (m *mockSource) ListActive(_ context.Context, pool string, kind encounter.Kind) ([]*encounter.Encounter, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*encounter.Encounter
	for _, e := range m.items {
		if e.Pool == pool && e.Kind == kind && !e.IsTerminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time { return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute) }

func appt(status string, arrived, booked time.Time) *encounter.Encounter {
	return &encounter.Encounter{
		ID: uuid.New(), PatientID: uuid.New(), Kind: encounter.KindAppointment, Pool: "dr-a",
		Status: status, ArrivalTime: arrived, AppointmentTime: &booked,
	}
}

func erCase(level *int, arrived time.Time) *encounter.Encounter {
	status := encounter.StatusWaiting
	if level != nil {
		status = encounter.StatusTriage
	}
	return &encounter.Encounter{
		ID: uuid.New(), PatientID: uuid.New(), Kind: encounter.KindERCase, Pool: flow.ERPool,
		Status: status, TriageLevel: level, ArrivalTime: arrived,
	}
}

func lvl(v int) *int { return &v }

func newTestService(items ...*encounter.Encounter) *Service {
	svc := NewService(&mockSource{items: items}, zerolog.Nop())
	svc.SetClock(func() time.Time { return at(10, 30) })
	return svc
}

func assertOrder(t *testing.T, got []Entry, want ...*encounter.Encounter) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Encounter.ID != w.ID {
			t.Errorf("position %d: expected %s, got %s", i+1, w.ID, got[i].Encounter.ID)
		}
		if got[i].Position != i+1 {
			t.Errorf("position %d: entry says %d", i+1, got[i].Position)
		}
	}
}

func TestOrderedQueue_DoctorPool(t *testing.T) {
	a := appt(encounter.StatusCheckedIn, at(9, 0), at(9, 15))
	b := appt(encounter.StatusScheduled, at(8, 0), at(9, 30))
	c := appt(encounter.StatusInProgress, at(8, 50), at(9, 0))

	got, err := newTestService(a, b, c).OrderedQueue(context.Background(), "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, got, c, a, b)
}

func TestOrderedQueue_ERByTriageLevel(t *testing.T) {
	p := erCase(lvl(encounter.TriageUrgent), at(10, 0))
	q := erCase(lvl(encounter.TriageEmergency), at(10, 5))

	got, err := newTestService(p, q).OrderedQueue(context.Background(), flow.ERPool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, got, q, p)
}

func TestOrderedQueue_ERUntriagedLastThenArrival(t *testing.T) {
	untriaged := erCase(nil, at(9, 0))
	lateFive := erCase(lvl(5), at(9, 40))
	earlyFive := erCase(lvl(5), at(9, 20))
	one := erCase(lvl(1), at(10, 10))
	treated := erCase(lvl(1), at(8, 0))
	treated.Status = encounter.StatusTreatment

	got, err := newTestService(untriaged, lateFive, earlyFive, one, treated).OrderedQueue(context.Background(), flow.ERPool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, got, one, earlyFive, lateFive, untriaged)
}

func TestOrderedQueue_TiesBrokenByID(t *testing.T) {
	x := erCase(lvl(3), at(9, 0))
	y := erCase(lvl(3), at(9, 0))
	first, second := x, y
	if y.ID.String() < x.ID.String() {
		first, second = y, x
	}
	for _, order := range [][]*encounter.Encounter{{x, y}, {y, x}} {
		got, err := newTestService(order...).OrderedQueue(context.Background(), flow.ERPool)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertOrder(t, got, first, second)
	}
}

func TestOrderedQueue_ScheduledByAppointmentTime(t *testing.T) {
	later := appt(encounter.StatusConfirmed, at(7, 0), at(11, 0))
	sooner := appt(encounter.StatusScheduled, at(8, 0), at(10, 0))
	walkIn := appt(encounter.StatusCheckedIn, at(10, 20), at(12, 0))

	got, err := newTestService(later, sooner, walkIn).OrderedQueue(context.Background(), "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, got, walkIn, sooner, later)
}

func TestOrderedQueue_IntegrityViolation(t *testing.T) {
	one := appt(encounter.StatusInProgress, at(9, 0), at(9, 0))
	two := appt(encounter.StatusInProgress, at(9, 5), at(9, 15))

	_, err := newTestService(one, two).OrderedQueue(context.Background(), "dr-a")
	if !errors.Is(err, flow.ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}
}

func TestOrderedQueue_WaitTime(t *testing.T) {
	checkedIn := appt(encounter.StatusCheckedIn, at(10, 0), at(10, 0))
	booked := appt(encounter.StatusScheduled, at(8, 0), at(11, 0))
	future := erCase(nil, at(11, 0))

	svc := newTestService(checkedIn, booked)
	got, _ := svc.OrderedQueue(context.Background(), "dr-a")
	if got[0].WaitTime != 30*time.Minute || got[0].WaitSecs != 1800 {
		t.Errorf("checked in: expected 30m wait, got %v", got[0].WaitTime)
	}
	if got[1].WaitTime != 0 {
		t.Errorf("not arrived: expected no wait, got %v", got[1].WaitTime)
	}

	got, _ = newTestService(future).OrderedQueue(context.Background(), flow.ERPool)
	if got[0].WaitTime != 0 {
		t.Errorf("clock skew should clamp to zero, got %v", got[0].WaitTime)
	}
}

func TestOrderedQueue_RequiresPool(t *testing.T) {
	if _, err := newTestService().OrderedQueue(context.Background(), ""); !errors.Is(err, flow.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestOrderedQueue_SourceError(t *testing.T) {
	svc := NewService(&mockSource{err: errors.New("db down")}, zerolog.Nop())
	if _, err := svc.OrderedQueue(context.Background(), "dr-a"); err == nil {
		t.Error("expected error")
	}
}

func TestNextFor(t *testing.T) {
	serving := appt(encounter.StatusInProgress, at(9, 0), at(9, 0))
	waiting := appt(encounter.StatusCheckedIn, at(9, 10), at(9, 15))
	svc := newTestService(serving, waiting)

	next, err := svc.NextFor(context.Background(), "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == nil || next.ID != waiting.ID {
		t.Fatalf("expected %s, got %v", waiting.ID, next)
	}
	if serving.Status != encounter.StatusInProgress || waiting.Status != encounter.StatusCheckedIn {
		t.Error("NextFor must not change any encounter")
	}

	next, err = newTestService(serving).NextFor(context.Background(), "dr-a")
	if err != nil || next != nil {
		t.Errorf("expected nothing next, got %v, %v", next, err)
	}
}

func TestSortER_TotalOrder(t *testing.T) {
	items := []*encounter.Encounter{
		erCase(lvl(4), at(9, 0)),
		erCase(lvl(2), at(9, 30)),
		erCase(nil, at(8, 0)),
		erCase(lvl(2), at(9, 10)),
		erCase(lvl(1), at(9, 50)),
	}
	SortER(items)
	for i := 1; i < len(items); i++ {
		if lessER(items[i], items[i-1]) {
			t.Errorf("items %d and %d out of order", i-1, i)
		}
	}
	if items[0].TriageLevel == nil || *items[0].TriageLevel != 1 {
		t.Error("resuscitation case should lead")
	}
	if items[len(items)-1].TriageLevel != nil {
		t.Error("untriaged case should be last")
	}
}
