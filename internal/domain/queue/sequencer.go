package queue

import (
	"sort"

	"github.com/ehr/patientflow/internal/domain/encounter"
)

// appointmentRank orders appointment statuses: the consultation in progress
// leads, then patients already in the building, then everyone else.
var appointmentRank = map[string]int{
	encounter.StatusInProgress: 0,
	encounter.StatusCheckedIn:  1,
	encounter.StatusConfirmed:  2,
	encounter.StatusScheduled:  2,
}

// lessAppointment: status rank, then appointment time for those not yet
// arrived, then arrival time, then id.
func lessAppointment(a, b *encounter.Encounter) bool {
	ra, rb := appointmentRank[a.Status], appointmentRank[b.Status]
	if ra != rb {
		return ra < rb
	}
	if ra == 2 {
		ta, tb := a.AppointmentTime, b.AppointmentTime
		switch {
		case ta != nil && tb != nil && !ta.Equal(*tb):
			return ta.Before(*tb)
		case ta != nil && tb == nil:
			return true
		case ta == nil && tb != nil:
			return false
		}
	}
	return byArrival(a, b)
}

// lessER: triage level 1..5 with untriaged cases last, then arrival time,
// then id.
func lessER(a, b *encounter.Encounter) bool {
	la, lb := triageKey(a), triageKey(b)
	if la != lb {
		return la < lb
	}
	return byArrival(a, b)
}

func triageKey(e *encounter.Encounter) int {
	if e.TriageLevel == nil {
		return encounter.TriageNonUrgent + 1
	}
	return *e.TriageLevel
}

func byArrival(a, b *encounter.Encounter) bool {
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	return a.ID.String() < b.ID.String()
}

// SortAppointments orders a doctor pool in place.
func SortAppointments(items []*encounter.Encounter) {
	sort.SliceStable(items, func(i, j int) bool { return lessAppointment(items[i], items[j]) })
}

// SortER orders the triage board in place.
func SortER(items []*encounter.Encounter) {
	sort.SliceStable(items, func(i, j int) bool { return lessER(items[i], items[j]) })
}
