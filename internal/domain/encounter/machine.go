package encounter

import "sort"

// Events accepted by Transition.
const (
	EventConfirm           = "confirm"
	EventCheckIn           = "check_in"
	EventStartConsultation = "start_consultation"
	EventComplete          = "complete"
	EventCancel            = "cancel"
	EventNoShow            = "no_show"

	EventTriage         = "triage"
	EventStartTreatment = "start_treatment"
	EventObserve        = "observe"
	EventAdmit          = "admit"
	EventDischarge      = "discharge"
	EventTransfer       = "transfer"
	EventAbscond        = "abscond"

	EventDecease = "decease"
)

type rule struct {
	from []string
	to   string
}

func (r rule) allows(status string) bool {
	for _, f := range r.from {
		if f == status {
			return true
		}
	}
	return false
}

var machines = map[Kind]map[string]rule{
	KindAppointment: {
		EventConfirm:           {from: []string{StatusScheduled}, to: StatusConfirmed},
		EventCheckIn:           {from: []string{StatusScheduled, StatusConfirmed}, to: StatusCheckedIn},
		EventStartConsultation: {from: []string{StatusCheckedIn}, to: StatusInProgress},
		EventComplete:          {from: []string{StatusInProgress}, to: StatusCompleted},
		EventCancel:            {from: []string{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress}, to: StatusCancelled},
		EventNoShow:            {from: []string{StatusScheduled, StatusConfirmed}, to: StatusNoShow},
	},
	KindERCase: {
		EventTriage:         {from: []string{StatusWaiting, StatusTriage}, to: StatusTriage},
		EventStartTreatment: {from: []string{StatusTriage}, to: StatusTreatment},
		EventObserve:        {from: []string{StatusTreatment}, to: StatusObservation},
		EventAdmit:          {from: []string{StatusTreatment, StatusObservation}, to: StatusAdmitted},
		EventDischarge:      {from: []string{StatusTreatment, StatusObservation}, to: StatusDischarged},
		EventTransfer:       {from: []string{StatusTreatment, StatusObservation}, to: StatusTransferred},
		EventCancel:         {from: []string{StatusWaiting, StatusTriage, StatusTreatment, StatusObservation}, to: StatusCancelled},
		EventAbscond:        {from: []string{StatusWaiting, StatusTriage, StatusTreatment, StatusObservation}, to: StatusAbsconded},
	},
	KindAdmission: {
		EventDischarge: {from: []string{StatusAdmitted}, to: StatusDischarged},
		EventTransfer:  {from: []string{StatusAdmitted}, to: StatusTransferred},
		EventDecease:   {from: []string{StatusAdmitted}, to: StatusDeceased},
		EventAbscond:   {from: []string{StatusAdmitted}, to: StatusAbsconded},
	},
}

var initialStatus = map[Kind]string{
	KindAppointment: StatusScheduled,
	KindERCase:      StatusWaiting,
	KindAdmission:   StatusAdmitted,
}

var terminalStatuses = map[Kind]map[string]bool{
	KindAppointment: {StatusCompleted: true, StatusCancelled: true, StatusNoShow: true},
	KindERCase: {
		StatusAdmitted: true, StatusDischarged: true, StatusTransferred: true,
		StatusCancelled: true, StatusAbsconded: true,
	},
	KindAdmission: {
		StatusDischarged: true, StatusTransferred: true, StatusDeceased: true, StatusAbsconded: true,
	},
}

func lookupRule(kind Kind, event string) (rule, bool) {
	r, ok := machines[kind][event]
	return r, ok
}

// IsTerminal reports whether status ends the lifecycle of kind.
func IsTerminal(kind Kind, status string) bool {
	return terminalStatuses[kind][status]
}

// InitialStatus returns the status a new encounter of kind starts in.
func InitialStatus(kind Kind) string {
	return initialStatus[kind]
}

// ActiveStatuses lists the non-terminal statuses of kind.
func ActiveStatuses(kind Kind) []string {
	seen := map[string]bool{initialStatus[kind]: true}
	out := []string{initialStatus[kind]}
	for _, r := range machines[kind] {
		for _, s := range append(append([]string{}, r.from...), r.to) {
			if !seen[s] && !IsTerminal(kind, s) {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out[1:])
	return out
}

// Events returns the events accepted from status for kind.
func Events(kind Kind, status string) []string {
	var out []string
	for ev, r := range machines[kind] {
		if r.allows(status) {
			out = append(out, ev)
		}
	}
	sort.Strings(out)
	return out
}

func validKind(k Kind) bool {
	_, ok := machines[k]
	return ok
}
