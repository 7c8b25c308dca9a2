package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the three visit types sharing the encounter record.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindERCase      Kind = "er_case"
	KindAdmission   Kind = "admission"
)

// Status values. Each kind uses a subset, see machine.go.
const (
	StatusScheduled  = "scheduled"
	StatusConfirmed  = "confirmed"
	StatusCheckedIn  = "checked_in"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusNoShow     = "no_show"

	StatusWaiting     = "waiting"
	StatusTriage      = "triage"
	StatusTreatment   = "treatment"
	StatusObservation = "observation"

	StatusAdmitted    = "admitted"
	StatusDischarged  = "discharged"
	StatusTransferred = "transferred"
	StatusDeceased    = "deceased"
	StatusAbsconded   = "absconded"
	StatusCancelled   = "cancelled"
)

// Triage levels, most urgent first.
const (
	TriageResuscitation = 1
	TriageEmergency     = 2
	TriageUrgent        = 3
	TriageStandard      = 4
	TriageNonUrgent     = 5
)

var triageNames = map[int]string{
	TriageResuscitation: "resuscitation",
	TriageEmergency:     "emergency",
	TriageUrgent:        "urgent",
	TriageStandard:      "standard",
	TriageNonUrgent:     "non_urgent",
}

// TriageName returns the display name of a triage level.
func TriageName(level int) string {
	return triageNames[level]
}

// ValidTriageLevel reports whether level is between 1 and 5.
func ValidTriageLevel(level int) bool {
	_, ok := triageNames[level]
	return ok
}

// Encounter maps to the encounter table.
type Encounter struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	Kind              Kind       `db:"kind" json:"kind"`
	Status            string     `db:"status" json:"status"`
	Pool              string     `db:"pool" json:"pool"`
	TriageLevel       *int       `db:"triage_level" json:"triage_level,omitempty"`
	AppointmentTime   *time.Time `db:"appointment_time" json:"appointment_time,omitempty"`
	ResourceRef       *uuid.UUID `db:"resource_ref" json:"resource_ref,omitempty"`
	SourceEncounterID *uuid.UUID `db:"source_encounter_id" json:"source_encounter_id,omitempty"`
	SuccessorID       *uuid.UUID `db:"successor_id" json:"successor_id,omitempty"`
	Note              *string    `db:"note" json:"note,omitempty"`
	ArrivalTime       time.Time  `db:"arrival_time" json:"arrival_time"`
	StatusChangedAt   time.Time  `db:"status_changed_at" json:"status_changed_at"`
	Version           int        `db:"version" json:"version"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (e *Encounter) GetVersionID() int { return e.Version }

// SetVersionID sets the current version.
func (e *Encounter) SetVersionID(v int) { e.Version = v }

// IsTerminal reports whether no further transition is possible.
func (e *Encounter) IsTerminal() bool {
	return IsTerminal(e.Kind, e.Status)
}

// TriageDisplay is the triage level name, or empty when untriaged.
func (e *Encounter) TriageDisplay() string {
	if e.TriageLevel == nil {
		return ""
	}
	return TriageName(*e.TriageLevel)
}

func (e *Encounter) clone() *Encounter {
	c := *e
	if e.TriageLevel != nil {
		v := *e.TriageLevel
		c.TriageLevel = &v
	}
	if e.AppointmentTime != nil {
		v := *e.AppointmentTime
		c.AppointmentTime = &v
	}
	if e.ResourceRef != nil {
		v := *e.ResourceRef
		c.ResourceRef = &v
	}
	if e.SourceEncounterID != nil {
		v := *e.SourceEncounterID
		c.SourceEncounterID = &v
	}
	if e.SuccessorID != nil {
		v := *e.SuccessorID
		c.SuccessorID = &v
	}
	if e.Note != nil {
		v := *e.Note
		c.Note = &v
	}
	return &c
}

// StatusHistory maps to the encounter_status_history table.
type StatusHistory struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	FromStatus  string    `db:"from_status" json:"from_status"`
	ToStatus    string    `db:"to_status" json:"to_status"`
	Event       string    `db:"event" json:"event"`
	Version     int       `db:"version" json:"version"`
	ChangedAt   time.Time `db:"changed_at" json:"changed_at"`
	ChangedBy   *string   `db:"changed_by" json:"changed_by,omitempty"`
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	PatientID  uuid.UUID
	Pool       string
	Kind       Kind
	Status     string
	ActiveOnly bool
}
