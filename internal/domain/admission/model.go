package admission

import (
	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/resource"
)

// Admission is an inpatient stay: the admission encounter and the bed it
// holds. Bed is nil once the stay has ended.
type Admission struct {
	Encounter *encounter.Encounter `json:"encounter"`
	Bed       *resource.Resource   `json:"bed,omitempty"`
}

// AdmitOptions narrows bed selection. A BedID bypasses the cheapest-fit
// policy but the bed must still carry every feature.
type AdmitOptions struct {
	BedID    *uuid.UUID `json:"bed_id,omitempty"`
	Features []string   `json:"features,omitempty"`
}

// Census is a ward's live occupancy together with its current admissions.
type Census struct {
	Occupancy  resource.WardOccupancy `json:"occupancy"`
	Admissions []*Admission           `json:"admissions"`
}
