package resource

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of allocatable unit.
type Kind string

const (
	KindSlot Kind = "slot"
	KindBay  Kind = "bay"
	KindBed  Kind = "bed"
)

// Status is the availability state of a resource.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusReserved    Status = "reserved"
	StatusOccupied    Status = "occupied"
	StatusCleaning    Status = "cleaning"
	StatusMaintenance Status = "maintenance"
)

// Held reports whether a resource in this status is linked to an encounter.
func (s Status) Held() bool {
	return s == StatusReserved || s == StatusOccupied
}

func validKind(k Kind) bool {
	switch k {
	case KindSlot, KindBay, KindBed:
		return true
	}
	return false
}

// Resource maps to the resource table. Pool is the doctor id for slots, "ER"
// for bays and the ward id for beds.
type Resource struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Kind               Kind       `db:"kind" json:"kind"`
	Pool               string     `db:"pool" json:"pool"`
	Name               string     `db:"name" json:"name"`
	Status             Status     `db:"status" json:"status"`
	CurrentEncounterID *uuid.UUID `db:"current_encounter_id" json:"current_encounter_id,omitempty"`
	DailyRate          float64    `db:"daily_rate" json:"daily_rate,omitempty"`
	Features           []string   `db:"features" json:"features,omitempty"`
	StartsAt           *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt             *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	Version            int        `db:"version" json:"version"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (r *Resource) GetVersionID() int { return r.Version }

// SetVersionID sets the current version.
func (r *Resource) SetVersionID(v int) { r.Version = v }

// HasFeatures reports whether the resource carries every feature in want.
func (r *Resource) HasFeatures(want []string) bool {
	for _, w := range want {
		found := false
		for _, f := range r.Features {
			if f == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *Resource) clone() *Resource {
	c := *r
	if r.CurrentEncounterID != nil {
		id := *r.CurrentEncounterID
		c.CurrentEncounterID = &id
	}
	if r.Features != nil {
		c.Features = append([]string(nil), r.Features...)
	}
	return &c
}

// WardOccupancy is a live aggregation over the beds of one ward. It is never
// stored.
type WardOccupancy struct {
	WardID      string `json:"ward_id"`
	Total       int    `json:"total"`
	Available   int    `json:"available"`
	Reserved    int    `json:"reserved"`
	Occupied    int    `json:"occupied"`
	Cleaning    int    `json:"cleaning"`
	Maintenance int    `json:"maintenance"`
}

// Tally builds the occupancy counters from the given beds.
func Tally(wardID string, beds []*Resource) WardOccupancy {
	occ := WardOccupancy{WardID: wardID}
	for _, b := range beds {
		if b.Kind != KindBed {
			continue
		}
		occ.Total++
		switch b.Status {
		case StatusAvailable:
			occ.Available++
		case StatusReserved:
			occ.Reserved++
		case StatusOccupied:
			occ.Occupied++
		case StatusCleaning:
			occ.Cleaning++
		case StatusMaintenance:
			occ.Maintenance++
		}
	}
	return occ
}
