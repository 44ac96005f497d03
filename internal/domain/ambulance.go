package domain

import (
	"time"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

// UnitStatus is the readiness of an ambulance unit.
type UnitStatus string

const (
	UnitAvailable  UnitStatus = "available"
	UnitReserved   UnitStatus = "reserved"
	UnitDispatched UnitStatus = "dispatched"
	UnitEnRoute    UnitStatus = "en_route"
	UnitAtScene    UnitStatus = "at_scene"
	UnitReturning  UnitStatus = "returning"
)

// ParseUnitStatus validates a raw unit status.
func ParseUnitStatus(raw string) (UnitStatus, error) {
	switch s := UnitStatus(raw); s {
	case UnitAvailable, UnitReserved, UnitDispatched, UnitEnRoute, UnitAtScene, UnitReturning:
		return s, nil
	}
	return "", apperr.Validation("unknown unit status %q", raw)
}

// CrewMember is one person staffing a unit.
type CrewMember struct {
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

// UnitAssignment binds a unit to the emergency it is serving.
type UnitAssignment struct {
	EmergencyID  string        `json:"emergency_id"`
	Location     geo.Point     `json:"location"`
	Severity     Severity      `json:"severity"`
	Type         EmergencyType `json:"type"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	ETAMinutes   int           `json:"eta_minutes"`
}

// AmbulanceUnit is a dispatchable vehicle with its crew.
type AmbulanceUnit struct {
	ID         string          `json:"id" yaml:"id"`
	CallSign   string          `json:"call_sign" yaml:"call_sign"`
	Location   geo.Point       `json:"location" yaml:"location"`
	Status     UnitStatus      `json:"status" yaml:"status"`
	CenterID   string          `json:"center_id,omitempty" yaml:"center_id"`
	Crew       []CrewMember    `json:"crew,omitempty" yaml:"crew"`
	Equipment  []string        `json:"equipment,omitempty" yaml:"equipment"`
	Assignment *UnitAssignment `json:"assignment,omitempty" yaml:"-"`
	UpdatedAt  time.Time       `json:"updated_at" yaml:"-"`
}

// Validate checks identity, status and coordinates.
func (u AmbulanceUnit) Validate() error {
	if u.ID == "" {
		return apperr.Validation("unit id is required")
	}
	if _, err := ParseUnitStatus(string(u.Status)); err != nil {
		return err
	}
	if u.Status != UnitAvailable && u.Status != UnitReserved && u.Assignment == nil {
		return apperr.Validation("unit %s in status %s has no assignment", u.ID, u.Status)
	}
	return u.Location.Validate()
}

// Clone returns a deep copy of u.
func (u AmbulanceUnit) Clone() AmbulanceUnit {
	out := u
	out.Crew = append([]CrewMember(nil), u.Crew...)
	out.Equipment = append([]string(nil), u.Equipment...)
	if u.Assignment != nil {
		a := *u.Assignment
		out.Assignment = &a
	}
	return out
}

// DispatchCenter is a regional control room reachable by phone.
type DispatchCenter struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Phone    string    `json:"phone" yaml:"phone"`
	Location geo.Point `json:"location" yaml:"location"`
}
