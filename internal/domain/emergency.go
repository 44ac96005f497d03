package domain

import (
	"strings"
	"time"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

// EmergencyType is the clinical category reported by the caller.
type EmergencyType string

const (
	TypeCardiac      EmergencyType = "cardiac"
	TypeTrauma       EmergencyType = "trauma"
	TypeStroke       EmergencyType = "stroke"
	TypeRespiratory  EmergencyType = "respiratory"
	TypeNeurological EmergencyType = "neurological"
	TypePoisoning    EmergencyType = "poisoning"
	TypeBurns        EmergencyType = "burns"
	TypeChildbirth   EmergencyType = "childbirth"
	TypeOther        EmergencyType = "other"
)

// EmergencyTypes lists every accepted emergency type.
var EmergencyTypes = []EmergencyType{
	TypeCardiac, TypeTrauma, TypeStroke, TypeRespiratory, TypeNeurological,
	TypePoisoning, TypeBurns, TypeChildbirth, TypeOther,
}

// ParseEmergencyType validates a raw emergency type.
func ParseEmergencyType(raw string) (EmergencyType, error) {
	for _, t := range EmergencyTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", apperr.Validation("unknown emergency type %q", raw)
}

// NeedsICU reports whether a reservation for t should also take an ICU bed.
func (t EmergencyType) NeedsICU() bool {
	return t == TypeCardiac || t == TypeStroke || t == TypeTrauma
}

// Severity is the triage level of an emergency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityUrgent   Severity = "urgent"
	SeverityModerate Severity = "moderate"
)

// ParseSeverity validates a raw severity.
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(raw); s {
	case SeverityCritical, SeverityUrgent, SeverityModerate:
		return s, nil
	}
	return "", apperr.Validation("unknown severity %q", raw)
}

// Status is a stage of the emergency lifecycle.
type Status string

const (
	StatusSubmitted           Status = "submitted"
	StatusProcessing          Status = "processing"
	StatusAmbulanceDispatched Status = "ambulance_dispatched"
	StatusEnRoute             Status = "en_route"
	StatusArrivedAtScene      Status = "arrived_at_scene"
	StatusTransported         Status = "transported"
	StatusArrivedAtHospital   Status = "arrived_at_hospital"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

// Lifecycle is the linear chain of non-cancel statuses, in order.
var Lifecycle = []Status{
	StatusSubmitted,
	StatusProcessing,
	StatusAmbulanceDispatched,
	StatusEnRoute,
	StatusArrivedAtScene,
	StatusTransported,
	StatusArrivedAtHospital,
	StatusCompleted,
}

// ParseStatus validates a raw status.
func ParseStatus(raw string) (Status, error) {
	if Status(raw) == StatusCancelled {
		return StatusCancelled, nil
	}
	for _, s := range Lifecycle {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", apperr.Validation("unknown emergency status %q", raw)
}

// IsTerminal reports whether no transition is accepted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Next returns the single defined successor of s in the lifecycle chain.
func (s Status) Next() (Status, bool) {
	for i, step := range Lifecycle {
		if step == s && i+1 < len(Lifecycle) {
			return Lifecycle[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// TimelineEntry is one immutable record of the emergency audit log.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// Patient is the contact for the person in need.
type Patient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Age   int    `json:"age,omitempty"`
}

// Reservation is the token returned by a capacity reservation. It records
// exactly what was decremented so the reservation can be undone later.
type Reservation struct {
	ID         string        `json:"id"`
	HospitalID string        `json:"hospital_id"`
	Delta      CapacityDelta `json:"delta"`
	ReservedAt time.Time     `json:"reserved_at"`
	Released   bool          `json:"released"`
}

// HospitalAssignment is the receiving hospital chosen for an emergency.
type HospitalAssignment struct {
	HospitalID      string       `json:"hospital_id"`
	Name            string       `json:"name"`
	DistanceMeters  float64      `json:"distance_meters"`
	ETAMinutes      int          `json:"eta_minutes"`
	Score           int          `json:"score"`
	SelectionReason string       `json:"selection_reason"`
	Reservation     *Reservation `json:"reservation,omitempty"`
}

// AmbulanceAssignment is the unit dispatched to an emergency.
type AmbulanceAssignment struct {
	UnitID         string    `json:"unit_id"`
	CallSign       string    `json:"call_sign"`
	DistanceMeters float64   `json:"distance_meters"`
	ETAMinutes     int       `json:"eta_minutes"`
	DispatchedAt   time.Time `json:"dispatched_at"`
	Released       bool      `json:"released"`
}

// Milestones are timestamps stamped by specific status transitions.
type Milestones struct {
	DispatchedAt        *time.Time `json:"dispatched_at,omitempty"`
	ArrivedAtSceneAt    *time.Time `json:"arrived_at_scene_at,omitempty"`
	TransportedAt       *time.Time `json:"transported_at,omitempty"`
	ArrivedAtHospitalAt *time.Time `json:"arrived_at_hospital_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Stamp records at for the milestone bound to s, if any.
func (m *Milestones) Stamp(s Status, at time.Time) {
	t := at
	switch s {
	case StatusAmbulanceDispatched:
		m.DispatchedAt = &t
	case StatusArrivedAtScene:
		m.ArrivedAtSceneAt = &t
	case StatusTransported:
		m.TransportedAt = &t
	case StatusArrivedAtHospital:
		m.ArrivedAtHospitalAt = &t
	case StatusCompleted:
		m.CompletedAt = &t
	}
}

// Emergency is a request for emergency care and the response to it.
type Emergency struct {
	ID               string               `json:"id"`
	Patient          Patient              `json:"patient"`
	Location         geo.Point            `json:"location"`
	Address          string               `json:"address,omitempty"`
	Type             EmergencyType        `json:"type"`
	Severity         Severity             `json:"severity"`
	Description      string               `json:"description,omitempty"`
	Status           Status               `json:"status"`
	AssignedHospital *HospitalAssignment  `json:"assigned_hospital,omitempty"`
	Ambulance        *AmbulanceAssignment `json:"ambulance,omitempty"`
	Milestones       Milestones           `json:"milestones"`
	Timeline         []TimelineEntry      `json:"timeline"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// EmergencyParams are the raw inputs for NewEmergency.
type EmergencyParams struct {
	ID          string
	Patient     Patient
	Location    geo.Point
	Address     string
	Type        string
	Severity    string
	Description string
}

// NewEmergency validates p and returns an emergency in submitted status.
// The timeline is left empty; the state machine writes the first entry.
func NewEmergency(p EmergencyParams, now time.Time) (Emergency, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Emergency{}, apperr.Validation("emergency id is required")
	}
	if err := p.Location.Validate(); err != nil {
		return Emergency{}, err
	}
	etype, err := ParseEmergencyType(p.Type)
	if err != nil {
		return Emergency{}, err
	}
	severity, err := ParseSeverity(p.Severity)
	if err != nil {
		return Emergency{}, err
	}
	if strings.TrimSpace(p.Patient.Phone) == "" {
		return Emergency{}, apperr.Validation("patient phone is required")
	}

	return Emergency{
		ID:          p.ID,
		Patient:     p.Patient,
		Location:    p.Location,
		Address:     strings.TrimSpace(p.Address),
		Type:        etype,
		Severity:    severity,
		Description: p.Description,
		Status:      StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a deep copy of e.
func (e Emergency) Clone() Emergency {
	out := e
	out.Timeline = append([]TimelineEntry(nil), e.Timeline...)
	if e.AssignedHospital != nil {
		h := *e.AssignedHospital
		if h.Reservation != nil {
			r := *h.Reservation
			h.Reservation = &r
		}
		out.AssignedHospital = &h
	}
	if e.Ambulance != nil {
		a := *e.Ambulance
		out.Ambulance = &a
	}
	out.Milestones = e.Milestones.clone()
	return out
}

func (m Milestones) clone() Milestones {
	cp := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	return Milestones{
		DispatchedAt:        cp(m.DispatchedAt),
		ArrivedAtSceneAt:    cp(m.ArrivedAtSceneAt),
		TransportedAt:       cp(m.TransportedAt),
		ArrivedAtHospitalAt: cp(m.ArrivedAtHospitalAt),
		CompletedAt:         cp(m.CompletedAt),
	}
}
