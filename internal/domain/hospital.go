package domain

import (
	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

// HospitalStatus is the operational state of a hospital.
type HospitalStatus string

const (
	HospitalActive        HospitalStatus = "active"
	HospitalInactive      HospitalStatus = "inactive"
	HospitalMaintenance   HospitalStatus = "maintenance"
	HospitalEmergencyOnly HospitalStatus = "emergency_only"
)

// ParseHospitalStatus validates a raw hospital status.
func ParseHospitalStatus(raw string) (HospitalStatus, error) {
	switch s := HospitalStatus(raw); s {
	case HospitalActive, HospitalInactive, HospitalMaintenance, HospitalEmergencyOnly:
		return s, nil
	}
	return "", apperr.Validation("unknown hospital status %q", raw)
}

// TraumaLevel is the designated trauma-care tier. Level I is the strongest.
type TraumaLevel string

const (
	TraumaNone TraumaLevel = "none"
	TraumaI    TraumaLevel = "I"
	TraumaII   TraumaLevel = "II"
	TraumaIII  TraumaLevel = "III"
	TraumaIV   TraumaLevel = "IV"
)

// ParseTraumaLevel validates a raw trauma level. Empty means none.
func ParseTraumaLevel(raw string) (TraumaLevel, error) {
	switch l := TraumaLevel(raw); l {
	case "":
		return TraumaNone, nil
	case TraumaNone, TraumaI, TraumaII, TraumaIII, TraumaIV:
		return l, nil
	}
	return "", apperr.Validation("unknown trauma level %q", raw)
}

// Specialty is a clinical department offered by a hospital.
type Specialty string

const (
	SpecialtyCardiology        Specialty = "cardiology"
	SpecialtyNeurology         Specialty = "neurology"
	SpecialtyOrthopedics       Specialty = "orthopedics"
	SpecialtyPediatrics        Specialty = "pediatrics"
	SpecialtyMaternity         Specialty = "maternity"
	SpecialtyPulmonology       Specialty = "pulmonology"
	SpecialtyToxicology        Specialty = "toxicology"
	SpecialtyBurns             Specialty = "burns"
	SpecialtyPsychiatry        Specialty = "psychiatry"
	SpecialtyGeneralSurgery    Specialty = "general_surgery"
	SpecialtyEmergencyMedicine Specialty = "emergency_medicine"
)

var knownSpecialties = map[Specialty]struct{}{
	SpecialtyCardiology: {}, SpecialtyNeurology: {}, SpecialtyOrthopedics: {},
	SpecialtyPediatrics: {}, SpecialtyMaternity: {}, SpecialtyPulmonology: {},
	SpecialtyToxicology: {}, SpecialtyBurns: {}, SpecialtyPsychiatry: {},
	SpecialtyGeneralSurgery: {}, SpecialtyEmergencyMedicine: {},
}

// ParseSpecialty validates a raw specialty.
func ParseSpecialty(raw string) (Specialty, error) {
	s := Specialty(raw)
	if _, ok := knownSpecialties[s]; !ok {
		return "", apperr.Validation("unknown specialty %q", raw)
	}
	return s, nil
}

// Capacity holds the bed, ICU and emergency-room counters.
type Capacity struct {
	TotalBeds               int `json:"total_beds" yaml:"total_beds"`
	AvailableBeds           int `json:"available_beds" yaml:"available_beds"`
	ICUBeds                 int `json:"icu_beds" yaml:"icu_beds"`
	AvailableICUBeds        int `json:"available_icu_beds" yaml:"available_icu_beds"`
	EmergencyRooms          int `json:"emergency_rooms" yaml:"emergency_rooms"`
	AvailableEmergencyRooms int `json:"available_emergency_rooms" yaml:"available_emergency_rooms"`
}

// CapacityDelta is a signed change applied to the available counters.
type CapacityDelta struct {
	Beds    int `json:"beds"`
	ICUBeds int `json:"icu_beds"`
}

// Negate returns the delta that undoes d.
func (d CapacityDelta) Negate() CapacityDelta {
	return CapacityDelta{Beds: -d.Beds, ICUBeds: -d.ICUBeds}
}

// Apply returns c with d added to the available counters, or a validation
// error if the result would leave [0, capacity].
func (c Capacity) Apply(d CapacityDelta) (Capacity, error) {
	next := c
	next.AvailableBeds += d.Beds
	next.AvailableICUBeds += d.ICUBeds
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// Validate enforces 0 <= available <= capacity for every counter.
func (c Capacity) Validate() error {
	check := func(name string, available, total int) error {
		if total < 0 {
			return apperr.Validation("%s capacity %d is negative", name, total)
		}
		if available < 0 || available > total {
			return apperr.Validation("available %s %d outside [0, %d]", name, available, total)
		}
		return nil
	}
	if err := check("beds", c.AvailableBeds, c.TotalBeds); err != nil {
		return err
	}
	if err := check("icu beds", c.AvailableICUBeds, c.ICUBeds); err != nil {
		return err
	}
	return check("emergency rooms", c.AvailableEmergencyRooms, c.EmergencyRooms)
}

// Capabilities are the specialised emergency programmes of a hospital.
type Capabilities struct {
	TraumaLevel       TraumaLevel `json:"trauma_level" yaml:"trauma_level"`
	StrokeCenter      bool        `json:"stroke_center" yaml:"stroke_center"`
	HeartAttackCenter bool        `json:"heart_attack_center" yaml:"heart_attack_center"`
	BurnCenter        bool        `json:"burn_center" yaml:"burn_center"`
	PoisonControl     bool        `json:"poison_control" yaml:"poison_control"`
	PsychiatricCenter bool        `json:"psychiatric_center" yaml:"psychiatric_center"`
	PediatricCenter   bool        `json:"pediatric_center" yaml:"pediatric_center"`
}

// Equipment lists diagnostic and life-support equipment.
type Equipment struct {
	CTScanner      bool `json:"ct_scanner" yaml:"ct_scanner"`
	MRIScanner     bool `json:"mri_scanner" yaml:"mri_scanner"`
	Ventilators    int  `json:"ventilators" yaml:"ventilators"`
	Defibrillators int  `json:"defibrillators" yaml:"defibrillators"`
	BloodBank      bool `json:"blood_bank" yaml:"blood_bank"`
}

// Rating aggregates patient reviews.
type Rating struct {
	Overall     float64 `json:"overall" yaml:"overall"`
	Emergency   float64 `json:"emergency" yaml:"emergency"`
	ReviewCount int     `json:"review_count" yaml:"review_count"`
}

// Hospital is a receiving facility for emergency patients.
type Hospital struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Address      string         `json:"address,omitempty" yaml:"address"`
	Phone        string         `json:"phone,omitempty" yaml:"phone"`
	Location     geo.Point      `json:"location" yaml:"location"`
	Capacity     Capacity       `json:"capacity" yaml:"capacity"`
	Capabilities Capabilities   `json:"capabilities" yaml:"capabilities"`
	Equipment    Equipment      `json:"equipment" yaml:"equipment"`
	Specialties  []Specialty    `json:"specialties" yaml:"specialties"`
	Status       HospitalStatus `json:"status" yaml:"status"`
	Rating       Rating         `json:"rating" yaml:"rating"`
}

// HasSpecialty reports whether s is among the hospital's specialties.
func (h Hospital) HasSpecialty(s Specialty) bool {
	for _, have := range h.Specialties {
		if have == s {
			return true
		}
	}
	return false
}

// Validate checks identity, enums, coordinates and counter invariants.
func (h Hospital) Validate() error {
	if h.ID == "" {
		return apperr.Validation("hospital id is required")
	}
	if err := h.Location.Validate(); err != nil {
		return err
	}
	if _, err := ParseHospitalStatus(string(h.Status)); err != nil {
		return err
	}
	if _, err := ParseTraumaLevel(string(h.Capabilities.TraumaLevel)); err != nil {
		return err
	}
	for _, s := range h.Specialties {
		if _, err := ParseSpecialty(string(s)); err != nil {
			return err
		}
	}
	if h.Equipment.Ventilators < 0 || h.Equipment.Defibrillators < 0 {
		return apperr.Validation("equipment counts must not be negative")
	}
	return h.Capacity.Validate()
}

// Clone returns a deep copy of h.
func (h Hospital) Clone() Hospital {
	out := h
	out.Specialties = append([]Specialty(nil), h.Specialties...)
	return out
}
