// Package store declares the persistence contracts used by the core.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"

	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
)

// HospitalFilter narrows FindHospitalsNear.
type HospitalFilter struct {
	// Status restricts results to a single hospital status when set.
	Status domain.HospitalStatus
	// MinAvailableBeds excludes hospitals with fewer free beds.
	MinAvailableBeds int
}

// Matches reports whether h passes the filter.
func (f HospitalFilter) Matches(h domain.Hospital) bool {
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	return h.Capacity.AvailableBeds >= f.MinAvailableBeds
}

// HospitalStore persists hospitals and their capacity counters.
type HospitalStore interface {
	FindHospitalsNear(ctx context.Context, center geo.Point, radiusMeters float64, filter HospitalFilter) ([]domain.Hospital, error)
	LoadHospital(ctx context.Context, id string) (domain.Hospital, error)
	SaveHospital(ctx context.Context, h domain.Hospital) error
	// AdjustCapacity adds delta to the available counters in one atomic
	// step and returns the updated hospital. It fails with a
	// ReservationConflict error when the result would leave [0, capacity].
	AdjustCapacity(ctx context.Context, id string, delta domain.CapacityDelta) (domain.Hospital, error)
}

// EmergencyFilter narrows ListEmergencies.
type EmergencyFilter struct {
	ActiveOnly bool
	Status     domain.Status
	Limit      int
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f EmergencyFilter) Matches(e domain.Emergency) bool {
	if f.ActiveOnly && e.Status.IsTerminal() {
		return false
	}
	return f.Status == "" || e.Status == f.Status
}

// EmergencyStore persists emergencies with their timelines.
type EmergencyStore interface {
	LoadEmergency(ctx context.Context, id string) (domain.Emergency, error)
	// SaveEmergency upserts e. Timeline entries already stored are kept
	// and new ones are appended in the same atomic step.
	SaveEmergency(ctx context.Context, e domain.Emergency) error
	// ListEmergencies returns matches newest first.
	ListEmergencies(ctx context.Context, filter EmergencyFilter) ([]domain.Emergency, error)
}

// UnitStore persists ambulance units.
type UnitStore interface {
	ListUnits(ctx context.Context) ([]domain.AmbulanceUnit, error)
	LoadUnit(ctx context.Context, id string) (domain.AmbulanceUnit, error)
	SaveUnit(ctx context.Context, u domain.AmbulanceUnit) error
}

// Store bundles every contract.
type Store interface {
	HospitalStore
	EmergencyStore
	UnitStore
	Close()
}
