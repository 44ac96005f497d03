// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/store"
)

// Store keeps every entity in maps guarded by a single RWMutex. Values are
// cloned on the way in and out so callers never share memory with it.
type Store struct {
	mu          sync.RWMutex
	hospitals   map[string]domain.Hospital
	emergencies map[string]domain.Emergency
	units       map[string]domain.AmbulanceUnit
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		hospitals:   make(map[string]domain.Hospital),
		emergencies: make(map[string]domain.Emergency),
		units:       make(map[string]domain.AmbulanceUnit),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) FindHospitalsNear(ctx context.Context, center geo.Point, radiusMeters float64, filter store.HospitalFilter) ([]domain.Hospital, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Hospital, 0)
	for _, h := range s.hospitals {
		if !filter.Matches(h) {
			continue
		}
		d, err := geo.Distance(center, h.Location)
		if err != nil || d > radiusMeters {
			continue
		}
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, ctx.Err()
}

func (s *Store) LoadHospital(_ context.Context, id string) (domain.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[id]
	if !ok {
		return domain.Hospital{}, apperr.NotFound("hospital", id)
	}
	return h.Clone(), nil
}

func (s *Store) SaveHospital(_ context.Context, h domain.Hospital) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hospitals[h.ID] = h.Clone()
	return nil
}

func (s *Store) AdjustCapacity(_ context.Context, id string, delta domain.CapacityDelta) (domain.Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hospitals[id]
	if !ok {
		return domain.Hospital{}, apperr.NotFound("hospital", id)
	}
	next, err := h.Capacity.Apply(delta)
	if err != nil {
		return domain.Hospital{}, apperr.ReservationConflict(id, err)
	}
	h.Capacity = next
	s.hospitals[id] = h
	return h.Clone(), nil
}

func (s *Store) LoadEmergency(_ context.Context, id string) (domain.Emergency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emergencies[id]
	if !ok {
		return domain.Emergency{}, apperr.NotFound("emergency", id)
	}
	return e.Clone(), nil
}

func (s *Store) SaveEmergency(_ context.Context, e domain.Emergency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.emergencies[e.ID]; ok && len(e.Timeline) < len(prev.Timeline) {
		return apperr.Validation("emergency %s timeline would shrink from %d to %d entries",
			e.ID, len(prev.Timeline), len(e.Timeline))
	}
	s.emergencies[e.ID] = e.Clone()
	return nil
}

func (s *Store) ListEmergencies(_ context.Context, filter store.EmergencyFilter) ([]domain.Emergency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Emergency, 0, len(s.emergencies))
	for _, e := range s.emergencies {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListUnits(_ context.Context) ([]domain.AmbulanceUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AmbulanceUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LoadUnit(_ context.Context, id string) (domain.AmbulanceUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return domain.AmbulanceUnit{}, apperr.NotFound("ambulance unit", id)
	}
	return u.Clone(), nil
}

func (s *Store) SaveUnit(_ context.Context, u domain.AmbulanceUnit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u.Clone()
	return nil
}
