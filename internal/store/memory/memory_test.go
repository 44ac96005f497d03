package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/store"
)

var downtown = geo.Point{Latitude: 40.7128, Longitude: -74.0060}

func hospital(id string, lat, lon float64, beds int) domain.Hospital {
	return domain.Hospital{
		ID:       id,
		Name:     "Hospital " + id,
		Location: geo.Point{Latitude: lat, Longitude: lon},
		Status:   domain.HospitalActive,
		Capacity: domain.Capacity{TotalBeds: 10, AvailableBeds: beds, ICUBeds: 2, AvailableICUBeds: 1},
		Capabilities: domain.Capabilities{
			TraumaLevel: domain.TraumaNone,
		},
	}
}

func TestFindHospitalsNearAppliesRadiusAndFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveHospital(ctx, hospital("near", 40.7200, -74.0000, 3)))
	require.NoError(t, s.SaveHospital(ctx, hospital("full", 40.7150, -74.0050, 0)))
	require.NoError(t, s.SaveHospital(ctx, hospital("far", 41.5, -74.0, 5)))
	closed := hospital("closed", 40.7130, -74.0061, 5)
	closed.Status = domain.HospitalMaintenance
	require.NoError(t, s.SaveHospital(ctx, closed))

	got, err := s.FindHospitalsNear(ctx, downtown, 50000, store.HospitalFilter{
		Status:           domain.HospitalActive,
		MinAvailableBeds: 1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
}

func TestFindHospitalsNearRejectsBadCenter(t *testing.T) {
	_, err := New().FindHospitalsNear(context.Background(), geo.Point{Latitude: 91}, 1000, store.HospitalFilter{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdjustCapacityKeepsCountersInBounds(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveHospital(ctx, hospital("h1", 40.72, -74.0, 1)))

	h, err := s.AdjustCapacity(ctx, "h1", domain.CapacityDelta{Beds: -1, ICUBeds: -1})
	require.NoError(t, err)
	assert.Zero(t, h.Capacity.AvailableBeds)
	assert.Zero(t, h.Capacity.AvailableICUBeds)

	_, err = s.AdjustCapacity(ctx, "h1", domain.CapacityDelta{Beds: -1})
	assert.True(t, apperr.Is(err, apperr.KindReservationConflict))

	_, err = s.AdjustCapacity(ctx, "missing", domain.CapacityDelta{Beds: -1})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	stored, err := s.LoadHospital(ctx, "h1")
	require.NoError(t, err)
	assert.Zero(t, stored.Capacity.AvailableBeds)
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	h := hospital("h1", 40.72, -74.0, 1)
	h.Specialties = []domain.Specialty{domain.SpecialtyCardiology}
	require.NoError(t, s.SaveHospital(ctx, h))

	h.Specialties[0] = domain.SpecialtyBurns
	loaded, err := s.LoadHospital(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, domain.SpecialtyCardiology, loaded.Specialties[0])
}

func TestSaveEmergencyRefusesTimelineShrink(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := domain.Emergency{ID: "e1", Status: domain.StatusSubmitted, CreatedAt: now}
	e.Timeline = []domain.TimelineEntry{{Timestamp: now, Event: "emergency submitted"}}
	require.NoError(t, s.SaveEmergency(ctx, e))

	e.Timeline = nil
	err := s.SaveEmergency(ctx, e)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListEmergenciesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, st := range []domain.Status{domain.StatusProcessing, domain.StatusCompleted, domain.StatusEnRoute} {
		require.NoError(t, s.SaveEmergency(ctx, domain.Emergency{
			ID:        string(rune('a' + i)),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListEmergencies(ctx, store.EmergencyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListEmergencies(ctx, store.EmergencyFilter{ActiveOnly: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].ID)
}

func TestUnitsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveUnit(ctx, domain.AmbulanceUnit{ID: "u2", Status: domain.UnitAvailable, Location: downtown}))
	require.NoError(t, s.SaveUnit(ctx, domain.AmbulanceUnit{ID: "u1", Status: domain.UnitAvailable, Location: downtown}))

	err := s.SaveUnit(ctx, domain.AmbulanceUnit{ID: "u3", Status: domain.UnitDispatched, Location: downtown})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	units, err := s.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "u1", units[0].ID)

	_, err = s.LoadUnit(ctx, "u3")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
