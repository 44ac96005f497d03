package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

func TestCanTransitionFollowsLinearChain(t *testing.T) {
	for i := 0; i+1 < len(Lifecycle); i++ {
		assert.True(t, CanTransition(Lifecycle[i], Lifecycle[i+1]), "%s -> %s", Lifecycle[i], Lifecycle[i+1])
	}
	assert.False(t, CanTransition(StatusSubmitted, StatusEnRoute))
	assert.False(t, CanTransition(StatusSubmitted, StatusTransported))
	assert.False(t, CanTransition(StatusProcessing, StatusSubmitted))
	assert.False(t, CanTransition(StatusProcessing, StatusProcessing))
}

func TestCancelReachableOnlyFromNonTerminal(t *testing.T) {
	for _, s := range Lifecycle[:len(Lifecycle)-1] {
		assert.True(t, CanTransition(s, StatusCancelled), s)
	}
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusCancelled))
}

func TestCapacityApplyKeepsInvariant(t *testing.T) {
	c := Capacity{TotalBeds: 2, AvailableBeds: 1, ICUBeds: 1, AvailableICUBeds: 0}

	next, err := c.Apply(CapacityDelta{Beds: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, next.AvailableBeds)

	_, err = next.Apply(CapacityDelta{Beds: -1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = c.Apply(CapacityDelta{ICUBeds: 2})
	assert.Error(t, err)
}

func TestNewEmergencyValidates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := EmergencyParams{
		ID:       "e-1",
		Patient:  Patient{Name: "Ana", Phone: "+15550001"},
		Location: geo.Point{Latitude: 40, Longitude: -73},
		Type:     "cardiac",
		Severity: "critical",
	}

	e, err := NewEmergency(base, now)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, e.Status)
	assert.Empty(t, e.Timeline)
	assert.Equal(t, now, e.CreatedAt)

	bad := base
	bad.Type = "sprained ankle"
	_, err = NewEmergency(bad, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad = base
	bad.Severity = "low"
	_, err = NewEmergency(bad, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad = base
	bad.Location.Latitude = 123
	_, err = NewEmergency(bad, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	e := Emergency{
		ID:               "e-1",
		Timeline:         []TimelineEntry{{Event: "a"}},
		AssignedHospital: &HospitalAssignment{HospitalID: "h", Reservation: &Reservation{ID: "r"}},
	}
	e.Milestones.Stamp(StatusCompleted, now)

	c := e.Clone()
	c.Timeline[0].Event = "b"
	c.AssignedHospital.Reservation.Released = true
	*c.Milestones.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, "a", e.Timeline[0].Event)
	assert.False(t, e.AssignedHospital.Reservation.Released)
	assert.Equal(t, now, *e.Milestones.CompletedAt)
}

func TestHospitalValidate(t *testing.T) {
	h := Hospital{
		ID:       "h-1",
		Location: geo.Point{Latitude: 1, Longitude: 1},
		Status:   HospitalActive,
		Capacity: Capacity{TotalBeds: 10, AvailableBeds: 5},
		Capabilities: Capabilities{
			TraumaLevel: TraumaII,
		},
		Specialties: []Specialty{SpecialtyNeurology},
	}
	require.NoError(t, h.Validate())
	assert.True(t, h.HasSpecialty(SpecialtyNeurology))
	assert.False(t, h.HasSpecialty(SpecialtyMaternity))

	h.Capacity.AvailableBeds = 11
	assert.Error(t, h.Validate())

	h.Capacity.AvailableBeds = 5
	h.Specialties = []Specialty{"astrology"}
	assert.Error(t, h.Validate())
}
