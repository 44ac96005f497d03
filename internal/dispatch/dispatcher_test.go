package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golden/hour/internal/apperr"
	"golden/hour/internal/clock"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/store/memory"
)

var (
	scene = geo.Point{Latitude: 40.7128, Longitude: -74.0060}
	epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
)

func newDispatcher(t *testing.T, centers []domain.DispatchCenter, units ...domain.AmbulanceUnit) *Dispatcher {
	t.Helper()
	d := New(memory.New(), centers, clock.Fake(epoch), zerolog.Nop())
	for _, u := range units {
		require.NoError(t, d.Register(context.Background(), u))
	}
	return d
}

func unitAt(id string, lat, lon float64) domain.AmbulanceUnit {
	return domain.AmbulanceUnit{
		ID:       id,
		CallSign: "MEDIC-" + id,
		Location: geo.Point{Latitude: lat, Longitude: lon},
		Status:   domain.UnitAvailable,
	}
}

func TestEstimateETA(t *testing.T) {
	cases := []struct {
		meters   float64
		severity domain.Severity
		want     int
	}{
		{10000, domain.SeverityCritical, 10},
		{10000, domain.SeverityUrgent, 11},
		{10000, domain.SeverityModerate, 12},
		{0, domain.SeverityCritical, 5},
		{1500, domain.SeverityModerate, 5},
		{45000, domain.SeverityCritical, 36},
		{31000, domain.SeverityModerate, 33},
		{62000, domain.SeverityModerate, 64},
		{40000, domain.SeverityCritical, 32},
		{70000, domain.SeverityUrgent, 62},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v_%s", tc.meters, tc.severity), func(t *testing.T) {
			assert.Equal(t, tc.want, EstimateETA(tc.meters, tc.severity))
		})
	}
}

func TestEstimateETAWholeMinutes(t *testing.T) {
	// At 60 km/h every kilometre is exactly one minute.
	for km := 1; km <= 120; km++ {
		want := km + 2
		if want < MinETAMinutes {
			want = MinETAMinutes
		}
		assert.Equal(t, want, EstimateETA(float64(km)*1000, domain.SeverityModerate), "%d km", km)
	}
}

func TestRequestDispatchPicksNearestUnit(t *testing.T) {
	d := newDispatcher(t, nil,
		unitAt("far", 40.80, -74.00),
		unitAt("near", 40.715, -74.005),
	)

	a, err := d.RequestDispatch(context.Background(), Request{
		EmergencyID: "e1", Location: scene, Severity: domain.SeverityCritical, Type: domain.TypeCardiac,
	})
	require.NoError(t, err)
	assert.Equal(t, "near", a.Unit.ID)
	assert.Equal(t, domain.UnitDispatched, a.Unit.Status)
	assert.Equal(t, MinETAMinutes, a.ETAMinutes)
	assert.Equal(t, epoch, a.DispatchedAt)

	stored, err := d.Unit(context.Background(), "near")
	require.NoError(t, err)
	require.NotNil(t, stored.Assignment)
	assert.Equal(t, "e1", stored.Assignment.EmergencyID)
}

func TestConcurrentDispatchIsExclusive(t *testing.T) {
	d := newDispatcher(t, nil,
		unitAt("u1", 40.713, -74.006),
		unitAt("u2", 40.714, -74.006),
		unitAt("u3", 40.715, -74.006),
	)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		claimed  = map[string]string{}
		degraded int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("e%d", n)
			a, err := d.RequestDispatch(context.Background(), Request{EmergencyID: id, Location: scene, Severity: domain.SeverityUrgent})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, apperr.Is(err, apperr.KindNoAvailableResource))
				degraded++
				return
			}
			if prev, dup := claimed[a.Unit.ID]; dup {
				t.Errorf("unit %s claimed by %s and %s", a.Unit.ID, prev, id)
			}
			claimed[a.Unit.ID] = id
		}(i)
	}
	wg.Wait()

	assert.Len(t, claimed, 3)
	assert.Equal(t, 9, degraded)
}

func TestNoUnitFallsBackToNearestCenter(t *testing.T) {
	centers := []domain.DispatchCenter{
		{ID: "dc-far", Name: "Upstate", Phone: "+1-518-555-0100", Location: geo.Point{Latitude: 42.65, Longitude: -73.75}},
		{ID: "dc-near", Name: "Manhattan", Phone: "+1-212-555-0100", Location: geo.Point{Latitude: 40.758, Longitude: -73.9855}},
	}
	busy := unitAt("busy", 40.713, -74.006)
	d := newDispatcher(t, centers, busy)
	_, err := d.RequestDispatch(context.Background(), Request{EmergencyID: "e0", Location: scene, Severity: domain.SeverityUrgent})
	require.NoError(t, err)

	_, err = d.RequestDispatch(context.Background(), Request{EmergencyID: "e1", Location: scene, Severity: domain.SeverityCritical})
	require.True(t, apperr.Is(err, apperr.KindNoAvailableResource))

	fb, ok := apperr.DetailsOf(err).(*Fallback)
	require.True(t, ok)
	assert.Equal(t, "dc-near", fb.Center.ID)
	assert.Contains(t, fb.Message, "+1-212-555-0100")
}

func TestFallbackWithoutCenters(t *testing.T) {
	d := newDispatcher(t, nil)
	_, err := d.RequestDispatch(context.Background(), Request{EmergencyID: "e1", Location: scene})
	require.True(t, apperr.Is(err, apperr.KindNoAvailableResource))
	fb, ok := apperr.DetailsOf(err).(*Fallback)
	require.True(t, ok)
	assert.Empty(t, fb.Center.ID)
	assert.NotEmpty(t, fb.Message)
}

func TestReleaseUnit(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher(t, nil, unitAt("u1", 40.713, -74.006))
	_, err := d.RequestDispatch(ctx, Request{EmergencyID: "e1", Location: scene, Severity: domain.SeverityUrgent})
	require.NoError(t, err)

	// A stale release for another emergency leaves the unit alone.
	require.NoError(t, d.ReleaseUnit(ctx, "u1", "e-other"))
	u, err := d.Unit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitDispatched, u.Status)

	require.NoError(t, d.ReleaseUnit(ctx, "u1", "e1"))
	require.NoError(t, d.ReleaseUnit(ctx, "u1", "e1"))
	u, err = d.Unit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, u.Status)
	assert.Nil(t, u.Assignment)

	assert.True(t, apperr.Is(d.ReleaseUnit(ctx, "missing", ""), apperr.KindNotFound))
}

func TestAdvanceFollowsUnitProgression(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher(t, nil, unitAt("u1", 40.713, -74.006))
	_, err := d.RequestDispatch(ctx, Request{EmergencyID: "e1", Location: scene, Severity: domain.SeverityUrgent})
	require.NoError(t, err)

	err = d.Advance(ctx, "u1", "e1", domain.UnitAtScene)
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))

	require.NoError(t, d.Advance(ctx, "u1", "e1", domain.UnitEnRoute))
	require.NoError(t, d.Advance(ctx, "u1", "e1", domain.UnitEnRoute))
	require.NoError(t, d.Advance(ctx, "u1", "e1", domain.UnitAtScene))
	require.NoError(t, d.Advance(ctx, "u1", "e1", domain.UnitReturning))

	err = d.Advance(ctx, "u1", "e2", domain.UnitReturning)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
