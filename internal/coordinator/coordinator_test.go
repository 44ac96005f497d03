package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golden/hour/internal/apperr"
	"golden/hour/internal/capacity"
	"golden/hour/internal/clock"
	"golden/hour/internal/dispatch"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/lifecycle"
	"golden/hour/internal/matching"
	"golden/hour/internal/notify"
	"golden/hour/internal/scoring"
	"golden/hour/internal/store"
	"golden/hour/internal/store/memory"
)

var (
	scene = geo.Point{Latitude: 40.7128, Longitude: -74.0060}
	epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []notify.Kind
	// onPublish runs after the event is recorded, outside mu.
	onPublish func(domain.Emergency, notify.Kind)
}

func (p *recordingPublisher) Publish(e domain.Emergency, kind notify.Kind, _ map[string]any) bool {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(e, kind)
	}
	return true
}

func (p *recordingPublisher) seen() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Kind(nil), p.kinds...)
}

// staleStore answers searches from an outdated snapshot: hospitals that
// are full show almost every bed free, the way a replica lagging behind
// concurrent reservations would. Reservations still hit the real counters.
type staleStore struct {
	*memory.Store
}

func (s staleStore) FindHospitalsNear(ctx context.Context, center geo.Point, radius float64, f store.HospitalFilter) ([]domain.Hospital, error) {
	f.MinAvailableBeds = 0
	found, err := s.Store.FindHospitalsNear(ctx, center, radius, f)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].Capacity.AvailableBeds == 0 {
			found[i].Capacity.AvailableBeds = found[i].Capacity.TotalBeds - 1
		}
	}
	return found, nil
}

// cancelActive cancels every open emergency. Hooks below use it to land a
// cancellation between two steps of Submit.
func (f *fixture) cancelActive(ctx context.Context) {
	active, err := f.store.ListEmergencies(ctx, store.EmergencyFilter{ActiveOnly: true})
	if err != nil {
		return
	}
	for _, e := range active {
		_, _ = f.coord.Cancel(ctx, e.ID, "caller hung up", "operator")
	}
}

// cancellingHospitals cancels open emergencies right after the first bed
// is taken, before Submit records the assignment.
type cancellingHospitals struct {
	*memory.Store
	f     *fixture
	fired bool
}

func (s *cancellingHospitals) AdjustCapacity(ctx context.Context, id string, delta domain.CapacityDelta) (domain.Hospital, error) {
	h, err := s.Store.AdjustCapacity(ctx, id, delta)
	if err == nil && delta.Beds < 0 && !s.fired {
		s.fired = true
		s.f.cancelActive(ctx)
	}
	return h, err
}

// cancellingUnits cancels open emergencies right after a unit is claimed,
// before Submit records the ambulance.
type cancellingUnits struct {
	*memory.Store
	f *fixture
}

func (s cancellingUnits) SaveUnit(ctx context.Context, u domain.AmbulanceUnit) error {
	if err := s.Store.SaveUnit(ctx, u); err != nil {
		return err
	}
	if u.Status == domain.UnitDispatched {
		s.f.cancelActive(ctx)
	}
	return nil
}

type fixture struct {
	store  *memory.Store
	units  store.UnitStore
	clock  *clock.FakeClock
	pub    *recordingPublisher
	coord  *Coordinator
	disp   *dispatch.Dispatcher
	center domain.DispatchCenter
}

type option func(*fixture, *Config, *store.HospitalStore)

func withSimulation() option {
	return func(_ *fixture, cfg *Config, _ *store.HospitalStore) {
		cfg.SimulateProgress = true
	}
}

func withStaleReads() option {
	return func(f *fixture, _ *Config, hs *store.HospitalStore) {
		*hs = staleStore{f.store}
	}
}

func withCancelAfterReserve() option {
	return func(f *fixture, _ *Config, hs *store.HospitalStore) {
		*hs = &cancellingHospitals{Store: f.store, f: f}
	}
}

func withCancelAfterClaim() option {
	return func(f *fixture, _ *Config, _ *store.HospitalStore) {
		f.units = cancellingUnits{Store: f.store, f: f}
	}
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		clock: clock.Fake(epoch),
		pub:   &recordingPublisher{},
		center: domain.DispatchCenter{
			ID: "dc-1", Name: "Manhattan Dispatch", Phone: "+1-212-555-0100",
			Location: geo.Point{Latitude: 40.7138, Longitude: -74.0070},
		},
	}
	f.units = f.store
	cfg := DefaultConfig()
	var hs store.HospitalStore = f.store
	for _, o := range opts {
		o(f, &cfg, &hs)
	}

	log := zerolog.Nop()
	f.disp = dispatch.New(f.units, []domain.DispatchCenter{f.center}, f.clock, log)
	f.coord = New(
		lifecycle.New(f.store, f.clock, log),
		matching.New(hs, scoring.New(scoring.DefaultConfig()), matching.DefaultConfig(), log),
		capacity.New(hs, f.clock, log),
		f.disp,
		f.pub,
		f.clock,
		cfg,
		log,
	)
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) addHospital(t *testing.T, id string, lat, lon float64, beds int) {
	t.Helper()
	require.NoError(t, f.store.SaveHospital(context.Background(), domain.Hospital{
		ID:       id,
		Name:     "Hospital " + id,
		Location: geo.Point{Latitude: lat, Longitude: lon},
		Status:   domain.HospitalActive,
		Capacity: domain.Capacity{
			TotalBeds: 10, AvailableBeds: beds,
			ICUBeds: 2, AvailableICUBeds: 1,
			EmergencyRooms: 1, AvailableEmergencyRooms: 1,
		},
	}))
}

func (f *fixture) addUnit(t *testing.T, id string, lat, lon float64) {
	t.Helper()
	require.NoError(t, f.disp.Register(context.Background(), domain.AmbulanceUnit{
		ID:       id,
		CallSign: "MEDIC-" + id,
		Location: geo.Point{Latitude: lat, Longitude: lon},
		Status:   domain.UnitAvailable,
	}))
}

func (f *fixture) hospital(t *testing.T, id string) domain.Hospital {
	t.Helper()
	h, err := f.store.LoadHospital(context.Background(), id)
	require.NoError(t, err)
	return h
}

func (f *fixture) unit(t *testing.T, id string) domain.AmbulanceUnit {
	t.Helper()
	u, err := f.store.LoadUnit(context.Background(), id)
	require.NoError(t, err)
	return u
}

func cardiacRequest() Request {
	return Request{
		Patient:  domain.Patient{Name: "Ada", Phone: "+1-555-0101"},
		Location: scene,
		Type:     string(domain.TypeCardiac),
		Severity: string(domain.SeverityCritical),
		Actor:    "caller",
	}
}

func events(e domain.Emergency) []string {
	out := make([]string, 0, len(e.Timeline))
	for _, entry := range e.Timeline {
		out = append(out, entry.Event)
	}
	return out
}

func TestSubmitReservesAndDispatches(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addHospital(t, "far", 40.76, -73.98, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Len(t, res.Candidates, 2)
	assert.Zero(t, res.ReservationConflicts)
	assert.Contains(t, res.Message, "MEDIC-u1")

	e := res.Emergency
	assert.Equal(t, domain.StatusAmbulanceDispatched, e.Status)
	require.NotNil(t, e.AssignedHospital)
	assert.Equal(t, "near", e.AssignedHospital.HospitalID)
	require.NotNil(t, e.AssignedHospital.Reservation)
	assert.Equal(t, domain.CapacityDelta{Beds: -1, ICUBeds: -1}, e.AssignedHospital.Reservation.Delta)
	require.NotNil(t, e.Ambulance)
	assert.Equal(t, "u1", e.Ambulance.UnitID)
	assert.Equal(t, dispatch.MinETAMinutes, e.Ambulance.ETAMinutes)
	require.NotNil(t, e.Milestones.DispatchedAt)
	assert.Equal(t, []string{
		lifecycle.EventSubmitted,
		"hospital assigned",
		"ambulance assigned",
		"status changed to processing",
		"status changed to ambulance_dispatched",
	}, events(e))

	assert.Equal(t, 1, f.hospital(t, "near").Capacity.AvailableBeds)
	assert.Equal(t, 0, f.hospital(t, "near").Capacity.AvailableICUBeds)
	assert.Equal(t, 2, f.hospital(t, "far").Capacity.AvailableBeds)
	assert.Equal(t, domain.UnitDispatched, f.unit(t, "u1").Status)
	assert.Equal(t, []notify.Kind{notify.KindSubmitted, notify.KindDispatched}, f.pub.seen())

	stored, err := f.coord.Status(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Timeline, stored.Timeline)
}

func TestSubmitFallsBackWhenTopCandidateIsFull(t *testing.T) {
	f := newFixture(t, withStaleReads())
	f.addHospital(t, "near", 40.715, -74.005, 0)
	f.addHospital(t, "far", 40.76, -73.98, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ReservationConflicts)
	require.NotNil(t, res.Emergency.AssignedHospital)
	assert.Equal(t, "far", res.Emergency.AssignedHospital.HospitalID)
	assert.Equal(t, 0, f.hospital(t, "near").Capacity.AvailableBeds)
	assert.Equal(t, 1, f.hospital(t, "far").Capacity.AvailableBeds)
}

func TestSubmitWithoutHospital(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "full", 40.715, -74.005, 0)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoHospital, res.Outcome)
	assert.Empty(t, res.Candidates)
	assert.Contains(t, res.Message, "50 km")
	assert.Equal(t, domain.StatusProcessing, res.Emergency.Status)
	assert.Nil(t, res.Emergency.AssignedHospital)
	assert.Nil(t, res.Emergency.Ambulance)
	assert.Equal(t, domain.UnitAvailable, f.unit(t, "u1").Status)
	assert.Equal(t, []notify.Kind{notify.KindSubmitted, notify.KindNoResource}, f.pub.seen())
}

func TestSubmitWithoutAmbulanceOffersDispatchCenter(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoAmbulance, res.Outcome)
	require.NotNil(t, res.Fallback)
	assert.Equal(t, "dc-1", res.Fallback.Center.ID)
	assert.Contains(t, res.Message, "+1-212-555-0100")
	assert.Equal(t, domain.StatusProcessing, res.Emergency.Status)
	assert.NotNil(t, res.Emergency.AssignedHospital)
	assert.Nil(t, res.Emergency.Ambulance)
	assert.Contains(t, events(res.Emergency), "ambulance unavailable")
	assert.Equal(t, 1, f.hospital(t, "near").Capacity.AvailableBeds)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	req := cardiacRequest()
	req.Severity = "mild"

	_, err := f.coord.Submit(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	all, err := f.coord.List(context.Background(), store.EmergencyFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCancelRestoresBedAndAmbulance(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)
	id := res.Emergency.ID

	e, err := f.coord.Cancel(context.Background(), id, "caller hung up", "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, e.Status)
	assert.True(t, e.AssignedHospital.Reservation.Released)
	assert.True(t, e.Ambulance.Released)

	h := f.hospital(t, "near")
	assert.Equal(t, 2, h.Capacity.AvailableBeds)
	assert.Equal(t, 1, h.Capacity.AvailableICUBeds)
	u := f.unit(t, "u1")
	assert.Equal(t, domain.UnitAvailable, u.Status)
	assert.Nil(t, u.Assignment)

	last := e.Timeline[len(e.Timeline)-1]
	assert.Equal(t, "status changed to cancelled", last.Event)
	assert.Equal(t, "operator", last.Actor)
	assert.Equal(t, "caller hung up", last.Details)

	_, err = f.coord.Cancel(context.Background(), id, "again", "operator")
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
	assert.Equal(t, 2, f.hospital(t, "near").Capacity.AvailableBeds)

	_, err = f.coord.Cancel(context.Background(), "missing", "", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCancelWhileReservingReleasesBed(t *testing.T) {
	f := newFixture(t, withCancelAfterReserve())
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, domain.StatusCancelled, res.Emergency.Status)
	assert.Nil(t, res.Emergency.AssignedHospital)
	assert.Nil(t, res.Emergency.Ambulance)

	h := f.hospital(t, "near")
	assert.Equal(t, 2, h.Capacity.AvailableBeds)
	assert.Equal(t, 1, h.Capacity.AvailableICUBeds)
	assert.Equal(t, domain.UnitAvailable, f.unit(t, "u1").Status)
	assert.NotContains(t, f.pub.seen(), notify.KindDispatched)
}

func TestCancelWhileDispatchingReleasesUnit(t *testing.T) {
	f := newFixture(t, withCancelAfterClaim())
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, domain.StatusCancelled, res.Emergency.Status)
	require.NotNil(t, res.Emergency.AssignedHospital)
	assert.True(t, res.Emergency.AssignedHospital.Reservation.Released)
	assert.Nil(t, res.Emergency.Ambulance)

	h := f.hospital(t, "near")
	assert.Equal(t, 2, h.Capacity.AvailableBeds)
	assert.Equal(t, 1, h.Capacity.AvailableICUBeds)
	u := f.unit(t, "u1")
	assert.Equal(t, domain.UnitAvailable, u.Status)
	assert.Nil(t, u.Assignment)
	assert.NotContains(t, f.pub.seen(), notify.KindDispatched)
}

func TestUpdateStatusThroughCompletion(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)
	id := res.Emergency.ID

	steps := []struct {
		status domain.Status
		unit   domain.UnitStatus
	}{
		{domain.StatusEnRoute, domain.UnitEnRoute},
		{domain.StatusArrivedAtScene, domain.UnitAtScene},
		{domain.StatusTransported, domain.UnitAtScene},
		{domain.StatusArrivedAtHospital, domain.UnitReturning},
		{domain.StatusCompleted, domain.UnitAvailable},
	}
	var e domain.Emergency
	for _, s := range steps {
		f.clock.Advance(time.Minute)
		e, err = f.coord.UpdateStatus(context.Background(), id, s.status, "crew", "")
		require.NoError(t, err, s.status)
		assert.Equal(t, s.unit, f.unit(t, "u1").Status, s.status)
	}

	assert.Equal(t, domain.StatusCompleted, e.Status)
	assert.True(t, e.Ambulance.Released)
	require.NotNil(t, e.Milestones.CompletedAt)
	assert.Equal(t, epoch.Add(5*time.Minute), *e.Milestones.CompletedAt)
	// The bed stays taken by the admitted patient.
	assert.Equal(t, 1, f.hospital(t, "near").Capacity.AvailableBeds)

	_, err = f.coord.UpdateStatus(context.Background(), id, domain.StatusCancelled, "crew", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
}

func TestUpdateStatusRejectsJumps(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)

	_, err = f.coord.UpdateStatus(context.Background(), res.Emergency.ID, domain.StatusTransported, "crew", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
	assert.Equal(t, domain.UnitDispatched, f.unit(t, "u1").Status)
}

func TestSimulatedProgress(t *testing.T) {
	f := newFixture(t, withSimulation())
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)
	id := res.Emergency.ID
	assert.Equal(t, 1, f.coord.pendingSteps(id))

	f.clock.Advance(DefaultConfig().EnRouteDelay)
	e, err := f.coord.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnRoute, e.Status)
	assert.Equal(t, ActorSimulation, e.Timeline[len(e.Timeline)-1].Actor)
	assert.Equal(t, domain.UnitEnRoute, f.unit(t, "u1").Status)
	// The fired step is gone; only arrival is pending.
	assert.Equal(t, 1, f.coord.pendingSteps(id))
	assert.Equal(t, 1, f.clock.PendingCount())

	f.clock.Advance(time.Duration(res.Emergency.Ambulance.ETAMinutes) * time.Minute)
	e, err = f.coord.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArrivedAtScene, e.Status)
	assert.NotNil(t, e.Milestones.ArrivedAtSceneAt)
	assert.Zero(t, f.coord.pendingSteps(id))
	assert.Zero(t, f.clock.PendingCount())
}

func TestCancelStopsSimulatedProgress(t *testing.T) {
	f := newFixture(t, withSimulation())
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)
	require.Equal(t, 1, f.clock.PendingCount())

	_, err = f.coord.Cancel(context.Background(), res.Emergency.ID, "", "operator")
	require.NoError(t, err)
	assert.Zero(t, f.clock.PendingCount())

	f.clock.Advance(time.Hour)
	e, err := f.coord.Status(context.Background(), res.Emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, e.Status)
}

func TestCancelDuringSimulatedStepLeavesNothingPending(t *testing.T) {
	f := newFixture(t, withSimulation())
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addUnit(t, "u1", 40.72, -74.0)

	res, err := f.coord.Submit(context.Background(), cardiacRequest())
	require.NoError(t, err)
	id := res.Emergency.ID

	// Cancel lands after the en_route update commits but before the step
	// schedules arrival.
	f.pub.onPublish = func(e domain.Emergency, kind notify.Kind) {
		if kind == notify.KindStatusChanged && e.Status == domain.StatusEnRoute {
			_, err := f.coord.Cancel(context.Background(), e.ID, "", "operator")
			assert.NoError(t, err)
		}
	}

	f.clock.Advance(DefaultConfig().EnRouteDelay)
	assert.Zero(t, f.coord.pendingSteps(id))
	assert.Zero(t, f.clock.PendingCount())

	f.clock.Advance(time.Hour)
	e, err := f.coord.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, e.Status)
	assert.Equal(t, domain.UnitAvailable, f.unit(t, "u1").Status)
}

func TestConcurrentSubmissionsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)
	f.addHospital(t, "far", 40.76, -73.98, 1)
	f.addUnit(t, "u1", 40.72, -74.0)
	f.addUnit(t, "u2", 40.73, -74.01)

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.coord.Submit(context.Background(), cardiacRequest())
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	outcomes := map[Outcome]int{}
	units := map[string]bool{}
	for _, r := range results {
		outcomes[r.Outcome]++
		if r.Emergency.Ambulance != nil {
			assert.False(t, units[r.Emergency.Ambulance.UnitID], "unit dispatched twice")
			units[r.Emergency.Ambulance.UnitID] = true
		}
	}
	assert.Equal(t, 2, outcomes[OutcomeDispatched])
	assert.Equal(t, 1, outcomes[OutcomeNoAmbulance])
	assert.Equal(t, callers-3, outcomes[OutcomeNoHospital])
	assert.Zero(t, f.hospital(t, "near").Capacity.AvailableBeds)
	assert.Zero(t, f.hospital(t, "far").Capacity.AvailableBeds)

	active, err := f.coord.List(context.Background(), store.EmergencyFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, callers)
}

func TestCandidatesDoNotReserve(t *testing.T) {
	f := newFixture(t)
	f.addHospital(t, "near", 40.715, -74.005, 2)

	got, err := f.coord.Candidates(context.Background(), scene, domain.TypeStroke, domain.SeverityUrgent, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Hospital.ID)
	assert.Equal(t, 2, f.hospital(t, "near").Capacity.AvailableBeds)
}
