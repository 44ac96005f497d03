// Package dispatch assigns ambulance units to emergencies.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"golden/hour/internal/apperr"
	"golden/hour/internal/clock"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/keylock"
	"golden/hour/internal/store"
)

// Request asks for the nearest free unit.
type Request struct {
	EmergencyID string
	Location    geo.Point
	Severity    domain.Severity
	Type        domain.EmergencyType
}

// Assignment is a successful claim.
type Assignment struct {
	Unit           domain.AmbulanceUnit
	DistanceMeters float64
	ETAMinutes     int
	DispatchedAt   time.Time
}

// Fallback is attached to a NoAvailableResource error when no unit is free.
type Fallback struct {
	Center         domain.DispatchCenter `json:"center"`
	DistanceMeters float64               `json:"distance_meters"`
	Message        string                `json:"message"`
}

// Dispatcher owns unit status while a unit is assigned.
type Dispatcher struct {
	units   store.UnitStore
	centers []domain.DispatchCenter
	locks   *keylock.Locker
	clock   clock.Clock
	log     zerolog.Logger
}

// New returns a Dispatcher. centers are the fallback contacts offered when
// no unit is free.
func New(units store.UnitStore, centers []domain.DispatchCenter, clk clock.Clock, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		units:   units,
		centers: append([]domain.DispatchCenter(nil), centers...),
		locks:   keylock.New(),
		clock:   clk,
		log:     log.With().Str("component", "dispatch").Logger(),
	}
}

// Register adds or replaces a unit.
func (d *Dispatcher) Register(ctx context.Context, u domain.AmbulanceUnit) error {
	unlock, err := d.locks.Lock(ctx, u.ID)
	if err != nil {
		return err
	}
	defer unlock()
	u.UpdatedAt = d.clock.Now()
	return d.units.SaveUnit(ctx, u)
}

// Units lists every unit.
func (d *Dispatcher) Units(ctx context.Context) ([]domain.AmbulanceUnit, error) {
	return d.units.ListUnits(ctx)
}

// Unit returns one unit.
func (d *Dispatcher) Unit(ctx context.Context, id string) (domain.AmbulanceUnit, error) {
	return d.units.LoadUnit(ctx, id)
}

// Centers returns the configured dispatch centers.
func (d *Dispatcher) Centers() []domain.DispatchCenter {
	return append([]domain.DispatchCenter(nil), d.centers...)
}

// RequestDispatch claims the nearest available unit for req. When none is
// free it returns a NoAvailableResource error whose details are a Fallback.
func (d *Dispatcher) RequestDispatch(ctx context.Context, req Request) (Assignment, error) {
	if err := req.Location.Validate(); err != nil {
		return Assignment{}, err
	}

	units, err := d.units.ListUnits(ctx)
	if err != nil {
		return Assignment{}, fmt.Errorf("list units: %w", err)
	}

	type ranked struct {
		id       string
		distance float64
	}
	nearest := make([]ranked, 0, len(units))
	for _, u := range units {
		if u.Status != domain.UnitAvailable {
			continue
		}
		dist, err := geo.Distance(req.Location, u.Location)
		if err != nil {
			d.log.Warn().Err(err).Str("unit_id", u.ID).Msg("skipping unit with invalid location")
			continue
		}
		nearest = append(nearest, ranked{id: u.ID, distance: dist})
	}
	sort.Slice(nearest, func(i, j int) bool {
		if nearest[i].distance != nearest[j].distance {
			return nearest[i].distance < nearest[j].distance
		}
		return nearest[i].id < nearest[j].id
	})

	// A unit seen as available may be claimed by a concurrent request before
	// its lock is taken; claim rechecks and moves on to the next one.
	for _, r := range nearest {
		a, ok, err := d.claim(ctx, r.id, r.distance, req)
		if err != nil {
			return Assignment{}, err
		}
		if ok {
			return a, nil
		}
	}

	return Assignment{}, apperr.NoAvailableResource("no ambulance unit is available", d.fallback(req.Location))
}

func (d *Dispatcher) claim(ctx context.Context, unitID string, distance float64, req Request) (Assignment, bool, error) {
	unlock, err := d.locks.Lock(ctx, unitID)
	if err != nil {
		return Assignment{}, false, err
	}
	defer unlock()

	u, err := d.units.LoadUnit(ctx, unitID)
	if err != nil {
		return Assignment{}, false, err
	}
	if u.Status != domain.UnitAvailable {
		return Assignment{}, false, nil
	}

	now := d.clock.Now()
	eta := EstimateETA(distance, req.Severity)
	u.Status = domain.UnitDispatched
	u.Assignment = &domain.UnitAssignment{
		EmergencyID:  req.EmergencyID,
		Location:     req.Location,
		Severity:     req.Severity,
		Type:         req.Type,
		DispatchedAt: now,
		ETAMinutes:   eta,
	}
	u.UpdatedAt = now
	if err := d.units.SaveUnit(ctx, u); err != nil {
		return Assignment{}, false, fmt.Errorf("save unit %s: %w", unitID, err)
	}

	d.log.Info().
		Str("unit_id", u.ID).
		Str("emergency_id", req.EmergencyID).
		Float64("distance_m", distance).
		Int("eta_min", eta).
		Msg("unit dispatched")
	return Assignment{Unit: u, DistanceMeters: distance, ETAMinutes: eta, DispatchedAt: now}, true, nil
}

// ReleaseUnit returns unitID to available. When emergencyID is set, a unit
// that is no longer serving that emergency is left untouched. Releasing an
// available unit is a no-op.
func (d *Dispatcher) ReleaseUnit(ctx context.Context, unitID, emergencyID string) error {
	unlock, err := d.locks.Lock(ctx, unitID)
	if err != nil {
		return err
	}
	defer unlock()

	u, err := d.units.LoadUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if u.Status == domain.UnitAvailable && u.Assignment == nil {
		return nil
	}
	if emergencyID != "" && (u.Assignment == nil || u.Assignment.EmergencyID != emergencyID) {
		return nil
	}

	u.Status = domain.UnitAvailable
	u.Assignment = nil
	u.UpdatedAt = d.clock.Now()
	if err := d.units.SaveUnit(ctx, u); err != nil {
		return fmt.Errorf("save unit %s: %w", unitID, err)
	}
	d.log.Info().Str("unit_id", unitID).Str("emergency_id", emergencyID).Msg("unit released")
	return nil
}

var unitProgression = map[domain.UnitStatus]domain.UnitStatus{
	domain.UnitDispatched: domain.UnitEnRoute,
	domain.UnitEnRoute:    domain.UnitAtScene,
	domain.UnitAtScene:    domain.UnitReturning,
}

// Advance moves a unit serving emergencyID to status, which must be the
// next step of dispatched, en_route, at_scene, returning. Advancing to the
// current status is a no-op.
func (d *Dispatcher) Advance(ctx context.Context, unitID, emergencyID string, status domain.UnitStatus) error {
	unlock, err := d.locks.Lock(ctx, unitID)
	if err != nil {
		return err
	}
	defer unlock()

	u, err := d.units.LoadUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if u.Assignment == nil || u.Assignment.EmergencyID != emergencyID {
		return apperr.Validation("unit %s is not serving emergency %s", unitID, emergencyID)
	}
	if u.Status == status {
		return nil
	}
	if unitProgression[u.Status] != status {
		return apperr.InvalidTransition(string(u.Status), string(status))
	}

	u.Status = status
	u.UpdatedAt = d.clock.Now()
	if err := d.units.SaveUnit(ctx, u); err != nil {
		return fmt.Errorf("save unit %s: %w", unitID, err)
	}
	return nil
}

// NearestCenter returns the dispatch center closest to p.
func (d *Dispatcher) NearestCenter(p geo.Point) (domain.DispatchCenter, float64, bool) {
	var (
		best     domain.DispatchCenter
		bestDist float64
		found    bool
	)
	for _, c := range d.centers {
		dist, err := geo.Distance(p, c.Location)
		if err != nil {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && c.ID < best.ID) {
			best, bestDist, found = c, dist, true
		}
	}
	return best, bestDist, found
}

func (d *Dispatcher) fallback(p geo.Point) *Fallback {
	center, dist, ok := d.NearestCenter(p)
	if !ok {
		return &Fallback{Message: "no ambulance available; call the emergency number directly"}
	}
	return &Fallback{
		Center:         center,
		DistanceMeters: dist,
		Message:        fmt.Sprintf("no ambulance available; contact %s at %s", center.Name, center.Phone),
	}
}
