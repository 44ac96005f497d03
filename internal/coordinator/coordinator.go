// Package coordinator runs the emergency workflow: match a hospital,
// reserve a bed, dispatch the nearest ambulance and walk the lifecycle.
//
// Resources are always recorded on the emergency before the emergency can
// be cancelled without seeing them. When recording fails because the
// emergency became terminal, the coordinator releases what it holds itself.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golden/hour/internal/apperr"
	"golden/hour/internal/capacity"
	"golden/hour/internal/clock"
	"golden/hour/internal/dispatch"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/lifecycle"
	"golden/hour/internal/matching"
	"golden/hour/internal/notify"
	"golden/hour/internal/store"
)

// ActorSystem signs timeline entries written by the coordinator itself.
const ActorSystem = "system"

// ActorSimulation signs entries written by scheduled progress steps.
const ActorSimulation = "simulation"

// Config tunes the workflow.
type Config struct {
	// MaxDistanceMeters bounds the hospital search radius.
	MaxDistanceMeters float64
	// SimulateProgress schedules en_route and arrived_at_scene after a
	// successful dispatch.
	SimulateProgress bool
	EnRouteDelay     time.Duration
	// StepTimeout bounds each scheduled step.
	StepTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxDistanceMeters: 50_000,
		EnRouteDelay:      30 * time.Second,
		StepTimeout:       10 * time.Second,
	}
}

// Publisher queues notifications. *notify.Outbox implements it.
type Publisher interface {
	Publish(e domain.Emergency, kind notify.Kind, payload map[string]any) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Emergency, notify.Kind, map[string]any) bool { return false }

// Outcome summarises how far Submit got.
type Outcome string

const (
	OutcomeDispatched  Outcome = "dispatched"
	OutcomeNoAmbulance Outcome = "no_ambulance"
	OutcomeNoHospital  Outcome = "no_hospital"
	OutcomeCancelled   Outcome = "cancelled"
)

// Request is a validated emergency submission.
type Request struct {
	Patient     domain.Patient
	Location    geo.Point
	Address     string
	Type        string
	Severity    string
	Description string
	Actor       string
}

// Result is returned by Submit.
type Result struct {
	Emergency  domain.Emergency
	Outcome    Outcome
	Candidates []matching.Candidate
	// Message is guidance for the caller, set on every outcome.
	Message  string
	Fallback *dispatch.Fallback
	// ReservationConflicts counts candidates skipped because their
	// capacity was taken before the reservation landed.
	ReservationConflicts int
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	machine    *lifecycle.Machine
	matcher    *matching.Matcher
	capacity   *capacity.Registry
	dispatcher *dispatch.Dispatcher
	notifier   Publisher
	clock      clock.Clock
	cfg        Config
	log        zerolog.Logger

	mu     sync.Mutex
	timers map[string]map[uint64]*pendingStep
	seq    uint64
	closed bool
}

// New wires a Coordinator. notifier may be nil.
func New(
	machine *lifecycle.Machine,
	matcher *matching.Matcher,
	reg *capacity.Registry,
	dispatcher *dispatch.Dispatcher,
	notifier Publisher,
	clk clock.Clock,
	cfg Config,
	log zerolog.Logger,
) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxDistanceMeters <= 0 {
		cfg.MaxDistanceMeters = def.MaxDistanceMeters
	}
	if cfg.EnRouteDelay <= 0 {
		cfg.EnRouteDelay = def.EnRouteDelay
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if notifier == nil {
		notifier = nopPublisher{}
	}
	return &Coordinator{
		machine:    machine,
		matcher:    matcher,
		capacity:   reg,
		dispatcher: dispatcher,
		notifier:   notifier,
		clock:      clk,
		cfg:        cfg,
		log:        log.With().Str("component", "coordinator").Logger(),
		timers:     make(map[string]map[uint64]*pendingStep),
	}
}

// Submit creates an emergency and runs matching, reservation and dispatch
// for it. Running out of hospitals or ambulances is reported through the
// Result, not as an error.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Result, error) {
	actor := req.Actor
	if actor == "" {
		actor = ActorSystem
	}
	e, err := domain.NewEmergency(domain.EmergencyParams{
		ID:          uuid.NewString(),
		Patient:     req.Patient,
		Location:    req.Location,
		Address:     req.Address,
		Type:        req.Type,
		Severity:    req.Severity,
		Description: req.Description,
	}, c.clock.Now())
	if err != nil {
		return Result{}, err
	}
	e, err = c.machine.Create(ctx, e, actor)
	if err != nil {
		return Result{}, err
	}
	c.notifier.Publish(e, notify.KindSubmitted, nil)
	id := e.ID
	log := c.log.With().Str("emergency_id", id).Logger()

	candidates, err := c.matcher.FindCandidates(ctx, e.Location, e.Type, e.Severity, c.cfg.MaxDistanceMeters)
	if err != nil {
		return Result{}, fmt.Errorf("find candidates for %s: %w", id, err)
	}
	res := Result{Candidates: candidates}

	assigned, conflicts, err := c.reserveFirst(ctx, e, candidates)
	res.ReservationConflicts = conflicts
	if err != nil {
		return res, c.abandoned(ctx, id, &res, err)
	}
	if assigned == nil {
		res.Outcome = OutcomeNoHospital
		res.Message = fmt.Sprintf(
			"No hospital with available capacity within %.0f km. Call the emergency number directly.",
			c.cfg.MaxDistanceMeters/1000)
		e, err = c.machine.Transition(ctx, id, domain.StatusProcessing, ActorSystem, "no hospital with available capacity")
		if err != nil {
			return res, c.abandoned(ctx, id, &res, err)
		}
		res.Emergency = e
		c.notifier.Publish(e, notify.KindNoResource, map[string]any{"resource": "hospital", "message": res.Message})
		log.Warn().Int("candidates", len(candidates)).Msg("no hospital could take the patient")
		return res, nil
	}

	if _, err = c.recordHospital(ctx, id, *assigned); err != nil {
		c.releaseReservation(ctx, *assigned.Reservation)
		return res, c.abandoned(ctx, id, &res, err)
	}

	ambulance, fallback := c.dispatch(ctx, e)
	if ambulance != nil {
		if _, err = c.recordAmbulance(ctx, id, *ambulance); err != nil {
			c.releaseUnit(ctx, ambulance.UnitID, id)
			return res, c.abandoned(ctx, id, &res, err)
		}
	} else {
		if _, err = c.machine.Record(ctx, id, "ambulance unavailable", ActorSystem, fallback.Message, nil); err != nil {
			return res, c.abandoned(ctx, id, &res, err)
		}
	}

	e, err = c.machine.Transition(ctx, id, domain.StatusProcessing, ActorSystem,
		fmt.Sprintf("bed reserved at %s", assigned.Name))
	if err != nil {
		return res, c.abandoned(ctx, id, &res, err)
	}

	if ambulance == nil {
		res.Emergency = e
		res.Outcome = OutcomeNoAmbulance
		res.Fallback = fallback
		res.Message = fmt.Sprintf("Bed reserved at %s. %s", assigned.Name, fallback.Message)
		c.notifier.Publish(e, notify.KindNoResource, map[string]any{"resource": "ambulance", "message": fallback.Message})
		log.Warn().Str("hospital_id", assigned.HospitalID).Msg("hospital reserved without ambulance")
		return res, nil
	}

	e, err = c.machine.Transition(ctx, id, domain.StatusAmbulanceDispatched, ActorSystem,
		fmt.Sprintf("%s dispatched, ETA %d min", ambulance.CallSign, ambulance.ETAMinutes))
	if err != nil {
		return res, c.abandoned(ctx, id, &res, err)
	}
	res.Emergency = e
	res.Outcome = OutcomeDispatched
	res.Message = fmt.Sprintf("Ambulance %s dispatched, ETA %d minutes. Destination: %s (%.1f km).",
		ambulance.CallSign, ambulance.ETAMinutes, assigned.Name, assigned.DistanceMeters/1000)

	c.notifier.Publish(e, notify.KindDispatched, map[string]any{
		"unit_id":     ambulance.UnitID,
		"call_sign":   ambulance.CallSign,
		"eta_minutes": ambulance.ETAMinutes,
		"hospital_id": assigned.HospitalID,
	})
	if c.cfg.SimulateProgress {
		c.schedule(id, c.cfg.EnRouteDelay, domain.StatusEnRoute)
	}
	log.Info().
		Str("hospital_id", assigned.HospitalID).
		Str("unit_id", ambulance.UnitID).
		Int("eta_min", ambulance.ETAMinutes).
		Int("conflicts", conflicts).
		Msg("emergency dispatched")
	return res, nil
}

// reserveFirst walks the ranked candidates until a reservation succeeds.
// A nil assignment means every candidate was full.
func (c *Coordinator) reserveFirst(ctx context.Context, e domain.Emergency, candidates []matching.Candidate) (*domain.HospitalAssignment, int, error) {
	conflicts := 0
	for _, cand := range candidates {
		token, err := c.capacity.Reserve(ctx, cand.Hospital.ID, e.Type)
		switch {
		case err == nil:
			return &domain.HospitalAssignment{
				HospitalID:      cand.Hospital.ID,
				Name:            cand.Hospital.Name,
				DistanceMeters:  cand.DistanceMeters,
				ETAMinutes:      dispatch.EstimateETA(cand.DistanceMeters, e.Severity),
				Score:           cand.Scores.Rank,
				SelectionReason: cand.SelectionReason,
				Reservation:     &token,
			}, conflicts, nil
		case apperr.Is(err, apperr.KindNoAvailableResource),
			apperr.Is(err, apperr.KindReservationConflict),
			apperr.Is(err, apperr.KindNotFound):
			conflicts++
			c.log.Debug().Err(err).Str("emergency_id", e.ID).Str("hospital_id", cand.Hospital.ID).Msg("candidate skipped")
		default:
			return nil, conflicts, fmt.Errorf("reserve at %s: %w", cand.Hospital.ID, err)
		}
	}
	return nil, conflicts, nil
}

func (c *Coordinator) recordHospital(ctx context.Context, id string, a domain.HospitalAssignment) (domain.Emergency, error) {
	details := fmt.Sprintf("%s, %.1f km, score %d", a.Name, a.DistanceMeters/1000, a.Score)
	return c.machine.Record(ctx, id, "hospital assigned", ActorSystem, details, func(e *domain.Emergency) error {
		e.AssignedHospital = &a
		return nil
	})
}

func (c *Coordinator) recordAmbulance(ctx context.Context, id string, a domain.AmbulanceAssignment) (domain.Emergency, error) {
	details := fmt.Sprintf("%s, %.1f km, ETA %d min", a.CallSign, a.DistanceMeters/1000, a.ETAMinutes)
	return c.machine.Record(ctx, id, "ambulance assigned", ActorSystem, details, func(e *domain.Emergency) error {
		e.Ambulance = &a
		return nil
	})
}

// dispatch returns either an assignment or the fallback to offer instead.
func (c *Coordinator) dispatch(ctx context.Context, e domain.Emergency) (*domain.AmbulanceAssignment, *dispatch.Fallback) {
	a, err := c.dispatcher.RequestDispatch(ctx, dispatch.Request{
		EmergencyID: e.ID,
		Location:    e.Location,
		Severity:    e.Severity,
		Type:        e.Type,
	})
	if err == nil {
		return &domain.AmbulanceAssignment{
			UnitID:         a.Unit.ID,
			CallSign:       a.Unit.CallSign,
			DistanceMeters: a.DistanceMeters,
			ETAMinutes:     a.ETAMinutes,
			DispatchedAt:   a.DispatchedAt,
		}, nil
	}

	if fb, ok := apperr.DetailsOf(err).(*dispatch.Fallback); ok && fb != nil {
		return nil, fb
	}
	c.log.Error().Err(err).Str("emergency_id", e.ID).Msg("dispatch failed")
	return nil, &dispatch.Fallback{Message: "ambulance dispatch is unavailable; call the emergency number directly"}
}

// abandoned turns a failure after creation into a Result. When the
// emergency was cancelled concurrently the current state is returned
// without error.
func (c *Coordinator) abandoned(ctx context.Context, id string, res *Result, cause error) error {
	if !apperr.Is(cause, apperr.KindInvalidStateTransition) {
		return cause
	}
	e, err := c.machine.Load(ctx, id)
	if err != nil {
		return cause
	}
	if e.Status != domain.StatusCancelled {
		return cause
	}
	res.Emergency = e
	res.Outcome = OutcomeCancelled
	res.Message = "Emergency was cancelled while it was being processed."
	c.log.Info().Str("emergency_id", id).Msg("submission overtaken by cancellation")
	return nil
}

// Cancel moves a non-terminal emergency to cancelled and frees its bed and
// ambulance.
func (c *Coordinator) Cancel(ctx context.Context, id, reason, actor string) (domain.Emergency, error) {
	if actor == "" {
		actor = ActorSystem
	}
	if reason == "" {
		reason = "cancelled by " + actor
	}
	e, err := c.machine.TransitionWith(ctx, id, domain.StatusCancelled, actor, reason, c.releaseAll(ctx))
	if err != nil {
		return domain.Emergency{}, err
	}
	c.stopTimers(id)
	c.notifier.Publish(e, notify.KindCancelled, map[string]any{"reason": reason})
	return e, nil
}

// releaseAll frees everything recorded on the emergency. Failures are
// logged and leave the Released flag unset so a later sweep can retry.
func (c *Coordinator) releaseAll(ctx context.Context) lifecycle.Mutation {
	return func(e *domain.Emergency) error {
		if h := e.AssignedHospital; h != nil && h.Reservation != nil && !h.Reservation.Released {
			if err := c.capacity.Release(ctx, *h.Reservation); err != nil {
				c.log.Error().Err(err).Str("emergency_id", e.ID).Str("hospital_id", h.HospitalID).Msg("release reservation failed")
			} else {
				h.Reservation.Released = true
			}
		}
		c.releaseAmbulance(ctx, e)
		return nil
	}
}

func (c *Coordinator) releaseAmbulance(ctx context.Context, e *domain.Emergency) {
	a := e.Ambulance
	if a == nil || a.Released {
		return
	}
	if err := c.dispatcher.ReleaseUnit(ctx, a.UnitID, e.ID); err != nil {
		c.log.Error().Err(err).Str("emergency_id", e.ID).Str("unit_id", a.UnitID).Msg("release unit failed")
		return
	}
	a.Released = true
}

func (c *Coordinator) releaseReservation(ctx context.Context, token domain.Reservation) {
	if err := c.capacity.Release(ctx, token); err != nil {
		c.log.Error().Err(err).Str("reservation_id", token.ID).Msg("release unrecorded reservation failed")
	}
}

func (c *Coordinator) releaseUnit(ctx context.Context, unitID, emergencyID string) {
	if err := c.dispatcher.ReleaseUnit(ctx, unitID, emergencyID); err != nil {
		c.log.Error().Err(err).Str("unit_id", unitID).Msg("release unrecorded unit failed")
	}
}

var unitStatusFor = map[domain.Status]domain.UnitStatus{
	domain.StatusEnRoute:           domain.UnitEnRoute,
	domain.StatusArrivedAtScene:    domain.UnitAtScene,
	domain.StatusArrivedAtHospital: domain.UnitReturning,
}

// UpdateStatus applies an operator status change. The dispatched unit
// follows the emergency, and completion returns it to service. Cancelling
// goes through Cancel.
func (c *Coordinator) UpdateStatus(ctx context.Context, id string, status domain.Status, actor, details string) (domain.Emergency, error) {
	if status == domain.StatusCancelled {
		return c.Cancel(ctx, id, details, actor)
	}
	if actor == "" {
		actor = ActorSystem
	}
	e, err := c.machine.TransitionWith(ctx, id, status, actor, details, func(e *domain.Emergency) error {
		if e.Ambulance == nil || e.Ambulance.Released {
			return nil
		}
		if status == domain.StatusCompleted {
			c.releaseAmbulance(ctx, e)
			return nil
		}
		if unit, ok := unitStatusFor[status]; ok {
			if err := c.dispatcher.Advance(ctx, e.Ambulance.UnitID, e.ID, unit); err != nil {
				c.log.Warn().Err(err).Str("emergency_id", e.ID).Str("unit_id", e.Ambulance.UnitID).Msg("unit status not advanced")
			}
		}
		return nil
	})
	if err != nil {
		return domain.Emergency{}, err
	}
	if status.IsTerminal() {
		c.stopTimers(id)
	}
	c.notifier.Publish(e, notify.KindStatusChanged, map[string]any{"actor": actor})
	return e, nil
}

// Status returns the current state of an emergency.
func (c *Coordinator) Status(ctx context.Context, id string) (domain.Emergency, error) {
	return c.machine.Load(ctx, id)
}

// List returns emergencies matching filter, newest first.
func (c *Coordinator) List(ctx context.Context, filter store.EmergencyFilter) ([]domain.Emergency, error) {
	return c.machine.List(ctx, filter)
}

// Candidates ranks hospitals for a hypothetical emergency without
// reserving anything.
func (c *Coordinator) Candidates(ctx context.Context, location geo.Point, etype domain.EmergencyType, severity domain.Severity, maxDistance float64) ([]matching.Candidate, error) {
	if maxDistance <= 0 {
		maxDistance = c.cfg.MaxDistanceMeters
	}
	return c.matcher.FindCandidates(ctx, location, etype, severity, maxDistance)
}

// Units lists the ambulance fleet.
func (c *Coordinator) Units(ctx context.Context) ([]domain.AmbulanceUnit, error) {
	return c.dispatcher.Units(ctx)
}

// Close stops every scheduled progress step.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id := range c.timers {
		c.stopLocked(id)
	}
}
