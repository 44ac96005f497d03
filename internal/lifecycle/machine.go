// Package lifecycle enforces the emergency status chain and keeps the
// append-only timeline.
//
// Every write to an emergency goes through a Machine, which serializes
// writers per emergency id in arrival order. Timeline entries therefore
// appear in the order their writers acquired the lock.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"golden/hour/internal/apperr"
	"golden/hour/internal/clock"
	"golden/hour/internal/domain"
	"golden/hour/internal/keylock"
	"golden/hour/internal/store"
)

// EventSubmitted is the first timeline entry of every emergency.
const EventSubmitted = "emergency submitted"

// Mutation edits an emergency under its lock before it is saved. Returning
// an error aborts the write.
type Mutation func(e *domain.Emergency) error

// Machine is the only writer of emergencies.
type Machine struct {
	emergencies store.EmergencyStore
	locks       *keylock.Locker
	clock       clock.Clock
	log         zerolog.Logger
}

// New returns a Machine.
func New(emergencies store.EmergencyStore, clk clock.Clock, log zerolog.Logger) *Machine {
	return &Machine{
		emergencies: emergencies,
		locks:       keylock.New(),
		clock:       clk,
		log:         log.With().Str("component", "lifecycle").Logger(),
	}
}

// Create stores e, which must be in submitted status, with its first
// timeline entry.
func (m *Machine) Create(ctx context.Context, e domain.Emergency, actor string) (domain.Emergency, error) {
	if e.Status != domain.StatusSubmitted {
		return domain.Emergency{}, apperr.Validation("new emergency must be %s, got %s", domain.StatusSubmitted, e.Status)
	}

	unlock, err := m.locks.Lock(ctx, e.ID)
	if err != nil {
		return domain.Emergency{}, err
	}
	defer unlock()

	if _, err := m.emergencies.LoadEmergency(ctx, e.ID); err == nil {
		return domain.Emergency{}, apperr.Validation("emergency %s already exists", e.ID)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return domain.Emergency{}, err
	}

	now := m.clock.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Timeline = []domain.TimelineEntry{{
		Timestamp: now,
		Event:     EventSubmitted,
		Actor:     actor,
		Details:   fmt.Sprintf("%s emergency, severity %s", e.Type, e.Severity),
	}}
	if err := m.emergencies.SaveEmergency(ctx, e); err != nil {
		return domain.Emergency{}, fmt.Errorf("save emergency %s: %w", e.ID, err)
	}
	m.log.Info().Str("emergency_id", e.ID).Str("type", string(e.Type)).Str("severity", string(e.Severity)).Msg("emergency created")
	return e, nil
}

// Load returns the current state of an emergency.
func (m *Machine) Load(ctx context.Context, id string) (domain.Emergency, error) {
	return m.emergencies.LoadEmergency(ctx, id)
}

// List returns emergencies matching filter, newest first.
func (m *Machine) List(ctx context.Context, filter store.EmergencyFilter) ([]domain.Emergency, error) {
	return m.emergencies.ListEmergencies(ctx, filter)
}

// Transition moves emergency id to target.
func (m *Machine) Transition(ctx context.Context, id string, target domain.Status, actor, details string) (domain.Emergency, error) {
	return m.TransitionWith(ctx, id, target, actor, details, nil)
}

// TransitionWith moves emergency id to target and applies mutate in the
// same atomic write. It fails with InvalidStateTransition, leaving the
// emergency unchanged, when the current status is terminal or target is
// neither cancelled nor the single successor.
func (m *Machine) TransitionWith(ctx context.Context, id string, target domain.Status, actor, details string, mutate Mutation) (domain.Emergency, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return domain.Emergency{}, err
	}
	defer unlock()

	e, err := m.emergencies.LoadEmergency(ctx, id)
	if err != nil {
		return domain.Emergency{}, err
	}
	if !domain.CanTransition(e.Status, target) {
		return domain.Emergency{}, apperr.InvalidTransition(string(e.Status), string(target))
	}

	if mutate != nil {
		if err := mutate(&e); err != nil {
			return domain.Emergency{}, err
		}
	}

	now := m.clock.Now()
	from := e.Status
	e.Status = target
	e.UpdatedAt = now
	e.Milestones.Stamp(target, now)
	e.Timeline = append(e.Timeline, domain.TimelineEntry{
		Timestamp: now,
		Event:     "status changed to " + string(target),
		Actor:     actor,
		Details:   details,
	})
	if err := m.emergencies.SaveEmergency(ctx, e); err != nil {
		return domain.Emergency{}, fmt.Errorf("save emergency %s: %w", id, err)
	}

	m.log.Info().
		Str("emergency_id", id).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor", actor).
		Msg("status changed")
	return e, nil
}

// Record appends a non-status timeline entry and applies mutate in the same
// write. It is rejected once the emergency is terminal.
func (m *Machine) Record(ctx context.Context, id, event, actor, details string, mutate Mutation) (domain.Emergency, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return domain.Emergency{}, err
	}
	defer unlock()

	e, err := m.emergencies.LoadEmergency(ctx, id)
	if err != nil {
		return domain.Emergency{}, err
	}
	if e.Status.IsTerminal() {
		return domain.Emergency{}, apperr.InvalidTransition(string(e.Status), event)
	}

	if mutate != nil {
		if err := mutate(&e); err != nil {
			return domain.Emergency{}, err
		}
	}

	now := m.clock.Now()
	e.UpdatedAt = now
	e.Timeline = append(e.Timeline, domain.TimelineEntry{
		Timestamp: now,
		Event:     event,
		Actor:     actor,
		Details:   details,
	})
	if err := m.emergencies.SaveEmergency(ctx, e); err != nil {
		return domain.Emergency{}, fmt.Errorf("save emergency %s: %w", id, err)
	}
	return e, nil
}
