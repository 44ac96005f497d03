package coordinator

import (
	"context"
	"time"

	"golden/hour/internal/apperr"
	"golden/hour/internal/clock"
	"golden/hour/internal/domain"
)

// pendingStep is a scheduled transition that has not fired yet. timer is
// nil until AfterFunc has returned.
type pendingStep struct {
	timer *clock.Timer
}

// schedule moves emergency id to status once after has elapsed on the
// coordinator's clock.
func (c *Coordinator) schedule(id string, after time.Duration, status domain.Status) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	ps := &pendingStep{}
	if c.timers[id] == nil {
		c.timers[id] = make(map[uint64]*pendingStep)
	}
	c.timers[id][seq] = ps
	c.mu.Unlock()

	t := c.clock.AfterFunc(after, func() {
		if !c.forget(id, seq) {
			return
		}
		c.step(id, status)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timers[id][seq] == ps {
		ps.timer = t
		return
	}
	// Fired already, or swept by stopTimers before the timer existed.
	t.Stop()
}

// forget drops a step that is about to fire. It reports false when the
// step was stopped in the meantime.
func (c *Coordinator) forget(id string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	steps, ok := c.timers[id]
	if !ok {
		return false
	}
	if _, ok := steps[seq]; !ok {
		return false
	}
	delete(steps, seq)
	if len(steps) == 0 {
		delete(c.timers, id)
	}
	return true
}

func (c *Coordinator) step(id string, status domain.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StepTimeout)
	defer cancel()

	e, err := c.UpdateStatus(ctx, id, status, ActorSimulation, "scheduled progress")
	if err != nil {
		ev := c.log.Warn()
		if apperr.Is(err, apperr.KindInvalidStateTransition) {
			ev = c.log.Debug()
		}
		ev.Err(err).Str("emergency_id", id).Str("target", string(status)).Msg("scheduled step skipped")
		return
	}

	if status != domain.StatusEnRoute || e.Ambulance == nil {
		return
	}
	remaining := time.Duration(e.Ambulance.ETAMinutes)*time.Minute - c.cfg.EnRouteDelay
	if remaining < time.Minute {
		remaining = time.Minute
	}
	c.schedule(id, remaining, domain.StatusArrivedAtScene)

	// A cancel committed after the update above may have swept the timers
	// before this step was added.
	if cur, err := c.machine.Load(ctx, id); err != nil || cur.Status.IsTerminal() {
		c.stopTimers(id)
	}
}

func (c *Coordinator) stopTimers(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(id)
}

func (c *Coordinator) stopLocked(id string) {
	for _, ps := range c.timers[id] {
		if ps.timer != nil {
			ps.timer.Stop()
		}
	}
	delete(c.timers, id)
}

func (c *Coordinator) pendingSteps(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers[id])
}
