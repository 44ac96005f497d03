package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"golden/hour/internal/domain"
)

// OutboxConfig sizes the delivery queue.
type OutboxConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds one fan-out to every gateway.
	Timeout time.Duration
}

type job struct {
	emergency domain.Emergency
	kind      Kind
	payload   map[string]any
}

// Outbox queues events and fans each one out to every gateway from a
// fixed pool of workers. Publish never blocks; a full queue drops the event
// with a warning.
type Outbox struct {
	gateways []Gateway
	queue    chan job
	timeout  time.Duration
	log      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewOutbox starts cfg.Workers delivery goroutines.
func NewOutbox(cfg OutboxConfig, log zerolog.Logger, gateways ...Gateway) *Outbox {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	o := &Outbox{
		gateways: gateways,
		queue:    make(chan job, cfg.QueueSize),
		timeout:  cfg.Timeout,
		log:      log.With().Str("component", "notify").Logger(),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.run()
	}
	return o
}

// Publish enqueues an event for e. It reports whether the event was queued.
func (o *Outbox) Publish(e domain.Emergency, kind Kind, payload map[string]any) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	select {
	case o.queue <- job{emergency: e.Clone(), kind: kind, payload: payload}:
		return true
	default:
		o.log.Warn().
			Str("emergency_id", e.ID).
			Str("kind", string(kind)).
			Msg("notification queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Outbox) run() {
	defer o.wg.Done()
	for j := range o.queue {
		o.deliver(j)
	}
}

func (o *Outbox) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	// Gateways run concurrently and each failure is logged on its own.
	var g errgroup.Group
	for _, gw := range o.gateways {
		gw := gw // per-iteration copy; go.mod targets go 1.21 loop semantics
		g.Go(func() error {
			err := gw.Notify(ctx, j.emergency, j.kind, j.payload)
			if err != nil {
				o.log.Error().
					Err(err).
					Str("gateway", gw.Name()).
					Str("emergency_id", j.emergency.ID).
					Str("kind", string(j.kind)).
					Msg("notification failed")
			}
			return err
		})
	}
	_ = g.Wait()
}
