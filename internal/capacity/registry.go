// Package capacity reserves and releases hospital beds atomically.
package capacity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"golden/hour/internal/apperr"
	"golden/hour/internal/clock"
	"golden/hour/internal/domain"
	"golden/hour/internal/keylock"
	"golden/hour/internal/store"
)

// releasedTokens bounds how many released reservation ids are remembered
// for idempotent Release. Older ids fall back on the token's Released flag.
const releasedTokens = 4096

// Registry owns every mutation of hospital capacity counters. Operations
// on one hospital are serialized; different hospitals never contend.
type Registry struct {
	hospitals store.HospitalStore
	locks     *keylock.Locker
	clock     clock.Clock
	log       zerolog.Logger
	released  *lru.Cache[string, struct{}]
}

// New returns a Registry backed by hospitals.
func New(hospitals store.HospitalStore, clk clock.Clock, log zerolog.Logger) *Registry {
	released, _ := lru.New[string, struct{}](releasedTokens)
	return &Registry{
		hospitals: hospitals,
		locks:     keylock.New(),
		clock:     clk,
		log:       log.With().Str("component", "capacity").Logger(),
		released:  released,
	}
}

// Reserve takes one bed at hospitalID and, for emergency types that need
// intensive care, one ICU bed when one is free. The returned token records
// exactly what was taken.
func (r *Registry) Reserve(ctx context.Context, hospitalID string, etype domain.EmergencyType) (domain.Reservation, error) {
	unlock, err := r.locks.Lock(ctx, hospitalID)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer unlock()

	h, err := r.hospitals.LoadHospital(ctx, hospitalID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if h.Capacity.AvailableBeds <= 0 {
		return domain.Reservation{}, apperr.NoAvailableResource(
			fmt.Sprintf("hospital %s has no available beds", hospitalID), nil)
	}

	delta := domain.CapacityDelta{Beds: -1}
	if etype.NeedsICU() && h.Capacity.AvailableICUBeds > 0 {
		delta.ICUBeds = -1
	}

	updated, err := r.hospitals.AdjustCapacity(ctx, hospitalID, delta)
	if err != nil {
		return domain.Reservation{}, err
	}

	token := domain.Reservation{
		ID:         uuid.NewString(),
		HospitalID: hospitalID,
		Delta:      delta,
		ReservedAt: r.clock.Now(),
	}
	r.log.Debug().
		Str("hospital_id", hospitalID).
		Str("reservation_id", token.ID).
		Int("beds_left", updated.Capacity.AvailableBeds).
		Int("icu_left", updated.Capacity.AvailableICUBeds).
		Msg("capacity reserved")
	return token, nil
}

// Release gives back what token took. Releasing the same token twice is
// a no-op.
func (r *Registry) Release(ctx context.Context, token domain.Reservation) error {
	if token.Released || r.isReleased(token.ID) {
		return nil
	}

	unlock, err := r.locks.Lock(ctx, token.HospitalID)
	if err != nil {
		return err
	}
	defer unlock()

	if r.isReleased(token.ID) {
		return nil
	}
	if _, err := r.hospitals.AdjustCapacity(ctx, token.HospitalID, token.Delta.Negate()); err != nil {
		return fmt.Errorf("release reservation %s: %w", token.ID, err)
	}

	r.released.Add(token.ID, struct{}{})

	r.log.Debug().
		Str("hospital_id", token.HospitalID).
		Str("reservation_id", token.ID).
		Msg("capacity released")
	return nil
}

func (r *Registry) isReleased(id string) bool {
	return r.released.Contains(id)
}
