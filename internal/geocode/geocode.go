// Package geocode turns coordinates into addresses and back. Callers must
// treat every provider as best effort and fall back to raw coordinates.
package geocode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geo"
)

// Address is a resolved postal address.
type Address struct {
	Formatted string    `json:"formatted"`
	Street    string    `json:"street,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Postcode  string    `json:"postcode,omitempty"`
	Country   string    `json:"country,omitempty"`
	Location  geo.Point `json:"location"`
}

// Place is a point of interest near a location.
type Place struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category,omitempty"`
	Address        string    `json:"address,omitempty"`
	Location       geo.Point `json:"location"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Provider is a geocoding backend.
type Provider interface {
	ReverseGeocode(ctx context.Context, p geo.Point) (Address, error)
	ForwardGeocode(ctx context.Context, query string) (Address, error)
	FindNearby(ctx context.Context, center geo.Point, radiusMeters float64, category string) ([]Place, error)
}

// Coordinates formats p the way it is shown when no address is known.
func Coordinates(p geo.Point) string {
	return fmt.Sprintf("%.5f, %.5f", p.Latitude, p.Longitude)
}

// Describe returns a human-readable address for p, or its coordinates when
// the provider fails or takes longer than timeout.
func Describe(ctx context.Context, provider Provider, p geo.Point, timeout time.Duration) (string, error) {
	if provider == nil {
		return Coordinates(p), nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := provider.ReverseGeocode(ctx, p)
	if err != nil {
		return Coordinates(p), err
	}
	if strings.TrimSpace(addr.Formatted) == "" {
		return Coordinates(p), nil
	}
	return addr.Formatted, nil
}

// Locate resolves a free-text address into coordinates within timeout.
func Locate(ctx context.Context, provider Provider, query string, timeout time.Duration) (Address, error) {
	if strings.TrimSpace(query) == "" {
		return Address{}, apperr.Validation("address is required when no coordinates are given")
	}
	if provider == nil {
		return Address{}, apperr.External("geocoding", fmt.Errorf("no provider configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := provider.ForwardGeocode(ctx, query)
	if err != nil {
		return Address{}, err
	}
	if err := addr.Location.Validate(); err != nil {
		return Address{}, apperr.External("geocoding", err)
	}
	return addr, nil
}

// Offline answers without any network access: reverse lookups return the
// coordinates themselves and forward lookups always fail.
type Offline struct{}

func (Offline) ReverseGeocode(_ context.Context, p geo.Point) (Address, error) {
	if err := p.Validate(); err != nil {
		return Address{}, err
	}
	return Address{Formatted: Coordinates(p), Location: p}, nil
}

func (Offline) ForwardGeocode(_ context.Context, query string) (Address, error) {
	return Address{}, apperr.External("geocoding", fmt.Errorf("offline provider cannot resolve %q", query))
}

func (Offline) FindNearby(context.Context, geo.Point, float64, string) ([]Place, error) {
	return []Place{}, nil
}
