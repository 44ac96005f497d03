// Package matching ranks reachable hospitals for an emergency.
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/scoring"
	"golden/hour/internal/store"
)

// Config bounds the candidate search.
type Config struct {
	MaxCandidates       int
	DefaultRadiusMeters float64
}

// DefaultConfig returns 20 candidates within 50 km.
func DefaultConfig() Config {
	return Config{MaxCandidates: 20, DefaultRadiusMeters: 50000}
}

// Candidate is a scored hospital.
type Candidate struct {
	Hospital        domain.Hospital   `json:"hospital"`
	DistanceMeters  float64           `json:"distance_meters"`
	Scores          scoring.Breakdown `json:"scores"`
	SelectionReason string            `json:"selection_reason"`
}

// Matcher retrieves and ranks candidates. It holds no mutable state.
type Matcher struct {
	hospitals store.HospitalStore
	scores    *scoring.Engine
	cfg       Config
	log       zerolog.Logger
}

// New returns a Matcher.
func New(hospitals store.HospitalStore, scores *scoring.Engine, cfg Config, log zerolog.Logger) *Matcher {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = DefaultConfig().DefaultRadiusMeters
	}
	return &Matcher{
		hospitals: hospitals,
		scores:    scores,
		cfg:       cfg,
		log:       log.With().Str("component", "matching").Logger(),
	}
}

// FindCandidates returns active hospitals with a free bed within
// maxDistance of location, best first. A non-positive maxDistance uses the
// configured default radius. No match is an empty slice, not an error.
func (m *Matcher) FindCandidates(ctx context.Context, location geo.Point, etype domain.EmergencyType, severity domain.Severity, maxDistance float64) ([]Candidate, error) {
	if err := location.Validate(); err != nil {
		return nil, err
	}
	if maxDistance <= 0 {
		maxDistance = m.cfg.DefaultRadiusMeters
	}

	hospitals, err := m.hospitals.FindHospitalsNear(ctx, location, maxDistance, store.HospitalFilter{
		Status:           domain.HospitalActive,
		MinAvailableBeds: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find hospitals near: %w", err)
	}

	candidates := make([]Candidate, 0, len(hospitals))
	for _, h := range hospitals {
		d, err := geo.Distance(location, h.Location)
		if err != nil {
			m.log.Warn().Err(err).Str("hospital_id", h.ID).Msg("skipping hospital with invalid location")
			continue
		}
		if d > maxDistance {
			continue
		}
		b := m.scores.Score(h, etype, severity, d, maxDistance)
		candidates = append(candidates, Candidate{
			Hospital:        h,
			DistanceMeters:  d,
			Scores:          b,
			SelectionReason: selectionReason(h, etype, b, d),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})
	if len(candidates) > m.cfg.MaxCandidates {
		candidates = candidates[:m.cfg.MaxCandidates]
	}

	m.log.Debug().
		Str("type", string(etype)).
		Str("severity", string(severity)).
		Int("found", len(hospitals)).
		Int("ranked", len(candidates)).
		Msg("candidates ranked")
	return candidates, nil
}

// less orders by rank desc, distance asc, overall rating desc and finally
// hospital id, so the order never depends on the store's iteration order.
func less(a, b Candidate) bool {
	if a.Scores.Rank != b.Scores.Rank {
		return a.Scores.Rank > b.Scores.Rank
	}
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	if a.Hospital.Rating.Overall != b.Hospital.Rating.Overall {
		return a.Hospital.Rating.Overall > b.Hospital.Rating.Overall
	}
	return a.Hospital.ID < b.Hospital.ID
}

func selectionReason(h domain.Hospital, etype domain.EmergencyType, b scoring.Breakdown, distance float64) string {
	parts := []string{fmt.Sprintf("score %d", b.Rank), fmt.Sprintf("%.1f km away", distance/1000)}
	if programme := programmeFor(etype); programme != "" && scoring.Supports(h, etype) {
		parts = append(parts, programme)
	}
	parts = append(parts, fmt.Sprintf("%d beds available", h.Capacity.AvailableBeds))
	if h.Capacity.AvailableICUBeds > 0 {
		parts = append(parts, fmt.Sprintf("%d ICU beds", h.Capacity.AvailableICUBeds))
	}
	if h.Capabilities.TraumaLevel == domain.TraumaI || h.Capabilities.TraumaLevel == domain.TraumaII {
		parts = append(parts, "trauma level "+string(h.Capabilities.TraumaLevel))
	}
	return strings.Join(parts, ", ")
}

func programmeFor(etype domain.EmergencyType) string {
	switch etype {
	case domain.TypeCardiac:
		return "heart attack center"
	case domain.TypeStroke:
		return "stroke center"
	case domain.TypeTrauma:
		return "trauma center"
	case domain.TypeBurns:
		return "burn center"
	case domain.TypePoisoning:
		return "poison control"
	case domain.TypeNeurological:
		return "neurology department"
	case domain.TypeRespiratory:
		return "ventilators on site"
	case domain.TypeChildbirth:
		return "maternity ward"
	}
	return ""
}
