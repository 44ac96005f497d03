// Package scoring rates hospitals for an emergency. Every function is pure.
package scoring

import (
	"math"

	"golden/hour/internal/domain"
)

// Config tunes the ranking blend.
type Config struct {
	CapabilityWeight float64
	DistanceWeight   float64
	CapacityWeight   float64
	// UrgentICUBonus is the number of points an available ICU bed adds for
	// urgent (not critical) emergencies. Zero keeps the critical-only rule.
	UrgentICUBonus float64
	// UrgentTraumaFactor scales the Level I/II trauma bonus for urgent
	// emergencies, in [0, 1]. Zero keeps the critical-only rule.
	UrgentTraumaFactor float64
}

// DefaultConfig returns the 0.4/0.3/0.3 blend with critical-only bonuses.
func DefaultConfig() Config {
	return Config{
		CapabilityWeight: 0.4,
		DistanceWeight:   0.3,
		CapacityWeight:   0.3,
	}
}

// Engine computes hospital scores.
type Engine struct {
	cfg Config
}

// New returns an Engine using cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Breakdown is the full scoring of one hospital for one emergency.
type Breakdown struct {
	Capability float64 `json:"capability"`
	Capacity   float64 `json:"capacity"`
	Distance   float64 `json:"distance"`
	Rank       int     `json:"rank"`
}

// Score computes every component and the final rank for h.
func (e *Engine) Score(h domain.Hospital, etype domain.EmergencyType, severity domain.Severity, distance, maxDistance float64) Breakdown {
	b := Breakdown{
		Capability: e.CapabilityScore(h, etype, severity),
		Capacity:   CapacityScore(h),
		Distance:   DistanceScore(distance, maxDistance),
	}
	b.Rank = e.RankScore(b.Capability, b.Distance, b.Capacity)
	return b
}

// CapabilityScore rates how well h can treat an emergency of etype at severity.
func (e *Engine) CapabilityScore(h domain.Hospital, etype domain.EmergencyType, severity domain.Severity) float64 {
	score := 0.0
	if h.Capacity.AvailableBeds > 0 {
		score += 30
	}
	if h.Capacity.AvailableEmergencyRooms > 0 {
		score += 20
	}
	if Supports(h, etype) {
		score += 25
	}

	switch severity {
	case domain.SeverityCritical:
		score += traumaBonus(h.Capabilities.TraumaLevel)
		if h.Capacity.AvailableICUBeds > 0 {
			score += 10
		}
	case domain.SeverityUrgent:
		score += traumaBonus(h.Capabilities.TraumaLevel) * e.cfg.UrgentTraumaFactor
		if h.Capacity.AvailableICUBeds > 0 {
			score += e.cfg.UrgentICUBonus
		}
	}

	equipment := 0.0
	if h.Equipment.CTScanner {
		equipment += 5
	}
	if h.Equipment.MRIScanner {
		equipment += 5
	}
	if h.Equipment.Ventilators > 0 {
		equipment += 5
	}
	score += math.Min(equipment, 15)

	return math.Min(score, 100)
}

// CapacityScore rates the free capacity and equipment of h.
func CapacityScore(h domain.Hospital) float64 {
	score := 0.0
	if h.Capacity.TotalBeds > 0 {
		score += 30 * float64(h.Capacity.AvailableBeds) / float64(h.Capacity.TotalBeds)
	}
	if h.Capacity.AvailableEmergencyRooms > 0 {
		score += 25
	}
	if h.Capacity.AvailableICUBeds > 0 {
		score += 20
	}

	equipment := 0.0
	for _, present := range []bool{
		h.Equipment.CTScanner,
		h.Equipment.MRIScanner,
		h.Equipment.Ventilators > 0,
		h.Equipment.Defibrillators > 0,
		h.Equipment.BloodBank,
	} {
		if present {
			equipment += 5
		}
	}
	score += math.Min(equipment, 20)

	return math.Min(score, 100)
}

// DistanceScore maps a distance to [0, 100], 100 at the patient's door.
func DistanceScore(distance, maxDistance float64) float64 {
	if maxDistance <= 0 || distance >= maxDistance {
		return 0
	}
	if distance < 0 {
		distance = 0
	}
	return 100 * (1 - distance/maxDistance)
}

// RankScore blends the three components and rounds to the nearest integer.
func (e *Engine) RankScore(capability, distance, capacity float64) int {
	blended := e.cfg.CapabilityWeight*capability +
		e.cfg.DistanceWeight*distance +
		e.cfg.CapacityWeight*capacity
	return int(math.Round(blended))
}

// Supports reports whether h has the programme required for etype.
func Supports(h domain.Hospital, etype domain.EmergencyType) bool {
	switch etype {
	case domain.TypeCardiac:
		return h.Capabilities.HeartAttackCenter
	case domain.TypeStroke:
		return h.Capabilities.StrokeCenter
	case domain.TypeTrauma:
		return h.Capabilities.TraumaLevel != "" && h.Capabilities.TraumaLevel != domain.TraumaNone
	case domain.TypeBurns:
		return h.Capabilities.BurnCenter
	case domain.TypePoisoning:
		return h.Capabilities.PoisonControl
	case domain.TypeNeurological:
		return h.HasSpecialty(domain.SpecialtyNeurology)
	case domain.TypeRespiratory:
		return h.Equipment.Ventilators > 0
	case domain.TypeChildbirth:
		return h.HasSpecialty(domain.SpecialtyMaternity)
	case domain.TypeOther:
		return true
	}
	return false
}

func traumaBonus(level domain.TraumaLevel) float64 {
	switch level {
	case domain.TraumaI:
		return 15
	case domain.TraumaII:
		return 10
	}
	return 0
}
