package dispatch

import (
	"math"

	"golden/hour/internal/domain"
)

const (
	// MinETAMinutes is the floor of every estimate.
	MinETAMinutes = 5
	// turnoutMinutes covers crew mobilisation before the vehicle moves.
	turnoutMinutes = 2
)

// SpeedKMH is the average road speed assumed for a severity level.
func SpeedKMH(severity domain.Severity) float64 {
	switch severity {
	case domain.SeverityCritical:
		return 80
	case domain.SeverityUrgent:
		return 70
	}
	return 60
}

// EstimateETA returns the travel time in whole minutes for distanceMeters.
func EstimateETA(distanceMeters float64, severity domain.Severity) int {
	if distanceMeters < 0 {
		distanceMeters = 0
	}
	// Multiply before dividing so whole-minute distances stay exact.
	minutes := int(math.Ceil(distanceMeters*60/(SpeedKMH(severity)*1000))) + turnoutMinutes
	if minutes < MinETAMinutes {
		return MinETAMinutes
	}
	return minutes
}
