package server

import (
	"time"

	"golden/hour/internal/coordinator"
	"golden/hour/internal/dispatch"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/matching"
)

type HealthResponse struct {
	Status         string `json:"status"`
	Env            string `json:"env"`
	Uptime         string `json:"uptime"`
	Units          int    `json:"units"`
	AvailableUnits int    `json:"available_units"`
	Error          string `json:"error,omitempty"`
}

type ScoreResponse struct {
	Capability float64 `json:"capability"`
	Capacity   float64 `json:"capacity"`
	Distance   float64 `json:"distance"`
	Rank       int     `json:"rank"`
}

// CandidateResponse is a ranked hospital without its full equipment list.
type CandidateResponse struct {
	HospitalID       string                `json:"hospital_id"`
	Name             string                `json:"name"`
	Address          string                `json:"address,omitempty"`
	Phone            string                `json:"phone,omitempty"`
	Location         geo.Point             `json:"location"`
	DistanceMeters   float64               `json:"distance_meters"`
	ETAMinutes       int                   `json:"eta_minutes"`
	AvailableBeds    int                   `json:"available_beds"`
	AvailableICUBeds int                   `json:"available_icu_beds"`
	TraumaLevel      domain.TraumaLevel    `json:"trauma_level"`
	Status           domain.HospitalStatus `json:"status"`
	Scores           ScoreResponse         `json:"scores"`
	SelectionReason  string                `json:"selection_reason"`
}

type SubmitEmergencyResponse struct {
	Emergency            domain.Emergency    `json:"emergency"`
	Outcome              coordinator.Outcome `json:"outcome"`
	Message              string              `json:"message"`
	Candidates           []CandidateResponse `json:"candidates"`
	Fallback             *dispatch.Fallback  `json:"fallback,omitempty"`
	ReservationConflicts int                 `json:"reservation_conflicts"`
}

type EmergencySummaryResponse struct {
	ID         string               `json:"id"`
	Type       domain.EmergencyType `json:"type"`
	Severity   domain.Severity      `json:"severity"`
	Status     domain.Status        `json:"status"`
	Address    string               `json:"address,omitempty"`
	Location   geo.Point            `json:"location"`
	HospitalID string               `json:"hospital_id,omitempty"`
	UnitID     string               `json:"unit_id,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type AmbulanceResponse struct {
	ID          string                 `json:"id"`
	CallSign    string                 `json:"call_sign"`
	Status      domain.UnitStatus      `json:"status"`
	Location    geo.Point              `json:"location"`
	CenterID    string                 `json:"center_id,omitempty"`
	Crew        []domain.CrewMember    `json:"crew,omitempty"`
	Equipment   []string               `json:"equipment,omitempty"`
	EmergencyID string                 `json:"emergency_id,omitempty"`
	Assignment  *domain.UnitAssignment `json:"assignment,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func mapCandidate(c matching.Candidate, severity domain.Severity) CandidateResponse {
	h := c.Hospital
	return CandidateResponse{
		HospitalID:       h.ID,
		Name:             h.Name,
		Address:          h.Address,
		Phone:            h.Phone,
		Location:         h.Location,
		DistanceMeters:   c.DistanceMeters,
		ETAMinutes:       dispatch.EstimateETA(c.DistanceMeters, severity),
		AvailableBeds:    h.Capacity.AvailableBeds,
		AvailableICUBeds: h.Capacity.AvailableICUBeds,
		TraumaLevel:      h.Capabilities.TraumaLevel,
		Status:           h.Status,
		Scores: ScoreResponse{
			Capability: c.Scores.Capability,
			Capacity:   c.Scores.Capacity,
			Distance:   c.Scores.Distance,
			Rank:       c.Scores.Rank,
		},
		SelectionReason: c.SelectionReason,
	}
}

func mapCandidates(cs []matching.Candidate, severity domain.Severity) []CandidateResponse {
	out := make([]CandidateResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, mapCandidate(c, severity))
	}
	return out
}

func mapEmergencySummary(e domain.Emergency) EmergencySummaryResponse {
	resp := EmergencySummaryResponse{
		ID:        e.ID,
		Type:      e.Type,
		Severity:  e.Severity,
		Status:    e.Status,
		Address:   e.Address,
		Location:  e.Location,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.AssignedHospital != nil {
		resp.HospitalID = e.AssignedHospital.HospitalID
	}
	if e.Ambulance != nil {
		resp.UnitID = e.Ambulance.UnitID
	}
	return resp
}

func mapAmbulance(u domain.AmbulanceUnit) AmbulanceResponse {
	resp := AmbulanceResponse{
		ID:         u.ID,
		CallSign:   u.CallSign,
		Status:     u.Status,
		Location:   u.Location,
		CenterID:   u.CenterID,
		Crew:       u.Crew,
		Equipment:  u.Equipment,
		Assignment: u.Assignment,
		UpdatedAt:  u.UpdatedAt,
	}
	if u.Assignment != nil {
		resp.EmergencyID = u.Assignment.EmergencyID
	}
	return resp
}
