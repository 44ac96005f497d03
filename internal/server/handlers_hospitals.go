package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"golden/hour/internal/domain"
)

// handleListNearbyHospitals godoc
// @Title Rank nearby hospitals
// @Description Scores reachable hospitals for a hypothetical emergency at the given point without reserving any capacity.
// @Resource Hospitals
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param type query string false "Emergency type (default other)"
// @Param severity query string false "Severity (default urgent)"
// @Param radius query number false "Search radius in meters"
// @Success 200 {array} CandidateResponse
// @Failure 400 {object} APIError
// @Route /v1/hospitals/nearby [get]
func (s *Server) handleListNearbyHospitals(w http.ResponseWriter, r *http.Request) {
	point, err := queryPoint(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidQuery, err.Error())
		return
	}
	radius, err := queryFloat(r, "radius", s.cfg.Match.MaxDistance)
	if err != nil || radius <= 0 {
		s.writeError(w, http.StatusBadRequest, errInvalidQuery, "radius must be a positive number")
		return
	}

	q := r.URL.Query()
	etype := domain.TypeOther
	if raw := q.Get("type"); raw != "" {
		if etype, err = domain.ParseEmergencyType(raw); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	severity := domain.SeverityUrgent
	if raw := q.Get("severity"); raw != "" {
		if severity, err = domain.ParseSeverity(raw); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}

	candidates, err := s.coord.Candidates(r.Context(), point, etype, severity, radius)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mapCandidates(candidates, severity))
}

// handleGetHospital godoc
// @Title Get hospital
// @Description Returns a hospital with its live capacity.
// @Resource Hospitals
// @Produce json
// @Param hospitalID path string true "Hospital ID"
// @Success 200 {object} domain.Hospital
// @Failure 404 {object} APIError
// @Route /v1/hospitals/{hospitalID} [get]
func (s *Server) handleGetHospital(w http.ResponseWriter, r *http.Request) {
	h, err := s.hospitals.LoadHospital(r.Context(), chi.URLParam(r, "hospitalID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}
