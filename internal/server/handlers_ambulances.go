package server

import (
	"net/http"

	"golden/hour/internal/domain"
)

// handleListAmbulances godoc
// @Title List ambulances
// @Description Returns the fleet with each unit's status and current assignment.
// @Resource Ambulances
// @Produce json
// @Param status query string false "Filter by unit status"
// @Success 200 {array} AmbulanceResponse
// @Failure 400 {object} APIError
// @Route /v1/ambulances [get]
func (s *Server) handleListAmbulances(w http.ResponseWriter, r *http.Request) {
	var want domain.UnitStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseUnitStatus(raw)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		want = status
	}

	units, err := s.coord.Units(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]AmbulanceResponse, 0, len(units))
	for _, u := range units {
		if want != "" && u.Status != want {
			continue
		}
		resp = append(resp, mapAmbulance(u))
	}
	s.writeJSON(w, http.StatusOK, resp)
}
