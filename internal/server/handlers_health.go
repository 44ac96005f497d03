package server

import (
	"context"
	"net/http"
	"time"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth godoc
// @Title Health check
// @Description Reports whether the hospital and ambulance stores answer, with the current fleet size.
// @Resource System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Route /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	payload := HealthResponse{
		Status: "ok",
		Env:    s.cfg.Env,
		Uptime: time.Since(s.startedAt).String(),
	}

	// Any hospital lookup that reaches the store is enough; not found counts.
	if _, err := s.hospitals.LoadHospital(ctx, "healthz"); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		s.log.Warn().Err(err).Msg("hospital store unreachable")
		payload.Status = "degraded"
		payload.Error = "hospital store unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}

	units, err := s.coord.Units(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("unit store unreachable")
		payload.Status = "degraded"
		payload.Error = "unit store unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	payload.Units = len(units)
	for _, u := range units {
		if u.Status == domain.UnitAvailable {
			payload.AvailableUnits++
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}
