package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"golden/hour/internal/coordinator"
	"golden/hour/internal/domain"
	"golden/hour/internal/geo"
	"golden/hour/internal/geocode"
	"golden/hour/internal/store"
)

type SubmitEmergencyRequest struct {
	PatientName  string   `json:"patient_name" validate:"required,max=200"`
	PatientPhone string   `json:"patient_phone" validate:"required,max=32"`
	PatientAge   int      `json:"patient_age" validate:"omitempty,gte=0,lte=130"`
	Latitude     *float64 `json:"latitude" validate:"required_without=Address,omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,longitude"`
	Address      string   `json:"address" validate:"max=500"`
	Type         string   `json:"type" validate:"required,oneof=cardiac trauma stroke respiratory neurological poisoning burns childbirth other"`
	Severity     string   `json:"severity" validate:"required,oneof=critical urgent moderate"`
	Description  string   `json:"description" validate:"max=2000"`
}

type UpdateEmergencyStatusRequest struct {
	Status  string `json:"status" validate:"required,oneof=processing ambulance_dispatched en_route arrived_at_scene transported arrived_at_hospital completed cancelled"`
	Details string `json:"details" validate:"max=500"`
}

type CancelEmergencyRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// handleSubmitEmergency godoc
// @Title Submit emergency
// @Description Creates an emergency, reserves a bed at the best reachable hospital and dispatches the nearest ambulance. Running out of hospitals or ambulances is reported in the outcome, not as an error.
// @Resource Emergencies
// @Accept json
// @Produce json
// @Param request body SubmitEmergencyRequest true "Emergency payload"
// @Success 201 {object} SubmitEmergencyResponse
// @Failure 400 {object} APIError
// @Failure 502 {object} APIError
// @Route /v1/emergencies [post]
func (s *Server) handleSubmitEmergency(w http.ResponseWriter, r *http.Request) {
	var req SubmitEmergencyRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	location, address, err := s.resolveLocation(r, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	res, err := s.coord.Submit(r.Context(), coordinator.Request{
		Patient:     domain.Patient{Name: req.PatientName, Phone: req.PatientPhone, Age: req.PatientAge},
		Location:    location,
		Address:     address,
		Type:        req.Type,
		Severity:    req.Severity,
		Description: req.Description,
		Actor:       actorFrom(r),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	observeSubmission(res)

	s.writeJSON(w, http.StatusCreated, SubmitEmergencyResponse{
		Emergency:            res.Emergency,
		Outcome:              res.Outcome,
		Message:              res.Message,
		Candidates:           mapCandidates(res.Candidates, res.Emergency.Severity),
		Fallback:             res.Fallback,
		ReservationConflicts: res.ReservationConflicts,
	})
}

// resolveLocation fills whichever of coordinates and address is missing.
// A failed reverse lookup falls back to the coordinates; a failed forward
// lookup is returned.
func (s *Server) resolveLocation(r *http.Request, req SubmitEmergencyRequest) (geo.Point, string, error) {
	timeout := s.cfg.Geocode.Timeout
	if req.Latitude != nil && req.Longitude != nil {
		p := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if req.Address != "" {
			return p, req.Address, nil
		}
		address, err := geocode.Describe(r.Context(), s.geocoder, p, timeout)
		if err != nil {
			s.log.Warn().Err(err).Msg("reverse geocoding failed, using coordinates")
		}
		return p, address, nil
	}

	addr, err := geocode.Locate(r.Context(), s.geocoder, req.Address, timeout)
	if err != nil {
		return geo.Point{}, "", err
	}
	formatted := addr.Formatted
	if formatted == "" {
		formatted = req.Address
	}
	return addr.Location, formatted, nil
}

// handleListEmergencies godoc
// @Title List emergencies
// @Description Returns emergencies newest first. active=true hides completed and cancelled ones.
// @Resource Emergencies
// @Produce json
// @Param active query bool false "Only non-terminal emergencies"
// @Param status query string false "Filter by status"
// @Param limit query int false "Maximum number of results (default 50, max 500)"
// @Success 200 {array} EmergencySummaryResponse
// @Failure 400 {object} APIError
// @Route /v1/emergencies [get]
func (s *Server) handleListEmergencies(w http.ResponseWriter, r *http.Request) {
	filter := store.EmergencyFilter{Limit: s.limit(r, 50, 500)}
	q := r.URL.Query()
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errInvalidQuery, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		filter.Status = status
	}

	rows, err := s.coord.List(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]EmergencySummaryResponse, 0, len(rows))
	for _, e := range rows {
		resp = append(resp, mapEmergencySummary(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetEmergency godoc
// @Title Get emergency
// @Description Returns an emergency with its assignments and full timeline.
// @Resource Emergencies
// @Produce json
// @Param emergencyID path string true "Emergency ID"
// @Success 200 {object} domain.Emergency
// @Failure 404 {object} APIError
// @Route /v1/emergencies/{emergencyID} [get]
func (s *Server) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	e, err := s.coord.Status(r.Context(), chi.URLParam(r, "emergencyID"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

// handleUpdateEmergencyStatus godoc
// @Title Update emergency status
// @Description Moves an emergency to the next lifecycle status or cancels it. The dispatched ambulance follows; completion returns it to service.
// @Resource Emergencies
// @Accept json
// @Produce json
// @Param emergencyID path string true "Emergency ID"
// @Param request body UpdateEmergencyStatusRequest true "Status payload"
// @Success 200 {object} domain.Emergency
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/emergencies/{emergencyID}/status [patch]
func (s *Server) handleUpdateEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateEmergencyStatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	e, err := s.coord.UpdateStatus(r.Context(), chi.URLParam(r, "emergencyID"), status, actorFrom(r), req.Details)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	observeCompletion(e)
	s.writeJSON(w, http.StatusOK, e)
}

// handleCancelEmergency godoc
// @Title Cancel emergency
// @Description Cancels a non-terminal emergency and releases its bed and ambulance.
// @Resource Emergencies
// @Accept json
// @Produce json
// @Param emergencyID path string true "Emergency ID"
// @Param request body CancelEmergencyRequest false "Cancellation reason"
// @Success 200 {object} domain.Emergency
// @Failure 404 {object} APIError
// @Failure 409 {object} APIError
// @Route /v1/emergencies/{emergencyID}/cancel [post]
func (s *Server) handleCancelEmergency(w http.ResponseWriter, r *http.Request) {
	var req CancelEmergencyRequest
	if r.ContentLength != 0 {
		if err := s.decodeAndValidate(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
			return
		}
	}

	e, err := s.coord.Cancel(r.Context(), chi.URLParam(r, "emergencyID"), req.Reason, actorFrom(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}
