package server

import (
	"context"
	"net/http"
	"strings"

	"golden/hour/internal/apperr"
	"golden/hour/internal/geocode"
)

const maxNearbyRadius = 10000

// handleReverseGeocode godoc
// @Title Reverse geocode
// @Description Resolves a point to a postal address.
// @Resource Geocoding
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Success 200 {object} geocode.Address
// @Failure 400 {object} APIError
// @Failure 502 {object} APIError
// @Route /v1/geocode/reverse [get]
func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	point, err := queryPoint(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidQuery, err.Error())
		return
	}
	ctx, cancel := s.geocodeContext(r)
	defer cancel()

	addr, err := s.geocoder.ReverseGeocode(ctx, point)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, addr)
}

// handleSearchAddress godoc
// @Title Search address
// @Description Resolves free text to the best matching address and its coordinates.
// @Resource Geocoding
// @Produce json
// @Param q query string true "Address text"
// @Success 200 {object} geocode.Address
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Failure 502 {object} APIError
// @Route /v1/geocode/search [get]
func (s *Server) handleSearchAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := geocode.Locate(r.Context(), s.geocoder, r.URL.Query().Get("q"), s.cfg.Geocode.Timeout)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, addr)
}

// handleNearbyPlaces godoc
// @Title Nearby places
// @Description Lists points of interest of one category around a point, closest first. Used to spot clinics and pharmacies that are not in the hospital registry.
// @Resource Geocoding
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param category query string false "Place category (default hospital)"
// @Param radius query number false "Radius in meters (default 2000, max 10000)"
// @Success 200 {array} geocode.Place
// @Failure 400 {object} APIError
// @Failure 502 {object} APIError
// @Route /v1/geocode/nearby [get]
func (s *Server) handleNearbyPlaces(w http.ResponseWriter, r *http.Request) {
	point, err := queryPoint(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidQuery, err.Error())
		return
	}
	radius, err := queryFloat(r, "radius", 2000)
	if err != nil || radius <= 0 || radius > maxNearbyRadius {
		s.writeAppError(w, r, apperr.Validation("radius must be between 0 and %d meters", maxNearbyRadius))
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		category = "hospital"
	}

	ctx, cancel := s.geocodeContext(r)
	defer cancel()
	places, err := s.geocoder.FindNearby(ctx, point, radius, category)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if places == nil {
		places = []geocode.Place{}
	}
	s.writeJSON(w, http.StatusOK, places)
}

func (s *Server) geocodeContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.Geocode.Timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.cfg.Geocode.Timeout)
}
