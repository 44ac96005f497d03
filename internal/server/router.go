package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(v1 chi.Router) {
		if s.authMw != nil {
			v1.Use(s.authMw.Middleware)
		}

		v1.Post("/emergencies", s.handleSubmitEmergency)
		v1.Get("/emergencies", s.handleListEmergencies)
		v1.Get("/emergencies/{emergencyID}", s.handleGetEmergency)
		v1.Patch("/emergencies/{emergencyID}/status", s.handleUpdateEmergencyStatus)
		v1.Post("/emergencies/{emergencyID}/cancel", s.handleCancelEmergency)

		v1.Get("/hospitals/nearby", s.handleListNearbyHospitals)
		v1.Get("/hospitals/{hospitalID}", s.handleGetHospital)

		v1.Get("/ambulances", s.handleListAmbulances)

		// Address lookups for the intake form
		v1.Get("/geocode/reverse", s.handleReverseGeocode)
		v1.Get("/geocode/search", s.handleSearchAddress)
		v1.Get("/geocode/nearby", s.handleNearbyPlaces)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("http request")
	})
}
