package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"golden/hour/internal/config"
	"golden/hour/internal/coordinator"
	"golden/hour/internal/geocode"
	"golden/hour/internal/store"
)

// Deps are the components the HTTP layer exposes.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Hospitals   store.HospitalStore
	Geocoder    geocode.Provider
}

// Server wires configuration, dependencies and HTTP routing together.
type Server struct {
	cfg       config.Config
	log       zerolog.Logger
	coord     *coordinator.Coordinator
	hospitals store.HospitalStore
	geocoder  geocode.Provider
	validate  *validator.Validate
	authMw    *AuthMiddleware
	startedAt time.Time
}

// New prepares the HTTP server. Authentication is only set up when
// Keycloak is enabled.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, deps Deps) (*Server, error) {
	if deps.Coordinator == nil || deps.Hospitals == nil {
		return nil, errors.New("server needs a coordinator and a hospital store")
	}
	if deps.Geocoder == nil {
		deps.Geocoder = geocode.Offline{}
	}

	srv := &Server{
		cfg:       cfg,
		log:       log.With().Str("component", "http").Logger(),
		coord:     deps.Coordinator,
		hospitals: deps.Hospitals,
		geocoder:  deps.Geocoder,
		validate:  newValidator(),
		startedAt: time.Now().UTC(),
	}

	if cfg.Keycloak.Enabled {
		authMw, err := NewAuthMiddleware(ctx, cfg.Keycloak, log)
		if err != nil {
			return nil, fmt.Errorf("init auth middleware: %w", err)
		}
		srv.authMw = authMw
	}

	return srv, nil
}

// Close releases the JWKS refresher.
func (s *Server) Close() {
	if s.authMw != nil {
		s.authMw.Close()
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Run starts the HTTP server and blocks until the context is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Address,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	s.log.Info().Str("addr", s.cfg.HTTP.Address).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("latitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -90 && val <= 90
	})
	_ = v.RegisterValidation("longitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -180 && val <= 180
	})
	return v
}
