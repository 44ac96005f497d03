// Package main wires configuration, dependencies, and HTTP server startup.
//
// @Title Golden Hour API
// @Version 0.1.0
// @Description Emergency intake, hospital matching, bed reservation and ambulance dispatch.
// @Server http://localhost:8080 Local development
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"golden/hour/internal/capacity"
	"golden/hour/internal/clock"
	"golden/hour/internal/config"
	"golden/hour/internal/coordinator"
	"golden/hour/internal/database"
	"golden/hour/internal/dispatch"
	"golden/hour/internal/geocode"
	"golden/hour/internal/lifecycle"
	"golden/hour/internal/matching"
	"golden/hour/internal/notify"
	"golden/hour/internal/scoring"
	"golden/hour/internal/server"
	"golden/hour/internal/store"
	"golden/hour/internal/store/memory"
	"golden/hour/internal/store/postgres"
	"golden/hour/internal/store/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, fixture, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init store")
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unreachable, continuing")
		}
	}

	gateways := []notify.Gateway{notify.NewLogGateway(logger)}
	if cfg.Notify.WebhookURL != "" {
		gateways = append(gateways, notify.NewWebhookGateway(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, cfg.Notify.Timeout, cfg.Notify.WebhookRetry))
	}
	if rdb != nil {
		gateways = append(gateways, notify.NewStreamGateway(rdb, cfg.Redis.Stream, cfg.Redis.StreamMaxLen))
	}
	if cfg.MQTT.Broker != "" {
		client, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("crew terminal notifications disabled")
		} else {
			defer client.Disconnect(250)
			gateways = append(gateways, notify.NewCrewGateway(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS))
		}
	}
	outbox := notify.NewOutbox(notify.OutboxConfig{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.Timeout,
	}, logger, gateways...)

	clk := clock.Real()
	engine := scoring.New(scoring.Config{
		CapabilityWeight:   cfg.Match.CapabilityWeight,
		DistanceWeight:     cfg.Match.DistanceWeight,
		CapacityWeight:     cfg.Match.CapacityWeight,
		UrgentICUBonus:     cfg.Match.UrgentICUBonus,
		UrgentTraumaFactor: cfg.Match.UrgentTraumaFactor,
	})
	matcher := matching.New(st, engine, matching.Config{
		MaxCandidates:       cfg.Match.MaxCandidates,
		DefaultRadiusMeters: cfg.Match.MaxDistance,
	}, logger)
	coord := coordinator.New(
		lifecycle.New(st, clk, logger),
		matcher,
		capacity.New(st, clk, logger),
		dispatch.New(st, fixture.DispatchCenters, clk, logger),
		outbox,
		clk,
		coordinator.Config{
			MaxDistanceMeters: cfg.Match.MaxDistance,
			SimulateProgress:  cfg.Dispatch.SimulateProgress,
			EnRouteDelay:      cfg.Dispatch.EnRouteDelay,
			StepTimeout:       cfg.Dispatch.StepTimeout,
		},
		logger,
	)

	srv, err := server.New(ctx, cfg, logger, server.Deps{
		Coordinator: coord,
		Hospitals:   st,
		Geocoder:    newGeocoder(cfg, rdb, logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init server")
	}
	defer srv.Close()

	runErr := srv.Run(ctx)

	coord.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.DrainTimeout)
	defer cancel()
	if err := outbox.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("notification outbox not fully drained")
	}

	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("server stopped")
	}
}

// openStore returns the configured backend and the seed fixture. The
// in-memory store is always seeded; Postgres only when it has no units yet.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, seed.File, error) {
	fixture, err := loadFixture(cfg.Store.SeedFile)
	if err != nil {
		return nil, seed.File{}, err
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, seed.File{}, err
		}
		st = postgres.New(pool)
		units, err := st.ListUnits(ctx)
		if err != nil {
			st.Close()
			return nil, seed.File{}, fmt.Errorf("list units: %w", err)
		}
		if len(units) > 0 {
			logger.Info().Int("units", len(units)).Msg("database already seeded")
			return st, fixture, nil
		}
	default:
		st = memory.New()
	}

	if err := seed.Apply(ctx, st, fixture); err != nil {
		st.Close()
		return nil, seed.File{}, err
	}
	logger.Info().
		Str("driver", cfg.Store.Driver).
		Int("hospitals", len(fixture.Hospitals)).
		Int("units", len(fixture.Units)).
		Int("dispatch_centers", len(fixture.DispatchCenters)).
		Msg("store seeded")
	return st, fixture, nil
}

func loadFixture(path string) (seed.File, error) {
	if path == "" {
		return seed.File{}, nil
	}
	fixture, err := seed.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return seed.File{}, nil
	}
	return fixture, err
}

func newGeocoder(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) geocode.Provider {
	if cfg.Geocode.Provider == "none" {
		return geocode.Offline{}
	}
	var provider geocode.Provider = geocode.NewNominatim(cfg.Geocode.BaseURL, cfg.Geocode.UserAgent, cfg.Geocode.Timeout)
	if rdb != nil {
		provider = geocode.NewCached(provider, geocode.NewRedisCache(rdb), logger)
	}
	return provider
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("env", cfg.Env).Str("app", cfg.AppName).Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC822})
	}
	return logger
}
