package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"landslide_service/internal/api"
	"landslide_service/internal/cache"
	"landslide_service/internal/config"
	"landslide_service/internal/core"
	"landslide_service/internal/domain/model"
	"landslide_service/internal/domain/repository"
	"landslide_service/internal/infrastructure/alertbus"
	"landslide_service/internal/infrastructure/detector"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	repo := repository.NewLandslideRepository(cfg.DatabaseURL)
	defer repo.DB.Close()
	log.Info().Msg("connected to database")

	// Alerts always land in the database; NATS fanout is optional.
	sinks := core.FanoutSink{repository.NewPostgresAlertRecorder(repo.DB)}
	if cfg.NatsURL != "" {
		publisher, err := alertbus.NewPublisher(cfg.NatsURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect alert publisher")
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	statusCache := cache.New[model.DetectionUpdate](cfg.StatusCacheTTL)
	statusCache.Start()
	defer statusCache.Stop()

	checkCache := cache.New[core.CheckResult](cfg.CheckCacheTTL)
	checkCache.Start()
	defer checkCache.Stop()

	feed := core.NewDetectionFeed()

	client := detector.NewClient(cfg.DetectionServiceURL, cfg.DetectionAPIKey)
	tracker := core.NewTracker(client, statusCache, feed, core.TrackerConfig{
		PollInterval:           cfg.PollInterval,
		MaxPollAttempts:        cfg.MaxPollAttempts,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		StatusTTL:              cfg.StatusCacheTTL,
	})
	defer tracker.Stop()

	monitor := core.NewMonitor(repo, feed, sinks, checkCache, cfg.CheckCacheTTL)

	var terrain core.TerrainContext
	if cfg.OverpassURL != "" {
		terrain = repository.NewTerrainRepository(cfg.OverpassURL, 25*time.Second)
	}
	confirmer := core.NewConfirmer(repo, sinks, terrain, cfg.DedupTolerance)

	mux := http.NewServeMux()
	api.NewHandler(tracker, monitor, confirmer, repo, sinks).Register(mux)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", cfg.Port).Msg("landslide service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
