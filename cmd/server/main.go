package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/djedi/WebHookSpy/internal/config"
	"github.com/djedi/WebHookSpy/internal/handler"
	"github.com/djedi/WebHookSpy/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer s.Close()

	h := handler.NewHandler(s, cfg.Limits, log)
	r := h.Routes()

	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Expiry is swept lazily on the request path; this ticker covers
	// idle periods, and the same loop trims stale rate-limit windows.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Cleanup(context.Background()); err != nil {
					log.Error().Err(err).Msg("cleanup failed")
				}
				for _, lim := range h.Limiters() {
					lim.Sweep()
				}
			case <-stop:
				return
			}
		}
	}()

	log.Info().Str("listen", cfg.Server.Listen).Msg("starting server")
	if err := http.ListenAndServe(cfg.Server.Listen, r); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
