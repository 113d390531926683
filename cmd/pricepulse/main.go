package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/infrastructure/config"
	"pricepulse/internal/infrastructure/feed"
	"pricepulse/internal/infrastructure/logger"
	"pricepulse/internal/infrastructure/svc"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}
	defer sc.Close()

	for _, sup := range sc.Supervisors {
		go func(s *feed.Supervisor) {
			if err := s.Run(ctx); err != nil {
				log.Error().Err(err).Str("feed", s.Name()).Msg("feed supervisor exited")
			}
		}(sup)
	}

	go func() {
		if err := sc.Mux.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("subscription mux exited")
		}
	}()

	go func() {
		if err := sc.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler exited")
		}
	}()

	server := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: sc.Router,
	}
	go func() {
		log.Info().Str("addr", cfg.App.HTTPAddr).Msg("pricepulse started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	for _, sup := range sc.Supervisors {
		sup.Close()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
