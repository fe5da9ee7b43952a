package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"vetcache/internal/vetcache"
)

var cli struct {
	Config   string `env:"VETCACHE_CONFIG" default:"/vetcache.yaml" help:"Path to vetcache.yaml"`
	LogLevel string `env:"LOG_LEVEL" help:"Overrides logging.level from the config file"`
}

func main() {
	kong.Parse(&cli)
	vetcache.SetupLogging(cli.LogLevel)

	cfg, err := vetcache.LoadConfig(cli.Config)
	if err != nil {
		log.Fatal().Err(err).Str("path", cli.Config).Msg("Failed to load config")
	}
	if cli.LogLevel == "" {
		vetcache.SetupLogging(cfg.Logging.Level)
	}

	w, err := vetcache.NewWorker(cfg, vetcache.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise worker")
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close worker")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("Failed to listen")
	}
	srv := &http.Server{Handler: w, ReadHeaderTimeout: 10 * time.Second}
	admin := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:           w.AdminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("origin", cfg.Server.Origin).Msg("Listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()
	go func() {
		log.Info().Str("addr", admin.Addr).Msg("Serving admin and metrics")
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server error")
		}
	}()

	// Requests are proxied straight to the origin until the worker activates.
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Worker did not activate, serving pass-through only")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
}
