package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/auth"
	"github.com/Soulfra/pulsegrid/internal/config"
	"github.com/Soulfra/pulsegrid/internal/controlplane"
	"github.com/Soulfra/pulsegrid/internal/gateway"
	"github.com/Soulfra/pulsegrid/internal/pubsub"
	"github.com/Soulfra/pulsegrid/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to config.yml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	hub := pubsub.NewHub(auth.NewVerifier(cfg.AuthSecret), log)
	gw := gateway.New(hub, gateway.Config{
		MaxMessageSize:  cfg.MaxMessageSize,
		ActivityTimeout: cfg.ActivityTimeout,
		RateBurst:       cfg.RateLimit.Burst,
		RateRefill:      cfg.RateLimit.RefillInterval,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, log)
	cp := controlplane.New(hub, log)

	srv := server.NewHTTPServer(cfg.Port, server.NewRouter(gw, cp, log))

	go func() {
		log.Info().Str("addr", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	if err := server.Shutdown(srv, cfg.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	hub.Close()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Str("service", "pulsegrid").Logger()
}
