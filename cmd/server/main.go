package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutorcall/internal/app"
	"tutorcall/internal/config"

	_ "tutorcall/docs"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// @title Tutorcall API
// @version 1.0
// @description Video call rooms for booked tutoring sessions
// @host localhost:8080
// @BasePath /v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("start")
		return 1
	}
	defer a.Close()

	logEndpoints()
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return 1
	}
	log.Info().Msg("server exited")
	return 0
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func logEndpoints() {
	for _, e := range []string{
		"GET  /health",
		"GET  /swagger/doc.json",
		"POST /v1/sessions/{id}/room",
		"POST /v1/sessions/{id}/cancel",
		"POST /v1/rooms/{roomId}/join",
		"POST /v1/rooms/{roomId}/leave",
		"POST /v1/rooms/{roomId}/validate",
		"GET  /v1/rooms/{roomId}/status",
		"POST /v1/rooms/{roomId}/start",
		"POST /v1/rooms/{roomId}/end",
		"WS   /v1/ws",
	} {
		log.Info().Str("module", "rest").Msg(e)
	}
}
