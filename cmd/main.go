package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"grimoire/handler"
	"grimoire/internal/bootstrap"
	"grimoire/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(config.New())
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	bootstrap.ConfigureLogging(cfg.LogLevel, false)

	// ---- Wiring ----
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire grimoire")
		os.Exit(1)
	}
	defer app.Close()

	// ---- Handler ----
	h, err := handler.NewHandler(app.Service)
	if err != nil {
		log.Error().Err(err).Msg("failed to create handler")
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
