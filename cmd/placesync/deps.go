package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/app"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/config"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/logger"
)

// buildApp loads .env and config and wires the services. The caller owns
// the returned App and must Close it.
func buildApp(ctx context.Context) (*app.App, error) {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(globalDebug || cfg.App.Debug)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialising: %w", err)
	}
	return a, nil
}
