package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/app"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/config"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	sugar, err := logger.New(cfg.App.Debug)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer sugar.Sync()

	sugar.Info("=== Places sync service starting ===")

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg, sugar)
	cancelInit()
	if err != nil {
		sugar.Fatalw("failed to initialise", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			sugar.Warnw("error closing connections", "error", err)
		}
	}()

	scheduler := a.Scheduler()
	go scheduler.Start()
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// batch syncs with wait=true can run for minutes
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", "http://localhost:"+cfg.App.Port, "api", "/api/v1")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed to start", "error", err)
		}
	}()

	<-quit
	sugar.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
		return
	}

	sugar.Info("server exited properly")
}
