package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studyreel/studyreel-backend/internal/app"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	a, err := app.New(log)
	if err != nil {
		log.Fatal("Application bootstrap failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Worker online; waiting for jobs")
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("Worker exited", "error", err)
	}
	log.Info("Shutdown complete")
}
