package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/librescoot/asyncfsm"
)

// Version information (set via ldflags during build)
var Version = "dev"

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := asyncfsm.LoadConfig()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg asyncfsm.Config) *slog.Logger {
	// Level was checked by LoadConfig
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	asyncfsm.Logger = logger
	return logger
}
