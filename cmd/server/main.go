package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"imprintr/guard/internal/app"
	"imprintr/guard/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		fatal("create app", err)
	}

	if err := a.Run(ctx); err != nil {
		stop()
		fatal("run app", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
