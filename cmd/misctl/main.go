package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"youth-mis/internal/app"
	"youth-mis/internal/apperr"
	"youth-mis/internal/config"
	"youth-mis/internal/logger"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		logger.NewWithWriter(os.Stderr, "info").Fatal("load config", "error", err)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.FromConfig(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal("build client", "error", err)
	}
	if err := a.Session.Restore(ctx); err != nil {
		log.Warn("session not restored", "error", err)
	}

	cli := &commandLine{app: a, out: os.Stdout, stdin: stdinFD()}
	err = cli.run(ctx, os.Args)
	a.Close()
	if errors.Is(err, errHelp) {
		os.Exit(2)
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			fmt.Fprintf(os.Stderr, "%s error: %v\n", ae.Kind, err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
