package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"youth-mis/internal/config"
	"youth-mis/internal/core"
	"youth-mis/internal/logger"
	"youth-mis/internal/server"
)

var version = "dev"

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logger.New("info").Fatal("load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := core.FromConfig(ctx, cfg, log, reg)
	if err != nil {
		log.Fatal("build backend", "error", err)
	}
	defer c.Close()

	if cfg.AdminEmail != "" {
		if err := c.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatal("seed admin", "error", err)
		}
	}

	go func() {
		if err := c.Hub.RunRelay(ctx); err != nil {
			log.Error("realtime relay stopped", "error", err)
		}
	}()

	router := server.NewRouter(server.Deps{
		Core:          c,
		PublicKey:     cfg.PublicKey,
		AuthRateLimit: cfg.AuthRateLimit,
		Version:       version,
		Logger:        log,
		Registry:      reg,
	})
	log.Info("listening", "addr", fmt.Sprintf(":%d", cfg.Port), "version", version)
	if err := server.Run(ctx, cfg, router); err != nil {
		log.Error("server stopped", "error", err)
		return
	}
	log.Info("shut down")
}
