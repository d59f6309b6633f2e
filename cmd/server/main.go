package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-insights/internal/api"
	"github.com/ignite/email-insights/internal/config"
	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/experiment"
	"github.com/ignite/email-insights/internal/pkg/logger"
	"github.com/ignite/email-insights/internal/signing"
	"github.com/ignite/email-insights/internal/tracking"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		// Fail closed: refuse to start without a signing secret rather
		// than serve unverifiable tracking URLs.
		logger.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	signer, err := signing.New(cfg.Signing.Secret,
		signing.WithAlgorithm(cfg.Signing.Algorithm),
		signing.WithMaxAge(cfg.Signing.MaxAge()),
	)
	if err != nil {
		logger.Error("failed to build signer", "error", err.Error())
		os.Exit(1)
	}

	codec, err := tracking.NewCodec(signer, cfg.Tracking.BaseURL,
		tracking.WithPixelEndpoint(cfg.Tracking.PixelEndpoint),
		tracking.WithClickEndpoint(cfg.Tracking.ClickEndpoint),
	)
	if err != nil {
		logger.Error("failed to build tracking codec", "error", err.Error())
		os.Exit(1)
	}

	var store event.Store
	switch cfg.Storage.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			logger.Error("database unreachable", "error", err.Error())
			os.Exit(1)
		}
		store = event.NewPostgresStore(db)
		logger.Info("using postgres event store")
	default:
		store = event.NewMemoryStore()
		logger.Info("using in-memory event store")
	}

	var assignments experiment.AssignmentStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err.Error())
			os.Exit(1)
		}
		assignments = experiment.NewRedisAssignmentStore(client)
		logger.Info("using redis assignment store", "addr", cfg.Redis.Addr)
	} else {
		assignments = experiment.NewMemoryAssignmentStore()
	}

	events := event.NewService(store)
	experiments := experiment.NewManager(experiment.NewMemoryTestStore(), assignments)
	server := api.NewServer(events, experiments, codec, api.WithHomeURL(cfg.Tracking.BaseURL))

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("analytics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down analytics server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}
