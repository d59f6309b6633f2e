// The tracking binary is the public edge: it serves only the pixel and
// click endpoints plus a health check, so it can sit on an open port
// without exposing the management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	events := event.NewService(event.NewMemoryStore())
	experiments := experiment.NewManager(experiment.NewMemoryTestStore(), experiment.NewMemoryAssignmentStore())
	server := api.NewServer(events, experiments, codec, api.WithHomeURL(cfg.Tracking.BaseURL))

	r := server.TrackingRoutes(cfg.Tracking.PixelEndpoint, cfg.Tracking.ClickEndpoint)

	port := cfg.Server.Port
	if v := os.Getenv("TRACKING_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking edge listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking edge")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
