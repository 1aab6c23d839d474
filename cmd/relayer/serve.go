package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-relayer/internal/app"
	"go-relayer/internal/handlers"
	"go-relayer/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(root)
		},
	}
}

func runServe(root *rootOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.InitializeContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	if container.NATS != nil && cfg.NATS.TriggerSubject != "" {
		if err := container.Scheduler.SubscribeTrigger(container.NATS, cfg.NATS.TriggerSubject); err != nil {
			logger.WithError(err).Warn("Failed to subscribe to reconcile trigger subject")
		}
	}
	container.Scheduler.Start()
	defer container.Scheduler.Stop()

	engine := router.SetupRouter(router.Dependencies{
		Requests:       handlers.NewRequestHandler(container.RequestService, logger),
		Admin:          handlers.NewAdminHandler(container.Scheduler, logger),
		Stream:         handlers.NewStreamHandler(container.StreamHub, logger),
		Health:         handlers.NewHealthHandler(container.HealthChecks()),
		AdminSecret:    cfg.Admin.JWTSecret,
		AdminIPs:       cfg.Admin.AllowedIPs,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"relayer": container.Gateway.Address().Hex(),
		}).Info("Relayer API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown did not complete")
	}
	logger.Info("Relayer stopped")
	return nil
}
