package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go-relayer/internal/clients"
	"go-relayer/internal/config"
	"go-relayer/internal/db"
	"go-relayer/internal/events"
	"go-relayer/internal/handlers"
	"go-relayer/internal/relayer"
	"go-relayer/internal/repository"
	"go-relayer/internal/services"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns every long-lived dependency of the relayer
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Database
	DB          *gorm.DB
	RequestRepo repository.DelegateRequestRepository

	// Chain
	Gateway *clients.EthGateway

	// Events
	NATS      *nats.Conn
	StreamHub *handlers.StreamHub
	Notifier  relayer.Notifier

	// Core
	Reconciler     *relayer.Reconciler
	RequestService *services.RequestService
	Scheduler      *services.ReconcileScheduler
}

// NewLogger configures logrus from the log section
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// InitializeContainer opens the database, dials the chain and wires the reconciler.
// NATS is optional; a connection failure is logged and events go only to the websocket hub.
func InitializeContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	logger.Info("Initializing service container...")
	c := &ServiceContainer{Config: cfg, Logger: logger}

	if err := c.initDatabase(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := c.initChain(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize chain gateway: %w", err)
	}
	c.initEvents()
	c.initCore()

	logger.Info("Service container initialized")
	return c, nil
}

func (c *ServiceContainer) initDatabase() error {
	gdb, err := db.Open(c.Config.Database, c.Logger)
	if err != nil {
		return err
	}
	c.DB = gdb
	if err := db.Migrate(gdb, c.Logger, c.Config.Relayer.ExpiryWindow); err != nil {
		return err
	}
	c.RequestRepo = repository.NewDelegateRequestRepository(gdb)
	return nil
}

func (c *ServiceContainer) initChain(ctx context.Context) error {
	registry, err := clients.NewContractRegistry(c.Config.Blockchain.Contracts)
	if err != nil {
		return err
	}
	if registry.Len() == 0 {
		c.Logger.Warn("No contracts configured, every publish will fail until blockchain.contracts is set")
	}

	gateway, err := clients.NewEthGateway(ctx, c.Config.Blockchain, registry, c.Logger)
	if err != nil {
		return err
	}
	c.Gateway = gateway
	return nil
}

func (c *ServiceContainer) initEvents() {
	c.StreamHub = handlers.NewStreamHub(c.Logger)

	var natsNotifier relayer.Notifier
	conn, err := clients.ConnectNATS(c.Config.NATS, c.Logger)
	if err != nil {
		c.Logger.WithError(err).Warn("NATS unavailable, lifecycle events go to websocket clients only")
	} else if conn != nil {
		c.NATS = conn
		natsNotifier = events.NewNATSNotifier(conn, c.Config.NATS.SubjectPrefix, c.Logger)
	}

	if natsNotifier != nil {
		c.Notifier = events.NewFanoutNotifier(natsNotifier, c.StreamHub)
	} else {
		c.Notifier = events.NewFanoutNotifier(c.StreamHub)
	}
}

func (c *ServiceContainer) initCore() {
	tracker := relayer.NewNonceTracker(c.Gateway, c.Gateway.Address(), c.Logger)
	publisher := relayer.NewPublisher(c.Gateway, c.Config.Relayer.MaxNonceAttempts, c.Logger)
	c.Reconciler = relayer.NewReconciler(
		c.RequestRepo,
		c.Gateway,
		publisher,
		tracker,
		relayer.Options{RequiredConfirmations: c.Config.Relayer.RequiredConfirmations},
		c.Notifier,
		c.Logger,
	)

	c.RequestService = services.NewRequestService(c.RequestRepo, c.Config.Relayer.ExpiryWindow, c.Notifier, c.Logger)
	c.Scheduler = services.NewReconcileScheduler(
		c.Reconciler,
		c.Config.Relayer.PassInterval,
		c.Gateway,
		fmt.Sprintf("%d", c.Config.Blockchain.ChainID),
		c.Logger,
	)
	// shared by serve and the reconcile command
	c.Scheduler.SetPassLock(db.NewPassLock(c.DB, "reconcile", db.DefaultLeaseTTL, c.Logger))
}

// HealthChecks dependencies reported by /health
func (c *ServiceContainer) HealthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{
		"database": func(ctx context.Context) error { return db.Ping(c.DB) },
		"chain": func(ctx context.Context) error {
			_, err := c.Gateway.PendingNonce(ctx, c.Gateway.Address())
			return err
		},
	}
	if c.NATS != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !c.NATS.IsConnected() {
				return fmt.Errorf("nats status %s", c.NATS.Status())
			}
			return nil
		}
	}
	return checks
}

// Close releases connections in reverse order of creation
func (c *ServiceContainer) Close() {
	if c.NATS != nil {
		if err := c.NATS.Drain(); err != nil {
			c.NATS.Close()
		}
	}
	if c.Gateway != nil {
		c.Gateway.Close()
	}
	if c.DB != nil {
		if err := db.Close(c.DB); err != nil {
			c.Logger.WithError(err).Warn("Failed to close database")
		}
	}
}
