package db

import (
	"fmt"
	"time"

	"go-relayer/internal/config"
	"go-relayer/internal/metrics"
	"go-relayer/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. postgres is the production driver;
// sqlite serves local runs and tests.
func Open(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// a single connection keeps in-memory databases shared and writes serialized
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	metrics.DBConnectionStatus.Set(1)
	log.WithField("driver", dialector.Name()).Info("[DB] Database connected")
	return db, nil
}

// Migrate creates or updates the schema, then runs pending data migrations
func Migrate(db *gorm.DB, log logrus.FieldLogger, expiryWindow time.Duration) error {
	log.Info("[DB] Starting schema migration")

	if err := db.AutoMigrate(
		&models.DelegateRequest{},
		&DataMigrationRecord{},
		&PassLease{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	if err := RunDataMigrations(db, GetDataMigrations(expiryWindow), log); err != nil {
		return err
	}

	log.Info("[DB] Database schema migrated")
	return nil
}

// Ping checks connectivity and updates the connection gauge
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	metrics.DBConnectionStatus.Set(1)
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
