package db

import (
	"fmt"
	"time"

	"go-relayer/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// DataMigrationRecord an applied data migration
type DataMigrationRecord struct {
	Version   string `gorm:"primaryKey;size:64"`
	AppliedAt time.Time
}

func (DataMigrationRecord) TableName() string {
	return "data_migrations"
}

// GetDataMigrations return all data migrations
func GetDataMigrations(expiryWindow time.Duration) []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Backfill expires_at for requests created without one",
			Up:          backfillExpiresAt(expiryWindow),
		},
		// can add more data migrations...
	}
}

// RunDataMigrations applies every migration not yet recorded, each in its own transaction
func RunDataMigrations(db *gorm.DB, migrations []DataMigration, log logrus.FieldLogger) error {
	for _, m := range migrations {
		var count int64
		if err := db.Model(&DataMigrationRecord{}).Where("version = ?", m.Version).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check data migration %s: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		log.WithField("version", m.Version).Infof("[DB] Running data migration: %s", m.Description)
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&DataMigrationRecord{Version: m.Version, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("data migration %s failed: %w", m.Version, err)
		}
	}
	return nil
}

// backfillExpiresAt sets expires_at = created_at + window where it was never set
func backfillExpiresAt(window time.Duration) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		var rows []models.DelegateRequest
		return tx.Model(&models.DelegateRequest{}).
			Select("seq", "created_at").
			Where("expires_at IS NULL OR expires_at < created_at").
			FindInBatches(&rows, 500, func(_ *gorm.DB, _ int) error {
				for _, row := range rows {
					if err := tx.Session(&gorm.Session{NewDB: true}).
						Model(&models.DelegateRequest{}).
						Where("seq = ?", row.Seq).
						UpdateColumn("expires_at", row.CreatedAt.Add(window)).Error; err != nil {
						return err
					}
				}
				return nil
			}).Error
	}
}
