package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusdesk/servicedesk/internal/cache"
)

const migrationBackfillPayloadBytes = "2024-09-01_backfill_cache_payload_bytes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPayloadBytes, apply: backfillPayloadBytes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPayloadBytes sizes rows written before quota accounting existed so
// they count against the cache quota.
func backfillPayloadBytes(db *gorm.DB) error {
	return db.Model(&cache.Entry{}).
		Where("payload_bytes = 0 AND payload_json <> ''").
		Update("payload_bytes", gorm.Expr("length(CAST(payload_json AS BLOB))")).Error
}
