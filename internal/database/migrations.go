package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDropCaseSensitiveUsernameIndex = "2026-10-17_drop_case_sensitive_username_index"

	legacyUsernameIndex = "idx_users_username"
)

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
		{name: migrationDropCaseSensitiveUsernameIndex, apply: dropCaseSensitiveUsernameIndex},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropCaseSensitiveUsernameIndex removes the original byte-wise unique index on
// users.username. Uniqueness is now held by the NOCASE index that AutoMigrate creates.
func dropCaseSensitiveUsernameIndex(db *gorm.DB) error {
	migrator := db.Migrator()
	if !migrator.HasIndex(&users.User{}, legacyUsernameIndex) {
		return nil
	}
	return migrator.DropIndex(&users.User{}, legacyUsernameIndex)
}
