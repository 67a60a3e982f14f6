package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema and data migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// TranslateError surfaces unique constraint violations as gorm.ErrDuplicatedKey.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("path", path))
	return db, nil
}

// Migrate brings the schema up to date and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &posts.Post{}, &comments.Comment{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return applyMigrations(db, logger)
}
