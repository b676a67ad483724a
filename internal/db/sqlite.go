package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// SQLiteService backs local development and tests where a Postgres
// instance is not worth the setup. Same schema, same store code.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")
	path := envutil.String("SQLITE_PATH", "pitchcoach.db")

	serviceLog.Info("Opening SQLite database...", "path", path)
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	if err := s.db.AutoMigrate(&domain.Job{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
