package database

import (
	"fmt"

	"github.com/ksred/skyline-api/internal/database/migrations"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the SQLite database at path and runs all migrations.
// ":memory:" opens a private in-memory database on a single connection.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	steps := []struct {
		name string
		run  func(*gorm.DB) error
	}{
		{"lab events", migrations.AddLabEvents},
		{"roadmaps", migrations.AddRoadmaps},
		{"eod reports", migrations.AddEODReports},
	}
	for _, step := range steps {
		if err := step.run(db); err != nil {
			return nil, fmt.Errorf("failed to run %s migration: %w", step.name, err)
		}
	}

	return db, nil
}
