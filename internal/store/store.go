// Package store is the persistence collaborator: gorm-backed repositories for
// event templates, one-off events, lesson schedules, and groups. The core
// packages (expand, dedup) never touch it directly; they consume read-only
// snapshots loaded here.
package store

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("store: empty database DSN")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema for all store models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Group{},
		&Event{},
		&EventGroup{},
		&LessonSchedule{},
		&EventParticipant{},
	)
}
