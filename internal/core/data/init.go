package data

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens a connection to the Postgres instance described by dataSource
// and migrates the schema, returning the database handle shared by all accessors.
func Initialize(dataSource string, debug bool) (*gorm.DB, error) {
	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dataSource), &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %s", err)
	}

	if err := db.AutoMigrate(
		&Account{},
		&ModeStats{},
		&Friendship{},
		&AuditLog{},
		&ChannelSpec{},
	); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %s", err)
	}

	return db, nil
}

// Shutdown closes the underlying connection pool.
func Shutdown(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
