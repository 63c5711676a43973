package db

import (
	"sync"

	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/pkg/env"
	"github.com/crn-cloud/crn/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the shared database handle, opening it on first use.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		var err error

		switch env.Variables().DatabaseType {
		case "postgres":
			conn, err = gorm.Open(
				postgres.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		case "sqlite":
			fallthrough
		default:
			conn, err = gorm.Open(
				sqlite.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		}

		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
	})

	return conn
}

// Migrate creates or updates the schema for all persisted models.
func Migrate() error {
	return Connection().AutoMigrate(
		&models.Job{},
		&models.DefinitionMetadata{},
	)
}
