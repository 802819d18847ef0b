package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// Connect opens the database selected by driver ("postgres" or "sqlite").
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		if dsn == "" {
			dsn = "host=localhost user=postgres dbname=glamping port=5432 sslmode=disable"
			log.Println("Connecting to local PostgreSQL")
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "glamping.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Printf("✅ Database connected successfully (%s)", driverName(driver))
	return db, nil
}

// Migrate creates or updates the sessions and leads tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.WhatsAppSession{}, &models.LeadRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Ping checks the underlying connection pool.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func driverName(driver string) string {
	if driver == "" {
		return "postgres"
	}
	return driver
}
