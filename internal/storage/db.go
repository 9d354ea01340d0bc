// internal/storage/db.go
package storage

import (
	"fmt"
	"log"

	"warehouse-sync-service/internal/config"
	"warehouse-sync-service/pkg/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func InitDB(cfg *config.Config) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
	)

	var err error
	// TranslateError maps the driver's unique violations onto
	// gorm.ErrDuplicatedKey, which the repositories rely on.
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}

	// Auto-migrate (safe in dev; use migrations in prod)
	err = db.AutoMigrate(
		&models.Device{},
		&models.OperationEntry{},
		&models.Conflict{},
		&models.TablePolicy{},
		&models.SyncConfig{},
	)
	if err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}

	log.Println("✅ Sync DB connected & migrated")

	// ✅ Seed default per-table resolution policies after migration
	if err := seedTablePolicies(db); err != nil {
		log.Printf("⚠️ Failed to seed table policies: %v", err)
	} else {
		log.Println("✅ Table policies seeded")
	}
}

func GetDB() *gorm.DB {
	return db
}
