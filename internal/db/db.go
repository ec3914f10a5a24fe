package db

import (
	"log"
	"os"

	"castfeed/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Fallback for local dev if not set
		dsn = "host=localhost user=postgres password=postgres dbname=castfeed port=5432 sslmode=disable"
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Database connection established")

	if err := Migrate(DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed")
}

// Migrate 建表，测试里也用（sqlite 内存库）
func Migrate(d *gorm.DB) error {
	return d.AutoMigrate(
		&models.Cast{},
		&models.CastMention{},
		&models.CastEmbedURL{},
		&models.CastEmbedCast{},
		&models.User{},
		&models.Verification{},
		&models.PowerBadge{},
		&models.Channel{},
		&models.Reaction{},
		&models.Link{},
		&models.Mute{},
	)
}
