package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func Connect(config Config, log *zap.SugaredLogger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infow("database connected", "host", config.Host, "db", config.DBName)
	return db, nil
}

// Ping reports whether the database answers within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Migrate(db *gorm.DB, log *zap.SugaredLogger) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create uuid extension: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pg_trgm").Error; err != nil {
		return fmt.Errorf("failed to create pg_trgm extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Restaurant{},
		&models.ChangeHistory{},
		&models.VerificationQueueItem{},
		&models.APIUsageLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("database migration completed")
	return nil
}

var indexes = []string{
	// sync worker picks the stalest open restaurants first
	"CREATE INDEX IF NOT EXISTS idx_restaurants_due_sync ON restaurants(last_google_sync_at ASC NULLS FIRST) WHERE is_permanently_closed = false",
	"CREATE INDEX IF NOT EXISTS idx_restaurants_name_trgm ON restaurants USING gin(name gin_trgm_ops)",

	"CREATE INDEX IF NOT EXISTS idx_change_history_detected_at ON change_history(detected_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_change_history_latest ON change_history(entity_type, entity_id, field_name, detected_at DESC)",

	"CREATE INDEX IF NOT EXISTS idx_verification_queue_pending ON verification_queue(priority ASC, created_at ASC) WHERE status = 'pending'",
	// one open review per entity field
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_queue_one_pending ON verification_queue(entity_type, entity_id, field_name) WHERE status = 'pending'",

	"CREATE INDEX IF NOT EXISTS idx_api_usage_logs_created_at ON api_usage_logs(created_at DESC, api_name, operation)",
}

func createIndexes(db *gorm.DB) error {
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
