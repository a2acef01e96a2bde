package database

import (
	"fmt"

	"github.com/qivo-mining/platform/pkg/common/config"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)
}

// OpenPostgres returns a new gorm handle; the caller owns it and closes it
// with ClosePostgres.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(PostgresDSN(cfg)), &gorm.Config{})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, err
	}

	logger.Log.Info("Connected to PostgreSQL")
	return db, nil
}

func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
