package db

import (
	"fmt"
	"time"

	"document-gateway/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormWriter routes gorm's SQL log through zerolog.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Debug().Msgf(format, args...)
}

// NewLogger builds the gorm logger for environment. Production only reports errors.
func NewLogger(log zerolog.Logger, environment string) logger.Interface {
	level := logger.Info
	if environment == "production" {
		level = logger.Error
	}
	return logger.New(
		gormWriter{logger: log.With().Str("component", "gorm").Logger()},
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Connect opens the postgres database behind the gorm store.
func Connect(dsn, environment string, log zerolog.Logger) (*gorm.DB, error) {
	return Open(postgres.Open(dsn), environment, log)
}

// Open opens any gorm dialector with the gateway's settings. Duplicate-key
// errors are translated so the store can detect racing creates.
func Open(dialector gorm.Dialector, environment string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewLogger(log, environment),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to db: %w", err)
	}
	log.Info().Str("dialect", dialector.Name()).Msg("Success connecting to db")
	return db, nil
}

// Migrate creates or updates the document and history tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(store.Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func Close(db *gorm.DB, log zerolog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close db")
		return
	}
	log.Info().Msg("Closing DB")
}
