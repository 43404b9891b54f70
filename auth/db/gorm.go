package db

import (
	"fmt"
	"time"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/slogging"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormConfig holds the configuration for the GORM database connection
type GormConfig struct {
	// DSN is the PostgreSQL connection string. Ignored when SQLitePath is set.
	DSN string
	// SQLitePath is a file path or ":memory:"; used by tests and local dev.
	SQLitePath string
	// LogLevel controls GORM's own query logging
	LogLevel logger.LogLevel
}

// GormDB wraps a GORM database connection
type GormDB struct {
	db *gorm.DB
}

// NewGormDB opens a database connection and verifies it
func NewGormDB(cfg GormConfig) (*GormDB, error) {
	log := slogging.Get()

	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	}

	var (
		db  *gorm.DB
		err error
	)
	if cfg.SQLitePath != "" {
		log.Debug("Opening SQLite database at %s", cfg.SQLitePath)
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	} else {
		log.Debug("Opening PostgreSQL database connection")
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Debug("Database connection established successfully")

	return &GormDB{db: db}, nil
}

// Migrate creates or updates the collaboration tables
func (g *GormDB) Migrate() error {
	slogging.Get().Info("Running collaboration schema migrations")
	if err := g.db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate collaboration schema: %w", err)
	}
	return nil
}

// DB returns the underlying gorm.DB
func (g *GormDB) DB() *gorm.DB {
	return g.db
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
