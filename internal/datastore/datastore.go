// Package datastore opens the entity store and migrates its schema.
package datastore

import (
	"fmt"
	"time"

	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Open connects to the configured backend. TranslateError is always on so
// repositories can detect unique-constraint violations portably.
func Open(cfg conf.DatabaseSettings, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if log != nil {
		log.Info("database opened", logger.String("driver", cfg.Driver))
	}
	return db, nil
}

// Migrate creates or updates every notification table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(entities.Models()...); err != nil {
		return fmt.Errorf("failed to migrate notification tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=ON"
	}
	return "file:" + path + "?_foreign_keys=ON&_busy_timeout=5000"
}
