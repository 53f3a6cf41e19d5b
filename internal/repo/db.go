// Package repo is the GORM persistence layer: sessions with their message
// logs, verification codes, idempotency records and the local mirror of
// sessions the durable store could not take.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// Supported values for the DB_DRIVER setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqlitePragmas run on every pooled connection, not just the first.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

type poolLimits struct {
	maxOpen     int
	maxIdleTime time.Duration
	maxLifetime time.Duration
}

var (
	sqlitePool   = poolLimits{maxOpen: 10, maxIdleTime: 5 * time.Minute, maxLifetime: 30 * time.Minute}
	postgresPool = poolLimits{maxOpen: 20, maxIdleTime: 5 * time.Minute, maxLifetime: 30 * time.Minute}
)

// Open connects to the durable store. dsn is a file path for sqlite and a
// connection URL for postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(dsn)
	}
	return nil, fmt.Errorf("repo: unsupported driver %q", driver)
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("repo: sqlite dir: %w", err)
		}
	}
	q := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		q = append(q, "_pragma="+p)
	}
	return open(sqlite.Open(path+"?"+strings.Join(q, "&")), sqlitePool)
}

// OpenPostgres opens a PostgreSQL pool.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repo: postgres dsn is empty")
	}
	return open(postgres.Open(dsn), postgresPool)
}

func open(d gorm.Dialector, lim poolLimits) (*gorm.DB, error) {
	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(lim.maxOpen)
	sqlDB.SetMaxIdleConns(lim.maxOpen)
	sqlDB.SetConnMaxIdleTime(lim.maxIdleTime)
	sqlDB.SetConnMaxLifetime(lim.maxLifetime)
	return db, nil
}

// AutoMigrate creates or updates the durable schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Session{},
		&domain.Message{},
		&domain.VerificationCode{},
		&domain.Idempotency{},
	)
}

// Ping reports whether the pool can reach the database.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
