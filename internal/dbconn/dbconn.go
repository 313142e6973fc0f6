// Package dbconn builds the two database handles the compactor needs from
// one shared configuration: a GORM connection for the checkpoint store and
// a raw database/sql connection for the state-store adapter, so an operator
// only points one set of credentials at one database.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/roomstate/compactor/internal/store"
	"github.com/roomstate/compactor/pkg/config"
	"github.com/roomstate/compactor/pkg/telemetry"
)

// Handles bundles both connections plus the dialect they were opened with.
type Handles struct {
	Gorm    *gorm.DB
	SQL     *sql.DB
	Dialect store.Dialect
}

// Open builds both handles from one StoreConfig, applying the same pool
// sizing and OTEL tracing plugin policy to each.
func Open(cfg config.StoreConfig) (*Handles, error) {
	dialect, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}

	gormDB, err := openGorm(cfg, dialect)
	if err != nil {
		return nil, err
	}

	sqlDB, err := openSQL(cfg, dialect)
	if err != nil {
		return nil, fmt.Errorf("open raw sql connection: %w", err)
	}

	return &Handles{Gorm: gormDB, SQL: sqlDB, Dialect: dialect}, nil
}

// Close closes both underlying connections. The GORM handle and the raw
// database/sql handle are independent connections (even though they point
// at the same database), so both must be closed.
func (h *Handles) Close() error {
	var sqlErr error
	if h.SQL != nil {
		sqlErr = h.SQL.Close()
	}
	if h.Gorm != nil {
		if gormSQLDB, err := h.Gorm.DB(); err == nil {
			if err := gormSQLDB.Close(); err != nil && sqlErr == nil {
				sqlErr = err
			}
		}
	}
	return sqlErr
}

// HealthCheck verifies both connections are still alive.
func (h *Handles) HealthCheck(ctx context.Context) error {
	if err := h.SQL.PingContext(ctx); err != nil {
		return fmt.Errorf("raw sql connection unhealthy: %w", err)
	}
	gormSQLDB, err := h.Gorm.DB()
	if err != nil {
		return err
	}
	if err := gormSQLDB.PingContext(ctx); err != nil {
		return fmt.Errorf("gorm connection unhealthy: %w", err)
	}
	return nil
}

func dialectFor(cfgType string) (store.Dialect, error) {
	switch cfgType {
	case "postgres", "postgresql":
		return store.DialectPostgres, nil
	case "mysql":
		return store.DialectMySQL, nil
	case "sqlite":
		return store.DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", cfgType)
	}
}

func dsn(cfg config.StoreConfig, dialect store.Dialect) string {
	switch dialect {
	case store.DialectPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
	case store.DialectMySQL:
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
	default: // sqlite
		return cfg.Database
	}
}

func openGorm(cfg config.StoreConfig, dialect store.Dialect) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case store.DialectPostgres:
		dialector = gormpostgres.Open(dsn(cfg, dialect))
	case store.DialectMySQL:
		dialector = gormmysql.Open(dsn(cfg, dialect))
	case store.DialectSQLite:
		dialector = gormsqlite.Open(dsn(cfg, dialect))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open gorm connection: %w", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("enable gorm tracing: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	configurePool(sqlDB, cfg.MaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping gorm connection: %w", err)
	}

	return db, nil
}

func openSQL(cfg config.StoreConfig, dialect store.Dialect) (*sql.DB, error) {
	driverName := "mysql"
	if dialect == store.DialectPostgres {
		driverName = "pgx"
	}
	if dialect == store.DialectSQLite {
		driverName = "sqlite3"
	}

	sqlDB, err := sql.Open(driverName, dsn(cfg, dialect))
	if err != nil {
		return nil, err
	}
	configurePool(sqlDB, cfg.MaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

func configurePool(sqlDB *sql.DB, maxConns int) {
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)
}
