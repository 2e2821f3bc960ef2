// Package db opens gorm connections for the relational store backends.
package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultBusyTimeout     = 5 * time.Second
	defaultSQLiteConns     = 4
)

// Option configures a relational connection.
type Option struct {
	Driver string

	// SQLite
	Path string

	// Postgres
	ConnString string
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Config *gorm.Config
}

// Open returns a gorm handle for the configured driver. The caller owns the
// handle and must Close it.
func Open(opt Option) (*gorm.DB, error) {
	dialector, err := opt.dialector()
	if err != nil {
		return nil, err
	}

	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{
			Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
			NowFunc: func() time.Time { return time.Now().UTC() },
		}
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opt.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opt.Driver, err)
	}
	switch opt.Driver {
	case DriverSQLite:
		// WAL lets readers run beside the single writer. Writers take the
		// lock at BEGIN (_txlock=immediate) and wait busy_timeout for it.
		// An in-memory database exists per connection, so it keeps one.
		conns := opt.MaxOpenConns
		if conns <= 0 {
			conns = defaultSQLiteConns
		}
		if opt.Path == ":memory:" {
			conns = 1
		}
		sqlDB.SetMaxOpenConns(conns)
		sqlDB.SetMaxIdleConns(conns)
	default:
		if opt.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
		}
		if opt.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
		}
		if opt.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)
		}
	}
	return gdb, nil
}

// Close closes the connection pool behind gdb.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dialector() (gorm.Dialector, error) {
	switch opt.Driver {
	case DriverSQLite, "":
		dsn, err := opt.sqliteDSN()
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(opt.postgresDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", opt.Driver)
	}
}

func (opt Option) sqliteDSN() (string, error) {
	path := opt.Path
	if path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	query := url.Values{}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeout.Milliseconds()))
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Set("_txlock", "immediate")
	return path + "?" + query.Encode(), nil
}

func (opt Option) postgresDSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}
