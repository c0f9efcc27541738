package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/querypilot/querypilot/internal/query"
)

const defaultSampleRows = 3

type Config struct {
	Dialect  query.Dialect
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	SampleRows      int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg Config) (*Conn, error) {
	driver, err := driverName(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect, err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Dialect == query.DialectSQLite && isSQLiteMemory(dsn) {
		// every sqlite :memory: connection is a distinct database
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Dialect, err)
	}

	return New(sqlx.NewDb(db, driver), cfg.Dialect, cfg.SampleRows), nil
}

// BuildDSN returns cfg.DSN when set, otherwise assembles a driver DSN from
// the discrete connection fields.
func BuildDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}

	switch cfg.Dialect {
	case query.DialectPostgres:
		if strings.TrimSpace(cfg.Host) == "" {
			return "", fmt.Errorf("postgresql host is required")
		}
		port := cfg.Port
		if port <= 0 {
			port = 5432
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:   "/" + cfg.Database,
		}
		if cfg.User != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
		return u.String(), nil
	case query.DialectMySQL:
		if strings.TrimSpace(cfg.Host) == "" {
			return "", fmt.Errorf("mysql host is required")
		}
		port := cfg.Port
		if port <= 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case query.DialectSQLite:
		if cfg.Database == "" {
			return ":memory:", nil
		}
		return cfg.Database, nil
	case query.DialectDuckDB:
		return cfg.Database, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
}

func driverName(dialect query.Dialect) (string, error) {
	switch dialect {
	case query.DialectPostgres:
		return "pgx", nil
	case query.DialectMySQL:
		return "mysql", nil
	case query.DialectSQLite:
		return "sqlite3", nil
	case query.DialectDuckDB:
		return "duckdb", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func isSQLiteMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// MaskDSN hides credentials embedded in a DSN so it can be logged.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil && u.Scheme != "" {
		u.User = url.UserPassword("*", "*")
		return u.String()
	}
	if mc, err := mysql.ParseDSN(dsn); err == nil && mc.Passwd != "" {
		mc.Passwd = "***"
		return mc.FormatDSN()
	}
	return dsn
}
