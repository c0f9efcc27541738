package query

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgresql"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
)

func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q (supported: postgresql, mysql, sqlite, duckdb)", raw)
	}
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// FirstValue returns the value at row 0, column 0.
func (r Result) FirstValue() (any, bool) {
	if len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return nil, false
	}
	return r.Rows[0][0], true
}

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type Table struct {
	Name          string   `json:"name"`
	Columns       []Column `json:"columns"`
	SampleColumns []string `json:"sample_columns,omitempty"`
	SampleRows    [][]any  `json:"sample_rows,omitempty"`
}

type Schema struct {
	Dialect Dialect `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Connection is a live handle to the database a session asks questions of.
type Connection interface {
	Dialect() Dialect
	Schema(ctx context.Context) (Schema, error)
	Execute(ctx context.Context, sqlText string) (Result, error)
	// Check asks the database to parse sqlText without running it.
	Check(ctx context.Context, sqlText string) error
	Ping(ctx context.Context) error
	Close() error
}

// StripTrailingSemicolons trims whitespace and any trailing statement
// terminators.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
