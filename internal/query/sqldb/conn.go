package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/query"
)

// Conn is a query.Connection backed by database/sql.
type Conn struct {
	db         *sqlx.DB
	dialect    query.Dialect
	sampleRows int
	catalog    catalogQueries
}

var _ query.Connection = (*Conn)(nil)

// New wraps an already opened database. sampleRows <= 0 selects the default
// of three sample rows per table.
func New(db *sqlx.DB, dialect query.Dialect, sampleRows int) *Conn {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	return &Conn{
		db:         db,
		dialect:    dialect,
		sampleRows: sampleRows,
		catalog:    catalogFor(dialect),
	}
}

func (c *Conn) Dialect() query.Dialect {
	return c.dialect
}

// Execute runs sqlText verbatim. Driver failures come back as a
// failure.KindQuery error carrying the driver message; no rows are returned
// alongside an error.
func (c *Conn) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = query.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, failure.InvalidInput("sql is required")
	}

	start := time.Now()
	rows, err := c.db.QueryxContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, failure.Query(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, failure.Query(err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return query.Result{}, failure.Query(err)
		}
		resultRows = append(resultRows, query.NormalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, failure.Query(err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (c *Conn) Check(ctx context.Context, sqlText string) error {
	stmt, err := c.db.PrepareContext(ctx, query.StripTrailingSemicolons(sqlText))
	if err != nil {
		return err
	}
	return stmt.Close()
}

func (c *Conn) Schema(ctx context.Context) (query.Schema, error) {
	names, err := c.catalog.tableNames(ctx, c.db)
	if err != nil {
		return query.Schema{}, fmt.Errorf("list tables: %w", err)
	}

	schema := query.Schema{Dialect: c.dialect, Tables: make([]query.Table, 0, len(names))}
	for _, name := range names {
		columns, err := c.catalog.columns(ctx, c.db, name)
		if err != nil {
			return query.Schema{}, fmt.Errorf("list columns of %q: %w", name, err)
		}
		table := query.Table{Name: name, Columns: columns}

		sample, err := c.Execute(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", query.QuoteIdent(c.dialect, name), c.sampleRows))
		if err == nil {
			table.SampleColumns = sample.Columns
			table.SampleRows = sample.Rows
		}
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Conn) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle for setup code such as the demo seeder.
func (c *Conn) DB() *sqlx.DB {
	return c.db
}
