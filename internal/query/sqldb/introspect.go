package sqldb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/querypilot/querypilot/internal/query"
)

type catalogQueries interface {
	tableNames(ctx context.Context, db *sqlx.DB) ([]string, error)
	columns(ctx context.Context, db *sqlx.DB, table string) ([]query.Column, error)
}

func catalogFor(dialect query.Dialect) catalogQueries {
	switch dialect {
	case query.DialectSQLite:
		return sqliteCatalog{}
	case query.DialectMySQL:
		return informationSchema{schemaExpr: "DATABASE()"}
	default:
		return informationSchema{schemaExpr: "current_schema()"}
	}
}

type informationSchema struct {
	schemaExpr string
}

type infoColumn struct {
	Name       string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
}

func (s informationSchema) tableNames(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var names []string
	err := db.SelectContext(ctx, &names, `
SELECT table_name AS table_name
FROM information_schema.tables
WHERE table_schema = `+s.schemaExpr+` AND table_type = 'BASE TABLE'
ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s informationSchema) columns(ctx context.Context, db *sqlx.DB, table string) ([]query.Column, error) {
	var rows []infoColumn
	err := db.SelectContext(ctx, &rows, db.Rebind(`
SELECT column_name AS column_name, data_type AS data_type, is_nullable AS is_nullable
FROM information_schema.columns
WHERE table_schema = `+s.schemaExpr+` AND table_name = ?
ORDER BY ordinal_position`), table)
	if err != nil {
		return nil, err
	}

	primaryKeys := s.primaryKeyColumns(ctx, db, table)
	columns := make([]query.Column, 0, len(rows))
	for _, row := range rows {
		_, isPK := primaryKeys[row.Name]
		columns = append(columns, query.Column{
			Name:       row.Name,
			Type:       row.DataType,
			Nullable:   strings.EqualFold(row.IsNullable, "YES"),
			PrimaryKey: isPK,
		})
	}
	return columns, nil
}

// primaryKeyColumns is best effort; engines with a partial
// information_schema simply report no primary keys.
func (s informationSchema) primaryKeyColumns(ctx context.Context, db *sqlx.DB, table string) map[string]struct{} {
	var names []string
	err := db.SelectContext(ctx, &names, db.Rebind(`
SELECT kcu.column_name AS column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = `+s.schemaExpr+`
  AND tc.table_name = ?`), table)
	keys := make(map[string]struct{}, len(names))
	if err != nil {
		return keys
	}
	for _, name := range names {
		keys[name] = struct{}{}
	}
	return keys
}

type sqliteCatalog struct{}

type sqliteColumn struct {
	CID          int            `db:"cid"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	NotNull      int            `db:"notnull"`
	DefaultValue sql.NullString `db:"dflt_value"`
	PK           int            `db:"pk"`
}

func (sqliteCatalog) tableNames(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var names []string
	err := db.SelectContext(ctx, &names, `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (sqliteCatalog) columns(ctx context.Context, db *sqlx.DB, table string) ([]query.Column, error) {
	var rows []sqliteColumn
	if err := db.SelectContext(ctx, &rows, "PRAGMA table_info("+query.QuoteIdent(query.DialectSQLite, table)+")"); err != nil {
		return nil, err
	}
	columns := make([]query.Column, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, query.Column{
			Name:       row.Name,
			Type:       row.Type,
			Nullable:   row.NotNull == 0 && row.PK == 0,
			PrimaryKey: row.PK > 0,
		})
	}
	return columns, nil
}
