package tshirts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/querypilot/querypilot/internal/query"
)

// Seeder creates the t_shirts and discounts tables and fills them.
type Seeder struct {
	db      *sqlx.DB
	dialect query.Dialect
	logger  *slog.Logger
}

func NewSeeder(db *sqlx.DB, dialect query.Dialect, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Seeder{db: db, dialect: dialect, logger: logger}
}

func (s *Seeder) Seed(ctx context.Context, data Dataset, dropExisting bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := createStatements(s.dialect)
	if dropExisting {
		statements = append([]string{
			"DROP TABLE IF EXISTS discounts",
			"DROP TABLE IF EXISTS t_shirts",
		}, statements...)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl %q: %w", firstLine(stmt), err)
		}
	}

	insertShirt := tx.Rebind(`INSERT INTO t_shirts (t_shirt_id, brand, color, size, price, stock_quantity) VALUES (?, ?, ?, ?, ?, ?)`)
	for _, shirt := range data.TShirts {
		if _, err := tx.ExecContext(ctx, insertShirt, shirt.ID, shirt.Brand, shirt.Color, shirt.Size, shirt.Price, shirt.StockQuantity); err != nil {
			return fmt.Errorf("insert t_shirt %d: %w", shirt.ID, err)
		}
	}
	insertDiscount := tx.Rebind(`INSERT INTO discounts (discount_id, t_shirt_id, pct_discount) VALUES (?, ?, ?)`)
	for _, discount := range data.Discounts {
		if _, err := tx.ExecContext(ctx, insertDiscount, discount.ID, discount.TShirtID, discount.PctDiscount); err != nil {
			return fmt.Errorf("insert discount %d: %w", discount.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "demo dataset seeded",
		slog.String("dialect", string(s.dialect)),
		slog.Int("t_shirts", len(data.TShirts)),
		slog.Int("discounts", len(data.Discounts)),
	)
	return nil
}

func createStatements(dialect query.Dialect) []string {
	if dialect == query.DialectMySQL {
		return []string{
			`CREATE TABLE t_shirts (
	t_shirt_id INT NOT NULL PRIMARY KEY,
	brand ENUM('Van Huesen', 'Levi', 'Nike', 'Adidas') NOT NULL,
	color ENUM('Red', 'Blue', 'Black', 'White') NOT NULL,
	size ENUM('XS', 'S', 'M', 'L', 'XL') NOT NULL,
	price INT CHECK (price BETWEEN 10 AND 50),
	stock_quantity INT NOT NULL,
	UNIQUE KEY brand_color_size (brand, color, size)
)`,
			`CREATE TABLE discounts (
	discount_id INT NOT NULL PRIMARY KEY,
	t_shirt_id INT NOT NULL,
	pct_discount DECIMAL(5,2) CHECK (pct_discount BETWEEN 0 AND 100),
	FOREIGN KEY (t_shirt_id) REFERENCES t_shirts(t_shirt_id)
)`,
		}
	}

	decimal := "DECIMAL(5,2)"
	if dialect == query.DialectSQLite {
		decimal = "REAL"
	}
	return []string{
		`CREATE TABLE t_shirts (
	t_shirt_id INTEGER NOT NULL PRIMARY KEY,
	brand VARCHAR(16) NOT NULL CHECK (brand IN ('Van Huesen', 'Levi', 'Nike', 'Adidas')),
	color VARCHAR(8) NOT NULL CHECK (color IN ('Red', 'Blue', 'Black', 'White')),
	size VARCHAR(2) NOT NULL CHECK (size IN ('XS', 'S', 'M', 'L', 'XL')),
	price INTEGER CHECK (price BETWEEN 10 AND 50),
	stock_quantity INTEGER NOT NULL,
	UNIQUE (brand, color, size)
)`,
		`CREATE TABLE discounts (
	discount_id INTEGER NOT NULL PRIMARY KEY,
	t_shirt_id INTEGER NOT NULL REFERENCES t_shirts(t_shirt_id),
	pct_discount ` + decimal + ` CHECK (pct_discount BETWEEN 0 AND 100)
)`,
	}
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
