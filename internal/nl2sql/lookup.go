package nl2sql

import (
	"context"
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
)

// DefaultLookupSQL is returned for questions the lookup table does not know.
const DefaultLookupSQL = "SELECT * FROM table_name;"

var defaultLookupQueries = map[string]string{
	"show all users":         "SELECT * FROM users;",
	"find oldest customer":   "SELECT * FROM customers ORDER BY age DESC LIMIT 1;",
	"total sales by product": "SELECT product_name, SUM(quantity) as total_sales FROM sales GROUP BY product_name;",
}

// LookupGenerator maps known questions to canned SQL without a model.
type LookupGenerator struct {
	queries  map[string]string
	fallback string
}

var _ QueryGenerator = (*LookupGenerator)(nil)

// NewLookupGenerator merges extra into the built-in table. Keys are matched
// case-insensitively after trimming.
func NewLookupGenerator(extra map[string]string) *LookupGenerator {
	queries := make(map[string]string, len(defaultLookupQueries)+len(extra))
	for question, sqlText := range defaultLookupQueries {
		queries[lookupKey(question)] = sqlText
	}
	for question, sqlText := range extra {
		queries[lookupKey(question)] = sqlText
	}
	return &LookupGenerator{queries: queries, fallback: DefaultLookupSQL}
}

func (g *LookupGenerator) GenerateQuery(_ context.Context, req GenerateRequest) (string, error) {
	key := lookupKey(req.Question)
	if key == "" {
		return "", failure.InvalidInput("question is required")
	}
	if sqlText, ok := g.queries[key]; ok {
		return sqlText, nil
	}
	return g.fallback, nil
}

func lookupKey(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}
