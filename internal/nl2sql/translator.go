package nl2sql

import (
	"context"
	"strings"
)

type GenerateRequest struct {
	Question      string
	SchemaSummary string
	Dialect       string
	// RowLimit is the top-k hint rendered into the prompt, not enforced.
	RowLimit int
}

// QueryGenerator turns a natural-language question into SQL text. The SQL is
// not validated here.
type QueryGenerator interface {
	GenerateQuery(ctx context.Context, req GenerateRequest) (string, error)
}

// QueryOutput is the fixed-shape structured output the model must return.
type QueryOutput struct {
	Query string `json:"query"`
}

var queryOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Syntactically valid SQL query.",
		},
	},
	"required":             []string{"query"},
	"additionalProperties": false,
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
