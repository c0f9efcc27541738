package nl2sql

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
)

const DefaultRowLimit = 10

type GeneratorConfig struct {
	Model         ChatModel
	PromptVersion string
	RowLimit      int
}

// Generator asks a chat model for SQL using the sql-query prompt and the
// QueryOutput structured format.
type Generator struct {
	model    ChatModel
	prompt   *Prompt
	rowLimit int
}

var _ QueryGenerator = (*Generator)(nil)

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Model == nil {
		return nil, failure.Configuration("query generator requires a chat model")
	}
	prompt, err := LoadPrompt(PromptSQLQuery, cfg.PromptVersion)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "", err)
	}
	rowLimit := cfg.RowLimit
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Generator{model: cfg.Model, prompt: prompt, rowLimit: rowLimit}, nil
}

type queryPromptData struct {
	Dialect   string
	TopK      int
	TableInfo string
	Input     string
}

func (g *Generator) GenerateQuery(ctx context.Context, req GenerateRequest) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", failure.InvalidInput("question is required")
	}
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "generic"
	}
	topK := req.RowLimit
	if topK <= 0 {
		topK = g.rowLimit
	}

	messages, err := g.prompt.Messages(queryPromptData{
		Dialect:   dialect,
		TopK:      topK,
		TableInfo: req.SchemaSummary,
		Input:     question,
	})
	if err != nil {
		return "", err
	}

	content, err := g.model.Complete(ctx, ChatRequest{
		Messages: messages,
		Output:   &StructuredOutput{Name: "QueryOutput", Schema: queryOutputSchema},
	})
	if err != nil {
		return "", err
	}

	var output QueryOutput
	if err := json.Unmarshal([]byte(stripMarkdownSQL(content)), &output); err != nil {
		return "", failure.Upstream("decode structured query output", err)
	}
	sqlText := stripMarkdownSQL(output.Query)
	if sqlText == "" {
		return "", failure.Upstream("model returned empty SQL", nil)
	}
	return sqlText, nil
}
