package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/query"
)

// ReductionPolicy decides how much of a result set reaches the answer
// prompt.
type ReductionPolicy string

const (
	// ReduceFirstValue passes only row 0, column 0.
	ReduceFirstValue ReductionPolicy = "first_value"
	// ReduceTable passes the header and up to TableRows rows as TSV.
	ReduceTable ReductionPolicy = "table"

	DefaultTableRows = 20
)

func ParseReductionPolicy(raw string) (ReductionPolicy, error) {
	switch ReductionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReduceFirstValue:
		return ReduceFirstValue, nil
	case ReduceTable:
		return ReduceTable, nil
	default:
		return "", fmt.Errorf("unsupported reduction policy %q (supported: first_value, table)", raw)
	}
}

type SynthesisRequest struct {
	Question string
	SQL      string
	Result   query.Result
	// Policy overrides the synthesizer default when set.
	Policy ReductionPolicy
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

type SynthesizerConfig struct {
	Model         ChatModel
	PromptVersion string
	Policy        ReductionPolicy
	TableRows     int
}

type Synthesizer struct {
	model     ChatModel
	prompt    *Prompt
	policy    ReductionPolicy
	tableRows int
}

var _ AnswerSynthesizer = (*Synthesizer)(nil)

func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Model == nil {
		return nil, failure.Configuration("answer synthesizer requires a chat model")
	}
	prompt, err := LoadPrompt(PromptAnswer, cfg.PromptVersion)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "", err)
	}
	policy, err := ParseReductionPolicy(string(cfg.Policy))
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "", err)
	}
	tableRows := cfg.TableRows
	if tableRows <= 0 {
		tableRows = DefaultTableRows
	}
	return &Synthesizer{model: cfg.Model, prompt: prompt, policy: policy, tableRows: tableRows}, nil
}

type answerPromptData struct {
	Question string
	SQL      string
	Result   string
}

func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	policy := s.policy
	if req.Policy != "" {
		policy = req.Policy
	}
	reduced, err := Reduce(req.Result, policy, s.tableRows)
	if err != nil {
		return "", err
	}

	messages, err := s.prompt.Messages(answerPromptData{
		Question: strings.TrimSpace(req.Question),
		SQL:      strings.TrimSpace(req.SQL),
		Result:   reduced,
	})
	if err != nil {
		return "", err
	}
	answer, err := s.model.Complete(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// Reduce renders result for the answer prompt. An empty result is a
// failure.KindResultShape error.
func Reduce(result query.Result, policy ReductionPolicy, tableRows int) (string, error) {
	value, ok := result.FirstValue()
	if !ok {
		return "", failure.ResultShape("result has no rows to answer from")
	}

	switch policy {
	case "", ReduceFirstValue:
		return query.FormatValue(value), nil
	case ReduceTable:
		if tableRows <= 0 {
			tableRows = DefaultTableRows
		}
		var sb strings.Builder
		sb.WriteString(strings.Join(result.Columns, "\t"))
		for i, row := range result.Rows {
			if i == tableRows {
				fmt.Fprintf(&sb, "\n... (%d more rows)", len(result.Rows)-tableRows)
				break
			}
			cells := make([]string, len(row))
			for j, cell := range row {
				cells[j] = query.FormatValue(cell)
			}
			sb.WriteString("\n")
			sb.WriteString(strings.Join(cells, "\t"))
		}
		return sb.String(), nil
	default:
		return "", failure.Configuration(fmt.Sprintf("unsupported reduction policy %q", policy))
	}
}
