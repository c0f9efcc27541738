package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query/sqldb"
	"github.com/querypilot/querypilot/internal/secrets"
	"github.com/querypilot/querypilot/internal/sqlcheck"
)

const (
	ModeLLM    = "llm"
	ModeLookup = "lookup"
)

type BuilderConfig struct {
	// Target is the default connection used when a request names no database.
	Target sqldb.Config
	Mode   string

	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// Credentials backs sessions whose connect request carries no key.
	Credentials secrets.CredentialProvider

	PromptVersion string
	RowLimit      int
	Policy        nl2sql.ReductionPolicy
	TableRows     int
	ReadOnly      bool
	LookupQueries map[string]string
}

// SQLBuilder opens database/sql targets and wires the model-backed stages
// with a per-session credential chain.
type SQLBuilder struct {
	cfg BuilderConfig
}

var _ Builder = (*SQLBuilder)(nil)

func NewSQLBuilder(cfg BuilderConfig) *SQLBuilder {
	return &SQLBuilder{cfg: cfg}
}

func (b *SQLBuilder) Build(ctx context.Context, req ConnectRequest) (Parts, error) {
	mode, err := parseMode(req.Mode, b.cfg.Mode)
	if err != nil {
		return Parts{}, err
	}

	target := req.Target
	if target.Dialect == "" {
		if namesTarget(target) {
			return Parts{}, failure.InvalidInput("database dialect is required with connection details")
		}
		target = b.cfg.Target
	}
	if target.Dialect == "" {
		return Parts{}, failure.InvalidInput("database dialect is required")
	}
	if target.SampleRows <= 0 {
		target.SampleRows = b.cfg.Target.SampleRows
	}
	if target.MaxOpenConns <= 0 {
		target.MaxOpenConns = b.cfg.Target.MaxOpenConns
	}
	if target.MaxIdleConns <= 0 {
		target.MaxIdleConns = b.cfg.Target.MaxIdleConns
	}

	conn, err := sqldb.Open(ctx, target)
	if err != nil {
		return Parts{}, failure.Wrap(failure.KindQuery, "connect to database", err)
	}

	credentials := secrets.Chain(secrets.Static(req.APIKey), b.cfg.Credentials)
	model := nl2sql.NewOpenAIModel(nl2sql.OpenAIConfig{
		BaseURL:     b.cfg.BaseURL,
		Model:       b.cfg.Model,
		Temperature: b.cfg.Temperature,
		Timeout:     b.cfg.Timeout,
		Credentials: credentials,
	})

	parts := Parts{
		Conn:      conn,
		Validator: sqlcheck.New(conn, sqlcheck.Options{ReadOnly: b.cfg.ReadOnly, Dialect: conn.Dialect()}),
		Mode:      mode,
	}
	if mode == ModeLookup {
		parts.Generator = nl2sql.NewLookupGenerator(b.cfg.LookupQueries)
		// lookup sessions without a key show results but no answer
		if _, err := credentials.APIKey(ctx); errors.Is(err, secrets.ErrNoCredential) {
			return parts, nil
		}
	} else {
		generator, err := nl2sql.NewGenerator(nl2sql.GeneratorConfig{
			Model:         model,
			PromptVersion: b.cfg.PromptVersion,
			RowLimit:      b.cfg.RowLimit,
		})
		if err != nil {
			_ = conn.Close()
			return Parts{}, err
		}
		parts.Generator = generator
	}

	synthesizer, err := nl2sql.NewSynthesizer(nl2sql.SynthesizerConfig{
		Model:         model,
		PromptVersion: b.cfg.PromptVersion,
		Policy:        b.cfg.Policy,
		TableRows:     b.cfg.TableRows,
	})
	if err != nil {
		_ = conn.Close()
		return Parts{}, err
	}
	parts.Synthesizer = synthesizer
	return parts, nil
}

// namesTarget reports whether a connect request points at a database of its
// own rather than the configured default.
func namesTarget(cfg sqldb.Config) bool {
	return strings.TrimSpace(cfg.DSN) != "" || strings.TrimSpace(cfg.Host) != "" || strings.TrimSpace(cfg.Database) != ""
}

func parseMode(requested, fallback string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(requested))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(fallback))
	}
	switch mode {
	case "", ModeLLM:
		return ModeLLM, nil
	case ModeLookup:
		return ModeLookup, nil
	default:
		return "", failure.InvalidInput(fmt.Sprintf("unsupported mode %q (supported: llm, lookup)", requested))
	}
}
