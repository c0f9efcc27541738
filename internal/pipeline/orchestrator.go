// Package pipeline sequences question -> SQL -> result -> answer for
// isolated sessions.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
)

type State string

const (
	StateIdle         State = "idle"
	StateGenerating   State = "generating"
	StateAwaitingEdit State = "awaiting_edit"
	StateExecuting    State = "executing"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// NoAnswerMarker is the answer recorded when a run returns zero rows.
const NoAnswerMarker = "No answer available: the query returned no rows."

const (
	stageGenerate   = "generate"
	stageValidate   = "validate"
	stageExecute    = "execute"
	stageSynthesize = "synthesize"
)

// Validator checks SQL before execution and returns the text to run.
type Validator interface {
	Validate(ctx context.Context, sqlText string) (string, error)
}

type Config struct {
	// RowLimit is the top-k hint handed to the generator.
	RowLimit int
	// Policy is the reduction policy handed to the synthesizer.
	Policy nl2sql.ReductionPolicy
	// StageTimeout bounds each stage; zero means only the caller's deadline.
	StageTimeout time.Duration
}

// Parts are the per-session collaborators an Orchestrator drives. A nil
// Synthesizer ends runs after execution without an answer; a nil Validator
// skips validation.
type Parts struct {
	Conn        query.Connection
	Generator   nl2sql.QueryGenerator
	Validator   Validator
	Synthesizer nl2sql.AnswerSynthesizer
	Mode        string
}

type StageError struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Dialect   query.Dialect `json:"dialect"`
	Mode      string        `json:"mode,omitempty"`
	State     State         `json:"state"`
	Question  string        `json:"question,omitempty"`
	SQL       string        `json:"sql,omitempty"`
	Result    *query.Result `json:"-"`
	Answer    string        `json:"answer,omitempty"`
	NoAnswer  bool          `json:"no_answer,omitempty"`
	Error     *StageError   `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Orchestrator owns one session: its database handle, model-backed stages
// and pipeline state. Actions are serialized; a second action issued while
// one is running fails with failure.KindBusy.
type Orchestrator struct {
	id       string
	tenantID string
	parts    Parts
	schema   query.Schema
	summary  string
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time

	action sync.Mutex
	closed bool

	mu        sync.RWMutex
	state     State
	question  string
	sqlText   string
	result    *query.Result
	answer    string
	noAnswer  bool
	lastErr   *StageError
	createdAt time.Time
	updatedAt time.Time
}

func NewOrchestrator(id, tenantID string, parts Parts, schema query.Schema, cfg Config, logger *slog.Logger) *Orchestrator {
	return newOrchestrator(id, tenantID, parts, schema, cfg, logger, time.Now)
}

func newOrchestrator(id, tenantID string, parts Parts, schema query.Schema, cfg Config, logger *slog.Logger, clock func() time.Time) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &Orchestrator{
		id:       id,
		tenantID: tenantID,
		parts:    parts,
		schema:   schema,
		summary:  schema.Summary(),
		cfg:      cfg,
		logger:   logger.With(slog.String("session_id", id), slog.String("tenant_id", tenantID)),
		clock:    clock,
		state:    StateIdle,
	}
	o.createdAt = o.clock().UTC()
	o.updatedAt = o.createdAt
	return o
}

func (o *Orchestrator) ID() string {
	return o.id
}

func (o *Orchestrator) TenantID() string {
	return o.tenantID
}

// Schema returns the schema loaded at connect time and its prompt summary.
func (o *Orchestrator) Schema() (query.Schema, string) {
	return o.schema, o.summary
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Snapshot{
		ID:        o.id,
		TenantID:  o.tenantID,
		Dialect:   o.parts.Conn.Dialect(),
		Mode:      o.parts.Mode,
		State:     o.state,
		Question:  o.question,
		SQL:       o.sqlText,
		Result:    o.result,
		Answer:    o.answer,
		NoAnswer:  o.noAnswer,
		Error:     o.lastErr,
		CreatedAt: o.createdAt,
		UpdatedAt: o.updatedAt,
	}
}

// Translate generates SQL for question. An empty question is rejected and
// leaves the session untouched.
func (o *Orchestrator) Translate(ctx context.Context, question string) (Snapshot, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return o.Snapshot(), failure.InvalidInput("question is required")
	}
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.action.Unlock()

	o.update(func() {
		o.state = StateGenerating
		o.question = question
		o.sqlText = ""
		o.clearOutcome()
	})

	var sqlText string
	err := o.stage(ctx, stageGenerate, func(ctx context.Context) error {
		var err error
		sqlText, err = o.parts.Generator.GenerateQuery(ctx, nl2sql.GenerateRequest{
			Question:      question,
			SchemaSummary: o.summary,
			Dialect:       string(o.parts.Conn.Dialect()),
			RowLimit:      o.cfg.RowLimit,
		})
		return err
	})
	if err != nil {
		return o.fail(err), err
	}

	o.update(func() {
		o.sqlText = sqlText
		o.state = StateAwaitingEdit
	})
	o.logger.InfoContext(ctx, "question translated",
		slog.String("question", question),
		slog.String("sql", sqlText),
	)
	return o.Snapshot(), nil
}

// SetSQL replaces the held SQL with a user edit.
func (o *Orchestrator) SetSQL(sqlText string) (Snapshot, error) {
	if strings.TrimSpace(sqlText) == "" {
		return o.Snapshot(), failure.InvalidInput("sql is required")
	}
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.action.Unlock()

	o.update(func() {
		o.sqlText = sqlText
		o.state = StateAwaitingEdit
		o.clearOutcome()
	})
	return o.Snapshot(), nil
}

// Run validates and executes sqlText, or the held SQL when sqlText is blank,
// then synthesizes an answer from a non-empty result.
func (o *Orchestrator) Run(ctx context.Context, sqlText string) (Snapshot, error) {
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.action.Unlock()

	if strings.TrimSpace(sqlText) == "" {
		o.mu.RLock()
		sqlText = o.sqlText
		o.mu.RUnlock()
	}
	if strings.TrimSpace(sqlText) == "" {
		return o.Snapshot(), failure.InvalidInput("sql is required")
	}

	var question string
	o.update(func() {
		o.state = StateExecuting
		o.sqlText = sqlText
		o.clearOutcome()
		question = o.question
	})

	statement := sqlText
	if o.parts.Validator != nil {
		err := o.stage(ctx, stageValidate, func(ctx context.Context) error {
			var err error
			statement, err = o.parts.Validator.Validate(ctx, sqlText)
			return err
		})
		if err != nil {
			return o.fail(err), err
		}
	}

	var result query.Result
	err := o.stage(ctx, stageExecute, func(ctx context.Context) error {
		var err error
		result, err = o.parts.Conn.Execute(ctx, statement)
		return err
	})
	if err != nil {
		return o.fail(err), err
	}

	if result.Empty() {
		o.update(func() {
			o.result = &result
			o.answer = NoAnswerMarker
			o.noAnswer = true
			o.state = StateDone
		})
		return o.Snapshot(), nil
	}
	if o.parts.Synthesizer == nil {
		o.update(func() {
			o.result = &result
			o.state = StateDone
		})
		return o.Snapshot(), nil
	}

	o.update(func() { o.state = StateSynthesizing })
	var answer string
	err = o.stage(ctx, stageSynthesize, func(ctx context.Context) error {
		var err error
		answer, err = o.parts.Synthesizer.Synthesize(ctx, nl2sql.SynthesisRequest{
			Question: question,
			SQL:      statement,
			Result:   result,
			Policy:   o.cfg.Policy,
		})
		return err
	})
	if err != nil {
		return o.fail(err), err
	}

	o.update(func() {
		o.result = &result
		o.answer = answer
		o.state = StateDone
	})
	return o.Snapshot(), nil
}

// Result returns the last successful execution result.
func (o *Orchestrator) Result() (query.Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.result == nil {
		return query.Result{}, false
	}
	return *o.result, true
}

// Close waits for a running action and releases the database handle.
func (o *Orchestrator) Close() error {
	o.action.Lock()
	defer o.action.Unlock()
	return o.closeLocked()
}

// closeIfIdle closes the session when no action is running and it has not
// been touched since cutoff.
func (o *Orchestrator) closeIfIdle(cutoff time.Time) (bool, error) {
	if !o.action.TryLock() {
		return false, nil
	}
	defer o.action.Unlock()
	if o.closed || o.lastActivity().After(cutoff) {
		return false, nil
	}
	return true, o.closeLocked()
}

func (o *Orchestrator) closeLocked() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.parts.Conn.Close()
}

func (o *Orchestrator) lastActivity() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updatedAt
}

func (o *Orchestrator) begin() error {
	if !o.action.TryLock() {
		return failure.Busy("another action is running in this session")
	}
	if o.closed {
		o.action.Unlock()
		return failure.NotFound("session is closed")
	}
	return nil
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	start := o.clock()
	err := fn(ctx)
	elapsed := o.clock().Sub(start)

	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	observability.ObserveStage(name, outcome, elapsed)

	if err != nil {
		o.logger.WarnContext(ctx, "pipeline stage failed",
			slog.String("stage", name),
			slog.String("kind", outcome),
			slog.String("error", failure.MessageOf(err)),
			slog.Duration("duration", elapsed),
		)
		return err
	}
	o.logger.DebugContext(ctx, "pipeline stage completed",
		slog.String("stage", name),
		slog.Duration("duration", elapsed),
	)
	return nil
}

func (o *Orchestrator) fail(err error) Snapshot {
	o.update(func() {
		o.clearOutcome()
		o.state = StateFailed
		o.lastErr = &StageError{Kind: failure.KindOf(err), Message: failure.MessageOf(err)}
	})
	return o.Snapshot()
}

// clearOutcome must run inside update.
func (o *Orchestrator) clearOutcome() {
	o.result = nil
	o.answer = ""
	o.noAnswer = false
	o.lastErr = nil
}

func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
	o.updatedAt = o.clock().UTC()
}
