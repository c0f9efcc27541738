package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query/sqldb"
)

const (
	DefaultSessionTTL      = 30 * time.Minute
	DefaultJanitorInterval = time.Minute
	DefaultSessionLimit    = 64
)

// ConnectRequest describes the database and credentials for a new session.
// Zero fields fall back to the builder's configured defaults.
type ConnectRequest struct {
	Target sqldb.Config
	APIKey string
	Mode   string
}

// Builder opens the collaborators for a new session.
type Builder interface {
	Build(ctx context.Context, req ConnectRequest) (Parts, error)
}

type RegistryConfig struct {
	Pipeline        Config
	SessionTTL      time.Duration
	JanitorInterval time.Duration
	SessionLimit    int
}

// Registry holds the open sessions of all tenants.
type Registry struct {
	builder Builder
	cfg     RegistryConfig
	logger  *slog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewRegistry(builder Builder, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = DefaultSessionLimit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		builder:  builder,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		sessions: map[string]*Orchestrator{},
	}
}

// Open connects to the target database, loads its schema and registers a
// new session owned by tenantID.
func (r *Registry) Open(ctx context.Context, tenantID string, req ConnectRequest) (*Orchestrator, error) {
	if r.count() >= r.cfg.SessionLimit {
		return nil, r.limitError()
	}

	parts, err := r.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	schema, err := parts.Conn.Schema(ctx)
	if err != nil {
		_ = parts.Conn.Close()
		return nil, failure.Wrap(failure.KindQuery, "load schema", err)
	}

	session := newOrchestrator(uuid.NewString(), tenantID, parts, schema, r.cfg.Pipeline, r.logger, r.clock)

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.SessionLimit {
		r.mu.Unlock()
		_ = parts.Conn.Close()
		return nil, r.limitError()
	}
	r.sessions[session.ID()] = session
	active := len(r.sessions)
	r.mu.Unlock()

	observability.SetActiveSessions(active)
	r.logger.InfoContext(ctx, "session opened",
		slog.String("session_id", session.ID()),
		slog.String("tenant_id", tenantID),
		slog.String("dialect", string(parts.Conn.Dialect())),
		slog.Int("tables", len(schema.Tables)),
	)
	return session, nil
}

// Get returns a session of tenantID. Sessions of other tenants are reported
// as not found.
func (r *Registry) Get(tenantID, id string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.TenantID() != tenantID {
		return nil, failure.NotFound(fmt.Sprintf("session %s not found", id))
	}
	return session, nil
}

func (r *Registry) List(tenantID string) []Snapshot {
	r.mu.Lock()
	owned := make([]*Orchestrator, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.TenantID() == tenantID {
			owned = append(owned, session)
		}
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(owned))
	for _, session := range owned {
		snapshots = append(snapshots, session.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Close removes the session and releases its database handle.
func (r *Registry) Close(tenantID, id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok || session.TenantID() != tenantID {
		r.mu.Unlock()
		return failure.NotFound(fmt.Sprintf("session %s not found", id))
	}
	delete(r.sessions, id)
	active := len(r.sessions)
	r.mu.Unlock()

	observability.SetActiveSessions(active)
	if err := session.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	return nil
}

// Run closes idle sessions every JanitorInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if expired := r.ExpireIdle(ctx); expired > 0 {
				r.logger.InfoContext(ctx, "idle sessions expired", slog.Int("expired", expired))
			}
		}
	}
}

// ExpireIdle closes sessions idle longer than SessionTTL and reports how
// many were removed. Sessions with a running action are skipped.
func (r *Registry) ExpireIdle(ctx context.Context) int {
	cutoff := r.clock().UTC().Add(-r.cfg.SessionTTL)

	r.mu.Lock()
	candidates := make([]*Orchestrator, 0, len(r.sessions))
	for _, session := range r.sessions {
		candidates = append(candidates, session)
	}
	r.mu.Unlock()

	expired := 0
	for _, session := range candidates {
		closed, err := session.closeIfIdle(cutoff)
		if !closed {
			continue
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "close idle session failed", slog.String("session_id", session.ID()), slog.Any("error", err))
		}
		r.mu.Lock()
		delete(r.sessions, session.ID())
		r.mu.Unlock()
		expired++
	}

	if expired > 0 {
		observability.IncrementSessionsExpired(expired)
		observability.SetActiveSessions(r.count())
	}
	return expired
}

// CloseAll releases every session, e.g. at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Orchestrator{}
	r.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			r.logger.Error("close session failed", slog.String("session_id", id), slog.Any("error", err))
		}
	}
	observability.SetActiveSessions(0)
}

func (r *Registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) limitError() error {
	return failure.New(failure.KindLimit, fmt.Sprintf("session limit of %d reached", r.cfg.SessionLimit))
}
