package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
)

type fakeConn struct {
	mu        sync.Mutex
	results   map[string]query.Result
	errs      map[string]error
	schema    query.Schema
	schemaErr error
	executed  []string
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		results: map[string]query.Result{},
		errs:    map[string]error{},
		schema: query.Schema{
			Dialect: query.DialectSQLite,
			Tables:  []query.Table{{Name: "users", Columns: []query.Column{{Name: "id", Type: "INTEGER"}}}},
		},
	}
}

func (f *fakeConn) Dialect() query.Dialect { return query.DialectSQLite }

func (f *fakeConn) Schema(context.Context) (query.Schema, error) {
	return f.schema, f.schemaErr
}

func (f *fakeConn) Execute(_ context.Context, sqlText string) (query.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sqlText)
	if err, ok := f.errs[sqlText]; ok {
		return query.Result{}, failure.Query(err)
	}
	return f.results[sqlText], nil
}

func (f *fakeConn) Check(context.Context, string) error { return nil }

func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingModel struct {
	mu       sync.Mutex
	reply    string
	requests []nl2sql.ChatRequest
}

func (m *recordingModel) Complete(_ context.Context, req nl2sql.ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.reply, nil
}

func (m *recordingModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) GenerateQuery(ctx context.Context, _ nl2sql.GenerateRequest) (string, error) {
	close(g.started)
	select {
	case <-g.release:
		return "SELECT 1", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type failingGenerator struct {
	err error
}

func (g failingGenerator) GenerateQuery(context.Context, nl2sql.GenerateRequest) (string, error) {
	return "", g.err
}

type fakeBuilder struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	setup func(*fakeConn)
}

func (b *fakeBuilder) Build(context.Context, ConnectRequest) (Parts, error) {
	if b.err != nil {
		return Parts{}, b.err
	}
	conn := newFakeConn()
	if b.setup != nil {
		b.setup(conn)
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	return Parts{Conn: conn, Generator: nl2sql.NewLookupGenerator(nil)}, nil
}

var errBoom = errors.New("boom")
