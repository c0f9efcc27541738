package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"

	"github.com/querypilot/querypilot/internal/secrets"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) add(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Body: string(body)})
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestRunHealthCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"--tenant-id", "tenant-a",
		"health",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/health" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotTenant != "tenant-a" {
		t.Fatalf("headers api_key=%q tenant=%q", gotAPIKey, gotTenant)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunConnectSendsOnlySetFields(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"s1","state":"idle","dialect":"sqlite"}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"connect", "--dialect", "sqlite", "--database", "shop.db", "--mode", "lookup",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	requests := rec.all()
	if len(requests) != 1 || requests[0].Method != http.MethodPost || requests[0].Path != "/v1/sessions" {
		t.Fatalf("requests = %#v", requests)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(requests[0].Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 3 || body["dialect"] != "sqlite" || body["database"] != "shop.db" || body["mode"] != "lookup" {
		t.Fatalf("body = %#v", body)
	}
}

func TestRunAskTranslatesThenRuns(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/sessions/s1/translate":
			_, _ = w.Write([]byte(`{"id":"s1","dialect":"sqlite","state":"awaiting_edit","question":"how many?","sql":"SELECT COUNT(*) AS n FROM t_shirts"}`))
		case "/v1/sessions/s1/run":
			_, _ = w.Write([]byte(`{"id":"s1","dialect":"sqlite","state":"done","question":"how many?","sql":"SELECT COUNT(*) AS n FROM t_shirts","answer":"There are 42 t-shirts.","result":{"columns":["n"],"rows":[[42]],"row_count":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL, "-o", "table",
		"ask", "--show-sql", "s1", "how", "many?",
	}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}

	requests := rec.all()
	if len(requests) != 2 {
		t.Fatalf("requests = %#v", requests)
	}
	if requests[0].Path != "/v1/sessions/s1/translate" || requests[0].Body != `{"question":"how many?"}` {
		t.Fatalf("translate request = %#v", requests[0])
	}
	if requests[1].Path != "/v1/sessions/s1/run" || requests[1].Body != "" {
		t.Fatalf("run request = %#v", requests[1])
	}
	if !strings.Contains(stderr.String(), "sql: SELECT COUNT(*) AS n FROM t_shirts") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"There are 42 t-shirts.", "42", "1 row(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q: %q", want, out)
		}
	}
}

func TestRunWithExplicitSQLAndEdit(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"id":"s1","state":"awaiting_edit"}`))
	}))
	defer srv.Close()

	if code := Run(context.Background(), []string{"--base-url", srv.URL, "edit", "s1", "SELECT", "1"}, Options{}); code != 0 {
		t.Fatalf("edit exit code = %d", code)
	}
	if code := Run(context.Background(), []string{"--base-url", srv.URL, "run", "s1", "SELECT 2"}, Options{}); code != 0 {
		t.Fatalf("run exit code = %d", code)
	}

	requests := rec.all()
	if requests[0].Method != http.MethodPut || requests[0].Path != "/v1/sessions/s1/sql" || requests[0].Body != `{"sql":"SELECT 1"}` {
		t.Fatalf("edit request = %#v", requests[0])
	}
	if requests[1].Method != http.MethodPost || requests[1].Body != `{"sql":"SELECT 2"}` {
		t.Fatalf("run request = %#v", requests[1])
	}
}

func TestRunResultWritesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/s1/result.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("n\n20\n"))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"--base-url", srv.URL, "result", "s1"}, Options{Stdout: &stdout}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout.String() != "n\n20\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunDisconnect(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"--base-url", srv.URL, "disconnect", "s1"}, Options{Stdout: &stdout}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/sessions/s1" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if !strings.Contains(stdout.String(), "session s1 closed") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"ValidationError","message":"only read-only statements are allowed"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "run", "s1", "DROP TABLE t_shirts"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 422") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := [][]string{
		{"unknown"},
		{"translate", "s1"},
		{"-o", "yaml", "health"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		if code := Run(context.Background(), args, Options{Stderr: &stderr}); code != 2 {
			t.Fatalf("args %v exit code = %d", args, code)
		}
		if !strings.Contains(stderr.String(), "querypilotctl") {
			t.Fatalf("args %v stderr missing usage: %q", args, stderr.String())
		}
	}
}

func TestCredentialSetAndDelete(t *testing.T) {
	store := secrets.NewKeyring(keyring.NewArrayKeyring(nil))
	options := Options{
		Stdin:           strings.NewReader("sk-from-stdin\n"),
		OpenCredentials: func() (CredentialStore, error) { return store, nil },
	}

	if code := Run(context.Background(), []string{"credential", "set"}, options); code != 0 {
		t.Fatalf("set exit code = %d", code)
	}
	key, err := store.APIKey(context.Background())
	if err != nil || key != "sk-from-stdin" {
		t.Fatalf("APIKey() = %q, %v", key, err)
	}

	if code := Run(context.Background(), []string{"credential", "delete"}, options); code != 0 {
		t.Fatalf("delete exit code = %d", code)
	}
	if _, err := store.APIKey(context.Background()); err != secrets.ErrNoCredential {
		t.Fatalf("APIKey() after delete error = %v", err)
	}
}

func TestCredentialWithoutStoreFails(t *testing.T) {
	var stderr bytes.Buffer
	if code := Run(context.Background(), []string{"credential", "set", "sk-1"}, Options{Stderr: &stderr}); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "credential store is not configured") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRenderTableFallsBackForLists(t *testing.T) {
	if _, ok := renderTable([]byte(`[{"id":"s1","state":"idle"}]`)); ok {
		t.Fatal("expected list bodies to fall back to JSON")
	}
	out, ok := renderTable([]byte(`{"id":"s1","state":"failed","error":{"kind":"QueryError","message":"no such table"}}`))
	if !ok || !strings.Contains(out, "QueryError: no such table") {
		t.Fatalf("rendered = %q ok=%v", out, ok)
	}
}
