package querypilotctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

// CredentialStore persists the model API key used by the server when a
// connect request carries none.
type CredentialStore interface {
	SetAPIKey(key string) error
	DeleteAPIKey() error
}

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader

	OpenCredentials func() (CredentialStore, error)
}

// exitError marks failures that happened after the command line parsed.
type exitError struct {
	err error
}

func (e exitError) Error() string { return e.err.Error() }

func (e exitError) Unwrap() error { return e.err }

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if defaults.Stdin != nil {
		root.SetIn(defaults.Stdin)
	}

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var failed exitError
	if errors.As(err, &failed) {
		_, _ = fmt.Fprintln(stderr, failed.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

type runner struct {
	defaults Options
	baseURL  string
	apiKey   string
	tenantID string
	timeout  time.Duration
	output   string
}

func newRootCommand(defaults Options) *cobra.Command {
	r := &runner{defaults: defaults}

	root := &cobra.Command{
		Use:           "querypilotctl",
		Short:         "Ask questions about a SQL database through the querypilot API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch r.output {
			case outputJSON, outputTable:
				return nil
			default:
				return fmt.Errorf("unsupported output %q (supported: json, table)", r.output)
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&r.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querypilot API base URL")
	flags.StringVar(&r.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.StringVar(&r.tenantID, "tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	flags.DurationVar(&r.timeout, "timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")
	flags.StringVarP(&r.output, "output", "o", outputJSON, "output format: json or table")

	root.AddCommand(
		r.simpleCommand("health", "Check API liveness", http.MethodGet, "/v1/health"),
		r.simpleCommand("ready", "Check API readiness", http.MethodGet, "/v1/ready"),
		r.simpleCommand("sessions", "List open sessions", http.MethodGet, "/v1/sessions"),
		r.connectCommand(),
		r.sessionCommand("show", "Show a session", http.MethodGet, ""),
		r.sessionCommand("schema", "Show the schema summary of a session", http.MethodGet, "/schema"),
		r.sessionCommand("disconnect", "Close a session", http.MethodDelete, ""),
		r.sessionCommand("export", "Export the last result to object storage", http.MethodPost, "/export"),
		r.sessionCommand("exports", "List exported results of a session", http.MethodGet, "/exports"),
		r.resultCommand(),
		r.translateCommand(),
		r.editCommand(),
		r.runCommand(),
		r.askCommand(),
		r.credentialCommand(),
	)
	return root
}

func (r *runner) simpleCommand(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().do(cmd.Context(), method, path, nil)
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
}

func (r *runner) sessionCommand(use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().do(cmd.Context(), method, sessionPath(args[0])+suffix, nil)
			if err != nil {
				return exitError{err: err}
			}
			if method == http.MethodDelete {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s closed\n", args[0])
				return nil
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
}

func (r *runner) connectCommand() *cobra.Command {
	var req struct {
		Dialect  string `json:"dialect,omitempty"`
		DSN      string `json:"dsn,omitempty"`
		Host     string `json:"host,omitempty"`
		Port     int    `json:"port,omitempty"`
		Database string `json:"database,omitempty"`
		User     string `json:"user,omitempty"`
		Password string `json:"password,omitempty"`
		SSLMode  string `json:"sslmode,omitempty"`
		APIKey   string `json:"api_key,omitempty"`
		Mode     string `json:"mode,omitempty"`
	}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a session against a database",
		Long: `Open a session against a database. Without flags the server's default
target is used. Supported dialects: postgresql, mysql, sqlite, duckdb.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().do(cmd.Context(), http.MethodPost, "/v1/sessions", req)
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Dialect, "dialect", "", "database dialect")
	flags.StringVar(&req.DSN, "dsn", "", "full data source name")
	flags.StringVar(&req.Host, "host", "", "database host")
	flags.IntVar(&req.Port, "port", 0, "database port")
	flags.StringVar(&req.Database, "database", "", "database name or file path")
	flags.StringVar(&req.User, "user", "", "database user")
	flags.StringVar(&req.Password, "password", "", "database password")
	flags.StringVar(&req.SSLMode, "sslmode", "", "postgres sslmode")
	flags.StringVar(&req.APIKey, "model-key", "", "model API key for this session")
	flags.StringVar(&req.Mode, "mode", "", "generation mode: llm or lookup")
	return cmd
}

func (r *runner) translateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <session-id> <question>",
		Short: "Translate a question into SQL",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.translate(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
}

func (r *runner) editCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <session-id> <sql>",
		Short: "Replace the pending SQL of a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{"sql": strings.Join(args[1:], " ")}
			body, err := r.client().do(cmd.Context(), http.MethodPut, sessionPath(args[0])+"/sql", payload)
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
}

func (r *runner) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <session-id> [sql]",
		Short: "Execute the pending SQL, or the given SQL, and synthesize an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.run(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
}

func (r *runner) askCommand() *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "ask <session-id> <question>",
		Short: "Translate a question and run the generated SQL",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			translated, err := r.translate(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return exitError{err: err}
			}
			if showSQL {
				var snap sessionView
				if err := json.Unmarshal(translated, &snap); err == nil && snap.SQL != "" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "sql: %s\n", snap.SQL)
				}
			}
			body, err := r.run(cmd.Context(), args[0], "")
			if err != nil {
				return exitError{err: err}
			}
			return r.print(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the generated SQL to stderr before running it")
	return cmd
}

func (r *runner) resultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "result <session-id>",
		Short: "Download the last result as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.client().do(cmd.Context(), http.MethodGet, sessionPath(args[0])+"/result.csv", nil)
			if err != nil {
				return exitError{err: err}
			}
			_, _ = cmd.OutOrStdout().Write(body)
			return nil
		},
	}
}

func (r *runner) credentialCommand() *cobra.Command {
	credential := &cobra.Command{
		Use:   "credential",
		Short: "Manage the model API key in the local keyring",
	}
	credential.AddCommand(&cobra.Command{
		Use:   "set [api-key]",
		Short: "Store the model API key (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			} else {
				key = r.readLine(cmd.InOrStdin())
			}
			if key == "" {
				return exitError{err: errors.New("api key is required")}
			}
			store, err := r.credentials()
			if err != nil {
				return exitError{err: err}
			}
			if err := store.SetAPIKey(key); err != nil {
				return exitError{err: err}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "api key stored")
			return nil
		},
	}, &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored model API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := r.credentials()
			if err != nil {
				return exitError{err: err}
			}
			if err := store.DeleteAPIKey(); err != nil {
				return exitError{err: err}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "api key removed")
			return nil
		},
	})
	return credential
}

func (r *runner) translate(ctx context.Context, sessionID, question string) ([]byte, error) {
	payload := map[string]string{"question": question}
	return r.client().do(ctx, http.MethodPost, sessionPath(sessionID)+"/translate", payload)
}

func (r *runner) run(ctx context.Context, sessionID, sqlText string) ([]byte, error) {
	var payload any
	if strings.TrimSpace(sqlText) != "" {
		payload = map[string]string{"sql": sqlText}
	}
	return r.client().do(ctx, http.MethodPost, sessionPath(sessionID)+"/run", payload)
}

func (r *runner) credentials() (CredentialStore, error) {
	if r.defaults.OpenCredentials == nil {
		return nil, errors.New("credential store is not configured")
	}
	return r.defaults.OpenCredentials()
}

func (r *runner) readLine(in io.Reader) string {
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}

func (r *runner) client() *apiClient {
	httpClient := r.defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: r.timeout}
	}
	return &apiClient{
		baseURL:  strings.TrimRight(r.baseURL, "/"),
		apiKey:   strings.TrimSpace(r.apiKey),
		tenantID: strings.TrimSpace(r.tenantID),
		http:     httpClient,
	}
}

func (r *runner) print(w io.Writer, body []byte) error {
	if r.output == outputTable {
		if rendered, ok := renderTable(body); ok {
			_, _ = fmt.Fprint(w, rendered)
			return nil
		}
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(w, string(body))
	}
	return nil
}

type apiClient struct {
	baseURL  string
	apiKey   string
	tenantID string
	http     *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return responseBody, nil
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(strings.TrimSpace(id))
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
