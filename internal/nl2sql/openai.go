package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/secrets"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o-mini"

	maxErrorBody = 512
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StructuredOutput constrains a completion to a JSON schema.
type StructuredOutput struct {
	Name   string
	Schema map[string]any
}

type ChatRequest struct {
	Messages []Message
	// Output selects structured mode; nil means free-form text.
	Output *StructuredOutput
}

// ChatModel is the language-model backend both pipeline stages call.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Credentials secrets.CredentialProvider
	HTTPClient  *http.Client
}

// OpenAIModel talks to an OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	baseURL     string
	model       string
	temperature float64
	credentials secrets.CredentialProvider
	client      *http.Client
}

var _ ChatModel = (*OpenAIModel)(nil)

func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	credentials := cfg.Credentials
	if credentials == nil {
		credentials = secrets.Static("")
	}
	return &OpenAIModel{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
		credentials: credentials,
		client:      client,
	}
}

func (m *OpenAIModel) Name() string {
	return m.model
}

// Complete resolves the credential before building any request, so a
// missing key never reaches the network.
func (m *OpenAIModel) Complete(ctx context.Context, req ChatRequest) (string, error) {
	apiKey, err := m.credentials.APIKey(ctx)
	if errors.Is(err, secrets.ErrNoCredential) {
		return "", failure.Configuration("model API key is required")
	}
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "resolve model API key", err)
	}

	body, err := json.Marshal(buildChatPayload(m.model, m.temperature, req))
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", failure.Wrap(failure.KindConfiguration, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", failure.Upstream("request chat completion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure.Upstream("read chat response body", err)
	}
	if resp.StatusCode >= 400 {
		return "", failure.Upstream(fmt.Sprintf("chat completion failed status=%d body=%s", resp.StatusCode, truncate(string(rawRespBody), maxErrorBody)), nil)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", failure.Upstream("decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", failure.Upstream("empty chat completion choices", nil)
	}
	if refusal := parsed.Choices[0].Message.Refusal; refusal != "" {
		return "", failure.Upstream("model refused: "+refusal, nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

func buildChatPayload(model string, temperature float64, req ChatRequest) map[string]any {
	payload := map[string]any{
		"model":       model,
		"messages":    req.Messages,
		"temperature": temperature,
	}
	if req.Output != nil {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Output.Name,
				"strict": true,
				"schema": req.Output.Schema,
			},
		}
	}
	return payload
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
