package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/signal-relay/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client. Requests carry no
// client-side timeout; callers bound each call with their context.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// ollamaChatResponse is the wire format of a non-streaming /api/chat reply.
type ollamaChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// Chat sends a non-streaming chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	var wire ollamaChatResponse
	if err := c.postJSON(ctx, "/api/chat", req, &wire); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Model:         wire.Model,
		Message:       wire.Message,
		Done:          wire.Done,
		InputTokens:   wire.PromptEvalCount,
		OutputTokens:  wire.EvalCount,
		TotalDuration: time.Duration(wire.TotalDuration),
		LoadDuration:  time.Duration(wire.LoadDuration),
		EvalDuration:  time.Duration(wire.EvalDuration),
	}, nil
}

// Pull downloads a model. The non-streaming endpoint replies once the
// pull has finished; a failed pull may still answer 200 with an
// "error" field.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	req := map[string]any{
		"model":  model,
		"stream": false,
	}

	var result struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.postJSON(ctx, "/api/pull", req, &result); err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	if result.Error != "" {
		return fmt.Errorf("pull %s: %w", model, &APIError{StatusCode: http.StatusOK, Message: result.Error})
	}
	if result.Status != "success" {
		return fmt.Errorf("pull %s: unexpected status %q", model, result.Status)
	}
	return nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 64*1024)
	return nil
}

// ListModels returns installed model identifiers.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

func (c *OllamaClient) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return resp, nil
}

func (c *OllamaClient) postJSON(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "path", path, "body", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama response", "path", path, "status", resp.StatusCode)
	return nil
}

// apiError consumes resp.Body and builds an *APIError, preferring the
// JSON "error" field Ollama uses for failures.
func apiError(resp *http.Response) error {
	raw := httpkit.ReadErrorBody(resp.Body, 4096)
	msg := strings.TrimSpace(raw)

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
