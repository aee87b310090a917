// Package llm provides the chat-completion client shared by the judge and
// the context patcher. It speaks the OpenRouter chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rail-mind/railmind/internal/httputil"
)

const (
	// DefaultBaseURL is the OpenRouter chat completions endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultModel is a free-tier model suitable for ranking and
	// instruction-translation prompts.
	DefaultModel = "tngtech/deepseek-r1t2-chimera:free"

	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
	defaultTimeout     = 120 * time.Second
)

// ErrNoAPIKey indicates the client has no credentials configured. Callers
// that can degrade (the patcher's keyword fallback) test for it with
// errors.Is.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// Config holds client settings. Zero values fall back to the package
// defaults at call time.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Referer and Title are forwarded as the HTTP-Referer and X-Title
	// headers OpenRouter uses for app attribution.
	Referer string
	Title   string
}

// ConfigFromEnv builds a Config from RAILMIND_LLM_* environment variables,
// falling back to package defaults for anything unset.
func ConfigFromEnv() Config {
	return Config{
		APIKey:      os.Getenv("RAILMIND_LLM_API_KEY"),
		Model:       envString("RAILMIND_LLM_MODEL", DefaultModel),
		BaseURL:     envString("RAILMIND_LLM_BASE_URL", DefaultBaseURL),
		Temperature: envFloat("RAILMIND_LLM_TEMPERATURE", defaultTemperature),
		MaxTokens:   envInt("RAILMIND_LLM_MAX_TOKENS", defaultMaxTokens),
		Timeout:     defaultTimeout,
		Referer:     envString("RAILMIND_LLM_REFERER", "http://localhost"),
		Title:       envString("RAILMIND_LLM_TITLE", "railmind"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// APIError reports a non-2xx response from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return fmt.Sprintf("llm: API responded %d (check RAILMIND_LLM_API_KEY): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("llm: API responded %d: %s", e.StatusCode, e.Body)
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client issues chat completions. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http httputil.HTTPClient
}

// New creates a Client. A nil HTTP client gets a standard client with the
// configured timeout; tests pass httputil.NewMockHTTPClient().
func New(cfg Config, hc httputil.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{Timeout: cfg.Timeout})
	}
	return &Client{cfg: cfg, http: hc}
}

// Configured reports whether the client has credentials to call the API.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Model returns the model name requests are issued for.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends a single-turn user prompt and returns the assistant text.
// The configured timeout bounds the call unless ctx carries an earlier
// deadline.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}})
}

// Chat sends a full message history and returns the assistant text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("llm: chat: %w", ErrNoAPIKey)
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: calling %s: %w", c.cfg.BaseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decoding response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("llm: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm: response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
