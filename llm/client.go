// Package llm provides the model-invocation capability for semflow: given a
// model record and a fully-interpolated prompt, it returns the generated
// content with token counts and latency. Transient provider failures are
// retried with exponential backoff; repeated failures trip a per-model
// circuit breaker so fallback models get tried instead.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/c360studio/semflow/model"
)

// maxResponseSize limits the response body read to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Invocation is the result of a single model call.
type Invocation struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the provider-side model identifier that answered.
	Model string `json:"model"`

	// InputTokens and OutputTokens are the reported token counts.
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Latency is the wall-clock duration of the successful attempt.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`
}

// RetryConfig holds retry behavior for transient provider errors.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per model.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Client invokes models through registered providers. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
	health      *healthState
	temperature *float64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTemperature sets an explicit sampling temperature for all requests.
func WithTemperature(t float64) ClientOption {
	return func(client *Client) {
		client.temperature = &t
	}
}

// WithHealthConfig overrides the circuit breaker configuration.
func WithHealthConfig(cfg HealthConfig) ClientOption {
	return func(client *Client) {
		client.health = newHealthState(cfg)
	}
}

// NewClient creates an invocation client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for long completions
		},
		logger: slog.Default(),
		health: newHealthState(DefaultHealthConfig()),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Invoke sends the prompt to the given model and returns the completion.
// The caller's context bounds the whole call, including retries; per-step
// timeouts are enforced by passing a deadline context.
//
// Transient failures are retried with exponential backoff and jitter. When a
// model's circuit is open, Invoke fails fast with ErrCircuitOpen so the caller
// can move on to a fallback model.
func (c *Client) Invoke(ctx context.Context, m *model.Info, prompt string) (*Invocation, error) {
	if m == nil {
		return nil, NewFatalError(fmt.Errorf("model is required"))
	}
	if prompt == "" {
		return nil, NewFatalError(fmt.Errorf("prompt is required"))
	}

	if !c.health.available(m.ID) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, m.ID)
	}

	messages := []Message{{Role: "user", Content: prompt}}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		start := time.Now()
		inv, err := c.doRequest(ctx, m, messages)
		if err == nil {
			inv.Latency = time.Since(start)
			c.health.markSuccess(m.ID)
			return inv, nil
		}

		lastErr = err

		// Fatal errors indicate auth or request problems, not endpoint
		// health; fail without retrying or tripping the breaker.
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.backoff(attempt)
			c.logger.Debug("invocation failed, retrying",
				"model", m.ID,
				"attempt", attempt,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.health.markFailure(m.ID)
	return nil, fmt.Errorf("model %s failed after %d attempts: %w", m.ID, c.retryConfig.MaxAttempts, lastErr)
}

// backoff computes the exponential backoff with +/-25% jitter to avoid
// synchronized retries.
func (c *Client) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request against the model's provider.
func (c *Client) doRequest(ctx context.Context, m *model.Info, messages []Message) (*Invocation, error) {
	provider := GetProvider(m.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", m.Provider))
	}

	url := provider.BuildURL(m.Endpoint)

	body, err := provider.BuildRequestBody(m.Model, messages, c.temperature, m.MaxOutputTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("sending invocation",
		"provider", m.Provider,
		"model", m.Model,
		"url", url)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, m.Model)
}

// classifyHTTPError determines whether an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("provider error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
