package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vpsrenew/internal/logging"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.anthropic.com/v1",
		Model:      "claude-3-5-sonnet-20241022",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// AnthropicClient calls the Messages API with an image content block.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
	// backoff is the base delay between retries; tests shorten it.
	backoff time.Duration
	// maxRetryWait caps how long a server-sent retry-after is honored.
	maxRetryWait time.Duration
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	def := DefaultAnthropicConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &AnthropicClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		maxRetries:   cfg.MaxRetries,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		backoff:      time.Second,
		maxRetryWait: time.Minute,
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ReadText implements Client.
func (c *AnthropicClient) ReadText(ctx context.Context, img Image, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("anthropic: API key not configured: %w", ErrUnavailable)
	}
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}

	startTime := time.Now()
	logging.VisionDebug("[Anthropic] ReadText: model=%s image_bytes=%d", c.model, len(img.Data))

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1000,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []contentBlock{
				{Type: "text", Text: prompt},
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      base64.StdEncoding.EncodeToString(img.Data),
				}},
			},
		}},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			delay := c.retryDelay(i, lastErr)
			logging.VisionDebug("[Anthropic] ReadText: retry %d/%d in %v", i, c.maxRetries, delay)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, retry, err := c.do(ctx, jsonData)
		if err == nil {
			logging.Vision("[Anthropic] ReadText: completed in %v response_len=%d", time.Since(startTime), len(text))
			return text, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			logging.VisionError("[Anthropic] ReadText: %v", err)
			return "", err
		}
	}

	logging.VisionError("[Anthropic] ReadText: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryDelay is the exponential backoff for attempt, raised to the
// server's retry-after when the last failure was a rate limit.
func (c *AnthropicClient) retryDelay(attempt int, lastErr error) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * c.backoff
	var rle *RateLimitError
	if errors.As(lastErr, &rle) && rle.RetryAfter > delay {
		delay = min(rle.RetryAfter, max(c.maxRetryWait, delay))
	}
	return delay
}

// do performs one request. retry reports whether the failure is transient.
func (c *AnthropicClient) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rle := &RateLimitError{Provider: "anthropic", RawResponse: truncateString(string(data), 500)}
		if secs, err := strconv.Atoi(resp.Header.Get("retry-after")); err == nil {
			rle.RetryAfter = time.Duration(secs) * time.Second
		}
		return "", true, rle
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateString(string(data), 500))
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateString(string(data), 500))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	var result strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			result.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(result.String()), false, nil
}
