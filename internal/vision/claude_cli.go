package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vpsrenew/internal/logging"
)

// ClaudeCLIClient runs `claude -p` as a subprocess. The image is saved to a
// temporary file and the prompt asks the CLI to read it.
type ClaudeCLIClient struct {
	binary  string
	model   string
	timeout time.Duration
}

// NewClaudeCLIClient creates a CLI client. An empty binary means "claude" on
// PATH; an empty model lets the CLI choose.
func NewClaudeCLIClient(binary, model string, timeout time.Duration) *ClaudeCLIClient {
	if binary == "" {
		binary = "claude"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ClaudeCLIClient{binary: binary, model: model, timeout: timeout}
}

// Name implements Client.
func (c *ClaudeCLIClient) Name() string { return "claude-cli" }

// Available reports whether the binary can be found.
func (c *ClaudeCLIClient) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// claudeCLIResponse is the JSON printed by `claude --output-format json`.
// Depending on the CLI version "result" is a plain string or an object with
// content blocks.
type claudeCLIResponse struct {
	Result  json.RawMessage `json:"result"`
	IsError bool            `json:"is_error,omitempty"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	IsRateLimited bool `json:"is_rate_limited,omitempty"`
}

// ReadText implements Client.
func (c *ClaudeCLIClient) ReadText(ctx context.Context, img Image, prompt string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("claude CLI %q not found: %w", c.binary, ErrUnavailable)
	}

	dir, err := os.MkdirTemp("", "vpsrenew-claude-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := ".png"
	if img.MediaType == "image/jpeg" {
		ext = ".jpg"
	}
	imgPath := filepath.Join(dir, "challenge"+ext)
	if err := os.WriteFile(imgPath, img.Data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write image for claude CLI: %w", err)
	}

	full := fmt.Sprintf("画像ファイル: %s\n\n%s", imgPath, prompt)
	return c.executeCLI(ctx, dir, full)
}

func (c *ClaudeCLIClient) executeCLI(ctx context.Context, dir, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--allowedTools", "Read",
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("claude CLI timed out after %v: %w", c.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("claude CLI execution canceled: %w", ctx.Err())
		}
		stderrStr := stderr.String()
		if isRateLimitMessage(stderrStr) {
			return "", &RateLimitError{Provider: "claude-cli", RawResponse: stderrStr}
		}
		return "", fmt.Errorf("claude CLI execution failed: %w (stderr: %s)", err, truncateString(stderrStr, 500))
	}

	text, err := parseCLIResponse(stdout.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to parse claude CLI response: %w", err)
	}
	logging.Vision("[ClaudeCLI] completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

func parseCLIResponse(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", errors.New("empty response from claude CLI")
	}

	var resp claudeCLIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON response: %w (raw: %s)", err, truncateString(string(data), 500))
	}
	if resp.IsRateLimited {
		return "", &RateLimitError{Provider: "claude-cli", RawResponse: string(data)}
	}
	if resp.Error != nil {
		if isRateLimitMessage(resp.Error.Message) || isRateLimitMessage(resp.Error.Type) {
			return "", &RateLimitError{Provider: "claude-cli", RawResponse: resp.Error.Message}
		}
		return "", fmt.Errorf("claude CLI error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}

	var text string
	var asString string
	if err := json.Unmarshal(resp.Result, &asString); err == nil {
		text = asString
	} else {
		var asObject struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(resp.Result, &asObject); err != nil {
			return "", fmt.Errorf("unexpected result shape: %s", truncateString(string(resp.Result), 200))
		}
		var sb strings.Builder
		for _, block := range asObject.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text = sb.String()
	}

	if resp.IsError {
		return "", fmt.Errorf("claude CLI reported an error: %s", truncateString(text, 200))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("no text content in claude CLI response")
	}
	return text, nil
}
