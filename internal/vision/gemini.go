package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"vpsrenew/internal/logging"
)

// GeminiClient reads images through the Gemini API.
type GeminiClient struct {
	apiKey  string
	model   string
	timeout time.Duration

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiClient creates a Gemini client. The underlying genai client is
// built lazily on first use so that a missing key only matters if the
// backend is actually reached.
func NewGeminiClient(apiKey, model string, timeout time.Duration) *GeminiClient {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{apiKey: apiKey, model: model, timeout: timeout}
}

// Name implements Client.
func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.client, g.initErr
}

// ReadText implements Client.
func (g *GeminiClient) ReadText(ctx context.Context, img Image, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("gemini: API key not configured: %w", ErrUnavailable)
	}
	client, err := g.genaiClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create GenAI client: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(img.Data, mediaType),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		if isRateLimitMessage(err.Error()) {
			return "", &RateLimitError{Provider: "gemini", RawResponse: err.Error()}
		}
		logging.VisionError("[Gemini] GenerateContent failed: %v", err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	logging.Vision("[Gemini] ReadText: model=%s completed in %v response_len=%d", g.model, time.Since(start), len(text))
	return text, nil
}
