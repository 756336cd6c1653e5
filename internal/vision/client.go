// Package vision wraps the remote multimodal services used to read challenge
// images: the Anthropic Messages API, Gemini through genai, and the local
// claude CLI.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable means the client is not configured (no key, no binary).
// Callers treat it as "skip this backend", never as a failure.
var ErrUnavailable = errors.New("vision service unavailable")

// Image is an encoded image sent to a service.
type Image struct {
	Data      []byte
	MediaType string // image/png, image/jpeg
}

// Client reads the text shown in an image.
type Client interface {
	// Name identifies the backend in logs and attempt records.
	Name() string
	// ReadText returns the model's raw answer to prompt about img.
	ReadText(ctx context.Context, img Image, prompt string) (string, error)
}

// RateLimitError indicates the provider returned a rate limit response.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// ReadingPrompt is the instruction sent with the original challenge image.
// hints are partial readings from earlier backends, shown as context only.
func ReadingPrompt(hints []string) string {
	var sb strings.Builder
	sb.WriteString(`この画像は画像認証（CAPTCHA）です。
指示：「画像にひらがなで書かれている6桁の数字を半角数字で入力してください」

画像に表示されている文字を読み取ってください。ひらがな、カタカナ、漢字、英数字が含まれる可能性があります。
ひらがな → 数字変換表：
- ぜろ、れい → 0
- いち、ひと → 1
- に、ふた → 2
- さん、みっ → 3
- よん、よ、し → 4
- ご、いつ → 5
- ろく、むっ → 6
- なな、しち → 7
- はち → 8
- きゅう、く → 9
例：「さんろくきゅうにいちはち」→「369218」
`)
	if len(hints) > 0 {
		sb.WriteString("\n参考（他の認識結果、不完全な可能性あり）: ")
		sb.WriteString(strings.Join(hints, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\n認識した文字のみを出力し、余計な説明は不要です。")
	return sb.String()
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isRateLimitMessage(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}
