// Package tesseract adapts gosseract to recognize.TextEngine.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"vpsrenew/internal/logging"
	"vpsrenew/internal/recognize"
)

// Engine runs Tesseract in-process. Calls are serialized.
type Engine struct {
	Language    string
	TessdataDir string

	mu sync.Mutex
}

// New returns an engine for lang ("jpn" when empty).
func New(lang, tessdataDir string) *Engine {
	if lang == "" {
		lang = "jpn"
	}
	return &Engine{Language: lang, TessdataDir: tessdataDir}
}

func (e *Engine) Name() string { return "tesseract" }

// ReadFragments returns the recognized words with confidence scaled to [0,1].
func (e *Engine) ReadFragments(ctx context.Context, img image.Image) ([]recognize.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode variant: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if e.TessdataDir != "" {
		if err := client.SetTessdataPrefix(e.TessdataDir); err != nil {
			return nil, fmt.Errorf("tessdata %s: %v: %w", e.TessdataDir, err, recognize.ErrBackendUnavailable)
		}
	}
	if err := client.SetLanguage(e.Language); err != nil {
		return nil, fmt.Errorf("language %s: %v: %w", e.Language, err, recognize.ErrBackendUnavailable)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return nil, fmt.Errorf("page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, classify(err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, classify(err)
	}
	frags := fragmentsFromBoxes(boxes)
	logging.RecognizeDebug("tesseract read %d fragments", len(frags))
	return frags, nil
}

// classify marks initialization failures (missing traineddata) as
// unavailability.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "traineddata") || strings.Contains(msg, "tessdata") || strings.Contains(msg, "failed to initialize") {
		return fmt.Errorf("tesseract: %v: %w", err, recognize.ErrBackendUnavailable)
	}
	return fmt.Errorf("tesseract: %w", err)
}

func fragmentsFromBoxes(boxes []gosseract.BoundingBox) []recognize.Fragment {
	out := make([]recognize.Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		c := b.Confidence / 100
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		out = append(out, recognize.Fragment{Text: text, Confidence: c})
	}
	return out
}
