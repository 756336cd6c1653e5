package recognize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"vpsrenew/internal/logging"
	"vpsrenew/internal/phonetic"
)

// DefaultMinConfidence is the fragment confidence a local reading must beat.
const DefaultMinConfidence = 0.2

// Fragment is one word read by a TextEngine, confidence in [0,1].
type Fragment struct {
	Text       string
	Confidence float64
}

// TextEngine is an OCR engine. ReadFragments returns ErrBackendUnavailable
// when the engine or its language data is missing.
type TextEngine interface {
	Name() string
	ReadFragments(ctx context.Context, img image.Image) ([]Fragment, error)
}

// LocalRecognizer runs a TextEngine over every binarized variant.
type LocalRecognizer struct {
	Engine        TextEngine
	MinConfidence float64
	Translator    *phonetic.Translator
}

// NewLocalRecognizer wraps engine with the default floor and table.
func NewLocalRecognizer(engine TextEngine) *LocalRecognizer {
	return &LocalRecognizer{
		Engine:        engine,
		MinConfidence: DefaultMinConfidence,
		Translator:    phonetic.NewTranslator(phonetic.DefaultTable),
	}
}

func (l *LocalRecognizer) Name() string   { return "local" }
func (l *LocalRecognizer) Tier() Tier     { return TierLocal }
func (l *LocalRecognizer) FreeText() bool { return false }

// Recognize keeps the variant whose translation has the most digits; the
// first variant wins ties.
func (l *LocalRecognizer) Recognize(ctx context.Context, ch *Challenge) (*Candidate, error) {
	if l.Engine == nil {
		return nil, ErrBackendUnavailable
	}
	tr := l.Translator
	if tr == nil {
		tr = phonetic.NewTranslator(phonetic.DefaultTable)
	}

	var best *Candidate
	var lastErr error
	for _, v := range ch.Variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frags, err := l.Engine.ReadFragments(ctx, v.Image)
		if err != nil {
			if errors.Is(err, ErrBackendUnavailable) {
				return nil, err
			}
			logging.Get(logging.CategoryRecognize).Warn("occurrence=%s backend=local variant=%s reason=%v", ch.ID, v.Method, err)
			lastErr = err
			continue
		}

		raw, conf := l.join(frags)
		digits := tr.Translate(raw)
		logging.RecognizeDebug("occurrence=%s backend=local variant=%s raw=%q digits=%q", ch.ID, v.Method, raw, digits)
		if digits == "" {
			continue
		}
		if best == nil || len(digits) > len(best.Digits) {
			c := conf
			best = &Candidate{
				Backend:    l.Name(),
				Variant:    v.Method,
				RawText:    raw,
				Confidence: &c,
				Digits:     digits,
			}
		}
	}

	if best == nil && lastErr != nil {
		return nil, fmt.Errorf("%s engine failed on every variant: %w", l.Engine.Name(), lastErr)
	}
	return best, nil
}

// join concatenates fragments above the floor and returns their mean
// confidence.
func (l *LocalRecognizer) join(frags []Fragment) (string, float64) {
	var sb strings.Builder
	var sum float64
	var n int
	for _, f := range frags {
		if f.Confidence <= l.MinConfidence {
			continue
		}
		sb.WriteString(strings.TrimSpace(f.Text))
		sum += f.Confidence
		n++
	}
	if n == 0 {
		return "", 0
	}
	return sb.String(), sum / float64(n)
}
