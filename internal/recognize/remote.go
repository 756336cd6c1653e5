package recognize

import (
	"context"
	"errors"
	"fmt"

	"vpsrenew/internal/logging"
	"vpsrenew/internal/phonetic"
	"vpsrenew/internal/vision"
)

// RemoteRecognizer sends the original crop to a multimodal service.
type RemoteRecognizer struct {
	Client     vision.Client
	Translator *phonetic.Translator
}

// NewRemoteRecognizer wraps a vision client.
func NewRemoteRecognizer(c vision.Client) *RemoteRecognizer {
	return &RemoteRecognizer{Client: c, Translator: phonetic.NewTranslator(phonetic.DefaultTable)}
}

// Name is the client's name, or "remote" when no client is set.
func (r *RemoteRecognizer) Name() string {
	if r.Client == nil {
		return "remote"
	}
	return r.Client.Name()
}

func (r *RemoteRecognizer) Tier() Tier     { return TierRemote }
func (r *RemoteRecognizer) FreeText() bool { return true }

// Recognize returns a candidate only when at least SoftFloor digits were read.
// Replies are folded to half-width ASCII and hiragana before anything else is
// stripped, so full-width digits and half-width katakana survive.
func (r *RemoteRecognizer) Recognize(ctx context.Context, ch *Challenge) (*Candidate, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("%s: no client: %w", r.Name(), ErrBackendUnavailable)
	}
	data, err := ch.OriginalPNG()
	if err != nil {
		return nil, err
	}

	raw, err := r.Client.ReadText(ctx, vision.Image{Data: data, MediaType: "image/png"}, vision.ReadingPrompt(ch.HintDigits()))
	if err != nil {
		if errors.Is(err, vision.ErrUnavailable) {
			return nil, fmt.Errorf("%s: %w", r.Name(), ErrBackendUnavailable)
		}
		return nil, err
	}

	tr := r.Translator
	if tr == nil {
		tr = phonetic.NewTranslator(phonetic.DefaultTable)
	}
	kept := phonetic.KeepScript(phonetic.Fold(raw))
	digits := tr.Translate(kept)
	logging.RecognizeDebug("occurrence=%s backend=%s raw=%q digits=%q", ch.ID, r.Name(), raw, digits)
	if len(digits) < SoftFloor {
		return nil, nil
	}
	return &Candidate{Backend: r.Name(), RawText: raw, Digits: digits}, nil
}
