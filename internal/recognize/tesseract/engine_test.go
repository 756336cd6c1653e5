package tesseract

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/otiai10/gosseract/v2"

	"vpsrenew/internal/recognize"
)

func TestFragmentsFromBoxes(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Word: "さん", Confidence: 91},
		{Word: "  ", Confidence: 99},
		{Word: " ろく ", Confidence: 15},
		{Word: "x", Confidence: 140},
	}
	want := []recognize.Fragment{
		{Text: "さん", Confidence: 0.91},
		{Text: "ろく", Confidence: 0.15},
		{Text: "x", Confidence: 1},
	}
	if diff := cmp.Diff(want, fragmentsFromBoxes(boxes)); diff != "" {
		t.Errorf("fragmentsFromBoxes mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("Failed loading language 'jpn': jpn.traineddata not found"))
	if !errors.Is(err, recognize.ErrBackendUnavailable) {
		t.Errorf("missing traineddata should be unavailable, got %v", err)
	}
	err = classify(errors.New("image too small"))
	if errors.Is(err, recognize.ErrBackendUnavailable) {
		t.Errorf("ordinary failure classified as unavailable: %v", err)
	}
}

func TestNewDefaultsLanguage(t *testing.T) {
	e := New("", "")
	if e.Language != "jpn" {
		t.Errorf("Language = %q, want jpn", e.Language)
	}
	var _ recognize.TextEngine = e
}
