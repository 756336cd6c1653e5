// Package recognize turns a normalized challenge into a six-digit answer.
//
// Backends implement Recognizer and are tried in tier order by the
// Orchestrator: local OCR first, then remote vision services, then a human
// through the rendezvous mailbox. Only an exact six-digit reading is ever
// accepted. Free-text backends may also produce shorter partial readings,
// which are passed to later backends as hints and never submitted.
package recognize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"vpsrenew/internal/imaging"
)

// Acceptance constants.
const (
	CodeLength = 6
	SoftFloor  = 3
)

// ErrBackendUnavailable means the backend cannot run in this environment
// (missing engine, key or binary). The orchestrator skips it without
// counting an attempt.
var ErrBackendUnavailable = errors.New("recognition backend unavailable")

// Tier orders backends by cost. Lower tiers always run first.
type Tier int

const (
	TierLocal Tier = iota
	TierRemote
	TierInteractive
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierRemote:
		return "remote"
	case TierInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Hint is a partial reading from an earlier backend.
type Hint struct {
	Backend string
	Digits  string
}

// Challenge is one captcha occurrence as seen by the backends.
type Challenge struct {
	ID       string
	Box      imaging.Box
	Variants []imaging.Variant
	// Original is the unprocessed crop; free-text backends read this one.
	Original    image.Image
	Substituted bool
	Hints       []Hint
}

// HintDigits returns the hint readings in arrival order.
func (c *Challenge) HintDigits() []string {
	out := make([]string, 0, len(c.Hints))
	for _, h := range c.Hints {
		out = append(out, h.Digits)
	}
	return out
}

// OriginalPNG encodes the original crop.
func (c *Challenge) OriginalPNG() ([]byte, error) {
	if c.Original == nil {
		return nil, errors.New("challenge has no original image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.Original); err != nil {
		return nil, fmt.Errorf("failed to encode original image: %w", err)
	}
	return buf.Bytes(), nil
}

// Candidate is what a backend read.
type Candidate struct {
	Backend    string
	Variant    string // method id, empty for backends that read the original
	RawText    string
	Confidence *float64
	Digits     string
}

// Recognizer is one backend of the cascade.
type Recognizer interface {
	Name() string
	Tier() Tier
	// FreeText reports whether the backend reads arbitrary text, which makes
	// its partial readings usable as hints.
	FreeText() bool
	// Recognize returns (nil, nil) when nothing recognizable was found.
	Recognize(ctx context.Context, ch *Challenge) (*Candidate, error)
}

// RejectedError records a reading that did not satisfy the acceptance rule.
type RejectedError struct {
	Backend string
	Variant string
	Digits  string
	Reason  string
}

func (e *RejectedError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("%s/%s: rejected %q: %s", e.Backend, e.Variant, e.Digits, e.Reason)
	}
	return fmt.Sprintf("%s: rejected %q: %s", e.Backend, e.Digits, e.Reason)
}

// Outcome of a single attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomePartial  Outcome = "partial"
	OutcomeRejected Outcome = "rejected"
	OutcomeEmpty    Outcome = "empty"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
)

// Attempt is one row of the failure report.
type Attempt struct {
	Backend string
	Variant string
	Outcome Outcome
	Digits  string
	Reason  string
}

// ChallengeFailure is returned when no backend produced an acceptable code.
type ChallengeFailure struct {
	Occurrence  string
	Attempts    []Attempt
	BestPartial string
	// Cause is set when the chain stopped on a terminal error.
	Cause error
}

func (e *ChallengeFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "challenge %s not solved after %d attempts", e.Occurrence, len(e.Attempts))
	if e.BestPartial != "" {
		fmt.Fprintf(&sb, " (best partial %q)", e.BestPartial)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *ChallengeFailure) Unwrap() error { return e.Cause }

// Capabilities is the immutable set of backends allowed to run.
type Capabilities struct {
	names map[string]struct{}
}

// NewCapabilities builds a descriptor from backend names.
func NewCapabilities(names ...string) Capabilities {
	c := Capabilities{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		c.names[strings.TrimSpace(n)] = struct{}{}
	}
	return c
}

// Has reports whether name is enabled.
func (c Capabilities) Has(name string) bool {
	_, ok := c.names[name]
	return ok
}

// Names returns the enabled backends, unordered.
func (c Capabilities) Names() []string {
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	return out
}
