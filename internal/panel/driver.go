// Package panel runs the renewal workflow against the provider control
// panel: log in, read the expiration, decide, and walk the renewal form
// including its image challenge.
package panel

import (
	"context"
	"time"

	"vpsrenew/internal/imaging"
)

// SessionDriver is the narrow page interface the challenge and scheduling
// code depends on.
type SessionDriver interface {
	CaptureRegion(ctx context.Context, selector string) (imaging.CapturedRegion, error)
	PageTexts(ctx context.Context, selectorHints []string) ([]string, error)
	SubmitText(ctx context.Context, fieldSelector, text string) error
	Now() time.Time
}

// Driver is everything the workflow needs from a browser.
// *browser.Driver implements it.
type Driver interface {
	SessionDriver
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) bool
	CurrentURL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Solver turns a captured challenge into a code. *recognize.Orchestrator
// implements it.
type Solver interface {
	Resolve(ctx context.Context, region imaging.CapturedRegion) (string, error)
}
