// Package browser drives a Chrome page with rod for the panel workflow.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"vpsrenew/internal/imaging"
	"vpsrenew/internal/logging"
)

// ErrNotStarted is returned when a page operation runs before Start.
var ErrNotStarted = errors.New("browser not started")

// Config holds browser configuration.
type Config struct {
	DebuggerURL       string
	Launch            []string // binary followed by extra flags
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	// SettleWait is slept after navigation and clicks so that scripted
	// transitions finish.
	SettleWait time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    900,
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    20 * time.Second,
		SettleWait:        2 * time.Second,
	}
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

func (c Config) elementTimeout() time.Duration {
	if c.ElementTimeout <= 0 {
		return 20 * time.Second
	}
	return c.ElementTimeout
}

// Driver owns one Chrome instance and a single page.
type Driver struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	launched   *launcher.Launcher
}

// New creates a driver; call Start before use.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserDebug("stale browser connection detected, reconnecting")
		_ = d.browser.Close()
		d.browser = nil
		d.page = nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if len(d.cfg.Launch) > 0 {
			l = l.Bin(d.cfg.Launch[0])
			for _, rawFlag := range d.cfg.Launch[1:] {
				name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
				if hasVal {
					l = l.Set(flags.Flag(name), val)
				} else {
					l = l.Set(flags.Flag(name))
				}
			}
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
		d.launched = l
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.viewportWidth(),
		Height:            d.cfg.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("failed to set viewport: %v", err)
	}

	d.browser = browser
	d.page = page
	d.controlURL = controlURL
	logging.Browser("connected to chrome (headless=%v)", d.cfg.Headless)
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (d *Driver) ControlURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.controlURL
}

// Shutdown closes the page and the browser.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.launched != nil {
		d.launched.Cleanup()
		d.launched = nil
	}
	d.controlURL = ""
	return err
}

func (d *Driver) currentPage(ctx context.Context) (*rod.Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.page == nil {
		return nil, ErrNotStarted
	}
	return d.page.Context(ctx), nil
}

func (d *Driver) settle(ctx context.Context) {
	if d.cfg.SettleWait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.SettleWait):
	}
}

// Navigate loads url and waits for the load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	page, err := d.currentPage(ctx)
	if err != nil {
		return err
	}
	logging.BrowserDebug("navigate %s", url)
	p := page.Timeout(d.cfg.navigationTimeout())
	defer p.CancelTimeout()
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	d.settle(ctx)
	return nil
}

// element finds selector (CSS or XPath) within the element timeout.
func (d *Driver) element(ctx context.Context, selector string) (*rod.Element, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	p := page.Timeout(d.cfg.elementTimeout())
	var el *rod.Element
	if xp, ok := XPath(selector); ok {
		el, err = p.ElementX(xp)
	} else {
		el, err = p.Element(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.CancelTimeout(), nil
}

// Exists reports whether selector matches right now, without waiting.
func (d *Driver) Exists(ctx context.Context, selector string) bool {
	page, err := d.currentPage(ctx)
	if err != nil {
		return false
	}
	var has bool
	if xp, ok := XPath(selector); ok {
		has, _, err = page.HasX(xp)
	} else {
		has, _, err = page.Has(selector)
	}
	return err == nil && has
}

// Click clicks an element, falling back to a script click when the element
// is covered or not interactable.
func (d *Driver) Click(ctx context.Context, selector string) error {
	el, err := d.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		logging.BrowserDebug("native click on %q failed (%v), using script click", selector, err)
		if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
			return fmt.Errorf("click %q: %w", selector, err)
		}
	}
	d.settle(ctx)
	return nil
}

// SubmitText replaces the content of an input field.
func (d *Driver) SubmitText(ctx context.Context, fieldSelector, text string) error {
	el, err := d.element(ctx, fieldSelector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		logging.BrowserDebug("select all on %q failed: %v", fieldSelector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %q: %w", fieldSelector, err)
	}
	return nil
}

// CurrentURL returns the page URL.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// BodyText returns the visible text of the document body.
func (d *Driver) BodyText(ctx context.Context) (string, error) {
	el, err := d.element(ctx, "body")
	if err != nil {
		return "", err
	}
	return el.Text()
}

// PageTexts returns the text of every element matched by the hints, then
// the body text as a last candidate.
func (d *Driver) PageTexts(ctx context.Context, selectorHints []string) ([]string, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, hint := range selectorHints {
		var els rod.Elements
		if xp, ok := XPath(hint); ok {
			els, err = page.ElementsX(xp)
		} else {
			els, err = page.Elements(hint)
		}
		if err != nil {
			logging.BrowserDebug("hint %q: %v", hint, err)
			continue
		}
		for _, el := range els {
			if t, err := el.Text(); err == nil && strings.TrimSpace(t) != "" {
				texts = append(texts, strings.TrimSpace(t))
			}
		}
	}
	if body, err := d.BodyText(ctx); err == nil {
		texts = append(texts, body)
	}
	return texts, nil
}

// CaptureRegion screenshots the viewport and returns the bounding box of
// selector in it. A missing element yields an empty box so that the
// normalizer falls back to its default region.
func (d *Driver) CaptureRegion(ctx context.Context, selector string) (imaging.CapturedRegion, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return imaging.CapturedRegion{}, err
	}

	var box imaging.Box
	if el, err := d.element(ctx, selector); err == nil {
		_ = el.ScrollIntoView()
		if shape, err := el.Shape(); err == nil && shape != nil {
			if r := shape.Box(); r != nil {
				box = imaging.Box{X: int(r.X), Y: int(r.Y), Width: int(r.Width), Height: int(r.Height)}
			}
		}
	} else {
		logging.Get(logging.CategoryCapture).Warn("challenge image %q not found, capturing viewport: %v", selector, err)
	}

	frame, err := page.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return imaging.CapturedRegion{}, fmt.Errorf("screenshot: %w", err)
	}
	logging.Get(logging.CategoryCapture).Debug("captured %d bytes, box %+v", len(frame), box)
	return imaging.CapturedRegion{Frame: frame, Box: box}, nil
}

// Screenshot captures the full page.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(true, nil)
}

// Now returns the wall clock.
func (d *Driver) Now() time.Time { return time.Now() }

// XPath reports whether selector is an XPath expression and returns it
// without the optional "xpath:" prefix.
func XPath(selector string) (string, bool) {
	s := strings.TrimSpace(selector)
	if rest, ok := strings.CutPrefix(s, "xpath:"); ok {
		return strings.TrimSpace(rest), true
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(/") {
		return s, true
	}
	return s, false
}
