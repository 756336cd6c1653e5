package main

import (
	"io"

	"vpsrenew/internal/browser"
	"vpsrenew/internal/config"
	"vpsrenew/internal/imaging"
	"vpsrenew/internal/panel"
	"vpsrenew/internal/recognize"
	"vpsrenew/internal/recognize/tesseract"
	"vpsrenew/internal/rendezvous"
	"vpsrenew/internal/renewal"
	"vpsrenew/internal/vision"
)

var _ panel.Driver = (*browser.Driver)(nil)

// newMailbox builds the file rendezvous from config.
func newMailbox(c *config.Config) *rendezvous.FileMailbox {
	mb := rendezvous.NewFileMailbox(c.Rendezvous.Dir)
	if c.Rendezvous.AnswerFile != "" {
		mb.AnswerFile = c.Rendezvous.AnswerFile
	}
	mb.Timeout = c.GetRendezvousTimeout()
	mb.PollInterval = c.GetRendezvousPoll()
	mb.Watch = c.Rendezvous.Watch
	return mb
}

// buildBackends constructs every known backend. Which of them run is decided
// by the capabilities handed to the orchestrator, so building one that is
// not configured costs nothing: remote clients without credentials report
// themselves unavailable.
func buildBackends(c *config.Config, out io.Writer) []recognize.Recognizer {
	local := recognize.NewLocalRecognizer(tesseract.New(c.Recognition.Language, c.Recognition.TessdataDir))
	if c.Recognition.MinConfidence > 0 {
		local.MinConfidence = c.Recognition.MinConfidence
	}

	anthropic := vision.NewAnthropicClient(vision.AnthropicConfig{
		APIKey:     c.Vision.Anthropic.APIKey,
		BaseURL:    c.Vision.Anthropic.BaseURL,
		Model:      c.Vision.Anthropic.Model,
		Timeout:    c.GetAnthropicTimeout(),
		MaxRetries: 3,
	})
	gemini := vision.NewGeminiClient(c.Vision.Gemini.APIKey, c.Vision.Gemini.Model, c.GetGeminiTimeout())
	claudeCLI := vision.NewClaudeCLIClient(c.Vision.ClaudeCLI.Binary, c.Vision.ClaudeCLI.Model, c.GetClaudeCLITimeout())

	mb := newMailbox(c)
	interactive := &recognize.InteractiveRecognizer{
		Mailbox: mb,
		Out:     out,
		ImagePath: func(id string) string {
			img, _ := mb.RequestPaths(id)
			return img
		},
	}

	return []recognize.Recognizer{
		local,
		recognize.NewRemoteRecognizer(anthropic),
		recognize.NewRemoteRecognizer(gemini),
		recognize.NewRemoteRecognizer(claudeCLI),
		interactive,
	}
}

// chainOrder sorts backends into the configured chain order. Backends not
// named in chain keep their relative order after the named ones; the
// orchestrator then enforces the tier order on top.
func chainOrder(backends []recognize.Recognizer, chain []string) []recognize.Recognizer {
	byName := make(map[string]recognize.Recognizer, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	out := make([]recognize.Recognizer, 0, len(backends))
	used := make(map[string]bool)
	for _, name := range chain {
		if b, ok := byName[name]; ok && !used[name] {
			out = append(out, b)
			used[name] = true
		}
	}
	for _, b := range backends {
		if !used[b.Name()] {
			out = append(out, b)
		}
	}
	return out
}

// newOrchestrator wires the cascade for chain (recognition.chain when empty).
func newOrchestrator(c *config.Config, chain []string, out io.Writer) *recognize.Orchestrator {
	if len(chain) == 0 {
		chain = c.Recognition.Chain
	}
	policy := recognize.DefaultPolicy()
	policy.Normalize = imaging.Options{Scale: c.Recognition.Scale}
	backends := chainOrder(buildBackends(c, out), chain)
	return recognize.NewOrchestrator(recognize.NewCapabilities(chain...), policy, backends...)
}

func browserConfig(c *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.Headless = c.Browser.Headless
	bc.DebuggerURL = c.Browser.DebuggerURL
	if c.Browser.ViewportWidth > 0 {
		bc.ViewportWidth = c.Browser.ViewportWidth
	}
	if c.Browser.ViewportHeight > 0 {
		bc.ViewportHeight = c.Browser.ViewportHeight
	}
	bc.ElementTimeout = c.GetElementTimeout()
	bc.SettleWait = c.GetNavigationWait()
	return bc
}

func newPlanner(c *config.Config, clock renewal.Clock) renewal.Planner {
	return renewal.Planner{
		Clock:          clock,
		Location:       c.GetLocation(),
		ThresholdHours: c.Renewal.ThresholdHours,
	}
}
