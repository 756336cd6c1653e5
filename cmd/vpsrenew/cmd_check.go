package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vpsrenew/internal/browser"
	"vpsrenew/internal/panel"
	"vpsrenew/internal/renewal"
)

var (
	checkTexts []string
	checkHTML  string
)

// =============================================================================
// CHECK COMMAND
// =============================================================================

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the renewal decision without renewing",
	Long: `Parses the expiration and prints the scheduling decision.

The expiration is read from --text fragments, from a saved server
detail page (--html), or, when neither is given, from the live panel
(login plus detail page, nothing is clicked).

Examples:
  vpsrenew check --text "利用期限 2025-03-01 12:00"
  vpsrenew check --html detail.html
  vpsrenew check`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	planner := newPlanner(cfg, nil)

	var d renewal.Decision
	switch {
	case len(checkTexts) > 0:
		d = planner.DecideRenewal(checkTexts)
	case checkHTML != "":
		f, err := os.Open(checkHTML)
		if err != nil {
			return fmt.Errorf("failed to open page: %w", err)
		}
		defer f.Close()
		texts, err := panel.TextsFromHTML(f)
		if err != nil {
			return err
		}
		d = planner.DecideRenewal(texts)
	default:
		if err := cfg.ValidateCredentials(); err != nil {
			return err
		}
		drv := browser.New(browserConfig(cfg))
		if err := drv.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		defer drv.Shutdown()

		planner.Clock = drv
		wf := &panel.Workflow{Driver: drv, Panel: cfg.Panel, Planner: planner, DryRun: true}
		rep, err := wf.Run(cmd.Context())
		if err != nil {
			return err
		}
		d = rep.Decision
	}

	fmt.Println(strings.Repeat("─", 50))
	fmt.Print(formatDecision(d))
	fmt.Println(strings.Repeat("─", 50))
	return nil
}

// formatDecision renders a decision as aligned key/value lines.
func formatDecision(d renewal.Decision) string {
	var sb strings.Builder
	stamp := func(t *time.Time) string {
		if t == nil {
			return "unknown"
		}
		return t.Format(renewal.ExpirationLayout)
	}
	fmt.Fprintf(&sb, "State:       %s\n", d.State)
	fmt.Fprintf(&sb, "Attempt:     %v\n", d.Attempt)
	fmt.Fprintf(&sb, "Reason:      %s\n", d.Reason)
	fmt.Fprintf(&sb, "Expiration:  %s\n", stamp(d.Expiration))
	if d.NextCheck != nil {
		fmt.Fprintf(&sb, "Next check:  %s\n", stamp(d.NextCheck))
	}
	if d.EligibleFrom != nil {
		fmt.Fprintf(&sb, "Eligible:    %s\n", stamp(d.EligibleFrom))
	}
	if d.ExpectedExpiration != nil {
		fmt.Fprintf(&sb, "After renew: %s\n", stamp(d.ExpectedExpiration))
	}
	return sb.String()
}
