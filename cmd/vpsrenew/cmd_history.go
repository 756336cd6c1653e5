package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"vpsrenew/internal/panel"
	"vpsrenew/internal/renewal"
	"vpsrenew/internal/store"
)

var (
	historyLimit    int
	historyAttempts bool
)

// =============================================================================
// HISTORY COMMAND
// =============================================================================

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent renewal runs",
	Long: `Lists recent runs from the local history database, newest first.

Examples:
  vpsrenew history
  vpsrenew history -n 3 --attempts`,
	RunE: runHistory,
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	renewedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runHistory(cmd *cobra.Command, args []string) error {
	h, err := store.OpenHistory(cfg.History.Path)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-14s %-8s %-17s %s", "STARTED", "STATE", "OUTCOME", "EXPIRES", "ERROR")))
	fmt.Println(strings.Repeat("─", 80))
	loc := cfg.GetLocation()
	for _, run := range runs {
		fmt.Println(formatRun(run, loc))
		if !historyAttempts {
			continue
		}
		attempts, err := h.Attempts(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("    %-12s %-14s %-9s %-8s %s", a.Backend, a.Variant, a.Outcome, a.Digits, a.Reason)))
		}
	}
	return nil
}

// formatRun renders one history row; the outcome is colored.
func formatRun(run store.Run, loc *time.Location) string {
	exp := run.Expiration
	if run.NewExpiration != nil {
		exp = run.NewExpiration
	}
	expires := "-"
	if exp != nil {
		expires = exp.In(loc).Format(renewal.ExpirationLayout)
	}
	state := run.State
	if state == "" {
		state = "-"
	}
	outcome := run.Outcome
	if outcome == "" {
		outcome = "running"
	}
	return fmt.Sprintf("%-20s %-14s %s %-17s %s",
		run.StartedAt.In(loc).Format("2006-01-02 15:04:05"),
		state,
		outcomeStyle(outcome).Render(fmt.Sprintf("%-8s", outcome)),
		expires,
		truncate(run.Error, 60))
}

func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case panel.OutcomeRenewed:
		return renewedStyle
	case panel.OutcomeSkipped:
		return skippedStyle
	case panel.OutcomeFailed:
		return failedStyle
	}
	return lipgloss.NewStyle()
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
