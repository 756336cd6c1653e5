package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vpsrenew/internal/artifacts"
	"vpsrenew/internal/browser"
	"vpsrenew/internal/panel"
	"vpsrenew/internal/recognize"
	"vpsrenew/internal/renewal"
	"vpsrenew/internal/store"
)

var (
	forceRenew bool
	dryRun     bool
)

// =============================================================================
// RUN COMMAND
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check the expiration and renew when due",
	Long: `Logs into the control panel, reads the expiration of the configured
server and renews it when the renewal window is open.

The image challenge is solved by the recognition chain. When every
automatic backend fails, the challenge is written to the rendezvous
directory and the run waits for 'vpsrenew answer'.

Examples:
  vpsrenew run
  vpsrenew run --dry-run
  vpsrenew run --force -v`,
	RunE: runRenewal,
}

func runRenewal(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	sink, err := artifacts.New(cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to open artifact sink: %w", err)
	}

	var history *store.History
	if cfg.History.Enabled {
		history, err = store.OpenHistory(cfg.History.Path)
		if err != nil {
			logger.Warn("Run history disabled", zap.Error(err))
		} else {
			defer history.Close()
		}
	}

	drv := browser.New(browserConfig(cfg))
	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer drv.Shutdown()

	orch := newOrchestrator(cfg, nil, os.Stdout)
	orch.Artifacts = sink

	recorder := newRunRecorder(history)
	orch.Observer = recorder.observe
	recorder.start(ctx)

	wf := &panel.Workflow{
		RunID:     recorder.run.ID,
		Driver:    drv,
		Panel:     cfg.Panel,
		Planner:   newPlanner(cfg, drv),
		Solver:    orch,
		Artifacts: sink,
		Force:     forceRenew,
		DryRun:    dryRun,
	}

	logger.Info("Starting renewal run",
		zap.String("server", cfg.Panel.ServerID),
		zap.Strings("chain", orch.Backends()),
		zap.Bool("force", forceRenew),
		zap.Bool("dry_run", dryRun))

	rep, runErr := wf.Run(ctx)
	recorder.finish(context.Background(), rep, runErr)

	printReport(rep, runErr)
	return runErr
}

// runRecorder mirrors a run and its challenge attempts into the history
// store. A nil history makes every method a no-op.
type runRecorder struct {
	history *store.History
	run     store.Run
	pending []store.ChallengeRecord
}

func newRunRecorder(h *store.History) *runRecorder {
	return &runRecorder{history: h}
}

func (r *runRecorder) start(ctx context.Context) {
	r.run = store.Run{ID: uuid.NewString(), StartedAt: time.Now()}
	if r.history == nil {
		return
	}
	if err := r.history.StartRun(ctx, r.run); err != nil {
		logger.Warn("Failed to record run start", zap.Error(err))
	}
}

func (r *runRecorder) observe(occurrence string, a recognize.Attempt) {
	r.pending = append(r.pending, store.ChallengeRecord{
		RunID:      r.run.ID,
		Occurrence: occurrence,
		Backend:    a.Backend,
		Variant:    a.Variant,
		Outcome:    string(a.Outcome),
		Digits:     a.Digits,
		Reason:     a.Reason,
		CreatedAt:  time.Now(),
	})
}

func (r *runRecorder) finish(ctx context.Context, rep *panel.Report, runErr error) {
	fillRun(&r.run, rep, runErr)
	if r.history == nil {
		return
	}
	if err := r.history.RecordAttempts(ctx, r.pending); err != nil {
		logger.Warn("Failed to record challenge attempts", zap.Error(err))
	}
	if err := r.history.FinishRun(ctx, r.run); err != nil {
		logger.Warn("Failed to record run result", zap.Error(err))
	}
}

// fillRun copies the workflow report into a history row.
func fillRun(run *store.Run, rep *panel.Report, runErr error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Outcome = panel.OutcomeFailed
	if rep != nil {
		run.Outcome = rep.Outcome
		run.State = rep.Decision.State.String()
		run.Attempted = (rep.Decision.Attempt || forceRenew) && !dryRun
		run.Expiration = rep.Decision.Expiration
		run.NewExpiration = rep.NewExpiration
	}
	if runErr != nil {
		run.Outcome = panel.OutcomeFailed
		run.Error = runErr.Error()
	}
}

func printReport(rep *panel.Report, runErr error) {
	fmt.Println(strings.Repeat("─", 50))
	if rep != nil {
		fmt.Print(formatDecision(rep.Decision))
		fmt.Printf("Outcome:     %s\n", rep.Outcome)
		if rep.Challenged {
			fmt.Printf("Challenge:   %d round(s)\n", rep.Rounds)
		}
		if rep.NewExpiration != nil {
			fmt.Printf("Expires now: %s\n", rep.NewExpiration.Format(renewal.ExpirationLayout))
		}
	}
	if runErr != nil {
		fmt.Printf("Error:       %v\n", runErr)
		var cf *recognize.ChallengeFailure
		if errors.As(runErr, &cf) {
			fmt.Print(formatAttempts(cf.Attempts))
		}
	}
	fmt.Println(strings.Repeat("─", 50))
}

func formatAttempts(attempts []recognize.Attempt) string {
	var sb strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&sb, "  %-12s %-14s %-9s %-8s %s\n", a.Backend, a.Variant, a.Outcome, a.Digits, a.Reason)
	}
	return sb.String()
}
