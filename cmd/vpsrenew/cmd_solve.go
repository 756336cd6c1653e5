package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vpsrenew/internal/artifacts"
	"vpsrenew/internal/imaging"
	"vpsrenew/internal/recognize"
)

var (
	solveBox      string
	solveBackends []string
)

// =============================================================================
// SOLVE COMMAND
// =============================================================================

var solveCmd = &cobra.Command{
	Use:   "solve <image>",
	Short: "Run the recognition chain on a saved challenge image",
	Long: `Normalizes an image file and runs the recognition chain on it,
exactly as a live run would. Useful for tuning the chain and testing
vision credentials.

The image may be a full screenshot with --box selecting the challenge,
or the challenge crop itself.

Examples:
  vpsrenew solve challenge.png
  vpsrenew solve screenshot.png --box 420,610,300,80
  vpsrenew solve challenge.png --backends local,gemini`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func runSolve(cmd *cobra.Command, args []string) error {
	frame, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	var region imaging.CapturedRegion
	if solveBox != "" {
		box, err := parseBox(solveBox)
		if err != nil {
			return err
		}
		region = imaging.CapturedRegion{Frame: frame, Box: box}
	} else {
		region, err = imaging.FullFrame(frame)
		if err != nil {
			return err
		}
	}

	orch := newOrchestrator(cfg, solveBackends, os.Stdout)
	if sink, err := artifacts.New(cfg.Artifacts); err == nil {
		orch.Artifacts = sink
	} else {
		logger.Warn("Artifacts disabled", zap.Error(err))
	}
	orch.Observer = func(occurrence string, a recognize.Attempt) {
		logger.Debug("Attempt",
			zap.String("occurrence", occurrence),
			zap.String("backend", a.Backend),
			zap.String("variant", a.Variant),
			zap.String("outcome", string(a.Outcome)),
			zap.String("digits", a.Digits))
	}

	fmt.Printf("Chain: %s\n", strings.Join(orch.Backends(), " → "))
	code, err := orch.Resolve(cmd.Context(), region)
	fmt.Println(strings.Repeat("─", 50))
	if err != nil {
		var cf *recognize.ChallengeFailure
		if errors.As(err, &cf) {
			fmt.Print(formatAttempts(cf.Attempts))
		}
		return err
	}
	fmt.Printf("Code: %s\n", code)
	return nil
}

// parseBox parses "x,y,w,h".
func parseBox(s string) (imaging.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return imaging.Box{}, fmt.Errorf("box %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return imaging.Box{}, fmt.Errorf("box %q: %w", s, err)
		}
		v[i] = n
	}
	return imaging.Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
