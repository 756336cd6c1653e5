// Package main implements the vpsrenew CLI.
//
// vpsrenew keeps a free-plan VPS alive: it logs into the provider panel,
// reads the expiration, decides whether the renewal window is open and walks
// the renewal form, solving the image challenge with a cascade of local OCR,
// remote vision services and finally a human.
//
// Usage:
//
//	vpsrenew run                 # decide and renew if due
//	vpsrenew check --html page   # show the scheduling decision only
//	vpsrenew solve challenge.png # run the recognition cascade on a file
//	vpsrenew answer 123456       # answer a pending interactive challenge
//	vpsrenew history             # show recent runs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vpsrenew/internal/config"
	"vpsrenew/internal/logging"
)

var (
	// Logger instance
	logger *zap.Logger

	// Global flags
	verbose    bool
	configPath string

	// Loaded configuration, set by PersistentPreRunE
	cfg *config.Config
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "vpsrenew",
	Short: "vpsrenew - automatic free VPS renewal",
	Long: `vpsrenew renews a free-plan VPS before it expires.

It reads the expiration from the control panel, renews inside the
renewal window and solves the panel's image challenge with local OCR,
remote vision services and, as a last resort, a human answer.

Credentials come from the environment (or a .env file):
  XSERVER_USERNAME, XSERVER_PASSWORD, XSERVER_SERVER_ID
Optional vision keys:
  ANTHROPIC_API_KEY, GEMINI_API_KEY`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv(".env", ".vpsrenew/.env")

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		opts := logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: cfg.Logging.Categories,
		}
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Boot("config loaded from %s", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Sync()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Config file")

	// Run flags
	runCmd.Flags().BoolVar(&forceRenew, "force", false, "Renew even when the window is not open yet")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after the scheduling decision")

	// Check flags
	checkCmd.Flags().StringArrayVar(&checkTexts, "text", nil, "Expiration text candidate (repeatable)")
	checkCmd.Flags().StringVar(&checkHTML, "html", "", "Saved server detail page")

	// Solve flags
	solveCmd.Flags().StringVar(&solveBox, "box", "", "Challenge box in the image as x,y,w,h (default: whole image)")
	solveCmd.Flags().StringSliceVar(&solveBackends, "backends", nil, "Override recognition.chain")

	// History flags
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyAttempts, "attempts", false, "Show challenge attempts per run")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
