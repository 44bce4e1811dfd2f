// Package main is the entry point for the persona CLI. It runs the monitor
// TUI, sends prompts through the governor and inspects the audit trail.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/perpquant/mind-persona/internal/config"
	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/services"
	"github.com/perpquant/mind-persona/internal/version"
)

var (
	// Global flags
	verbose bool

	// Loaded by PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Rate-limit, retry and audit Gemini calls for agent personas",
	Long: `persona routes every model call through a governor that serializes
requests, retries transient failures with exponential backoff and falls back
to a cheaper model when a quota is exhausted. Each call is tracked in a live
ledger and recorded in a rotating audit trail.

Run "persona monitor --simulate" to watch the governor against a fake backend.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger.Setup(os.Stderr, cfg.LogLevel, cfg.LogJSON)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	monitorCmd.Flags().BoolVar(&simulateFlag, "simulate", false, "Drive the governor with a fake backend")
	monitorCmd.Flags().DurationVar(&simInterval, "interval", defaultSimInterval, "Interval between simulated bursts")
	monitorCmd.Flags().IntVar(&simBurst, "burst", 3, "Maximum calls per simulated burst")
	monitorCmd.Flags().StringSliceVar(&simQuotaModels, "exhaust", nil, "Models the fake backend always rejects with a quota error")

	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model to ask (default from PERSONA_DEFAULT_MODEL)")
	askCmd.Flags().StringVarP(&askAgent, "agent", "a", "Persona", "Agent name recorded in the ledger")
	askCmd.Flags().BoolVar(&simulateFlag, "simulate", false, "Answer with the fake backend instead of Gemini")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "Print replies without markdown rendering")

	auditTailCmd.Flags().IntVarP(&tailCount, "lines", "n", 20, "Number of entries to print")
	auditTailCmd.Flags().BoolVar(&tailJSON, "json", false, "Print entries as JSON lines")
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditClearCmd)

	statsCmd.Flags().DurationVar(&pruneAge, "prune", 0, "Delete archived calls older than this before reporting")
	statsCmd.Flags().IntVar(&recentCount, "recent", 10, "Number of recent archived calls to list")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openManager starts the service stack with an optional backend.
func openManager(backend governor.PerformFunc) (*services.Manager, error) {
	mgr, err := services.NewManager(cfg, services.Options{Backend: backend})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return mgr, nil
}

// closeManager shuts the stack down and reports, but does not return, errors.
func closeManager(mgr *services.Manager, w io.Writer) {
	if err := mgr.Close(); err != nil {
		fmt.Fprintf(w, "Warning: error closing services: %v\n", err)
	}
}
