package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/perpquant/mind-persona/internal/app"
	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/simulate"
	"github.com/perpquant/mind-persona/internal/ui/tabs/audit"
	"github.com/perpquant/mind-persona/internal/ui/tabs/calls"
	"github.com/perpquant/mind-persona/internal/ui/tabs/info"
)

const defaultSimInterval = 2 * time.Second

var (
	simulateFlag   bool
	simInterval    time.Duration
	simBurst       int
	simQuotaModels []string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Open the live monitor",
	Long: `Opens a terminal dashboard with the live call ledger, the audit trail
and governor statistics.

With --simulate a fake backend produces a steady stream of calls, including
retries and quota fallbacks, so every part of the governor can be watched.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	// The TUI owns the terminal; logs go to a file or nowhere.
	logOut, closeLog, err := openLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Setup(logOut, cfg.LogLevel, cfg.LogJSON)

	var backend *simulate.Backend
	var perform governor.PerformFunc
	if simulateFlag {
		simCfg := simulate.DefaultConfig()
		simCfg.QuotaModels = simQuotaModels
		backend = simulate.New(simCfg)
		perform = backend.Perform
	}

	mgr, err := openManager(perform)
	if err != nil {
		return err
	}
	defer closeManager(mgr, cmd.ErrOrStderr())

	model := app.NewModel(mgr)
	state := model.GetState()
	model.SetTabs([]app.Tab{
		calls.New(state),
		audit.New(state),
		info.New(state, cfg),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)

	if backend != nil {
		driver := simulate.NewDriver(mgr.Governor(), perform, simInterval, simBurst, uint64(time.Now().UnixNano()))
		g.Go(func() error {
			return driver.Run(runCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("error running TUI: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openLogFile opens path for appending. An empty path discards logs.
func openLogFile(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
