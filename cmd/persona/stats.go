package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/components"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

var (
	pruneAge    time.Duration
	recentCount int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize archived calls",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	mgr, err := openManager(nil)
	if err != nil {
		return err
	}
	defer closeManager(mgr, cmd.ErrOrStderr())

	out := cmd.OutOrStdout()

	if pruneAge > 0 {
		n, err := mgr.Database().PruneCalls(time.Now().Add(-pruneAge))
		if err != nil {
			return fmt.Errorf("failed to prune archive: %w", err)
		}
		fmt.Fprintf(out, "Pruned %d calls older than %s\n\n", n, pruneAge)
	}

	stats := mgr.GetStats()
	if a := stats.Archive; a != nil {
		fmt.Fprintf(out, "Archived calls: %d (%d failed), %s tokens, %s, avg %.0fms\n\n",
			a.Calls, a.Failures,
			components.FormatTokens(a.PromptTokens+a.CandidateTokens),
			components.FormatCost(a.EstimatedCost),
			a.AvgDurationMs)
	}

	perModel, err := mgr.GetModelStats()
	if err != nil {
		return fmt.Errorf("failed to load model stats: %w", err)
	}

	fmt.Fprintln(out, modelTable(perModel))

	if recentCount <= 0 {
		return nil
	}
	recent, err := mgr.GetRecentCalls(recentCount)
	if err != nil {
		return fmt.Errorf("failed to load recent calls: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, recentTable(recent))
	return nil
}

var tableHeaderStyle = styles.TableCellStyle.Bold(true).Foreground(styles.Primary)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Subtle)).
		Headers(headers...)
}

func modelTable(stats []models.ModelStats) *table.Table {
	t := newTable("MODEL", "CALLS", "FAILED", "TOKENS", "COST", "AVG")
	for _, s := range stats {
		t.Row(s.Model,
			fmt.Sprintf("%d", s.Calls),
			fmt.Sprintf("%d", s.Failures),
			components.FormatTokens(s.PromptTokens+s.CandidateTokens),
			components.FormatCost(s.EstimatedCost),
			fmt.Sprintf("%.0fms", s.AvgDurationMs))
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return tableHeaderStyle
		case col == 0:
			return styles.TableCellStyle.Foreground(styles.ModelColor(stats[row].Model))
		case col == 2 && stats[row].Failures > 0:
			return styles.TableCellStyle.Foreground(styles.Error)
		case col > 0:
			return styles.TableCellStyle.Align(lipgloss.Right)
		}
		return styles.TableCellStyle
	})
}

func recentTable(calls []models.CallRecord) *table.Table {
	t := newTable("STARTED", "AGENT", "MODEL", "STATUS", "TIME")
	for _, r := range calls {
		t.Row(r.StartTime.Local().Format(time.DateTime),
			r.AgentName, r.Model, string(r.Status),
			components.FormatDuration(r.Duration))
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return tableHeaderStyle
		case col == 2:
			return styles.TableCellStyle.Foreground(styles.ModelColor(calls[row].Model))
		case col == 3:
			return styles.GetStatusStyle(calls[row].Status).Padding(0, 1)
		case col == 4:
			return styles.TableCellStyle.Align(lipgloss.Right)
		}
		return styles.TableCellStyle
	})
}
