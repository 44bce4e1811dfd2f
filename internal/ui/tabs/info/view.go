package info

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/charmbracelet/lipgloss"

	"github.com/perpquant/mind-persona/internal/ui/components"
	"github.com/perpquant/mind-persona/internal/ui/styles"
	"github.com/perpquant/mind-persona/internal/version"
)

// View renders the info tab.
func (m *Model) View() string {
	sections := []string{
		m.renderTitle(),
		m.renderConfigCard(),
		m.renderPolicyCard(),
		m.renderStatsCard(),
		m.renderAboutCard(),
	}

	m.viewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, sections...))

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) renderTitle() string {
	title := styles.TitleStyle.Render("Info")
	subtitle := styles.HelpStyle.Render("Configuration, fallback policy and runtime statistics")

	return lipgloss.JoinVertical(lipgloss.Left, title, subtitle, "")
}

func (m *Model) cardWidth() int {
	return min(max(m.width-6, 50), 90)
}

func (m *Model) card(title string, rows ...string) string {
	content := append([]string{styles.CardTitleStyle.Render(title), ""}, rows...)
	return styles.CardStyle.Width(m.cardWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, content...),
	)
}

func (m *Model) renderConfigCard() string {
	if m.config == nil {
		return m.card("Configuration", styles.HelpStyle.Render("Configuration not loaded"))
	}
	cfg := m.config

	threshold := "disabled"
	if cfg.AuditThreshold > 0 {
		threshold = components.FormatBytes(int64(cfg.AuditThreshold) * 1024)
	}

	return m.card("Configuration",
		renderRow("Database", orNone(cfg.DatabasePath)),
		renderRow("Policy File", orNone(cfg.PolicyPath)),
		renderRow("Export Dir", orNone(cfg.ExportDir)),
		renderRow("Default Model", cfg.DefaultModel),
		renderRow("API Key", keyStatus(cfg.APIKey)),
		renderRow("NATS", orNone(cfg.NATSURL)),
		renderRow("Audit Rotation", threshold),
		renderRow("Max Retries", fmt.Sprintf("%d", cfg.Governor.MaxRetries)),
		renderRow("Backoff", cfg.Governor.InitialBackoff.String()),
		renderRow("Concurrency", fmt.Sprintf("%d", cfg.Governor.MaxConcurrent)),
	)
}

func (m *Model) renderPolicyCard() string {
	fallbacks := m.state.GetFallbacks()
	if len(fallbacks) == 0 {
		return m.card("Fallback Policy", styles.HelpStyle.Render("No fallbacks configured"))
	}

	models := make([]string, 0, len(fallbacks))
	for model := range fallbacks {
		models = append(models, model)
	}
	slices.Sort(models)

	rows := make([]string, 0, len(models))
	for _, model := range models {
		next := fallbacks[model]
		if next == "" {
			next = "none"
		}
		from := lipgloss.NewStyle().Foreground(styles.ModelColor(model)).Render(model)
		to := lipgloss.NewStyle().Foreground(styles.ModelColor(next)).Render(next)
		rows = append(rows, fmt.Sprintf("%s %s %s", from, styles.HelpStyle.Render("→"), to))
	}
	return m.card("Fallback Policy", rows...)
}

func (m *Model) renderStatsCard() string {
	stats := m.state.GetStats()
	if stats == nil {
		return m.card("Statistics", styles.HelpStyle.Render("Statistics not loaded"))
	}

	gov := stats.Governor
	rows := []string{
		renderRow("Queued", fmt.Sprintf("%d", gov.Queued)),
		renderRow("Active", fmt.Sprintf("%d", gov.Active)),
		renderRow("Completed", styles.SuccessTextStyle.Render(fmt.Sprintf("%d", gov.Completed))),
		renderRow("Failed", styles.ErrorTextStyle.Render(fmt.Sprintf("%d", gov.Failed))),
		renderRow("Retries", fmt.Sprintf("%d", gov.Retries)),
		renderRow("Fallbacks", fmt.Sprintf("%d", gov.Fallbacks)),
	}

	if trend := m.state.LatencySeries(40); len(trend) > 1 {
		rows = append(rows, renderRow("Latency Trend", components.RenderSparkline(trend, 40)))
	}

	if a := stats.Archive; a != nil {
		rows = append(rows, "",
			styles.SubTitleStyle.Render("Archive"),
			renderRow("Calls", fmt.Sprintf("%d (%d failed)", a.Calls, a.Failures)),
			renderRow("Tokens", components.FormatTokens(a.PromptTokens+a.CandidateTokens)),
			renderRow("Cost", components.FormatCost(a.EstimatedCost)),
			renderRow("Avg Latency", fmt.Sprintf("%.0fms", a.AvgDurationMs)),
			renderRow("Models", fmt.Sprintf("%d", a.UniqueModels)),
			renderRow("Agents", fmt.Sprintf("%d", a.UniqueAgents)),
		)
	}

	return m.card("Statistics", rows...)
}

func (m *Model) renderAboutCard() string {
	return m.card("About "+version.Name,
		renderRow("Version", version.GetVersion()),
		renderRow("Build Date", version.GetDate()),
		renderRow("Git Commit", version.GetCommit()),
		renderRow("Go Version", runtime.Version()),
		renderRow("Platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)),
	)
}

// renderRow renders a key-value row.
func renderRow(label, value string) string {
	labelStyle := lipgloss.NewStyle().
		Width(18).
		Foreground(styles.TextMuted)

	valueStyle := lipgloss.NewStyle().
		Foreground(styles.TextPrimary)

	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func keyStatus(key string) string {
	if key == "" {
		return "not set (simulation only)"
	}
	return "set"
}
