package calls

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/components"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

const (
	latencyPoints = 60
	feedSize      = 8
)

// View renders the calls tab.
func (m *Model) View() string {
	if m.state.IsInitialLoading() {
		return components.RenderSpinnerCentered(&m.spinner, m.width, m.height)
	}

	cardWidth := max(m.width-6, 40)

	sections := []string{
		m.renderTitle(),
		m.renderSummary(cardWidth),
		m.renderLedger(cardWidth),
	}
	if m.showDetail {
		if detail := m.renderDetail(cardWidth); detail != "" {
			sections = append(sections, detail)
		}
	}
	sections = append(sections, m.renderLatency(cardWidth), m.renderFeed(cardWidth))

	m.viewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, sections...))

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) renderTitle() string {
	title := styles.TitleStyle.Render("Calls")
	subtitle := styles.HelpStyle.Render("Every Gemini call routed through the governor, newest first")

	return lipgloss.JoinVertical(lipgloss.Left, title, subtitle, "")
}

func (m *Model) renderSummary(width int) string {
	total, byModel := m.state.GetUsage()

	rows := []string{
		styles.CardTitleStyle.Render("Session"),
		"",
		fmt.Sprintf("Calls %s   Failures %s   Tokens %s   Cost %s",
			styles.InfoTextStyle.Render(fmt.Sprintf("%d", total.Calls)),
			styles.ErrorTextStyle.Render(fmt.Sprintf("%d", total.Failures)),
			styles.InfoTextStyle.Render(components.FormatTokens(total.PromptTokens+total.CandidateTokens)),
			styles.SuccessTextStyle.Render(components.FormatCost(total.EstimatedCost)),
		),
	}

	if len(byModel) > 0 {
		names := make([]string, 0, len(byModel))
		for name := range byModel {
			names = append(names, name)
		}
		slices.Sort(names)

		costs := make([]float64, len(names))
		for i, name := range names {
			costs[i] = byModel[name].EstimatedCost
		}

		rows = append(rows, "", components.RenderBarChart(costs, names, width-4, "$%.4f"), "")

		labelWidth := 0
		for _, name := range names {
			labelWidth = max(labelWidth, len(name))
		}
		for _, name := range names {
			u := byModel[name]
			rate := 0.0
			if u.Calls > 0 {
				rate = float64(u.Failures) / float64(u.Calls) * 100
			}
			rows = append(rows, components.SimpleUsageBar(rate, fmt.Sprintf("%-*s failures", labelWidth, name), width-4))
		}
	}

	if tokens := m.tokenSeries(); len(tokens) > 1 {
		rows = append(rows, "", fmt.Sprintf("%s %s",
			styles.HelpStyle.Render("Tokens per call"),
			components.RenderColoredSparkline(tokens, min(len(tokens), width-24))))
	}

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m *Model) renderLedger(width int) string {
	calls := m.state.GetCalls()

	rows := []string{styles.CardTitleStyle.Render("Ledger"), ""}

	if len(calls) == 0 {
		rows = append(rows, styles.HelpStyle.Render("  No calls recorded yet"))
		return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	}

	header := fmt.Sprintf("  %-14s %-24s %-14s %8s %12s %8s",
		"STATUS", "MODEL", "AGENT", "TOKENS", "COST", "TIME")
	rows = append(rows, styles.TableHeaderStyle.Render(header))

	for i, call := range calls {
		rows = append(rows, m.renderCallRow(call, i == m.selectedIndex))
	}

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m *Model) renderCallRow(call models.CallRecord, selected bool) string {
	prefix := "  "
	if selected {
		prefix = styles.FocusedStyle.Render("▸ ")
	}

	tokens := "-"
	if call.TotalTokens != nil {
		tokens = components.FormatTokens(*call.TotalTokens)
	}
	cost := "-"
	if call.EstimatedCost != nil {
		cost = components.FormatCost(*call.EstimatedCost)
	}

	// Pad before styling so ANSI codes don't break the columns.
	status := components.StatusBadge(call.Status)
	status += strings.Repeat(" ", max(14-lipgloss.Width(status), 0))

	model := lipgloss.NewStyle().Foreground(styles.ModelColor(call.Model)).
		Render(fmt.Sprintf("%-24s", components.Truncate(call.Model, 24)))

	return fmt.Sprintf("%s%s %s %-14s %8s %12s %8s",
		prefix,
		status,
		model,
		components.Truncate(call.AgentName, 14),
		tokens,
		cost,
		components.FormatDuration(call.Duration),
	)
}

func (m *Model) renderDetail(width int) string {
	calls := m.state.GetCalls()
	if m.selectedIndex >= len(calls) {
		return ""
	}
	call := calls[m.selectedIndex]

	rows := []string{
		styles.CardTitleStyle.Render("Detail"),
		"",
		detailRow("ID", call.ID),
		detailRow("Agent", call.AgentName),
		detailRow("Model", call.Model),
		detailRow("Status", components.StatusBadge(call.Status)),
		detailRow("Started", call.StartTime.Local().Format("15:04:05")),
	}

	switch {
	case call.Error != "":
		rows = append(rows, "", styles.ErrorTextStyle.Render(call.Error))
	case call.ResponsePayload != nil:
		rows = append(rows, "", components.RenderMarkdown(responseText(call.ResponsePayload), width-4))
	case !call.Status.IsTerminal():
		rows = append(rows, "", styles.HelpStyle.Render("Waiting for a response..."))
	}

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func detailRow(label, value string) string {
	labelStyle := lipgloss.NewStyle().Width(10).Foreground(styles.TextMuted)
	return labelStyle.Render(label+":") + " " + value
}

// responseText turns a reply body into markdown. Structured bodies are
// shown as a JSON block.
func responseText(body any) string {
	switch v := body.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Sprint(body)
	}
	return "```json\n" + string(data) + "\n```"
}

// tokenSeries returns total tokens of finished calls, oldest first.
func (m *Model) tokenSeries() []float64 {
	calls := m.state.GetCalls()

	var series []float64
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].TotalTokens != nil {
			series = append(series, float64(*calls[i].TotalTokens))
		}
	}
	return series
}

func (m *Model) renderLatency(width int) string {
	rows := []string{styles.CardTitleStyle.Render("Latency"), ""}

	byModel := m.state.LatencyByModel(latencyPoints)
	switch {
	case len(byModel) > 1:
		names := make([]string, 0, len(byModel))
		for name := range byModel {
			names = append(names, name)
		}
		slices.Sort(names)

		series := make([][]float64, len(names))
		for i, name := range names {
			series[i] = byModel[name]
		}
		rows = append(rows,
			components.RenderMultiLineChart(series, width-14, 6, "duration (ms) per call"),
			"",
			"  "+components.RenderLegend(components.SeriesLegend(names)),
		)
	default:
		series := m.state.LatencySeries(latencyPoints)
		if len(series) < 2 {
			rows = append(rows, styles.HelpStyle.Render("  Not enough finished calls to plot"))
		} else {
			rows = append(rows, components.RenderLineChart(series, width-14, 6, "duration (ms) per call"))
		}
	}

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m *Model) renderFeed(width int) string {
	events := m.state.GetEvents()

	rows := []string{styles.CardTitleStyle.Render("Governor"), ""}
	if len(events) == 0 {
		rows = append(rows, styles.HelpStyle.Render("  No activity"))
	}

	for i := len(events) - 1; i >= 0 && i >= len(events)-feedSize; i-- {
		rows = append(rows, renderEvent(events[i]))
	}

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderEvent(ev governor.Event) string {
	stamp := styles.HelpStyle.Render(ev.Time.Local().Format("15:04:05"))

	var detail string
	style := styles.InfoTextStyle
	switch ev.Type {
	case governor.EventRetrying:
		style = styles.WarningTextStyle
		detail = fmt.Sprintf("attempt %d in %s: %s", ev.Attempt, ev.Backoff, ev.Error)
	case governor.EventFallback:
		style = styles.WarningTextStyle
		detail = fmt.Sprintf("%s → %s", ev.FromModel, ev.Model)
	case governor.EventSucceeded:
		style = styles.SuccessTextStyle
		detail = fmt.Sprintf("%s after %d attempt(s)", ev.Model, ev.Attempt)
	case governor.EventFailed:
		style = styles.ErrorTextStyle
		detail = ev.Error
	default:
		detail = ev.Model
	}

	return fmt.Sprintf("  %s %s %s %s",
		stamp,
		style.Render(fmt.Sprintf("%-10s", ev.Type)),
		components.Truncate(ev.AgentName, 14),
		components.Truncate(detail, 60),
	)
}
