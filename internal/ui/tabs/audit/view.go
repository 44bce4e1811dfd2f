package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/components"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

var typeColors = map[models.AuditEventType]lipgloss.Color{
	models.AuditAPICall:         styles.Info,
	models.AuditAgentAction:     styles.Secondary,
	models.AuditStateChange:     styles.Warning,
	models.AuditSystemEvent:     styles.Primary,
	models.AuditUserInteraction: styles.Success,
}

// View renders the audit tab.
func (m *Model) View() string {
	cardWidth := max(m.width-6, 50)

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(cardWidth),
		m.renderEntries(cardWidth),
	)
	m.viewport.SetContent(content)

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) renderHeader(width int) string {
	entries, size, chunk := m.state.GetAudit()

	filter := "all types"
	if f := m.Filter(); f != "" {
		filter = string(f)
	}

	rows := []string{
		styles.TitleStyle.Render("Audit"),
		styles.HelpStyle.Render("Append-only trail of calls, agent actions and system events"),
		"",
		m.usageBar.View("Log size", size, m.state.GetAuditThreshold(), width),
		fmt.Sprintf("%s %s   %s %s   %s %s",
			styles.HelpStyle.Render("Entries"),
			styles.InfoTextStyle.Render(fmt.Sprintf("%d", len(entries))),
			styles.HelpStyle.Render("Chunks exported"),
			styles.InfoTextStyle.Render(fmt.Sprintf("%d", chunk)),
			styles.HelpStyle.Render("Showing"),
			styles.InfoTextStyle.Render(filter),
		),
		"",
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *Model) renderEntries(width int) string {
	entries, _, _ := m.state.GetAudit()
	filter := m.Filter()

	rows := []string{styles.CardTitleStyle.Render("Entries"), ""}

	shown := 0
	for _, e := range entries {
		if filter != "" && e.Type != filter {
			continue
		}
		rows = append(rows, renderEntry(e, width-6))
		shown++
	}

	if shown == 0 {
		rows = append(rows, styles.HelpStyle.Render("  No audit entries"))
	}

	rows = append(rows, "", styles.HelpStyle.Render("Press 'e' to export, 'x' to clear"))

	return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderEntry(e models.AuditEntry, width int) string {
	stamp := e.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		stamp = t.Local().Format("15:04:05")
	}

	color, ok := typeColors[e.Type]
	if !ok {
		color = styles.Subtle
	}
	typ := lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%-16s", e.Type))

	summary := components.Truncate(summarize(e.Payload), max(width-30, 20))

	return fmt.Sprintf("  %s %s %s", styles.HelpStyle.Render(stamp), typ, summary)
}

// summarize renders a one-line description of an entry payload.
func summarize(payload any) string {
	switch p := payload.(type) {
	case models.CallRecord:
		return callSummary(p)
	case *models.CallRecord:
		return callSummary(*p)
	case models.SystemEvent:
		return systemSummary(p.Event, p.Details)
	case map[string]any:
		if event, ok := p["event"].(string); ok {
			details, _ := p["details"].(map[string]any)
			return systemSummary(event, details)
		}
	case string:
		return p
	case nil:
		return ""
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(data)
}

func callSummary(r models.CallRecord) string {
	s := fmt.Sprintf("%s → %s [%s]", r.AgentName, r.Model, r.Status)
	if r.Error != "" {
		s += " " + r.Error
	}
	return s
}

func systemSummary(event string, details map[string]any) string {
	if len(details) == 0 {
		return event
	}
	data, err := json.Marshal(details)
	if err != nil {
		return event
	}
	return event + " " + string(data)
}
