package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/components"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

var (
	headerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(styles.Subtle)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			Background(styles.BgDark)

	statusSepStyle = lipgloss.NewStyle().
			Foreground(styles.Subtle).
			Background(styles.BgDark)
)

// View renders the application UI.
func (m *Model) View() string {
	if !m.ready {
		return fmt.Sprintf("%s Loading...", m.spinner.View())
	}

	body := m.renderPlaceholder()
	if tab := m.currentTab(); tab != nil {
		body = tab.View()
	}
	body = lipgloss.NewStyle().
		MaxWidth(m.width).
		Height(max(0, m.height-chromeHeight)).
		MaxHeight(max(0, m.height-chromeHeight)).
		Render(body)

	view := lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderStatusBar())

	if m.showHelp {
		help := m.renderHelp()
		x := (m.width - lipgloss.Width(help)) / 2
		y := (m.height - lipgloss.Height(help)) / 2
		view = placeOverlay(view, help, max(0, x), max(0, y))
	}

	if toasts := m.renderNotifications(); len(toasts) > 0 {
		stack := lipgloss.JoinVertical(lipgloss.Right, toasts...)
		view = placeOverlay(view, stack, max(0, m.width-lipgloss.Width(stack)-1), 2)
	}
	return view
}

func (m *Model) currentTab() Tab {
	if int(m.activeTab) < len(m.tabs) {
		return m.tabs[m.activeTab]
	}
	return nil
}

// renderHeader draws the tab bar with the governor status on the right.
func (m *Model) renderHeader() string {
	var tabs []string
	for i := range m.tabs {
		id := TabID(i)
		if id == m.activeTab {
			tabs = append(tabs, styles.ActiveTabStyle.Render(fmt.Sprintf("%d %s", i+1, id)))
		} else {
			tabs = append(tabs, styles.InactiveTabStyle.Render(fmt.Sprintf("%d %s", i+1, id)))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
	status := m.renderGovernorStatus()

	gap := max(1, m.width-lipgloss.Width(bar)-lipgloss.Width(status))
	return headerStyle.Width(m.width).Render(bar + strings.Repeat(" ", gap) + status)
}

// renderGovernorStatus summarises the call pipeline. In-flight counts come
// from the ledger, which every transition updates; queue depth comes from
// the last statistics snapshot.
func (m *Model) renderGovernorStatus() string {
	var processing, retrying int
	for _, c := range m.state.GetCalls() {
		switch c.Status {
		case models.StatusProcessing:
			processing++
		case models.StatusRetrying:
			retrying++
		}
	}
	queued := 0
	if stats := m.state.GetStats(); stats != nil {
		queued = stats.Governor.Queued
	}

	if processing == 0 && retrying == 0 && queued == 0 {
		return styles.SuccessTextStyle.Render("● governor idle")
	}

	parts := []string{fmt.Sprintf("%s %d active", m.spinner.View(), processing)}
	if retrying > 0 {
		parts = append(parts, styles.WarningTextStyle.Render(fmt.Sprintf("%d retrying", retrying)))
	}
	if queued > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", queued))
	}
	return styles.InfoTextStyle.Render(strings.Join(parts, " · "))
}

// renderStatusBar shows session totals, audit log size against its rotation
// threshold and the help hint.
func (m *Model) renderStatusBar() string {
	sep := statusSepStyle.Render(" │ ")
	total, _ := m.state.GetUsage()

	left := []string{
		statusBarStyle.Render(fmt.Sprintf(" %d calls", total.Calls)),
		statusBarStyle.Render(components.FormatCost(total.EstimatedCost)),
	}
	if total.Failures > 0 {
		left = append(left, styles.ErrorTextStyle.Background(styles.BgDark).Render(fmt.Sprintf("%d failed", total.Failures)))
	}
	if stats := m.state.GetStats(); stats != nil {
		g := stats.Governor
		if g.Retries > 0 || g.Fallbacks > 0 {
			left = append(left, statusBarStyle.Render(fmt.Sprintf("%d retries, %d fallbacks", g.Retries, g.Fallbacks)))
		}
	}

	_, size, chunk := m.state.GetAudit()
	audit := "audit " + components.FormatBytes(size)
	if threshold := m.state.GetAuditThreshold(); threshold > 0 {
		audit += " / " + components.FormatBytes(threshold)
	}
	if chunk > 0 {
		audit += fmt.Sprintf(" (chunk %d)", chunk)
	}
	left = append(left, statusBarStyle.Render(audit))

	if updated := m.state.GetLastUpdated(); !updated.IsZero() {
		left = append(left, statusBarStyle.Render("updated "+m.state.TimeSinceUpdate().Round(time.Second).String()+" ago"))
	}

	leftBar := strings.Join(left, sep)
	hint := m.help.ShortHelpView(m.keys.ShortHelp()) + " "

	gap := max(1, m.width-lipgloss.Width(leftBar)-lipgloss.Width(hint))
	return ansi.Truncate(leftBar+statusBarStyle.Render(strings.Repeat(" ", gap))+hint, m.width, "")
}

func (m *Model) renderHelp() string {
	sections := []string{
		styles.TitleStyle.Render("Keyboard Shortcuts"),
		m.help.FullHelpView(m.keys.FullHelp()),
	}

	if tab := m.currentTab(); tab != nil {
		if groups := tab.FullHelp(); len(groups) > 0 {
			sections = append(sections,
				"",
				styles.SubTitleStyle.Render(m.activeTab.String()+" tab"),
				m.help.FullHelpView(groups),
			)
		}
	}

	sections = append(sections, "", styles.HelpStyle.Render("Press ? or esc to close"))
	return styles.HelpPanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m *Model) renderNotifications() []string {
	var toasts []string
	for _, n := range m.state.GetNotifications() {
		var style lipgloss.Style
		var prefix string

		switch n.Type {
		case NotificationSuccess:
			style, prefix = styles.NotificationSuccessStyle, "✓"
		case NotificationError:
			style, prefix = styles.NotificationErrorStyle, "✗"
		case NotificationWarning:
			style, prefix = styles.NotificationWarningStyle, "!"
		case NotificationLoading:
			style, prefix = styles.NotificationInfoStyle, m.spinner.View()
		default:
			style, prefix = styles.NotificationInfoStyle, "i"
		}
		toasts = append(toasts, style.Render(prefix+" "+n.Message))
	}
	return toasts
}

func (m *Model) renderPlaceholder() string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.SubTitleStyle.Render(m.activeTab.String()),
		styles.HelpStyle.Render("This tab is not yet implemented."),
	)
	return styles.CenterHorizontal(content, m.width)
}

// placeOverlay draws fg over bg with its top-left corner at column x, row y.
// Lines of fg that fall below bg are dropped.
func placeOverlay(bg, fg string, x, y int) string {
	bgLines := strings.Split(bg, "\n")
	fgLines := strings.Split(fg, "\n")
	fgWidth := lipgloss.Width(fg)

	for i, line := range fgLines {
		row := y + i
		if row >= len(bgLines) {
			break
		}
		base := bgLines[row]
		left := ansi.Truncate(base, x, "")
		if w := ansi.StringWidth(left); w < x {
			left += strings.Repeat(" ", x-w)
		}
		right := ansi.TruncateLeft(base, x+fgWidth, "")
		bgLines[row] = left + line + right
	}
	return strings.Join(bgLines, "\n")
}
