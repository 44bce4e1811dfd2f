package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

const (
	usageFrom = "#51cf66"
	usageTo   = "#ff6b6b"
)

// UsageBar renders how full something is relative to a limit, such as the
// audit log against its rotation threshold.
type UsageBar struct {
	progress progress.Model
}

// NewUsageBar creates a green-to-red usage bar.
func NewUsageBar() UsageBar {
	return UsageBar{
		progress: progress.New(
			progress.WithScaledGradient(usageFrom, usageTo),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
}

// View renders the bar with a label and "used / limit" text. A limit of
// zero renders as unlimited.
func (u UsageBar) View(label string, used, limit int64, width int) string {
	labelStr := styles.ProgressLabelStyle.Width(15).Render(label)

	if limit <= 0 {
		return lipgloss.JoinHorizontal(lipgloss.Center,
			labelStr,
			styles.HelpStyle.Render(FormatBytes(used)+" (rotation disabled)"),
		)
	}

	percent := min(float64(used)/float64(limit)*100, 100)
	u.progress.Width = max(width-45, 10)
	bar := u.progress.ViewAs(percent / 100)

	detail := styles.GetUsageStyle(percent).Render(
		fmt.Sprintf("%5.1f%%  %s / %s", percent, FormatBytes(used), FormatBytes(limit)),
	)

	return lipgloss.JoinHorizontal(lipgloss.Center, labelStr, bar, " ", detail)
}

// RenderGradientBar renders just the bar part with gradient colors.
func RenderGradientBar(percent float64, width int) string {
	if width < 1 {
		return ""
	}

	filled := min(max(int(float64(width)*percent/100), 0), width)

	var b strings.Builder
	for i := range width {
		if i < filled {
			t := float64(i) / float64(max(1, width-1))
			style := lipgloss.NewStyle().Foreground(lipgloss.Color(interpolateColor(usageFrom, usageTo, t)))
			b.WriteString(style.Render("█"))
		} else {
			b.WriteString(lipgloss.NewStyle().Foreground(styles.Subtle).Render("░"))
		}
	}
	return b.String()
}

// SimpleUsageBar renders a label, a gradient bar and a percentage on one line.
func SimpleUsageBar(percent float64, label string, width int) string {
	const percentWidth = 6
	barWidth := max(width-len(label)-1-percentWidth-4, 5)

	labelStr := lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(label)
	percentStr := styles.GetUsageStyle(percent).
		Width(percentWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%.0f%%", percent))

	return fmt.Sprintf("%s [%s] %s", labelStr, RenderGradientBar(percent, barWidth), percentStr)
}

func interpolateColor(fromHex, toHex string, t float64) string {
	from := hexToRGB(fromHex)
	to := hexToRGB(toHex)

	r := int(float64(from[0]) + t*(float64(to[0])-float64(from[0])))
	g := int(float64(from[1]) + t*(float64(to[1])-float64(from[1])))
	b := int(float64(from[2]) + t*(float64(to[2])-float64(from[2])))

	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hexToRGB(hex string) [3]int {
	hex = strings.TrimPrefix(hex, "#")
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		logger.Error("failed to parse hex color", "hex", hex, "error", err)
		return [3]int{0, 0, 0}
	}
	return [3]int{r, g, b}
}
