package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

// FormatBytes renders a byte count as B, KB or MB.
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// FormatTokens renders a token count compactly, e.g. 1.2k.
func FormatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatCost renders a USD amount with enough precision for single calls.
func FormatCost(usd float64) string {
	if usd > 0 && usd < 0.01 {
		return fmt.Sprintf("$%.6f", usd)
	}
	return fmt.Sprintf("$%.4f", usd)
}

// FormatDuration renders a call duration; zero renders as a dash.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// Truncate shortens s to width runes, ending in an ellipsis.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

var statusIcons = map[models.CallStatus]string{
	models.StatusPending:    "○",
	models.StatusProcessing: "◐",
	models.StatusRetrying:   "↻",
	models.StatusSuccess:    "●",
	models.StatusFailed:     "✗",
}

// StatusBadge renders a colored icon and status name.
func StatusBadge(status models.CallStatus) string {
	icon, ok := statusIcons[status]
	if !ok {
		icon = "?"
	}
	return styles.GetStatusStyle(status).Render(icon + " " + string(status))
}
