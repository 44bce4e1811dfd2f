// Package components provides reusable UI components for the TUI.
package components

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/perpquant/mind-persona/internal/ui/styles"
)

// SeriesColors are assigned to chart series in order.
var SeriesColors = []asciigraph.AnsiColor{
	asciigraph.Blue,
	asciigraph.Orange,
	asciigraph.Green,
	asciigraph.Red,
	asciigraph.Magenta,
}

// RenderLineChart creates a single-series ASCII line chart.
func RenderLineChart(data []float64, width, height int, caption string) string {
	if len(data) == 0 {
		return styles.HelpStyle.Render("No data available")
	}

	return asciigraph.Plot(data,
		asciigraph.Height(max(height, 3)),
		asciigraph.Width(max(width, 20)),
		asciigraph.Precision(0),
		asciigraph.Caption(caption),
	)
}

// RenderMultiLineChart plots several series on one chart, padding shorter
// series with zeros.
func RenderMultiLineChart(series [][]float64, width, height int, caption string) string {
	maxLen := 0
	for _, data := range series {
		maxLen = max(maxLen, len(data))
	}
	if maxLen == 0 {
		return styles.HelpStyle.Render("No data available")
	}

	width = max(width, 20)
	height = max(height, 3)

	padded := make([][]float64, len(series))
	colors := make([]asciigraph.AnsiColor, len(series))
	for i, data := range series {
		padded[i] = make([]float64, maxLen)
		copy(padded[i], data)
		colors[i] = SeriesColors[i%len(SeriesColors)]
	}

	return asciigraph.PlotMany(padded,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	)
}

// RenderBarChart creates a horizontal bar chart. Each value is printed after
// its bar using format.
func RenderBarChart(values []float64, labels []string, width int, format string) string {
	if len(values) == 0 {
		return ""
	}
	if format == "" {
		format = "%.1f"
	}

	maxVal := 0.0
	for _, v := range values {
		maxVal = max(maxVal, v)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	maxLabelLen := 0
	for _, l := range labels {
		maxLabelLen = max(maxLabelLen, lipgloss.Width(l))
	}

	// Leave room for the label and the value
	barWidth := max(width-maxLabelLen-14, 10)

	lines := make([]string, 0, len(values))
	for i, v := range values {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}

		barLen := max(int((v/maxVal)*float64(barWidth)), 0)
		bar := lipgloss.NewStyle().Foreground(styles.ModelColor(label)).Render(strings.Repeat("█", barLen))

		lines = append(lines, fmt.Sprintf("%*s │%s "+format, maxLabelLen, label, bar, v))
	}

	return strings.Join(lines, "\n")
}

// sparkChars are the sparkline levels, lowest first.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// sparkSample picks at most width values, evenly spaced, and returns each
// with its sparkline level and its fraction of the maximum.
func sparkSample(values []float64, width int, fn func(level int, fraction float64)) {
	if len(values) == 0 || width <= 0 {
		return
	}

	maxVal := 0.0
	for _, v := range values {
		maxVal = max(maxVal, v)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	step := max(float64(len(values))/float64(width), 1)
	for i := 0; i < width && int(float64(i)*step) < len(values); i++ {
		fraction := values[int(float64(i)*step)] / maxVal
		level := int(fraction * float64(len(sparkChars)-1))
		fn(min(max(level, 0), len(sparkChars)-1), fraction)
	}
}

// RenderSparkline creates a compact inline sparkline chart.
func RenderSparkline(values []float64, width int) string {
	var result strings.Builder
	sparkSample(values, width, func(level int, _ float64) {
		result.WriteRune(sparkChars[level])
	})
	return result.String()
}

// RenderColoredSparkline creates a sparkline where high values stand out.
func RenderColoredSparkline(values []float64, width int) string {
	var result strings.Builder
	sparkSample(values, width, func(level int, fraction float64) {
		style := styles.GetUsageStyle(fraction * 100)
		result.WriteString(style.Render(string(sparkChars[level])))
	})
	return result.String()
}

// RenderLegend creates a chart legend.
func RenderLegend(items []LegendItem) string {
	var parts []string
	for _, item := range items {
		colorBox := lipgloss.NewStyle().Foreground(item.Color).Render("■")
		parts = append(parts, fmt.Sprintf("%s %s", colorBox, item.Label))
	}
	return strings.Join(parts, "  ")
}

// SeriesLegend labels the series of RenderMultiLineChart in plot order.
func SeriesLegend(labels []string) []LegendItem {
	items := make([]LegendItem, len(labels))
	for i, label := range labels {
		c := SeriesColors[i%len(SeriesColors)]
		items[i] = LegendItem{Label: label, Color: lipgloss.Color(strconv.Itoa(int(c)))}
	}
	return items
}

// LegendItem represents a single legend entry.
type LegendItem struct {
	Label string
	Color lipgloss.Color
}
