package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/perpquant/mind-persona/internal/models"
)

func TestNewSpinner(t *testing.T) {
	s := NewSpinner("Loading")
	if s.label != "Loading" {
		t.Error("Spinner label mismatch")
	}
}

func TestSpinner_Methods(t *testing.T) {
	s := NewSpinner("Init")

	s.SetLabel("Loading")
	if s.Label() != "Loading" {
		t.Errorf("Label = %s, want Loading", s.Label())
	}

	if s.View() == "" {
		t.Error("View returned empty")
	}
	if !strings.Contains(s.ViewWithLabel(), "Loading") {
		t.Error("ViewWithLabel should contain the label")
	}
	if s.Init() == nil {
		t.Error("Init should return command")
	}

	_, cmd := s.Update(spinner.TickMsg{})
	if cmd == nil {
		t.Error("Update should return command for tick")
	}
	if s.Tick() == nil {
		t.Error("Tick should return command")
	}
	if s.Spinner().Spinner.Frames == nil {
		t.Error("Spinner accessor failed")
	}
}

func TestRenderSpinnerCentered(t *testing.T) {
	s := NewSpinner("Loading...")
	view := RenderSpinnerCentered(&s, 20, 5)
	if view == "" {
		t.Error("RenderSpinnerCentered returned empty")
	}
}

func TestRenderLineChart(t *testing.T) {
	if s := RenderLineChart([]float64{120, 340, 95, 410}, 20, 5, "latency"); !strings.Contains(s, "latency") {
		t.Errorf("RenderLineChart missing caption: %q", s)
	}
	if s := RenderLineChart(nil, 20, 5, "latency"); !strings.Contains(s, "No data") {
		t.Errorf("RenderLineChart(nil) = %q, want placeholder", s)
	}
}

func TestRenderMultiLineChart(t *testing.T) {
	s := RenderMultiLineChart([][]float64{{1, 2, 3}, {3, 2}}, 20, 5, "Title")
	if s == "" {
		t.Error("RenderMultiLineChart returned empty")
	}
	if s := RenderMultiLineChart([][]float64{nil, {}}, 20, 5, ""); !strings.Contains(s, "No data") {
		t.Errorf("RenderMultiLineChart(empty) = %q, want placeholder", s)
	}
}

func TestRenderBarChart(t *testing.T) {
	s := RenderBarChart([]float64{0.0125, 0.5}, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, 60, "$%.4f")
	lines := strings.Split(s, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[1], "$0.5000") {
		t.Errorf("second bar = %q, want formatted value", lines[1])
	}
	if RenderBarChart(nil, nil, 60, "") != "" {
		t.Error("RenderBarChart(nil) should be empty")
	}
}

func TestRenderSparkline(t *testing.T) {
	s := RenderSparkline([]float64{0, 4, 8}, 10)
	if s != "▁▄█" {
		t.Errorf("RenderSparkline = %q, want ▁▄█", s)
	}
	if got := []rune(RenderSparkline(make([]float64, 100), 10)); len(got) != 10 {
		t.Errorf("sparkline width = %d, want 10", len(got))
	}
}

func TestRenderColoredSparkline(t *testing.T) {
	if s := RenderColoredSparkline([]float64{1, 2, 3}, 10); s == "" {
		t.Error("RenderColoredSparkline returned empty")
	}
}

func TestRenderLegend(t *testing.T) {
	s := RenderLegend([]LegendItem{{Label: "flash", Color: lipgloss.Color("#ffffff")}})
	if !strings.Contains(s, "flash") {
		t.Error("RenderLegend missing label")
	}
}

func TestUsageBar(t *testing.T) {
	bar := NewUsageBar()

	view := bar.View("Audit log", 512, 1024, 80)
	if !strings.Contains(view, "50.0%") {
		t.Errorf("View = %q, want percentage", view)
	}
	if !strings.Contains(bar.View("Audit log", 512, 0, 80), "rotation disabled") {
		t.Error("zero limit should render as disabled")
	}
}

func TestSimpleUsageBar(t *testing.T) {
	if s := SimpleUsageBar(75, "size", 40); !strings.Contains(s, "75%") {
		t.Errorf("SimpleUsageBar = %q, want 75%%", s)
	}
	if RenderGradientBar(50, 0) != "" {
		t.Error("zero width bar should be empty")
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{FormatBytes(512), "512 B"},
		{FormatBytes(2048), "2.0 KB"},
		{FormatBytes(3 << 20), "3.0 MB"},
		{FormatTokens(999), "999"},
		{FormatTokens(1500), "1.5k"},
		{FormatTokens(2_500_000), "2.5M"},
		{FormatCost(0.5), "$0.5000"},
		{FormatCost(0.000125), "$0.000125"},
		{FormatCost(0), "$0.0000"},
		{FormatDuration(0), "-"},
		{FormatDuration(250 * time.Millisecond), "250ms"},
		{FormatDuration(1500 * time.Millisecond), "1.5s"},
		{Truncate("hello   world", 20), "hello world"},
		{Truncate("hello world", 8), "hello..."},
		{Truncate("hello", 2), "he"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStatusBadge(t *testing.T) {
	if s := StatusBadge(models.StatusFailed); !strings.Contains(s, "Failed") {
		t.Errorf("StatusBadge = %q, want status name", s)
	}
	if s := StatusBadge(models.CallStatus("weird")); !strings.Contains(s, "?") {
		t.Errorf("StatusBadge(unknown) = %q, want ?", s)
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("# Plan\n\n- step one", 60)
	if !strings.Contains(out, "step") {
		t.Errorf("RenderMarkdown = %q, want rendered text", out)
	}
}

func TestSeriesLegend(t *testing.T) {
	items := SeriesLegend([]string{"a", "b", "c", "d", "e", "f"})
	if len(items) != 6 {
		t.Fatalf("len = %d, want 6", len(items))
	}
	if items[0].Color != lipgloss.Color("12") {
		t.Errorf("first color = %q, want 12 (blue)", items[0].Color)
	}
	if items[5].Color != items[0].Color {
		t.Error("colors should cycle")
	}
}
