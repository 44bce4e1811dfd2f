// Package audit provides the audit trail tab.
package audit

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/app"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/ui/components"
)

// keyMap defines the key bindings specific to the audit tab.
type keyMap struct {
	Export key.Binding
	Clear  key.Binding
	Filter key.Binding
	Up     key.Binding
	Down   key.Binding
}

// defaultKeyMap returns the default key bindings for the audit tab.
func defaultKeyMap() keyMap {
	return keyMap{
		Export: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "export"),
		),
		Clear: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "clear"),
		),
		Filter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "cycle type filter"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
	}
}

// filters is the order the type filter cycles through; empty means all.
var filters = []models.AuditEventType{
	"",
	models.AuditAPICall,
	models.AuditAgentAction,
	models.AuditStateChange,
	models.AuditSystemEvent,
	models.AuditUserInteraction,
}

// Model represents the audit tab state.
type Model struct {
	state    *app.State
	usageBar components.UsageBar
	keys     keyMap
	viewport viewport.Model
	width    int
	height   int
	filter   int
}

// New creates a new audit model.
func New(state *app.State) *Model {
	return &Model{
		state:    state,
		usageBar: components.NewUsageBar(),
		keys:     defaultKeyMap(),
		viewport: viewport.New(0, 0),
	}
}

// Init initializes the audit tab.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the audit tab.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case app.AuditUpdatedMsg:
		m.viewport.GotoTop()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Export):
			return m, func() tea.Msg { return app.ExportAuditMsg{} }
		case key.Matches(msg, m.keys.Clear):
			return m, func() tea.Msg { return app.ClearAuditMsg{} }
		case key.Matches(msg, m.keys.Filter):
			m.filter = (m.filter + 1) % len(filters)
			m.viewport.GotoTop()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// Filter returns the event type currently shown; empty means all types.
func (m *Model) Filter() models.AuditEventType {
	return filters[m.filter]
}

// SetSize sets the available size for the audit tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{
		m.keys.Export,
		m.keys.Clear,
		m.keys.Filter,
	}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.Export, m.keys.Clear},
		{m.keys.Filter},
		{m.keys.Up, m.keys.Down},
	}
}
