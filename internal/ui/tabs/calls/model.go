// Package calls provides the call ledger tab.
package calls

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/app"
	"github.com/perpquant/mind-persona/internal/ui/components"
)

// keyMap defines the key bindings specific to the calls tab.
type keyMap struct {
	NextCall  key.Binding
	PrevCall  key.Binding
	FirstCall key.Binding
	LastCall  key.Binding
	Detail    key.Binding
}

// defaultKeyMap returns the default key bindings for the calls tab.
func defaultKeyMap() keyMap {
	return keyMap{
		NextCall: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j", "next call"),
		),
		PrevCall: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k", "prev call"),
		),
		FirstCall: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "newest"),
		),
		LastCall: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "oldest"),
		),
		Detail: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "toggle detail"),
		),
	}
}

// Model represents the calls tab state.
type Model struct {
	state         *app.State
	spinner       components.LoadingSpinner
	keys          keyMap
	viewport      viewport.Model
	width         int
	height        int
	selectedIndex int
	showDetail    bool
}

// New creates a new calls model.
func New(state *app.State) *Model {
	return &Model{
		state:      state,
		spinner:    components.NewSpinner("Loading calls..."),
		keys:       defaultKeyMap(),
		viewport:   viewport.New(0, 0),
		showDetail: true,
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Init()
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case app.CallsUpdatedMsg, app.InitialLoadMsg:
		m.clampSelection()

	case tea.KeyMsg:
		cmds = append(cmds, m.handleKeyMsg(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	count := m.state.GetCallCount()

	switch {
	case key.Matches(msg, m.keys.NextCall):
		if count > 0 {
			m.selectedIndex = (m.selectedIndex + 1) % count
		}
	case key.Matches(msg, m.keys.PrevCall):
		if count > 0 {
			m.selectedIndex = (m.selectedIndex - 1 + count) % count
		}
	case key.Matches(msg, m.keys.FirstCall):
		m.selectedIndex = 0
	case key.Matches(msg, m.keys.LastCall):
		if count > 0 {
			m.selectedIndex = count - 1
		}
	case key.Matches(msg, m.keys.Detail):
		m.showDetail = !m.showDetail
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
	return nil
}

// clampSelection keeps the cursor on a record after the ledger shrinks.
func (m *Model) clampSelection() {
	count := m.state.GetCallCount()
	if m.selectedIndex >= count {
		m.selectedIndex = max(count-1, 0)
	}
}

// SetSize sets the available size for the tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
}

// Selected returns the index of the highlighted record, newest first.
func (m *Model) Selected() int {
	return m.selectedIndex
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{
		m.keys.NextCall,
		m.keys.PrevCall,
		m.keys.Detail,
	}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.NextCall, m.keys.PrevCall},
		{m.keys.FirstCall, m.keys.LastCall},
		{m.keys.Detail},
	}
}
