package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// KeyMap holds the bindings handled by the root model before a tab sees the
// key. It satisfies help.KeyMap.
type KeyMap struct {
	Tabs        []key.Binding
	NextTab     key.Binding
	PrevTab     key.Binding
	Refresh     key.Binding
	ExportAudit key.Binding
	Help        key.Binding
	Close       key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default bindings. Tab bindings follow the order
// of TabCalls, TabAudit, TabInfo.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Tabs: []key.Binding{
			key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "calls")),
			key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "audit")),
			key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "info")),
		},
		NextTab:     key.NewBinding(key.WithKeys("tab", "right"), key.WithHelp("tab/→", "next tab")),
		PrevTab:     key.NewBinding(key.WithKeys("shift+tab", "left"), key.WithHelp("shift+tab/←", "prev tab")),
		Refresh:     key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "reload ledger, audit and stats")),
		ExportAudit: key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "export audit log")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Close:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close help")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

// FullHelp returns the bindings shown in the help overlay, one column each.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		append(append([]key.Binding(nil), k.Tabs...), k.NextTab, k.PrevTab),
		{k.Refresh, k.ExportAudit},
		{k.Help, k.Close, k.Quit},
	}
}

// tabFor returns the tab whose numeric binding matches msg.
func (k KeyMap) tabFor(msg tea.KeyMsg) (TabID, bool) {
	for i, b := range k.Tabs {
		if key.Matches(msg, b) {
			return TabID(i), true
		}
	}
	return 0, false
}
