// Package app implements the monitor's root Bubble Tea model. It owns the
// tab bar, the governor status line, notifications and the help overlay, and
// feeds the tabs from a shared State kept current by service events.
package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/services"
	"github.com/perpquant/mind-persona/internal/ui/styles"
)

// TabID identifies a tab.
type TabID int

const (
	// TabCalls shows the live call ledger.
	TabCalls TabID = iota
	// TabAudit shows the audit trail.
	TabAudit
	// TabInfo shows configuration and statistics.
	TabInfo

	tabCount
)

func (t TabID) String() string {
	switch t {
	case TabCalls:
		return "Calls"
	case TabAudit:
		return "Audit"
	case TabInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Tab is implemented by every tab model.
type Tab interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (Tab, tea.Cmd)
	View() string
	SetSize(width, height int)
	ShortHelp() []key.Binding
	FullHelp() [][]key.Binding
}

// chromeHeight is the rows taken by the tab bar and the status bar.
const chromeHeight = 3

// Model is the root application model.
type Model struct {
	state    *State
	services *services.Manager
	events   chan services.ServiceEvent

	tabs      []Tab
	activeTab TabID

	keys    KeyMap
	help    help.Model
	spinner spinner.Model

	width    int
	height   int
	ready    bool
	showHelp bool
}

// NewModel creates the root model. mgr may be nil, in which case the model
// only renders whatever is put into its State.
func NewModel(mgr *services.Manager) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.InfoTextStyle

	h := help.New()
	h.ShowAll = true
	h.Styles.FullKey = styles.HelpKeyStyle
	h.Styles.FullDesc = styles.HelpDescStyle
	h.Styles.FullSeparator = styles.HelpSeparatorStyle
	h.Styles.ShortKey = styles.HelpKeyStyle
	h.Styles.ShortDesc = styles.HelpDescStyle
	h.Styles.ShortSeparator = styles.HelpSeparatorStyle

	return &Model{
		state:    NewState(),
		services: mgr,
		tabs:     make([]Tab, tabCount),
		keys:     DefaultKeyMap(),
		help:     h,
		spinner:  s,
	}
}

// SetTabs installs the tab models in TabID order.
func (m *Model) SetTabs(tabs []Tab) {
	m.tabs = tabs
	m.resizeTabs()
}

// GetState returns the state shared with the tabs.
func (m *Model) GetState() *State {
	return m.state
}

func (m *Model) Init() tea.Cmd {
	m.state.SetLoadingNotification("Loading ledger and audit trail...")

	cmds := []tea.Cmd{m.spinner.Tick, defaultTickCmd()}
	if m.services != nil {
		cmds = append(cmds, subscribeToServicesCmd(m.services), loadInitialData(m.services))
	}
	for _, tab := range m.tabs {
		if tab != nil {
			cmds = append(cmds, tab.Init())
		}
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resizeTabs()
		return m, nil

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if handled {
			return m, cmd
		}
		// Keys go to the visible tab only.
		return m, m.updateTab(m.activeTab, msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case TickMsg:
		m.state.ClearExpiredNotifications()
		cmds = append(cmds, defaultTickCmd())

	case SubscriptionEventMsg:
		m.events = msg.Channel
		cmds = append(cmds, waitForServiceEventCmd(m.events))

	case ServiceEventMsg:
		cmds = append(cmds, m.handleServiceEvent(msg.Event))
		if m.events != nil {
			cmds = append(cmds, waitForServiceEventCmd(m.events))
		}

	case InitialLoadMsg:
		m.applySnapshot(msg)

	case StatsLoadedMsg:
		m.state.SetStats(msg.Stats)
		m.finishLoading("stats")

	case RefreshMsg:
		cmds = append(cmds, m.refresh())

	case ExportAuditMsg:
		if m.services != nil {
			cmds = append(cmds, exportAuditCmd(m.services))
		}

	case ExportResultMsg:
		cmds = append(cmds, m.handleExportResult(msg))

	case ClearAuditMsg:
		if m.services != nil {
			cmds = append(cmds, clearAuditCmd(m.services))
		}

	case ClearAuditResultMsg:
		cmds = append(cmds, notifySuccessCmd("Audit log cleared"))

	case AddNotificationMsg:
		id := m.state.AddNotification(msg.Type, msg.Message, msg.Duration)
		if msg.Duration > 0 {
			cmds = append(cmds, clearNotificationCmd(id, msg.Duration))
		}

	case RemoveNotificationMsg:
		m.state.RemoveNotification(msg.ID)

	case ClearExpiredNotificationsMsg:
		m.state.ClearExpiredNotifications()

	case TabSwitchMsg:
		m.switchTab(msg.Tab)
	}

	// Everything except keys reaches every tab, so hidden tabs stay in step
	// with the ledger and keep their spinners running.
	for id := range m.tabs {
		cmds = append(cmds, m.updateTab(TabID(id), msg))
	}
	return m, tea.Batch(cmds...)
}

// handleKey processes global bindings. While the help overlay is open every
// key is consumed.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return nil, true
	case m.showHelp:
		if key.Matches(msg, m.keys.Close) {
			m.showHelp = false
		}
		return nil, true
	case key.Matches(msg, m.keys.NextTab):
		m.cycleTab(1)
		return nil, true
	case key.Matches(msg, m.keys.PrevTab):
		m.cycleTab(-1)
		return nil, true
	case key.Matches(msg, m.keys.Refresh):
		return func() tea.Msg { return RefreshMsg{} }, true
	case key.Matches(msg, m.keys.ExportAudit):
		return func() tea.Msg { return ExportAuditMsg{} }, true
	}

	if id, ok := m.keys.tabFor(msg); ok {
		m.switchTab(id)
		return nil, true
	}
	return nil, false
}

func (m *Model) switchTab(id TabID) {
	if int(id) < 0 || int(id) >= len(m.tabs) {
		return
	}
	m.activeTab = id
	m.resizeTabs()
}

func (m *Model) cycleTab(delta int) {
	if n := len(m.tabs); n > 0 {
		m.switchTab(TabID((int(m.activeTab) + delta + n) % n))
	}
}

func (m *Model) updateTab(id TabID, msg tea.Msg) tea.Cmd {
	if int(id) >= len(m.tabs) || m.tabs[id] == nil {
		return nil
	}
	var cmd tea.Cmd
	m.tabs[id], cmd = m.tabs[id].Update(msg)
	return cmd
}

func (m *Model) resizeTabs() {
	if m.width == 0 || m.height == 0 {
		return
	}
	h := max(0, m.height-chromeHeight)
	for _, tab := range m.tabs {
		if tab != nil {
			tab.SetSize(m.width, h)
		}
	}
}

func (m *Model) applySnapshot(msg InitialLoadMsg) {
	m.state.SetCalls(msg.Calls.Calls, msg.Calls.Total, msg.Calls.ByModel)
	m.state.SetAudit(msg.Audit.Entries, msg.Audit.SizeBytes, msg.Audit.Chunk)
	m.state.SetAuditThreshold(msg.Threshold)
	m.state.SetFallbacks(msg.Fallbacks)
	m.state.SetStats(msg.Stats)
	m.finishLoading("initial", "calls", "audit", "stats")
}

func (m *Model) finishLoading(resources ...string) {
	for _, r := range resources {
		m.state.SetLoading(r, false)
	}
	if !m.state.AnyLoading() {
		m.state.ClearLoadingNotification()
	}
}

// refresh reloads the ledger, audit and statistics snapshots from the
// manager. Live events keep them current, so this only matters after a
// dropped subscription.
func (m *Model) refresh() tea.Cmd {
	if m.services == nil {
		return nil
	}
	m.state.SetLoading("calls", true)
	m.state.SetLoading("audit", true)
	m.state.SetLoadingNotification("Reloading ledger and audit trail...")
	return loadInitialData(m.services)
}

func (m *Model) handleExportResult(msg ExportResultMsg) tea.Cmd {
	if msg.Error != nil {
		return notifyErrorCmd(fmt.Sprintf("Audit export failed: %v", msg.Error))
	}
	return notifySuccessCmd("Audit log exported to " + msg.Path)
}

func (m *Model) handleServiceEvent(event services.ServiceEvent) tea.Cmd {
	switch e := event.(type) {
	case services.CallsChangedEvent:
		m.state.SetCalls(e.Calls, e.Total, e.ByModel)
		return func() tea.Msg { return CallsUpdatedMsg{} }

	case services.AuditChangedEvent:
		_, _, prevChunk := m.state.GetAudit()
		m.state.SetAudit(e.Entries, e.SizeBytes, e.Chunk)
		updated := func() tea.Msg { return AuditUpdatedMsg{} }
		if e.Chunk > prevChunk {
			return tea.Batch(updated, notifyInfoCmd(fmt.Sprintf("Audit log rotated into chunk %d", e.Chunk)))
		}
		return updated

	case services.GovernorEvent:
		return m.handleGovernorEvent(e.Event)

	case services.PolicyReloadedEvent:
		m.state.SetFallbacks(e.Fallbacks)
		return notifyInfoCmd(fmt.Sprintf("Fallback policy reloaded (%d models)", len(e.Fallbacks)))

	case services.ErrorEvent:
		return notifyErrorCmd(fmt.Sprintf("[%s] %v", e.Service, e.Error))

	case services.StatsEvent:
		m.state.SetStats(e)
	}
	return nil
}

func (m *Model) handleGovernorEvent(ev governor.Event) tea.Cmd {
	m.state.AddEvent(ev)
	relay := func() tea.Msg { return GovernorEventMsg{Event: ev} }

	switch ev.Type {
	case governor.EventFallback:
		return tea.Batch(relay, notifyWarningCmd(
			fmt.Sprintf("Quota exceeded on %s, falling back to %s", ev.FromModel, ev.Model)))
	case governor.EventFailed:
		return tea.Batch(relay, m.reloadStats(), notifyErrorCmd(
			fmt.Sprintf("%s call on %s failed: %s", ev.AgentName, ev.Model, ev.Error)))
	case governor.EventSucceeded:
		return tea.Batch(relay, m.reloadStats())
	}
	return relay
}

func (m *Model) reloadStats() tea.Cmd {
	if m.services == nil {
		return nil
	}
	return loadStatsCmd(m.services)
}
