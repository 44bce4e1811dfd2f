package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/services"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil)
	if model == nil {
		t.Fatal("NewModel returned nil")
	}
	if model.state == nil {
		t.Error("State should be initialized")
	}
	if model.activeTab != TabCalls {
		t.Error("Default tab should be Calls")
	}
	if len(model.tabs) != 3 {
		t.Errorf("Should have 3 tabs placeholder, got %d", len(model.tabs))
	}
}

func TestModel_Init(t *testing.T) {
	model := NewModel(nil)
	if model.Init() == nil {
		t.Error("Init returned nil command")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	model := NewModel(nil)

	newModel, _ := model.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
	m, ok := newModel.(*Model)
	if !ok {
		t.Fatal("Update returned wrong model type")
	}

	if m.width != 100 || m.height != 50 {
		t.Errorf("size = %dx%d, want 100x50", m.width, m.height)
	}
	if !m.ready {
		t.Error("Model should be ready after WindowSizeMsg")
	}
}

func TestModel_Update_TabSwitch(t *testing.T) {
	model := NewModel(nil)
	model.ready = true
	model.width = 100
	model.height = 50

	newModel, _ := model.Update(TabSwitchMsg{Tab: TabAudit})
	if m := newModel.(*Model); m.activeTab != TabAudit {
		t.Errorf("ActiveTab = %v, want Audit", m.activeTab)
	}

	model.Update(keyRunes('3'))
	if model.activeTab != TabInfo {
		t.Errorf("ActiveTab = %v, want Info after key 3", model.activeTab)
	}

	model.Update(tea.KeyMsg{Type: tea.KeyTab})
	if model.activeTab != TabCalls {
		t.Errorf("ActiveTab = %v, want Calls after wrapping", model.activeTab)
	}

	model.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if model.activeTab != TabInfo {
		t.Errorf("ActiveTab = %v, want Info after wrapping back", model.activeTab)
	}
}

func keyRunes(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_Update_Tick(t *testing.T) {
	model := NewModel(nil)
	_, cmd := model.Update(TickMsg{Time: time.Now()})
	if cmd == nil {
		t.Error("TickMsg should return a command (next tick)")
	}
}

func TestModel_View(t *testing.T) {
	model := NewModel(nil)

	if view := model.View(); !strings.Contains(view, "Loading...") {
		t.Error("View should show Loading when not ready")
	}

	model.ready = true
	model.width = 80
	model.height = 24

	view := model.View()
	for _, name := range []string{"Calls", "Audit", "Info"} {
		if !strings.Contains(view, name) {
			t.Errorf("View should show %s tab", name)
		}
	}
	if !strings.Contains(view, "not yet implemented") {
		t.Error("View should show placeholder text")
	}
}

func TestModel_Help(t *testing.T) {
	model := NewModel(nil)
	model.ready = true
	model.width = 80
	model.height = 24

	model.width = 100

	model.Update(keyRunes('?'))
	if !model.showHelp {
		t.Fatal("showHelp should be true")
	}
	view := model.View()
	for _, want := range []string{"Keyboard Shortcuts", "export audit log", "reload ledger"} {
		if !strings.Contains(view, want) {
			t.Errorf("help overlay should contain %q", want)
		}
	}

	// Keys other than the help toggles are swallowed while the overlay is open.
	model.Update(keyRunes('2'))
	if model.activeTab != TabCalls {
		t.Errorf("ActiveTab = %v, tab keys should be ignored under help", model.activeTab)
	}

	model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if model.showHelp {
		t.Error("esc should close help")
	}

	model.Update(keyRunes('?'))
	model.Update(keyRunes('?'))
	if model.showHelp {
		t.Error("showHelp should be false after second toggle")
	}
}

func TestModel_GlobalActionKeys(t *testing.T) {
	model := NewModel(nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	if cmd == nil {
		t.Fatal("ctrl+e should return a command")
	}
	if _, ok := cmd().(ExportAuditMsg); !ok {
		t.Error("ctrl+e should emit ExportAuditMsg")
	}

	_, cmd = model.Update(keyRunes('r'))
	if cmd == nil {
		t.Fatal("r should return a command")
	}
	if _, ok := cmd().(RefreshMsg); !ok {
		t.Error("r should emit RefreshMsg")
	}

	_, cmd = model.Update(keyRunes('q'))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

type recordingTab struct {
	msgs []tea.Msg
	view string
	w, h int
}

func (r *recordingTab) Init() tea.Cmd { return nil }

func (r *recordingTab) Update(msg tea.Msg) (Tab, tea.Cmd) {
	r.msgs = append(r.msgs, msg)
	return r, nil
}

func (r *recordingTab) View() string              { return r.view }
func (r *recordingTab) SetSize(w, h int)          { r.w, r.h = w, h }
func (r *recordingTab) ShortHelp() []key.Binding  { return nil }
func (r *recordingTab) FullHelp() [][]key.Binding { return nil }

func TestModel_RoutesMessagesToTabs(t *testing.T) {
	model := NewModel(nil)
	calls, audit, info := &recordingTab{view: "calls body"}, &recordingTab{}, &recordingTab{}
	model.SetTabs([]Tab{calls, audit, info})

	model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	if calls.w != 100 || calls.h != 30-chromeHeight {
		t.Errorf("tab size = %dx%d, want 100x%d", calls.w, calls.h, 30-chromeHeight)
	}

	model.Update(CallsUpdatedMsg{})
	for i, tab := range []*recordingTab{calls, audit, info} {
		if len(tab.msgs) != 1 {
			t.Errorf("tab %d got %d msgs, want the broadcast update", i, len(tab.msgs))
		}
	}

	model.Update(keyRunes('j'))
	if len(calls.msgs) != 2 {
		t.Errorf("active tab got %d msgs, want the key too", len(calls.msgs))
	}
	if len(audit.msgs) != 1 || len(info.msgs) != 1 {
		t.Error("hidden tabs should not receive keys")
	}

	if view := model.View(); !strings.Contains(view, "calls body") {
		t.Error("View should render the active tab")
	}
}

func TestModel_HeaderShowsGovernorStatus(t *testing.T) {
	model := NewModel(nil)
	model.Update(tea.WindowSizeMsg{Width: 120, Height: 24})

	if view := model.View(); !strings.Contains(view, "governor idle") {
		t.Error("idle governor should be shown in the header")
	}

	model.state.SetCalls([]models.CallRecord{
		{ID: "a", Status: models.StatusProcessing},
		{ID: "b", Status: models.StatusRetrying},
		{ID: "c", Status: models.StatusSuccess},
	}, models.Usage{Calls: 3}, nil)
	model.state.SetStats(services.StatsEvent{Governor: governor.Stats{Queued: 4}})

	view := model.View()
	for _, want := range []string{"1 active", "1 retrying", "4 queued"} {
		if !strings.Contains(view, want) {
			t.Errorf("header should contain %q", want)
		}
	}
	if strings.Contains(view, "governor idle") {
		t.Error("busy governor should not read idle")
	}
}

func TestModel_StatusBar(t *testing.T) {
	model := NewModel(nil)
	model.Update(tea.WindowSizeMsg{Width: 140, Height: 24})

	model.state.SetCalls(nil, models.Usage{Calls: 7, Failures: 2, EstimatedCost: 0.125}, nil)
	model.state.SetAudit(nil, 2048, 3)
	model.state.SetAuditThreshold(1 << 20)
	model.state.SetStats(services.StatsEvent{Governor: governor.Stats{Retries: 5, Fallbacks: 1}})

	lines := strings.Split(model.View(), "\n")
	bar := lines[len(lines)-1]
	for _, want := range []string{
		"7 calls",
		"$0.1250",
		"2 failed",
		"5 retries, 1 fallbacks",
		"audit 2.0 KB / 1.0 MB (chunk 3)",
		"updated",
		"? toggle help",
	} {
		if !strings.Contains(bar, want) {
			t.Errorf("status bar %q should contain %q", bar, want)
		}
	}
}

func TestModel_Notifications(t *testing.T) {
	model := NewModel(nil)

	model.Update(AddNotificationMsg{Message: "Test Note", Type: NotificationInfo})
	if n := len(model.state.GetNotifications()); n != 1 {
		t.Errorf("Expected 1 notification, got %d", n)
	}

	model.ready = true
	model.width = 80
	model.height = 24
	if view := model.View(); !strings.Contains(view, "Test Note") {
		t.Error("View should show notification")
	}
}

func runCmd(t *testing.T, cmd tea.Cmd) []tea.Msg {
	t.Helper()
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(t, c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func TestModel_HandleServiceEvent(t *testing.T) {
	model := NewModel(nil)

	model.handleServiceEvent(services.StatsEvent{Session: models.Usage{Calls: 5}})
	if model.state.GetStats().Session.Calls != 5 {
		t.Error("Stats should be updated")
	}

	calls := []models.CallRecord{{ID: "a", Model: "gemini-2.5-flash", Status: models.StatusSuccess}}
	msgs := runCmd(t, model.handleServiceEvent(services.CallsChangedEvent{
		Calls: calls,
		Total: models.Usage{Calls: 1},
	}))
	if model.state.GetCallCount() != 1 {
		t.Error("Calls should be updated")
	}
	if len(msgs) != 1 {
		t.Fatalf("msgs = %v, want CallsUpdatedMsg", msgs)
	}
	if _, ok := msgs[0].(CallsUpdatedMsg); !ok {
		t.Errorf("msg = %T, want CallsUpdatedMsg", msgs[0])
	}

	msgs = runCmd(t, model.handleServiceEvent(services.AuditChangedEvent{
		Entries:   []models.AuditEntry{{ID: "1", Type: models.AuditAPICall}},
		SizeBytes: 42,
		Chunk:     2,
	}))
	var rotated bool
	for _, msg := range msgs {
		if n, ok := msg.(AddNotificationMsg); ok && strings.Contains(n.Message, "rotated into chunk 2") {
			rotated = true
		}
	}
	if !rotated {
		t.Errorf("msgs = %#v, want rotation notice", msgs)
	}
	msgs = runCmd(t, model.handleServiceEvent(services.AuditChangedEvent{SizeBytes: 42, Chunk: 2}))
	if len(msgs) != 1 {
		t.Errorf("msgs = %#v, want only AuditUpdatedMsg without rotation", msgs)
	}
	model.handleServiceEvent(services.AuditChangedEvent{
		Entries:   []models.AuditEntry{{ID: "1", Type: models.AuditAPICall}},
		SizeBytes: 42,
		Chunk:     2,
	})
	entries, size, chunk := model.state.GetAudit()
	if len(entries) != 1 || size != 42 || chunk != 2 {
		t.Errorf("audit = %d entries, %d bytes, chunk %d", len(entries), size, chunk)
	}

	cmd := model.handleServiceEvent(services.ErrorEvent{Service: "policy", Error: errors.New("bad yaml")})
	msgs = runCmd(t, cmd)
	if len(msgs) != 1 {
		t.Fatalf("msgs = %v, want one notification", msgs)
	}
	if n, ok := msgs[0].(AddNotificationMsg); !ok || n.Type != NotificationError {
		t.Errorf("msg = %#v, want error notification", msgs[0])
	}

	model.handleServiceEvent(services.PolicyReloadedEvent{Fallbacks: map[string]string{"a": "b"}})
	if model.state.GetFallbacks()["a"] != "b" {
		t.Error("Fallbacks should be updated")
	}
}

func TestModel_HandleGovernorEvent(t *testing.T) {
	model := NewModel(nil)

	msgs := runCmd(t, model.handleServiceEvent(services.GovernorEvent{Event: governor.Event{
		Type:      governor.EventFallback,
		FromModel: "gemini-2.5-pro",
		Model:     "gemini-2.5-flash",
	}}))

	var relayed, warned bool
	for _, msg := range msgs {
		switch msg := msg.(type) {
		case GovernorEventMsg:
			relayed = true
		case AddNotificationMsg:
			warned = msg.Type == NotificationWarning && strings.Contains(msg.Message, "gemini-2.5-flash")
		}
	}
	if !relayed || !warned {
		t.Errorf("msgs = %#v, want relay and warning", msgs)
	}
	if n := len(model.state.GetEvents()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestModel_Update_Messages(t *testing.T) {
	model := NewModel(nil)

	model.Init()
	if !model.state.AnyLoading() {
		t.Error("Init should mark the initial load in progress")
	}

	model.Update(InitialLoadMsg{
		Calls:     services.CallsChangedEvent{Calls: []models.CallRecord{{ID: "a"}}},
		Audit:     services.AuditChangedEvent{SizeBytes: 10},
		Stats:     services.StatsEvent{Session: models.Usage{Calls: 1}},
		Fallbacks: map[string]string{"gemini-2.5-pro": "gemini-2.5-flash"},
		Threshold: 1024,
	})
	if model.state.GetCallCount() != 1 {
		t.Error("Calls should be loaded")
	}
	if model.state.GetAuditThreshold() != 1024 {
		t.Error("Threshold should be loaded")
	}
	if model.state.AnyLoading() {
		t.Error("nothing should be loading after the snapshot")
	}
	for _, n := range model.state.GetNotifications() {
		if n.ID == LoadingNotificationID {
			t.Error("loading notification should be cleared")
		}
	}

	model.Update(StatsLoadedMsg{Stats: services.StatsEvent{Session: models.Usage{Calls: 2}}})
	if model.state.GetStats().Session.Calls != 2 {
		t.Error("Stats should be updated")
	}

	msgs := runCmd(t, model.handleExportResult(ExportResultMsg{Path: "/tmp/audit.json"}))
	if n, ok := msgs[0].(AddNotificationMsg); !ok || n.Type != NotificationSuccess {
		t.Errorf("export success msg = %#v", msgs[0])
	}
	msgs = runCmd(t, model.handleExportResult(ExportResultMsg{Error: errors.New("disk full")}))
	if n, ok := msgs[0].(AddNotificationMsg); !ok || n.Type != NotificationError {
		t.Errorf("export failure msg = %#v", msgs[0])
	}

	// Without services these are no-ops.
	model.Update(RefreshMsg{})
	model.Update(ExportAuditMsg{})
	model.Update(ClearAuditMsg{})

	model.Update(AddNotificationMsg{Message: "test", Type: NotificationInfo})
	model.Update(RemoveNotificationMsg{ID: "nonexistent"})
	model.Update(ClearExpiredNotificationsMsg{})
}

func TestModel_HandleSpinnerTick(t *testing.T) {
	model := NewModel(nil)
	_, cmd := model.Update(spinner.TickMsg{})
	if cmd == nil {
		t.Error("Spinner tick should return command")
	}
}

func TestTabID_String(t *testing.T) {
	tests := []struct {
		tab  TabID
		want string
	}{
		{TabCalls, "Calls"},
		{TabAudit, "Audit"},
		{TabInfo, "Info"},
		{TabID(999), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.tab.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDefaultKeyMap(t *testing.T) {
	km := DefaultKeyMap()
	if len(km.ShortHelp()) == 0 {
		t.Error("ShortHelp empty")
	}
	if len(km.FullHelp()) == 0 {
		t.Error("FullHelp empty")
	}
}
