package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/config"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/services"
)

func newTestManager(t *testing.T) *services.Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DatabasePath:   filepath.Join(dir, "persona.db"),
		ExportDir:      filepath.Join(dir, "exports"),
		DefaultModel:   "gemini-2.5-flash",
		AuditThreshold: 1024,
		Governor: config.GovernorConfig{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxConcurrent:  1,
		},
	}
	mgr, err := services.NewManager(cfg, services.Options{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestTickCmd(t *testing.T) {
	msg := tickCmd(time.Millisecond)()
	if _, ok := msg.(TickMsg); !ok {
		t.Errorf("Expected TickMsg, got %T", msg)
	}
}

func TestNotifyCmds(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) tea.Cmd
		want NotificationType
	}{
		{"Success", notifySuccessCmd, NotificationSuccess},
		{"Error", notifyErrorCmd, NotificationError},
		{"Warning", notifyWarningCmd, NotificationWarning},
		{"Info", notifyInfoCmd, NotificationInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.fn("msg")()

			addMsg, ok := msg.(AddNotificationMsg)
			if !ok {
				t.Fatalf("Expected AddNotificationMsg, got %T", msg)
			}
			if addMsg.Type != tt.want {
				t.Errorf("Type = %v, want %v", addMsg.Type, tt.want)
			}
			if addMsg.Message != "msg" {
				t.Errorf("Message = %q, want msg", addMsg.Message)
			}
			if addMsg.Duration <= 0 {
				t.Error("Duration should be positive")
			}
		})
	}
}

func TestClearNotificationCmd(t *testing.T) {
	msg := clearNotificationCmd("id", time.Millisecond)()
	rm, ok := msg.(RemoveNotificationMsg)
	if !ok {
		t.Fatalf("Expected RemoveNotificationMsg, got %T", msg)
	}
	if rm.ID != "id" {
		t.Errorf("ID = %q, want id", rm.ID)
	}
}

func TestLoadInitialData(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Trail().LogEvent(models.AuditStateChange, map[string]any{"key": "value"})

	msg, ok := loadInitialData(mgr)().(InitialLoadMsg)
	if !ok {
		t.Fatal("Expected InitialLoadMsg")
	}
	if len(msg.Audit.Entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(msg.Audit.Entries))
	}
	if msg.Audit.SizeBytes <= 0 {
		t.Error("audit size should be positive")
	}
	if msg.Fallbacks["gemini-2.5-pro"] != "gemini-2.5-flash" {
		t.Errorf("fallbacks = %v", msg.Fallbacks)
	}
	if msg.Threshold != 1024*1024 {
		t.Errorf("threshold = %d, want 1 MiB", msg.Threshold)
	}
}

func TestExportAndClearAuditCmds(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Trail().LogEvent(models.AuditStateChange, map[string]any{"key": "value"})

	res, ok := exportAuditCmd(mgr)().(ExportResultMsg)
	if !ok {
		t.Fatal("Expected ExportResultMsg")
	}
	if res.Error != nil {
		t.Fatalf("export failed: %v", res.Error)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("exported file missing: %v", err)
	}

	if _, ok := clearAuditCmd(mgr)().(ClearAuditResultMsg); !ok {
		t.Fatal("Expected ClearAuditResultMsg")
	}
	if n := len(mgr.Trail().Entries()); n != 0 {
		t.Errorf("entries after clear = %d, want 0", n)
	}

	if _, ok := loadStatsCmd(mgr)().(StatsLoadedMsg); !ok {
		t.Error("Expected StatsLoadedMsg")
	}
}

func TestWaitForServiceEventCmd(t *testing.T) {
	ch := make(chan services.ServiceEvent, 1)
	ch <- services.ErrorEvent{Service: "test"}

	msg, ok := waitForServiceEventCmd(ch)().(ServiceEventMsg)
	if !ok {
		t.Fatal("Expected ServiceEventMsg")
	}
	if e, ok := msg.Event.(services.ErrorEvent); !ok || e.Service != "test" {
		t.Errorf("event = %#v", msg.Event)
	}

	close(ch)
	if msg := waitForServiceEventCmd(ch)(); msg != nil {
		t.Errorf("closed channel should yield nil, got %#v", msg)
	}
}
