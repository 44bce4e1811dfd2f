package app

import (
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/perpquant/mind-persona/internal/services"
)

const (
	// DefaultTickInterval is the default interval between ticks.
	DefaultTickInterval = 2 * time.Second

	// DefaultNotificationDuration is the default duration for notifications.
	DefaultNotificationDuration = 5 * time.Second

	// QuickNotificationDuration is for brief notifications.
	QuickNotificationDuration = 3 * time.Second

	// LongNotificationDuration is for important notifications.
	LongNotificationDuration = 10 * time.Second
)

// tickCmd returns a command that sends a TickMsg after the specified interval.
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// defaultTickCmd returns a command that sends a TickMsg after the default interval.
func defaultTickCmd() tea.Cmd {
	return tickCmd(DefaultTickInterval)
}

// loadInitialData returns a command that snapshots the ledger, the audit
// trail, the policy and the statistics.
func loadInitialData(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		total, byModel := mgr.Ledger().Summary()
		trail := mgr.Trail()

		return InitialLoadMsg{
			Calls: services.CallsChangedEvent{
				Calls:   mgr.Ledger().Snapshot(),
				Total:   total,
				ByModel: byModel,
			},
			Audit: services.AuditChangedEvent{
				Entries:   trail.Entries(),
				SizeBytes: trail.SizeBytes(),
				Chunk:     trail.ChunkCounter(),
			},
			Stats:     mgr.GetStats(),
			Fallbacks: mgr.Policy().Current().Fallbacks(),
			Threshold: trail.DownloadThreshold(),
		}
	}
}

// loadStatsCmd returns a command that loads statistics.
func loadStatsCmd(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		return StatsLoadedMsg{Stats: mgr.GetStats()}
	}
}

// exportAuditCmd returns a command that exports the audit trail.
func exportAuditCmd(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		name, err := mgr.ExportAudit()
		if err != nil {
			return ExportResultMsg{Error: err}
		}
		return ExportResultMsg{Path: filepath.Join(mgr.Config().ExportDir, name)}
	}
}

// clearAuditCmd returns a command that clears the audit trail.
func clearAuditCmd(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		mgr.ClearAudit()
		return ClearAuditResultMsg{}
	}
}

// subscribeToServicesCmd returns a command that subscribes to service events.
func subscribeToServicesCmd(mgr *services.Manager) tea.Cmd {
	ch, _ := mgr.Subscribe()
	return func() tea.Msg {
		return SubscriptionEventMsg{Channel: ch}
	}
}

// waitForServiceEventCmd returns a command that waits for the next service event.
func waitForServiceEventCmd(ch <-chan services.ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return ServiceEventMsg{Event: event}
	}
}

// clearNotificationCmd returns a command that removes a notification after a delay.
func clearNotificationCmd(id string, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(_ time.Time) tea.Msg {
		return RemoveNotificationMsg{ID: id}
	})
}

func notifyCmd(typ NotificationType, message string, d time.Duration) tea.Cmd {
	return func() tea.Msg {
		return AddNotificationMsg{Type: typ, Message: message, Duration: d}
	}
}

// notifySuccessCmd returns a command that adds a success notification.
func notifySuccessCmd(message string) tea.Cmd {
	return notifyCmd(NotificationSuccess, message, DefaultNotificationDuration)
}

// notifyErrorCmd returns a command that adds an error notification.
func notifyErrorCmd(message string) tea.Cmd {
	return notifyCmd(NotificationError, message, LongNotificationDuration)
}

// notifyWarningCmd returns a command that adds a warning notification.
func notifyWarningCmd(message string) tea.Cmd {
	return notifyCmd(NotificationWarning, message, DefaultNotificationDuration)
}

// notifyInfoCmd returns a command that adds an info notification.
func notifyInfoCmd(message string) tea.Cmd {
	return notifyCmd(NotificationInfo, message, QuickNotificationDuration)
}
