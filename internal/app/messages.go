package app

import (
	"time"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/services"
)

// TickMsg is sent periodically to trigger state refresh.
type TickMsg struct {
	Time time.Time
}

// InitialLoadMsg carries everything the tabs need on startup.
type InitialLoadMsg struct {
	Calls     services.CallsChangedEvent
	Audit     services.AuditChangedEvent
	Stats     services.StatsEvent
	Fallbacks map[string]string
	Threshold int64
}

// StatsLoadedMsg contains loaded statistics.
type StatsLoadedMsg struct {
	Stats services.StatsEvent
}

// CallsUpdatedMsg tells tabs the ledger snapshot in State changed.
type CallsUpdatedMsg struct{}

// AuditUpdatedMsg tells tabs the audit snapshot in State changed.
type AuditUpdatedMsg struct{}

// GovernorEventMsg relays a governor event to tabs.
type GovernorEventMsg struct {
	Event governor.Event
}

// ExportAuditMsg requests writing the audit trail to the export directory.
type ExportAuditMsg struct{}

// ExportResultMsg contains the result of an export operation.
type ExportResultMsg struct {
	Error error
	Path  string
}

// ClearAuditMsg requests clearing the audit trail.
type ClearAuditMsg struct{}

// ClearAuditResultMsg confirms the audit trail was cleared.
type ClearAuditResultMsg struct{}

// RefreshMsg requests reloading the ledger, audit and statistics snapshots.
type RefreshMsg struct{}

// AddNotificationMsg requests adding a new notification.
type AddNotificationMsg struct {
	Type     NotificationType
	Message  string
	Duration time.Duration
}

// RemoveNotificationMsg requests removal of a notification.
type RemoveNotificationMsg struct {
	ID string
}

// ClearExpiredNotificationsMsg triggers clearing of expired notifications.
type ClearExpiredNotificationsMsg struct{}

// ServiceEventMsg wraps a service event from the service manager.
type ServiceEventMsg struct {
	Event services.ServiceEvent
}

// SubscriptionEventMsg is the callback wrapper for service subscription.
type SubscriptionEventMsg struct {
	Channel chan services.ServiceEvent
}

// TabSwitchMsg requests switching to a specific tab.
type TabSwitchMsg struct {
	Tab TabID
}
