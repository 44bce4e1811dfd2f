package app

import (
	"maps"
	"sync"
	"time"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/services"
)

// NotificationType defines the type of notification.
type NotificationType int

const (
	// NotificationSuccess represents a success notification.
	NotificationSuccess NotificationType = iota
	// NotificationError represents an error notification.
	NotificationError
	// NotificationWarning represents a warning notification.
	NotificationWarning
	// NotificationInfo represents an informational notification.
	NotificationInfo
	// NotificationLoading represents a loading notification with spinner.
	NotificationLoading
)

const (
	// LoadingNotificationID is the fixed ID for loading notifications.
	LoadingNotificationID = "__loading__"
)

// String returns the string representation of a NotificationType.
func (n NotificationType) String() string {
	switch n {
	case NotificationSuccess:
		return "success"
	case NotificationError:
		return "error"
	case NotificationWarning:
		return "warning"
	case NotificationInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Notification represents a user-facing notification message.
type Notification struct {
	ID        string
	Type      NotificationType
	Message   string
	CreatedAt time.Time
	Duration  time.Duration
}

// IsExpired returns true if the notification has expired.
func (n *Notification) IsExpired() bool {
	if n.Duration <= 0 {
		return false
	}
	return time.Since(n.CreatedAt) > n.Duration
}

// LoadingState tracks loading states for different resources.
type LoadingState struct {
	Initial bool
	Calls   bool
	Audit   bool
	Stats   bool
}

// maxEvents bounds the governor event feed kept for display.
const maxEvents = 50

// State is shared by the root model and all tabs.
type State struct {
	mu sync.RWMutex

	Calls   []models.CallRecord
	Total   models.Usage
	ByModel map[string]models.Usage

	AuditEntries   []models.AuditEntry
	AuditSize      int64
	AuditChunk     int
	AuditThreshold int64

	Stats     *services.StatsEvent
	Events    []governor.Event
	Fallbacks map[string]string

	Loading LoadingState

	LastUpdated time.Time

	notifications   []Notification
	notificationSeq int
}

// NewState creates an empty state with the initial load pending.
func NewState() *State {
	return &State{
		Calls:         make([]models.CallRecord, 0),
		ByModel:       make(map[string]models.Usage),
		notifications: make([]Notification, 0),
		Loading: LoadingState{
			Initial: true,
		},
	}
}

// SetLoading sets the loading state for a specific resource.
func (s *State) SetLoading(resource string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch resource {
	case "initial":
		s.Loading.Initial = loading
	case "calls":
		s.Loading.Calls = loading
	case "audit":
		s.Loading.Audit = loading
	case "stats":
		s.Loading.Stats = loading
	}
}

// AnyLoading returns true if any resource is currently loading.
func (s *State) AnyLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.Loading.Initial ||
		s.Loading.Calls ||
		s.Loading.Audit ||
		s.Loading.Stats
}

// IsInitialLoading returns true if initial data is still loading.
func (s *State) IsInitialLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Loading.Initial
}

// SetCalls replaces the ledger snapshot and its usage summary.
func (s *State) SetCalls(calls []models.CallRecord, total models.Usage, byModel map[string]models.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = calls
	s.Total = total
	s.ByModel = byModel
	s.LastUpdated = time.Now()
}

// GetCalls returns a copy of the ledger snapshot, newest first.
func (s *State) GetCalls() []models.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := make([]models.CallRecord, len(s.Calls))
	copy(calls, s.Calls)
	return calls
}

// GetCallCount returns the number of calls in the ledger snapshot.
func (s *State) GetCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Calls)
}

// GetUsage returns the session totals, overall and per model.
func (s *State) GetUsage() (models.Usage, map[string]models.Usage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Total, maps.Clone(s.ByModel)
}

// LatencySeries returns the durations in milliseconds of the most recent n
// finished calls, oldest first.
func (s *State) LatencySeries(n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var series []float64
	for i := len(s.Calls) - 1; i >= 0; i-- {
		if s.Calls[i].Status.IsTerminal() {
			series = append(series, float64(s.Calls[i].DurationMs()))
		}
	}
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	return series
}

// LatencyByModel splits LatencySeries by model, keeping at most n points
// per model.
func (s *State) LatencyByModel(n int) map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := make(map[string][]float64)
	for i := len(s.Calls) - 1; i >= 0; i-- {
		c := s.Calls[i]
		if c.Status.IsTerminal() {
			series[c.Model] = append(series[c.Model], float64(c.DurationMs()))
		}
	}
	for model, data := range series {
		if n > 0 && len(data) > n {
			series[model] = data[len(data)-n:]
		}
	}
	return series
}

// SetAudit replaces the audit trail snapshot.
func (s *State) SetAudit(entries []models.AuditEntry, size int64, chunk int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AuditEntries = entries
	s.AuditSize = size
	s.AuditChunk = chunk
	s.LastUpdated = time.Now()
}

// GetAudit returns the audit entries, newest first, with the trail size and
// rotation chunk counter.
func (s *State) GetAudit() (entries []models.AuditEntry, size int64, chunk int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries = make([]models.AuditEntry, len(s.AuditEntries))
	copy(entries, s.AuditEntries)
	return entries, s.AuditSize, s.AuditChunk
}

// SetAuditThreshold records the rotation threshold in bytes.
func (s *State) SetAuditThreshold(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuditThreshold = bytes
}

// GetAuditThreshold returns the rotation threshold in bytes.
func (s *State) GetAuditThreshold() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AuditThreshold
}

// SetStats updates the statistics.
func (s *State) SetStats(stats services.StatsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats = &stats
}

// GetStats returns the current statistics.
func (s *State) GetStats() *services.StatsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// AddEvent appends a governor event to the feed, dropping the oldest once
// the feed is full.
func (s *State) AddEvent(ev governor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Events = append(s.Events, ev)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
}

// GetEvents returns the governor event feed, newest last.
func (s *State) GetEvents() []governor.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]governor.Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// SetFallbacks records the active fallback policy.
func (s *State) SetFallbacks(fallbacks map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fallbacks = fallbacks
}

// GetFallbacks returns the active fallback policy.
func (s *State) GetFallbacks() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.Fallbacks)
}

// AddNotification adds a new notification and returns its ID.
func (s *State) AddNotification(notifType NotificationType, message string, duration time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notificationSeq++
	id := time.Now().Format("20060102150405") + "-" + string(rune('A'+s.notificationSeq%26))

	notification := Notification{
		ID:        id,
		Type:      notifType,
		Message:   message,
		CreatedAt: time.Now(),
		Duration:  duration,
	}

	s.notifications = append(s.notifications, notification)

	// Keep only the last 10 notifications
	if len(s.notifications) > 10 {
		s.notifications = s.notifications[len(s.notifications)-10:]
	}

	return id
}

// RemoveNotification removes a notification by ID.
func (s *State) RemoveNotification(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

// ClearExpiredNotifications removes all expired notifications.
func (s *State) ClearExpiredNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if !n.IsExpired() {
			active = append(active, n)
		}
	}
	s.notifications = active
}

// GetNotifications returns a copy of all active notifications.
func (s *State) GetNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Clear expired inline when reading
	active := make([]Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if !n.IsExpired() {
			active = append(active, n)
		}
	}

	return active
}

// SetLoadingNotification sets a loading notification message.
func (s *State) SetLoadingNotification(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == LoadingNotificationID {
			s.notifications[i].Message = message
			return
		}
	}

	s.notifications = append(s.notifications, Notification{
		ID:        LoadingNotificationID,
		Type:      NotificationLoading,
		Message:   message,
		CreatedAt: time.Now(),
		Duration:  0,
	})
}

// ClearLoadingNotification removes the loading notification.
func (s *State) ClearLoadingNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == LoadingNotificationID {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

// GetLastUpdated returns the last time the state was updated.
func (s *State) GetLastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastUpdated
}

// TimeSinceUpdate returns the duration since the last update.
func (s *State) TimeSinceUpdate() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.LastUpdated.IsZero() {
		return 0
	}
	return time.Since(s.LastUpdated)
}
