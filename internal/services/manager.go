// Package services wires the governor, ledger, audit trail and their
// backing stores together and routes their events to the CLI and TUI.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/perpquant/mind-persona/internal/audit"
	"github.com/perpquant/mind-persona/internal/bus"
	"github.com/perpquant/mind-persona/internal/config"
	"github.com/perpquant/mind-persona/internal/db"
	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/ledger"
	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/policy"
	"github.com/perpquant/mind-persona/internal/version"
)

// ErrNoBackend is returned by Ask when no model backend is configured.
var ErrNoBackend = errors.New("no model backend configured: set GEMINI_API_KEY or use --simulate")

type (
	// CallsChangedEvent is emitted whenever the ledger changes.
	CallsChangedEvent struct {
		ByModel map[string]models.Usage
		Calls   []models.CallRecord
		Total   models.Usage
	}

	// AuditChangedEvent is emitted whenever the audit trail changes.
	AuditChangedEvent struct {
		Entries   []models.AuditEntry
		SizeBytes int64
		Chunk     int
	}

	// GovernorEvent relays a governor lifecycle event.
	GovernorEvent struct {
		Event governor.Event
	}

	// PolicyReloadedEvent is emitted when the policy file is reloaded.
	PolicyReloadedEvent struct {
		Fallbacks map[string]string
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Service string
		Error   error
	}

	// StatsEvent summarizes the session, the governor and the archive.
	StatsEvent struct {
		Archive  *models.ArchiveStats
		Session  models.Usage
		Governor governor.Stats
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (CallsChangedEvent) isServiceEvent()   {}
func (AuditChangedEvent) isServiceEvent()   {}
func (GovernorEvent) isServiceEvent()       {}
func (PolicyReloadedEvent) isServiceEvent() {}
func (ErrorEvent) isServiceEvent()          {}
func (StatsEvent) isServiceEvent()          {}

// Notifier shows a desktop notification.
type Notifier func(title, message string) error

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Options customizes a Manager.
type Options struct {
	// Backend performs physical attempts. Without one, Ask fails.
	Backend governor.PerformFunc
	// Notifier replaces desktop notifications.
	Notifier Notifier
	// Publisher replaces the NATS connection built from the config.
	Publisher *bus.Publisher
}

// AskRequest is one logical call made through the manager.
type AskRequest struct {
	Body  any
	Agent string
	Model string
}

// Manager orchestrates services and event routing.
type Manager struct {
	mu          sync.RWMutex
	cfg         *config.Config
	database    *db.DB
	ledger      *ledger.Ledger
	trail       *audit.Trail
	policy      *policy.Watcher
	governor    *governor.Governor
	publisher   *bus.Publisher
	backend     governor.PerformFunc
	notify      Notifier
	eventChan   chan ServiceEvent
	stopChan    chan struct{}
	routeDone   chan struct{}
	subscribers []chan<- ServiceEvent
	unsubscribe []func()
	auditHead   string
	closeOnce   sync.Once
}

// NewManager opens the database, loads the policy and builds the governor.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		backend:   opts.Backend,
		notify:    opts.Notifier,
		eventChan: make(chan ServiceEvent, 100),
		stopChan:  make(chan struct{}),
		routeDone: make(chan struct{}),
	}
	if m.notify == nil {
		m.notify = beeepNotify
	}

	var err error
	m.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m.policy, err = policy.NewWatcher(cfg.PolicyPath)
	if err != nil {
		_ = m.database.Close()
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	m.publisher = opts.Publisher
	if m.publisher == nil {
		m.publisher, err = bus.Connect(cfg.NATSURL, version.Name)
		if err != nil {
			// The bus is a mirror; run without it.
			logger.Warn("event bus disabled", "error", err)
			m.publisher = &bus.Publisher{}
		}
	}

	m.ledger = ledger.New(ledger.WithArchiver(m.database))
	m.trail = audit.New(m.database, audit.DirExporter{Dir: cfg.ExportDir},
		audit.WithThresholdKB(cfg.AuditThreshold))

	m.governor = governor.New(governor.Config{
		MaxRetries:     cfg.Governor.MaxRetries,
		InitialBackoff: cfg.Governor.InitialBackoff,
		MaxConcurrent:  cfg.Governor.MaxConcurrent,
		MinInterval:    cfg.Governor.MinInterval,
		AttemptTimeout: cfg.Governor.AttemptTimeout,
	}, m.ledger, m.trail,
		governor.WithFallbacks(m.policy),
		governor.WithPricer(m.policy),
	)

	if entries := m.trail.Entries(); len(entries) > 0 {
		m.auditHead = entries[0].ID
	}
	m.unsubscribe = append(m.unsubscribe,
		m.ledger.Subscribe(m.handleCalls),
		m.trail.Subscribe(m.handleAudit),
	)

	go m.routeEvents()

	return m, nil
}

// routeEvents routes events from the governor and the policy watcher to
// subscribers.
func (m *Manager) routeEvents() {
	defer close(m.routeDone)
	for {
		select {
		case event := <-m.governor.Events():
			m.handleGovernorEvent(event)

		case event := <-m.policy.Events():
			m.handlePolicyEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleCalls(calls []models.CallRecord) {
	total, byModel := m.ledger.Summary()
	m.broadcast(CallsChangedEvent{Calls: calls, Total: total, ByModel: byModel})
}

func (m *Manager) handleAudit(entries []models.AuditEntry) {
	m.broadcast(AuditChangedEvent{
		Entries:   entries,
		SizeBytes: m.trail.SizeBytes(),
		Chunk:     m.trail.ChunkCounter(),
	})

	if len(entries) == 0 || entries[0].ID == m.auditHead {
		return
	}
	m.auditHead = entries[0].ID

	ev, ok := entries[0].Payload.(models.SystemEvent)
	if !ok || ev.Event != audit.EventRotated {
		return
	}
	if err := m.publisher.PublishSystem(ev.Event, ev.Details); err != nil {
		logger.Warn("failed to publish rotation", "error", err)
	}
	m.notifyf("Audit log rotated", "Chunk %v saved with %v entries",
		ev.Details["chunkNumber"], ev.Details["downloadedEntries"])
}

func (m *Manager) handleGovernorEvent(event governor.Event) {
	m.broadcast(GovernorEvent{Event: event})

	if err := m.publisher.PublishCall(event); err != nil {
		logger.Warn("failed to publish call event", "error", err)
	}

	switch event.Type {
	case governor.EventFallback:
		m.notifyf("Model fallback", "%s: quota exceeded on %s, using %s",
			event.AgentName, event.FromModel, event.Model)
	case governor.EventFailed:
		m.notifyf("Call failed", "%s on %s: %s", event.AgentName, event.Model, event.Error)
	}
}

func (m *Manager) handlePolicyEvent(event policy.Event) {
	switch event.Type {
	case policy.EventReloaded:
		fallbacks := m.policy.Current().Fallbacks()
		m.trail.LogEvent(models.AuditSystemEvent, models.SystemEvent{
			Event:   "POLICY_RELOADED",
			Details: map[string]any{"path": m.cfg.PolicyPath},
		})
		m.broadcast(PolicyReloadedEvent{Fallbacks: fallbacks})
	case policy.EventError:
		m.broadcast(ErrorEvent{Service: "policy", Error: event.Error})
	}
}

func (m *Manager) notifyf(title, format string, args ...any) {
	if !m.cfg.Notify {
		return
	}
	if err := m.notify(title, fmt.Sprintf(format, args...)); err != nil {
		logger.Debug("notification failed", "error", err)
	}
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	// Send to main event channel
	select {
	case m.eventChan <- event:
	default:
	}

	// Send to subscribers
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, waitForEvent(ch)
}

// waitForEvent returns a tea.Cmd that waits for the next event.
func waitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return waitForEvent(ch)
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Ask submits one logical call through the governor.
func (m *Manager) Ask(ctx context.Context, req AskRequest) (*governor.Result, error) {
	if m.backend == nil {
		return nil, ErrNoBackend
	}
	model := req.Model
	if model == "" {
		model = m.cfg.DefaultModel
	}
	agent := req.Agent
	if agent == "" {
		agent = "Persona"
	}

	m.trail.LogEvent(models.AuditAgentAction, map[string]any{
		"agent":  agent,
		"action": "ask",
		"model":  model,
	})

	return m.governor.Enqueue(ctx, m.backend,
		governor.Payload{Model: model, Body: req.Body},
		governor.Metadata{AgentName: agent, Model: model, RequestPayload: req.Body},
	)
}

// HasBackend reports whether Ask can perform calls.
func (m *Manager) HasBackend() bool {
	return m.backend != nil
}

// GetStats returns aggregated statistics.
func (m *Manager) GetStats() StatsEvent {
	session, _ := m.ledger.Summary()
	stats := StatsEvent{
		Session:  session,
		Governor: m.governor.Stats(),
	}

	archive, err := m.database.GetTotalStats()
	if err != nil {
		logger.Warn("failed to load archive stats", "error", err)
	} else {
		stats.Archive = archive
	}
	return stats
}

// GetModelStats returns archived per-model statistics.
func (m *Manager) GetModelStats() ([]models.ModelStats, error) {
	return m.database.GetModelStats()
}

// GetRecentCalls returns archived calls, newest first.
func (m *Manager) GetRecentCalls(limit int) ([]models.CallRecord, error) {
	return m.database.GetRecentCalls(limit)
}

// ExportAudit writes the audit trail to the export directory.
func (m *Manager) ExportAudit() (string, error) {
	name, err := m.trail.Export()
	if err != nil {
		return "", err
	}
	m.trail.LogEvent(models.AuditUserInteraction, map[string]any{"action": "export_audit_log", "file": name})
	return name, nil
}

// ClearAudit empties the audit trail and resets the chunk counter.
func (m *Manager) ClearAudit() {
	m.trail.Clear(true)
}

// Ledger returns the call ledger.
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

// Trail returns the audit trail.
func (m *Manager) Trail() *audit.Trail {
	return m.trail
}

// Governor returns the request governor.
func (m *Manager) Governor() *governor.Governor {
	return m.governor
}

// Policy returns the policy watcher.
func (m *Manager) Policy() *policy.Watcher {
	return m.policy
}

// Database returns the database instance for direct access.
func (m *Manager) Database() *db.DB {
	return m.database
}

// Config returns the configuration the manager was built from.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Close drains the governor, flushes the audit trail and closes all services.
func (m *Manager) Close() error {
	var errs []error

	m.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.governor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("governor did not drain: %w", err))
		}

		close(m.stopChan)
		<-m.routeDone

		for _, unsubscribe := range m.unsubscribe {
			unsubscribe()
		}

		m.mu.Lock()
		for _, sub := range m.subscribers {
			close(sub)
		}
		m.subscribers = nil
		m.mu.Unlock()

		if err := m.trail.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.policy.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.database.Close(); err != nil {
			errs = append(errs, err)
		}
	})

	return errors.Join(errs...)
}
