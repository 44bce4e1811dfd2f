// Package audit implements the durable, size-bounded audit trail.
//
// Entries are kept newest first, capped at a fixed count, persisted as a JSON
// array under StorageKey with debounced writes, and rotated (exported, then
// cleared) once their serialized size crosses a configurable threshold.
// Storage and export failures are logged and never returned to callers.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/models"
)

const (
	// DefaultLimit is the maximum number of entries kept in memory.
	DefaultLimit = 500
	// DefaultThresholdKB is the rotation threshold (50MB).
	DefaultThresholdKB = 51200
	// DefaultDebounce bounds how often the trail is written to storage.
	DefaultDebounce = time.Second

	// EventRotated is the SYSTEM_EVENT logged after a rotation.
	EventRotated = "AUDIT_LOG_AUTOSAVED_AND_CLEARED"
)

// Subscriber receives a snapshot of all entries, newest first.
type Subscriber func([]models.AuditEntry)

// Option configures a Trail.
type Option func(*Trail)

// WithLimit overrides DefaultLimit.
func WithLimit(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.limit = n
		}
	}
}

// WithThresholdKB sets the rotation threshold in kilobytes; 0 disables rotation.
func WithThresholdKB(kb int) Option {
	return func(t *Trail) { t.thresholdBytes = kbToBytes(kb) }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(t *Trail) { t.debounce = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

type subscription struct {
	fn Subscriber
	id int
}

// Trail is safe for concurrent use. Subscriber callbacks run synchronously
// while the trail is locked for writing and must not log events themselves.
type Trail struct {
	store          Store
	exporter       Exporter
	now            func() time.Time
	saver          *debouncer
	entries        []models.AuditEntry
	sizes          []int
	subscribers    []subscription
	totalBytes     int64
	thresholdBytes int64
	debounce       time.Duration
	limit          int
	chunkCounter   int
	nextSubID      int
	mu             sync.RWMutex
	notifyMu       sync.Mutex
	// saveMu orders storage writes against Clear so a save already in
	// flight cannot resurrect cleared entries.
	saveMu sync.Mutex
}

// New creates a trail and loads any entries previously persisted in store.
// A nil store keeps the trail in memory; a nil exporter writes rotated
// chunks to the working directory.
func New(store Store, exporter Exporter, opts ...Option) *Trail {
	if store == nil {
		store = NewMemoryStore()
	}
	if exporter == nil {
		exporter = DirExporter{Dir: "."}
	}

	t := &Trail{
		store:          store,
		exporter:       exporter,
		now:            time.Now,
		limit:          DefaultLimit,
		thresholdBytes: kbToBytes(DefaultThresholdKB),
		debounce:       DefaultDebounce,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.saver = newDebouncer(t.debounce, t.save)
	t.load()
	return t
}

// LogEvent appends an entry of the given type. It never fails: persistence
// is best-effort and happens asynchronously.
func (t *Trail) LogEvent(typ models.AuditEventType, payload any) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.appendLocked(typ, payload)
	t.saver.Trigger()

	if t.overThreshold() {
		t.rotateLocked()
	}
}

// SetDownloadThreshold reconfigures the rotation threshold; 0 disables it.
func (t *Trail) SetDownloadThreshold(kb int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholdBytes = kbToBytes(kb)
}

// DownloadThreshold returns the rotation threshold in bytes.
func (t *Trail) DownloadThreshold() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thresholdBytes
}

// Clear empties the trail and erases it from storage. When resetCounter is
// true the rotation chunk counter starts over.
func (t *Trail) Clear(resetCounter bool) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.clearLocked(resetCounter)
}

// Subscribe registers fn, calls it immediately with the current entries, and
// returns a function that removes it.
func (t *Trail) Subscribe(fn Subscriber) func() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers = append(t.subscribers, subscription{id: id, fn: fn})
	snapshot := t.copyLocked()
	t.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subscribers {
				if s.id == id {
					t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Entries returns a copy of all entries, newest first.
func (t *Trail) Entries() []models.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.copyLocked()
}

// ChunkCounter returns the number of the last rotated chunk.
func (t *Trail) ChunkCounter() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chunkCounter
}

// SizeBytes returns the length of the trail serialized as a JSON array.
func (t *Trail) SizeBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sizeLocked()
}

// Export writes the current entries through the exporter without clearing
// them, and returns the exported name.
func (t *Trail) Export() (string, error) {
	entries := t.Entries()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit log: %w", err)
	}

	name := "persona_audit_log_export_" + fileTimestamp(t.now()) + ".json"
	if err := t.exporter.Export(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// Flush writes any pending change to storage immediately.
func (t *Trail) Flush() {
	t.saver.Flush()
}

// Close flushes pending writes.
func (t *Trail) Close() error {
	t.Flush()
	return nil
}

// ChunkName returns the export name for a rotated chunk.
func ChunkName(chunk int, at time.Time) string {
	return fmt.Sprintf("persona_audit_log_chunk_%d_%s.json", chunk, fileTimestamp(at))
}

func (t *Trail) appendLocked(typ models.AuditEventType, payload any) {
	t.mu.Lock()
	now := t.now()
	entry := models.AuditEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp: isoTimestamp(now),
		Type:      typ,
		Payload:   payload,
	}
	size := entrySize(entry)

	t.entries = append([]models.AuditEntry{entry}, t.entries...)
	t.sizes = append([]int{size}, t.sizes...)
	t.totalBytes += int64(size)
	t.truncateLocked()

	snapshot, subs := t.snapshotLocked()
	t.mu.Unlock()

	deliver(subs, snapshot)
}

func (t *Trail) clearLocked(resetCounter bool) {
	t.saveMu.Lock()
	t.mu.Lock()
	t.entries = nil
	t.sizes = nil
	t.totalBytes = 0
	if resetCounter {
		t.chunkCounter = 0
	}
	snapshot, subs := t.snapshotLocked()
	t.mu.Unlock()

	t.saver.Cancel()
	if err := t.store.Delete(StorageKey); err != nil {
		logger.Error("failed to clear audit log from storage", "error", err)
	}
	t.saveMu.Unlock()

	deliver(subs, snapshot)
}

// rotateLocked exports the whole trail as the next chunk and clears it. The
// chunk counter only advances when the export succeeds; on failure the
// entries stay in place and the next event retries.
func (t *Trail) rotateLocked() {
	t.mu.RLock()
	entries := t.copyLocked()
	chunk := t.chunkCounter + 1
	threshold := t.thresholdBytes
	t.mu.RUnlock()

	logger.Info("audit log size exceeds threshold, rotating",
		"thresholdBytes", threshold, "chunk", chunk)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		logger.Error("failed to marshal audit log for rotation", "error", err)
		return
	}
	if err := t.exporter.Export(ChunkName(chunk, t.now()), data); err != nil {
		logger.Error("failed to export audit log chunk", "chunk", chunk, "error", err)
		return
	}

	t.mu.Lock()
	t.chunkCounter = chunk
	t.mu.Unlock()

	t.clearLocked(false)
	t.appendLocked(models.AuditSystemEvent, models.SystemEvent{
		Event: EventRotated,
		Details: map[string]any{
			"downloadedEntries": len(entries),
			"chunkNumber":       chunk,
		},
	})
	t.saver.Trigger()
}

func (t *Trail) overThreshold() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thresholdBytes > 0 && t.sizeLocked() > t.thresholdBytes
}

func (t *Trail) truncateLocked() {
	for len(t.entries) > t.limit {
		last := len(t.entries) - 1
		t.totalBytes -= int64(t.sizes[last])
		t.entries = t.entries[:last]
		t.sizes = t.sizes[:last]
	}
}

func (t *Trail) sizeLocked() int64 {
	n := int64(len(t.entries))
	if n == 0 {
		return 2
	}
	// Brackets plus separating commas.
	return t.totalBytes + 2 + n - 1
}

func (t *Trail) copyLocked() []models.AuditEntry {
	out := make([]models.AuditEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Trail) snapshotLocked() ([]models.AuditEntry, []Subscriber) {
	subs := make([]Subscriber, len(t.subscribers))
	for i, s := range t.subscribers {
		subs[i] = s.fn
	}
	return t.copyLocked(), subs
}

func (t *Trail) save() {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.RLock()
	empty := len(t.entries) == 0
	data, err := json.Marshal(t.entries)
	t.mu.RUnlock()
	if err != nil {
		logger.Error("failed to marshal audit log", "error", err)
		return
	}
	if empty {
		if err := t.store.Delete(StorageKey); err != nil {
			logger.Error("failed to clear audit log from storage", "error", err)
		}
		return
	}
	if err := t.store.Set(StorageKey, data); err != nil {
		logger.Error("failed to save audit log to storage", "error", err)
	}
}

func (t *Trail) load() {
	data, err := t.store.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error("failed to load audit log from storage", "error", err)
		}
		return
	}

	var entries []models.AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Error("failed to parse stored audit log", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = entries
	t.sizes = make([]int, len(entries))
	for i, e := range entries {
		t.sizes[i] = entrySize(e)
		t.totalBytes += int64(t.sizes[i])
	}
	t.truncateLocked()
}

func deliver(subs []Subscriber, snapshot []models.AuditEntry) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

func entrySize(e models.AuditEntry) int {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("audit entry is not serializable", "id", e.ID, "error", err)
		return 0
	}
	return len(data)
}

func kbToBytes(kb int) int64 {
	if kb <= 0 {
		return 0
	}
	return int64(kb) * 1024
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func fileTimestamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(isoTimestamp(t))
}
