package audit

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpquant/mind-persona/internal/models"
)

type exported struct {
	name string
	data []byte
}

type recordingExporter struct {
	err   error
	files []exported
	mu    sync.Mutex
}

func (e *recordingExporter) Export(name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.files = append(e.files, exported{name: name, data: data})
	return nil
}

func (e *recordingExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.files)
}

type failingStore struct{}

func (failingStore) Get(string) ([]byte, error) { return nil, errors.New("storage offline") }
func (failingStore) Set(string, []byte) error   { return errors.New("quota exceeded") }
func (failingStore) Delete(string) error        { return errors.New("storage offline") }

// slowStore delays every Set, signalling when one begins.
type slowStore struct {
	*MemoryStore
	started chan struct{}
	delay   time.Duration
}

func (s *slowStore) Set(key string, value []byte) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	return s.MemoryStore.Set(key, value)
}

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 30, 45, 123_000_000, time.UTC)
}

func newTestTrail(t *testing.T, opts ...Option) (*Trail, *MemoryStore, *recordingExporter) {
	t.Helper()
	store := NewMemoryStore()
	exporter := &recordingExporter{}
	trail := New(store, exporter, append([]Option{WithDebounce(10 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() { _ = trail.Close() })
	return trail, store, exporter
}

func storedEntries(t *testing.T, store *MemoryStore) []models.AuditEntry {
	t.Helper()
	data, err := store.Get(StorageKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	var entries []models.AuditEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestLogEvent(t *testing.T) {
	trail, _, _ := newTestTrail(t, WithClock(fixedClock))

	trail.LogEvent(models.AuditUserInteraction, map[string]any{"action": "send"})
	trail.LogEvent(models.AuditStateChange, map[string]any{"node": "added"})

	entries := trail.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditStateChange, entries[0].Type, "newest first")
	assert.Equal(t, models.AuditUserInteraction, entries[1].Type)
	assert.Equal(t, "2025-06-01T12:30:45.123Z", entries[0].Timestamp)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestLogEvent_Truncates(t *testing.T) {
	trail, _, _ := newTestTrail(t, WithLimit(5), WithThresholdKB(0))

	for i := range 8 {
		trail.LogEvent(models.AuditAgentAction, i)
	}

	entries := trail.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, 7, entries[0].Payload)
	assert.Equal(t, 3, entries[4].Payload)
}

func TestLogEvent_DefaultLimit(t *testing.T) {
	trail, _, _ := newTestTrail(t, WithThresholdKB(0))
	for range DefaultLimit + 3 {
		trail.LogEvent(models.AuditSystemEvent, "tick")
	}
	assert.Len(t, trail.Entries(), DefaultLimit)
}

func TestPersistence_Debounced(t *testing.T) {
	trail, store, _ := newTestTrail(t)

	trail.LogEvent(models.AuditSystemEvent, "one")
	trail.LogEvent(models.AuditSystemEvent, "two")
	trail.LogEvent(models.AuditSystemEvent, "three")

	assert.Empty(t, storedEntries(t, store), "writes are coalesced, not immediate")

	require.Eventually(t, func() bool {
		return len(storedEntries(t, store)) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestPersistence_FlushAndReload(t *testing.T) {
	store := NewMemoryStore()
	trail := New(store, &recordingExporter{}, WithDebounce(time.Hour))
	trail.LogEvent(models.AuditAPICall, models.CallRecord{ID: "call-1", Model: "gemini-2.5-pro"})
	trail.Flush()

	reloaded := New(store, &recordingExporter{})
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditAPICall, entries[0].Type)

	payload, ok := entries[0].Payload.(map[string]any)
	require.True(t, ok, "reloaded payloads are decoded JSON")
	assert.Equal(t, "gemini-2.5-pro", payload["model"])
	assert.Equal(t, trail.SizeBytes(), reloaded.SizeBytes())
}

func TestLoad_CorruptStorage(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(StorageKey, []byte("{not json")))

	trail := New(store, nil)
	assert.Empty(t, trail.Entries())
}

func TestStorageFailuresAreSwallowed(t *testing.T) {
	trail := New(failingStore{}, &recordingExporter{}, WithDebounce(time.Millisecond))

	trail.LogEvent(models.AuditSystemEvent, "still recorded")
	trail.Flush()
	trail.Clear(true)
	trail.LogEvent(models.AuditSystemEvent, "after clear")

	entries := trail.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "after clear", entries[0].Payload)
}

func TestSizeBytes_MatchesSerializedLength(t *testing.T) {
	trail, _, _ := newTestTrail(t, WithThresholdKB(0))
	assert.EqualValues(t, 2, trail.SizeBytes())

	trail.LogEvent(models.AuditAPICall, models.CallRecord{ID: "x", Model: "gemini-2.5-flash", Status: models.StatusProcessing})
	trail.LogEvent(models.AuditUserInteraction, map[string]any{"text": "<hello & bye>"})

	data, err := json.Marshal(trail.Entries())
	require.NoError(t, err)
	assert.EqualValues(t, len(data), trail.SizeBytes())
}

func TestRotation(t *testing.T) {
	trail, store, exporter := newTestTrail(t, WithThresholdKB(1), WithClock(fixedClock))
	payload := strings.Repeat("x", 200)

	logged := 0
	for trail.ChunkCounter() == 0 {
		require.Less(t, logged, 50, "rotation never triggered")
		trail.LogEvent(models.AuditUserInteraction, payload)
		logged++
	}

	require.Equal(t, 1, exporter.count(), "exactly one rotation")
	assert.Equal(t, 1, trail.ChunkCounter())

	file := exporter.files[0]
	assert.Equal(t, "persona_audit_log_chunk_1_2025-06-01T12-30-45-123Z.json", file.name)
	var rotated []models.AuditEntry
	require.NoError(t, json.Unmarshal(file.data, &rotated))
	assert.Len(t, rotated, logged)

	entries := trail.Entries()
	require.Len(t, entries, 1, "only the rotation notice survives")
	assert.Equal(t, models.AuditSystemEvent, entries[0].Type)
	event, ok := entries[0].Payload.(models.SystemEvent)
	require.True(t, ok)
	assert.Equal(t, EventRotated, event.Event)
	assert.Equal(t, logged, event.Details["downloadedEntries"])
	assert.Equal(t, 1, event.Details["chunkNumber"])

	trail.LogEvent(models.AuditAgentAction, "after")
	entries = trail.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "after", entries[0].Payload)
	assert.Equal(t, 1, exporter.count())

	trail.Flush()
	assert.Len(t, storedEntries(t, store), 2)
}

func TestRotation_CounterKeepsIncreasing(t *testing.T) {
	trail, _, exporter := newTestTrail(t, WithThresholdKB(1))
	payload := strings.Repeat("y", 300)

	for trail.ChunkCounter() < 2 {
		require.Less(t, exporter.count(), 3)
		trail.LogEvent(models.AuditAgentAction, payload)
	}
	assert.Equal(t, 2, exporter.count())
	assert.True(t, strings.HasPrefix(exporter.files[1].name, "persona_audit_log_chunk_2_"))
}

func TestRotation_ExportFailureKeepsEntries(t *testing.T) {
	exporter := &recordingExporter{err: errors.New("disk full")}
	trail := New(NewMemoryStore(), exporter, WithThresholdKB(1), WithDebounce(time.Hour))
	payload := strings.Repeat("z", 400)

	for range 5 {
		trail.LogEvent(models.AuditAgentAction, payload)
	}

	assert.Equal(t, 0, trail.ChunkCounter())
	assert.Len(t, trail.Entries(), 5)
}

func TestSetDownloadThreshold(t *testing.T) {
	trail, _, exporter := newTestTrail(t, WithThresholdKB(1))
	trail.SetDownloadThreshold(0)
	assert.EqualValues(t, 0, trail.DownloadThreshold())

	for range 20 {
		trail.LogEvent(models.AuditAgentAction, strings.Repeat("q", 200))
	}
	assert.Equal(t, 0, exporter.count(), "0 disables rotation")

	trail.SetDownloadThreshold(2)
	assert.EqualValues(t, 2048, trail.DownloadThreshold())
	trail.LogEvent(models.AuditAgentAction, "trigger")
	assert.Equal(t, 1, exporter.count())
}

func TestClear(t *testing.T) {
	trail, store, _ := newTestTrail(t)
	trail.LogEvent(models.AuditSystemEvent, "a")
	trail.Flush()
	require.Len(t, storedEntries(t, store), 1)

	trail.Clear(true)
	assert.Empty(t, trail.Entries())
	assert.Nil(t, storedEntries(t, store))

	trail.Clear(true)
	assert.Empty(t, trail.Entries())
	assert.EqualValues(t, 2, trail.SizeBytes())
}

func TestClear_CounterHandling(t *testing.T) {
	trail, _, _ := newTestTrail(t, WithThresholdKB(1))
	for trail.ChunkCounter() == 0 {
		trail.LogEvent(models.AuditAgentAction, strings.Repeat("c", 300))
	}

	trail.Clear(false)
	assert.Equal(t, 1, trail.ChunkCounter())

	trail.Clear(true)
	assert.Equal(t, 0, trail.ChunkCounter())
}

func TestClear_CancelsPendingWrite(t *testing.T) {
	trail, store, _ := newTestTrail(t)
	trail.LogEvent(models.AuditSystemEvent, "pending")
	trail.Clear(true)

	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, storedEntries(t, store))
}

func TestClear_WaitsForInFlightWrite(t *testing.T) {
	store := &slowStore{
		MemoryStore: NewMemoryStore(),
		started:     make(chan struct{}, 1),
		delay:       50 * time.Millisecond,
	}
	trail := New(store, &recordingExporter{}, WithDebounce(time.Millisecond))

	trail.LogEvent(models.AuditUserInteraction, "secret")
	select {
	case <-store.started:
	case <-time.After(time.Second):
		t.Fatal("debounced write never started")
	}
	trail.Clear(true)

	time.Sleep(100 * time.Millisecond)
	_, err := store.Get(StorageKey)
	assert.ErrorIs(t, err, ErrNotFound, "cleared entries must not be written back")

	reopened := New(store, &recordingExporter{})
	assert.Empty(t, reopened.Entries())
}

func TestSubscribe(t *testing.T) {
	trail, _, _ := newTestTrail(t)
	trail.LogEvent(models.AuditSystemEvent, "before")

	var snapshots [][]models.AuditEntry
	unsubscribe := trail.Subscribe(func(entries []models.AuditEntry) {
		snapshots = append(snapshots, entries)
	})
	require.Len(t, snapshots, 1)
	assert.Len(t, snapshots[0], 1)

	trail.LogEvent(models.AuditSystemEvent, "after")
	trail.Clear(true)
	require.Len(t, snapshots, 3)
	assert.Len(t, snapshots[1], 2)
	assert.Empty(t, snapshots[2])

	unsubscribe()
	trail.LogEvent(models.AuditSystemEvent, "ignored")
	assert.Len(t, snapshots, 3)
}

func TestExport(t *testing.T) {
	trail, _, exporter := newTestTrail(t, WithClock(fixedClock))
	trail.LogEvent(models.AuditUserInteraction, "hello")

	name, err := trail.Export()
	require.NoError(t, err)
	assert.Equal(t, "persona_audit_log_export_2025-06-01T12-30-45-123Z.json", name)
	assert.Len(t, trail.Entries(), 1, "manual export keeps entries")
	require.Equal(t, 1, exporter.count())
}

func TestChunkName(t *testing.T) {
	assert.Equal(t, "persona_audit_log_chunk_7_2025-06-01T12-30-45-123Z.json", ChunkName(7, fixedClock()))
}
