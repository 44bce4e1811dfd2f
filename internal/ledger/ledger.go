// Package ledger keeps an in-memory, size-bounded list of API call records
// and publishes snapshots of it to subscribers.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/models"
)

// DefaultCapacity is the number of records kept before the oldest is evicted.
const DefaultCapacity = 100

// Subscriber receives a snapshot of the full list, newest first.
type Subscriber func([]models.CallRecord)

// Archiver receives each record once, when it reaches a terminal state.
type Archiver interface {
	ArchiveCall(rec models.CallRecord) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithArchiver registers an archiver for terminal records.
func WithArchiver(a Archiver) Option {
	return func(l *Ledger) { l.archiver = a }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

type subscription struct {
	fn Subscriber
	id int
}

// Ledger is safe for concurrent use. Subscriber callbacks run synchronously on
// the mutating goroutine, in mutation order, and must not mutate the ledger.
type Ledger struct {
	archiver    Archiver
	now         func() time.Time
	records     []models.CallRecord
	subscribers []subscription
	capacity    int
	nextSubID   int
	mu          sync.RWMutex
	notifyMu    sync.Mutex
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add stores rec as a new Pending record and returns its id. ID, StartTime
// and Status on rec are overwritten.
func (l *Ledger) Add(rec models.CallRecord) string {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	rec.ID = uuid.NewString()
	rec.Status = models.StatusPending

	l.mu.Lock()
	rec.StartTime = l.now()
	l.records = append([]models.CallRecord{rec}, l.records...)
	if len(l.records) > l.capacity {
		l.records = l.records[:l.capacity]
	}
	snapshot, subs := l.snapshotLocked()
	l.mu.Unlock()

	l.deliver(subs, snapshot)
	return rec.ID
}

// Update applies mutate to the record with the given id. When the record
// enters a terminal state its EndTime and Duration are derived from
// StartTime. Terminal records are frozen; updating them, or an unknown id,
// is a no-op that returns false.
func (l *Ledger) Update(id string, mutate func(*models.CallRecord)) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 || l.records[idx].Status.IsTerminal() {
		l.mu.Unlock()
		return false
	}

	rec := l.records[idx]
	mutate(&rec)
	// Identity is owned by the ledger.
	rec.ID = l.records[idx].ID
	rec.StartTime = l.records[idx].StartTime

	terminal := rec.Status.IsTerminal()
	if terminal {
		rec.EndTime = l.now()
		rec.Duration = rec.EndTime.Sub(rec.StartTime)
	}
	l.records[idx] = rec
	snapshot, subs := l.snapshotLocked()
	l.mu.Unlock()

	if terminal && l.archiver != nil {
		if err := l.archiver.ArchiveCall(rec); err != nil {
			logger.Error("failed to archive call record", "id", rec.ID, "error", err)
		}
	}

	l.deliver(subs, snapshot)
	return true
}

// Subscribe registers fn, calls it immediately with the current list, and
// returns a function that removes it.
func (l *Ledger) Subscribe(fn Subscriber) func() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subscribers = append(l.subscribers, subscription{id: id, fn: fn})
	snapshot := l.copyLocked()
	l.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subscribers {
				if s.id == id {
					l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns a copy of all records, newest first.
func (l *Ledger) Snapshot() []models.CallRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyLocked()
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id string) (models.CallRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx := l.indexLocked(id); idx >= 0 {
		return l.records[idx], true
	}
	return models.CallRecord{}, false
}

// Len returns the number of records held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Summary aggregates terminal records, overall and per model.
func (l *Ledger) Summary() (total models.Usage, byModel map[string]models.Usage) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byModel = make(map[string]models.Usage)
	for _, rec := range l.records {
		if !rec.Status.IsTerminal() {
			continue
		}
		u := byModel[rec.Model]
		accumulate(&u, rec)
		byModel[rec.Model] = u
		accumulate(&total, rec)
	}
	return total, byModel
}

func accumulate(u *models.Usage, rec models.CallRecord) {
	u.Calls++
	if rec.Status == models.StatusFailed {
		u.Failures++
	}
	prompt, candidate := rec.Tokens()
	u.PromptTokens += prompt
	u.CandidateTokens += candidate
	u.EstimatedCost += rec.Cost()
}

func (l *Ledger) indexLocked(id string) int {
	for i := range l.records {
		if l.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) copyLocked() []models.CallRecord {
	out := make([]models.CallRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) snapshotLocked() ([]models.CallRecord, []Subscriber) {
	subs := make([]Subscriber, len(l.subscribers))
	for i, s := range l.subscribers {
		subs[i] = s.fn
	}
	return l.copyLocked(), subs
}

// deliver hands every subscriber the same snapshot; it is shared, so
// subscribers that keep it must treat it as read-only.
func (l *Ledger) deliver(subs []Subscriber, snapshot []models.CallRecord) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
