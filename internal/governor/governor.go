// Package governor serializes calls to a rate-limited model backend.
//
// Requests are admitted in FIFO order into a fixed number of in-flight slots
// (one by default). Each admitted request is driven through retries with
// exponential backoff on server-class failures and through model fallback on
// quota exhaustion. Every transition is recorded in the call ledger and the
// audit trail. Dispatch is event driven: enqueueing and completion both hand
// free slots to queued work, so an idle governor runs no goroutines.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perpquant/mind-persona/internal/logger"
	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/policy"
	"github.com/perpquant/mind-persona/internal/pricing"
)

// Defaults.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxConcurrent  = 1
	eventBufferSize       = 100

	// MaxBackoff caps the doubling retry delay.
	MaxBackoff = 5 * time.Minute
)

// Config tunes the governor. Zero values select the defaults.
type Config struct {
	// MaxRetries is the attempt budget per model; a fallback restores it.
	MaxRetries int
	// InitialBackoff is the delay after the first failed attempt. It doubles
	// with every further attempt.
	InitialBackoff time.Duration
	MaxConcurrent  int
	// MinInterval spaces physical attempts apart; 0 disables pacing.
	MinInterval time.Duration
	// AttemptTimeout bounds each physical attempt; 0 disables it. A timed
	// out attempt counts as a 504 server error.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxConcurrent:  DefaultMaxConcurrent,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Backoff returns the delay after the given failed attempt (1-based). The
// delay doubles per attempt and saturates at MaxBackoff, or at
// InitialBackoff when that is larger.
func (c Config) Backoff(attempt int) time.Duration {
	limit := max(MaxBackoff, c.InitialBackoff)
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return d
}

// Recorder is the call ledger the governor keeps up to date.
type Recorder interface {
	Add(rec models.CallRecord) string
	Update(id string, mutate func(*models.CallRecord)) bool
	Get(id string) (models.CallRecord, bool)
}

// Auditor receives an API_CALL entry for every transition.
type Auditor interface {
	LogEvent(typ models.AuditEventType, payload any)
}

// FallbackProvider names the model to switch to on quota exhaustion.
type FallbackProvider interface {
	Fallback(model string) (string, bool)
}

// Pricer estimates the cost of a successful call.
type Pricer interface {
	Cost(model string, promptTokens, candidateTokens int) float64
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Metadata describes a logical call for the ledger and audit trail.
type Metadata struct {
	RequestPayload any
	AgentName      string
	Model          string
}

// Payload is handed to each physical attempt. Model is rewritten when the
// governor falls back to another model.
type Payload struct {
	Body  any
	Model string
}

// Usage is the token accounting a backend reports with a reply. Missing
// counts are nil.
type Usage struct {
	PromptTokens    *int
	CandidateTokens *int
	TotalTokens     *int
}

// Reply is the result of a successful physical attempt.
type Reply struct {
	Body  any
	Usage *Usage
}

// PerformFunc performs one physical attempt. It must honor ctx.
type PerformFunc func(ctx context.Context, payload Payload) (*Reply, error)

// Result is returned by Enqueue on success.
type Result struct {
	Reply    *Reply
	Model    string
	RecordID string
	Attempts int
}

// Option configures a Governor.
type Option func(*Governor)

// WithFallbacks replaces the built-in fallback chain.
func WithFallbacks(f FallbackProvider) Option {
	return func(g *Governor) {
		if f != nil {
			g.fallbacks = f
		}
	}
}

// WithPricer replaces the built-in price table.
func WithPricer(p Pricer) Option {
	return func(g *Governor) {
		if p != nil {
			g.pricer = p
		}
	}
}

// WithSleeper replaces the backoff timer, for tests.
func WithSleeper(s Sleeper) Option {
	return func(g *Governor) {
		if s != nil {
			g.sleep = s
		}
	}
}

type outcome struct {
	result *Result
	err    error
}

type request struct {
	ctx     context.Context
	perform PerformFunc
	done    chan outcome
	meta    Metadata
	payload Payload
}

type nopAuditor struct{}

func (nopAuditor) LogEvent(models.AuditEventType, any) {}

// Governor is safe for concurrent use. Construct one per backend and share it.
type Governor struct {
	ledger    Recorder
	audit     Auditor
	fallbacks FallbackProvider
	pricer    Pricer
	sleep     Sleeper
	limiter   *rate.Limiter
	eventChan chan Event
	drained   chan struct{}
	queue     []*request
	stats     Stats
	cfg       Config
	active    int
	closed    bool
	mu        sync.Mutex
	drainOnce sync.Once
}

// New creates a governor recording into ledger and trail. A nil trail
// disables auditing.
func New(cfg Config, ledger Recorder, trail Auditor, opts ...Option) *Governor {
	if ledger == nil {
		panic("governor: nil ledger")
	}
	if trail == nil {
		trail = nopAuditor{}
	}

	g := &Governor{
		cfg:       cfg.withDefaults(),
		ledger:    ledger,
		audit:     trail,
		fallbacks: policy.Default(),
		pricer:    pricing.Default(),
		sleep:     sleepContext,
		eventChan: make(chan Event, eventBufferSize),
		drained:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.MinInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(g.cfg.MinInterval), 1)
	}
	return g
}

// Config returns the effective configuration.
func (g *Governor) Config() Config {
	return g.cfg
}

// Events returns the event channel. When nobody drains it the oldest events
// are dropped.
func (g *Governor) Events() <-chan Event {
	return g.eventChan
}

// Enqueue submits a logical call and blocks until it succeeds or fails.
// Retries and fallbacks are invisible to the caller. On failure the error is
// a *CallError carrying the last attempt's message. Cancelling ctx while the
// call is queued withdraws it; cancelling it while the call runs fails the
// call without further retries.
func (g *Governor) Enqueue(ctx context.Context, perform PerformFunc, payload Payload, meta Metadata) (*Result, error) {
	if perform == nil {
		return nil, errors.New("governor: nil perform function")
	}
	if payload.Model == "" {
		payload.Model = meta.Model
	}
	if meta.Model == "" {
		meta.Model = payload.Model
	}

	req := &request{
		ctx:     ctx,
		perform: perform,
		payload: payload,
		meta:    meta,
		done:    make(chan outcome, 1),
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	g.queue = append(g.queue, req)
	g.dispatchLocked()
	g.mu.Unlock()

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		g.mu.Lock()
		withdrawn := g.removeLocked(req)
		g.mu.Unlock()
		if withdrawn {
			return nil, fmt.Errorf("governor: request cancelled while queued: %w", ctx.Err())
		}
		// Already admitted; the running attempt observes ctx and settles.
		out := <-req.done
		return out.result, out.err
	}
}

// Idle reports whether nothing is queued or in flight.
func (g *Governor) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idleLocked()
}

// Stats returns current counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Queued = len(g.queue)
	s.Active = g.active
	return s
}

// Close rejects new work and waits until queued and running calls finish or
// ctx is done.
func (g *Governor) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	if g.idleLocked() {
		g.drainOnce.Do(func() { close(g.drained) })
	}
	g.mu.Unlock()

	select {
	case <-g.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Governor) idleLocked() bool {
	return g.active == 0 && len(g.queue) == 0
}

func (g *Governor) dispatchLocked() {
	for g.active < g.cfg.MaxConcurrent && len(g.queue) > 0 {
		req := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		g.active++
		go g.run(req)
	}
	if len(g.queue) == 0 {
		g.queue = nil
	}
}

func (g *Governor) removeLocked(req *request) bool {
	for i, r := range g.queue {
		if r == req {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			if g.closed && g.idleLocked() {
				g.drainOnce.Do(func() { close(g.drained) })
			}
			return true
		}
	}
	return false
}

func (g *Governor) run(req *request) {
	result, err := g.process(req)

	g.mu.Lock()
	g.active--
	if err != nil {
		g.stats.Failed++
	} else {
		g.stats.Completed++
	}
	g.dispatchLocked()
	if g.closed && g.idleLocked() {
		g.drainOnce.Do(func() { close(g.drained) })
	}
	g.mu.Unlock()

	req.done <- outcome{result: result, err: err}
}

// process drives one logical call to a terminal state.
func (g *Governor) process(req *request) (*Result, error) {
	ctx := req.ctx
	payload := req.payload
	meta := req.meta

	id := g.ledger.Add(models.CallRecord{
		AgentName:      meta.AgentName,
		Model:          payload.Model,
		RequestPayload: meta.RequestPayload,
	})
	g.record(id, func(r *models.CallRecord) { r.Status = models.StatusProcessing })
	g.sendEvent(Event{Type: EventAdmitted, RecordID: id, AgentName: meta.AgentName, Model: payload.Model})

	tried := map[string]bool{payload.Model: true}
	attempts, total := 0, 0

	for {
		if err := g.pace(ctx); err != nil {
			return nil, g.fail(id, meta, payload.Model, total, err)
		}

		attempts++
		total++
		reply, err := g.attempt(ctx, req.perform, payload)
		if err == nil {
			return g.succeed(id, meta, payload.Model, total, reply), nil
		}
		if ctx.Err() != nil {
			return nil, g.fail(id, meta, payload.Model, total, err)
		}

		classified := Classify(err, payload.Model)

		if IsQuotaExceeded(classified) {
			if next, ok := g.fallbacks.Fallback(payload.Model); ok && !tried[next] {
				from := payload.Model
				msg := fmt.Sprintf("Quota exceeded. Falling back to %s.", next)
				logger.Warn("quota exceeded, falling back", "id", id, "from", from, "to", next)

				tried[next] = true
				payload.Model = next
				attempts = 0

				g.record(id, func(r *models.CallRecord) {
					r.Status = models.StatusRetrying
					r.Model = next
					r.Error = msg
				})
				g.mu.Lock()
				g.stats.Fallbacks++
				g.mu.Unlock()
				g.sendEvent(Event{
					Type: EventFallback, RecordID: id, AgentName: meta.AgentName,
					Model: next, FromModel: from, Attempt: total, Err: classified,
				})
				continue
			}
		}

		if IsRetryable(classified) && attempts < g.cfg.MaxRetries {
			backoff := g.cfg.Backoff(attempts)
			logger.Warn("call failed, retrying",
				"id", id, "model", payload.Model, "attempt", attempts,
				"maxRetries", g.cfg.MaxRetries, "backoff", backoff, "error", classified)

			g.record(id, func(r *models.CallRecord) {
				r.Status = models.StatusRetrying
				r.Error = classified.Error()
			})
			g.mu.Lock()
			g.stats.Retries++
			g.mu.Unlock()
			g.sendEvent(Event{
				Type: EventRetrying, RecordID: id, AgentName: meta.AgentName,
				Model: payload.Model, Attempt: total, Backoff: backoff, Err: classified,
			})

			if err := g.sleep(ctx, backoff); err != nil {
				return nil, g.fail(id, meta, payload.Model, total, err)
			}
			continue
		}

		logger.Error("call failed", "id", id, "model", payload.Model, "attempts", total, "error", classified)
		return nil, g.fail(id, meta, payload.Model, total, classified)
	}
}

func (g *Governor) attempt(ctx context.Context, perform PerformFunc, payload Payload) (*Reply, error) {
	if g.cfg.AttemptTimeout <= 0 {
		return g.call(ctx, perform, payload)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	reply, err := g.call(attemptCtx, perform, payload)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, &ServerError{
			Code:    504,
			Message: fmt.Sprintf("attempt timed out after %s", g.cfg.AttemptTimeout),
			Err:     err,
		}
	}
	return reply, err
}

func (g *Governor) call(ctx context.Context, perform PerformFunc, payload Payload) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("governor: perform panicked: %v", r)
		}
	}()
	reply, err = perform(ctx, payload)
	if err == nil && reply == nil {
		reply = &Reply{}
	}
	return reply, err
}

func (g *Governor) pace(ctx context.Context) error {
	if g.limiter == nil {
		return ctx.Err()
	}
	return g.limiter.Wait(ctx)
}

func (g *Governor) succeed(id string, meta Metadata, model string, attempts int, reply *Reply) *Result {
	var cost float64
	g.record(id, func(r *models.CallRecord) {
		r.Status = models.StatusSuccess
		r.Model = model
		r.Error = ""
		r.ResponsePayload = reply.Body

		u := reply.Usage
		if u == nil || u.PromptTokens == nil || u.CandidateTokens == nil {
			return
		}
		prompt, candidate := *u.PromptTokens, *u.CandidateTokens
		totalTokens := prompt + candidate
		if u.TotalTokens != nil {
			totalTokens = *u.TotalTokens
		}
		cost = g.pricer.Cost(model, prompt, candidate)

		r.PromptTokens = &prompt
		r.CandidateTokens = &candidate
		r.TotalTokens = &totalTokens
		r.EstimatedCost = &cost
	})

	logger.Debug("call succeeded", "id", id, "model", model, "attempts", attempts, "cost", cost)
	g.sendEvent(Event{
		Type: EventSucceeded, RecordID: id, AgentName: meta.AgentName,
		Model: model, Attempt: attempts, Cost: cost,
	})

	return &Result{Reply: reply, Model: model, RecordID: id, Attempts: attempts}
}

func (g *Governor) fail(id string, meta Metadata, model string, attempts int, err error) error {
	g.record(id, func(r *models.CallRecord) {
		r.Status = models.StatusFailed
		r.Model = model
		r.Error = err.Error()
		r.ResponsePayload = DescribeFailure(err)
	})
	g.sendEvent(Event{
		Type: EventFailed, RecordID: id, AgentName: meta.AgentName,
		Model: model, Attempt: attempts, Err: err,
	})
	return &CallError{Err: err, RecordID: id, Model: model, Attempts: attempts}
}

// record applies mutate to the ledger record and mirrors the resulting
// snapshot into the audit trail.
func (g *Governor) record(id string, mutate func(*models.CallRecord)) {
	if !g.ledger.Update(id, mutate) {
		return
	}
	if snap, ok := g.ledger.Get(id); ok {
		g.audit.LogEvent(models.AuditAPICall, snap)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
