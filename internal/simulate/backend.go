// Package simulate provides a fake model backend and a load driver for
// exercising the governor without network access.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/perpquant/mind-persona/internal/governor"
)

// Config tunes the fake backend.
type Config struct {
	// QuotaModels always answer with RESOURCE_EXHAUSTED.
	QuotaModels     []string
	Latency         time.Duration
	Jitter          time.Duration
	ServerErrorRate float64
	QuotaErrorRate  float64
	Seed            uint64
}

// DefaultConfig returns a backend that is slow enough to watch and fails
// often enough to show retries and fallbacks.
func DefaultConfig() Config {
	return Config{
		Latency:         400 * time.Millisecond,
		Jitter:          600 * time.Millisecond,
		ServerErrorRate: 0.15,
		QuotaErrorRate:  0.10,
		Seed:            1,
	}
}

// APIError mimics a backend error response. Its message is the JSON body.
type APIError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	data, err := json.Marshal(map[string]*APIError{"error": e})
	if err != nil {
		return e.Message
	}
	return string(data)
}

// StatusCode returns the HTTP-like status code.
func (e *APIError) StatusCode() int { return e.Code }

// Backend is a deterministic fake. It is safe for concurrent use.
type Backend struct {
	rng   *rand.Rand
	quota map[string]bool
	cfg   Config
	calls int
	mu    sync.Mutex
}

// New creates a backend.
func New(cfg Config) *Backend {
	b := &Backend{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		quota: make(map[string]bool, len(cfg.QuotaModels)),
	}
	for _, m := range cfg.QuotaModels {
		b.quota[m] = true
	}
	return b
}

// Calls returns the number of attempts served.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Perform implements governor.PerformFunc.
func (b *Backend) Perform(ctx context.Context, payload governor.Payload) (*governor.Reply, error) {
	b.mu.Lock()
	b.calls++
	delay := b.cfg.Latency
	if b.cfg.Jitter > 0 {
		delay += time.Duration(b.rng.Int64N(int64(b.cfg.Jitter)))
	}
	roll := b.rng.Float64()
	exhausted := b.quota[payload.Model]
	b.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	switch {
	case exhausted || roll < b.cfg.QuotaErrorRate:
		return nil, &APIError{
			Code:    429,
			Status:  governor.StatusResourceExhausted,
			Message: fmt.Sprintf("Quota exceeded for model %s", payload.Model),
		}
	case roll < b.cfg.QuotaErrorRate+b.cfg.ServerErrorRate:
		return nil, &APIError{Code: 503, Status: "UNAVAILABLE", Message: "The model is overloaded. Please try again later."}
	}

	prompt := fmt.Sprint(payload.Body)
	text := fmt.Sprintf("[%s] %s", payload.Model, reply(prompt))
	promptTokens := countTokens(prompt)
	candidateTokens := countTokens(text)
	total := promptTokens + candidateTokens

	return &governor.Reply{
		Body: text,
		Usage: &governor.Usage{
			PromptTokens:    &promptTokens,
			CandidateTokens: &candidateTokens,
			TotalTokens:     &total,
		},
	}, nil
}

func reply(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return "Nothing to answer."
	}
	return fmt.Sprintf("Considered %d words starting with %q.", len(words), words[0])
}

// countTokens approximates tokens as four characters each.
func countTokens(s string) int {
	return (len(s) + 3) / 4
}
