// Package pricing estimates the monetary cost of model calls.
//
// Prices are USD per million tokens, split into input (prompt) and output
// (candidate) rates. Models missing from a table are charged at the
// DefaultModel entry.
package pricing

import (
	"maps"
	"sync"
)

// DefaultModel is the key of the entry used for unknown models.
const DefaultModel = "default"

// ModelPrice holds per-million token prices for a model.
type ModelPrice struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Table is a price table keyed by model identifier. The zero value is not
// usable; build one with NewTable or Default.
type Table struct {
	prices map[string]ModelPrice
	mu     sync.RWMutex
}

var defaultPrices = map[string]ModelPrice{
	"gemini-2.5-pro":      {Input: 3.50, Output: 10.50},
	"gemini-2.5-flash":    {Input: 0.35, Output: 1.05},
	"gemini-flash-latest": {Input: 0.35, Output: 1.05},
	// Image generation is billed per image; this is a token approximation.
	"gemini-2.5-flash-image": {Input: 0.00, Output: 0.0025},
	DefaultModel:             {Input: 0.35, Output: 1.05},
}

var defaultTable = Default()

// Default returns a table holding the built-in prices.
func Default() *Table {
	return NewTable(defaultPrices)
}

// NewTable copies prices into a new table. A missing default entry is
// filled from the built-in prices.
func NewTable(prices map[string]ModelPrice) *Table {
	t := &Table{prices: make(map[string]ModelPrice, len(prices)+1)}
	maps.Copy(t.prices, prices)
	if _, ok := t.prices[DefaultModel]; !ok {
		t.prices[DefaultModel] = defaultPrices[DefaultModel]
	}
	return t
}

// Lookup returns the explicit price for model and whether one exists.
func (t *Table) Lookup(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[model]
	return p, ok
}

// Price returns the price applied to model, falling back to the default entry.
func (t *Table) Price(model string) ModelPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.prices[model]; ok {
		return p
	}
	return t.prices[DefaultModel]
}

// Cost returns the estimated cost of a call. Non-positive token counts
// contribute nothing.
func (t *Table) Cost(model string, promptTokens, candidateTokens int) float64 {
	p := t.Price(model)
	return perMillion(promptTokens, p.Input) + perMillion(candidateTokens, p.Output)
}

// Merge overlays prices onto the table, replacing existing entries.
func (t *Table) Merge(prices map[string]ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.prices, prices)
}

// Models returns a copy of every entry in the table.
func (t *Table) Models() map[string]ModelPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.prices)
}

// Calculate estimates a call's cost using the built-in table.
func Calculate(model string, promptTokens, candidateTokens int) float64 {
	return defaultTable.Cost(model, promptTokens, candidateTokens)
}

func perMillion(tokens int, rate float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1_000_000 * rate
}
