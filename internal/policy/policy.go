// Package policy holds the model fallback chain and price table, loaded from
// a YAML or JSON file and reloaded when the file changes.
package policy

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/perpquant/mind-persona/internal/pricing"
)

// NoFallback marks a model whose quota errors must not switch models.
const NoFallback = "none"

var defaultFallbacks = map[string]string{
	"gemini-2.5-pro":         "gemini-2.5-flash",
	"gemini-2.5-flash":       "gemini-flash-latest",
	"gemini-flash-latest":    NoFallback,
	"gemini-2.5-flash-image": NoFallback,
}

// File is the on-disk policy format. JSON files parse as well, being a
// subset of YAML.
type File struct {
	Fallbacks map[string]string             `yaml:"fallbacks" json:"fallbacks"`
	Prices    map[string]pricing.ModelPrice `yaml:"prices" json:"prices"`
}

// Policy is an immutable resolved policy.
type Policy struct {
	fallbacks map[string]string
	prices    *pricing.Table
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		fallbacks: maps.Clone(defaultFallbacks),
		prices:    pricing.Default(),
	}
}

// FromFile overlays f onto the built-in policy. A fallback of "" or "none"
// removes the model's fallback.
func FromFile(f File) *Policy {
	p := Default()
	for model, next := range f.Fallbacks {
		p.fallbacks[model] = strings.TrimSpace(next)
	}
	if len(f.Prices) > 0 {
		p.prices.Merge(f.Prices)
	}
	return p
}

// Parse decodes policy data.
func Parse(data []byte) (*Policy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	for model, price := range f.Prices {
		if price.Input < 0 || price.Output < 0 {
			return nil, fmt.Errorf("negative price for model %s", model)
		}
	}
	return FromFile(f), nil
}

// Load reads the policy at path. A missing file yields the built-in policy.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Fallback returns the model to switch to when model runs out of quota.
func (p *Policy) Fallback(model string) (string, bool) {
	next, ok := p.fallbacks[model]
	if !ok || next == "" || next == NoFallback || next == model {
		return "", false
	}
	return next, true
}

// Cost estimates the cost of a call.
func (p *Policy) Cost(model string, promptTokens, candidateTokens int) float64 {
	return p.prices.Cost(model, promptTokens, candidateTokens)
}

// Fallbacks returns a copy of the fallback table.
func (p *Policy) Fallbacks() map[string]string {
	return maps.Clone(p.fallbacks)
}

// Prices returns a copy of the price table.
func (p *Policy) Prices() map[string]pricing.ModelPrice {
	return p.prices.Models()
}

// Chain returns model followed by every model it falls back to.
func (p *Policy) Chain(model string) []string {
	chain := []string{model}
	seen := map[string]bool{model: true}
	for {
		next, ok := p.Fallback(chain[len(chain)-1])
		if !ok || seen[next] {
			return chain
		}
		seen[next] = true
		chain = append(chain, next)
	}
}
