package fraud

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Registry holds the fraud checks keyed by pattern tag.
type Registry struct {
	checks map[domain.FraudPattern]Check
	mu     sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add checks.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[domain.FraudPattern]Check)}
}

// DefaultRegistry returns a registry with every built-in check.
func DefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.Register(NewSameIP())
	r.Register(NewUnusualJump(cfg.JumpMultiple))
	r.Register(NewDuplicateIdentity())
	r.Register(NewRapidAlternation(cfg.AlternationMin, cfg.AlternationWindow))
	return r
}

// Register adds c under its pattern tag, replacing any previous check.
func (r *Registry) Register(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[c.Pattern()] = c
}

// Get returns the check for pattern, or an error if none is registered.
func (r *Registry) Get(pattern domain.FraudPattern) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[pattern]
	if !ok {
		return nil, fmt.Errorf("fraud check %q not found", pattern)
	}
	return c, nil
}

// List returns all registered pattern tags, sorted.
func (r *Registry) List() []domain.FraudPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]domain.FraudPattern, 0, len(r.checks))
	for p := range r.checks {
		tags = append(tags, p)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
