// Package strategy defines the contract the backtest engine consumes from
// the strategy layer and provides a Registry for looking up implementations
// by id. Strategy rule parsing lives outside this module; the engine only
// sees resolved strategies.
package strategy

import (
	"sort"

	"github.com/openquant/backtest/internal/domain"
)

// Strategy is a resolved, ready-to-evaluate trading strategy.
type Strategy interface {
	// ID returns the unique identifier for this strategy.
	ID() string

	// WarmupBars returns the minimum number of bars the strategy needs
	// before it can produce meaningful signals.
	WarmupBars() int

	// Evaluate inspects the bar window ending at the current bar together
	// with the current position state and returns the triggered signal.
	// bars[len(bars)-1] is the current bar. position is nil when flat.
	Evaluate(bars []domain.Bar, position *domain.Position) domain.Signal
}

// Factory builds a strategy instance from run parameters.
type Factory func(params map[string]string) (Strategy, error)

// Registry holds a named collection of strategy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a strategy factory under the given id.
func (r *Registry) Register(id string, f Factory) {
	r.factories[id] = f
}

// Build constructs a strategy by id with the given parameters. The second
// return value indicates whether the id was found.
func (r *Registry) Build(id string, params map[string]string) (Strategy, bool, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, false, nil
	}
	s, err := f(params)
	return s, true, err
}

// List returns a sorted slice of all registered strategy ids.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
