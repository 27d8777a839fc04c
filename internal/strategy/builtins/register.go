package builtins

import "github.com/openquant/backtest/internal/strategy"

// RegisterAll adds every built-in strategy to the registry.
func RegisterAll(r *strategy.Registry) {
	r.Register("sma_cross", Factory)
}
