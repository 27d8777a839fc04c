package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

// Order is a request to fill a quantity at the current market price.
type Order struct {
	Side     domain.TradeSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Fill is the result of executing an order against the simulated market.
type Fill struct {
	Price decimal.Decimal
	Fee   decimal.Decimal
}

var bpsDivisor = decimal.NewFromInt(10000)

// SimulatedExecutor applies slippage and commission to requested orders.
type SimulatedExecutor struct {
	commissionRate decimal.Decimal
	slippageBps    decimal.Decimal
}

// NewSimulatedExecutor creates an executor with the given commission rate
// (fraction of notional) and slippage in basis points.
func NewSimulatedExecutor(commissionRate, slippageBps decimal.Decimal) *SimulatedExecutor {
	return &SimulatedExecutor{
		commissionRate: commissionRate,
		slippageBps:    slippageBps,
	}
}

// Execute fills the order at the requested price adjusted by slippage in
// the adverse direction: buys fill higher, sells fill lower. Commission is
// charged on the slipped notional.
func (x *SimulatedExecutor) Execute(order Order) Fill {
	slip := order.Price.Mul(x.slippageBps).Div(bpsDivisor)

	price := order.Price
	if order.Side == domain.TradeSideBuy {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}

	fee := price.Mul(order.Quantity).Mul(x.commissionRate)

	return Fill{Price: price, Fee: fee}
}
