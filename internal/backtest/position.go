package backtest

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

var (
	// ErrPositionOpen is returned when opening while a position exists.
	ErrPositionOpen = errors.New("a position is already open")
	// ErrNoPosition is returned when closing with no open position.
	ErrNoPosition = errors.New("no open position")
)

// PositionManager tracks the single open position of a run and computes
// realized P/L on close.
type PositionManager struct {
	position *domain.Position
}

// NewPositionManager creates an empty position manager.
func NewPositionManager() *PositionManager {
	return &PositionManager{}
}

// Position returns the open position, or nil when flat.
func (m *PositionManager) Position() *domain.Position {
	return m.position
}

// Open creates the position from an entry fill. Opening while a position is
// already open is an error: runs hold at most one position at a time.
func (m *PositionManager) Open(side domain.Side, price, quantity decimal.Decimal, ts time.Time, stopLoss, takeProfit *decimal.Decimal) (*domain.Position, error) {
	if m.position != nil {
		return nil, ErrPositionOpen
	}

	m.position = &domain.Position{
		Side:       side,
		EntryPrice: price,
		Quantity:   quantity,
		EntryTime:  ts,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	return m.position, nil
}

// Close destroys the open position and returns the exit trade record.
// Realized P/L is (close − entry) × quantity for longs, negated for shorts,
// minus the fee. Duration is the holding time in whole seconds.
func (m *PositionManager) Close(price decimal.Decimal, ts time.Time, fee decimal.Decimal, signalType domain.SignalType) (domain.Trade, error) {
	if m.position == nil {
		return domain.Trade{}, ErrNoPosition
	}

	pos := m.position
	m.position = nil

	gross := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	if pos.Side == domain.SideShort {
		gross = gross.Neg()
	}
	net := gross.Sub(fee)

	side := domain.TradeSideSell
	if pos.Side == domain.SideShort {
		side = domain.TradeSideBuy
	}

	return domain.Trade{
		Side:        side,
		SignalType:  signalType,
		Quantity:    pos.Quantity,
		Price:       price,
		Fee:         fee,
		Time:        ts,
		PnL:         net,
		DurationSec: int64(ts.Sub(pos.EntryTime) / time.Second),
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
	}, nil
}
