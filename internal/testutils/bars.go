// Package testutils provides fixtures shared across package tests.
package testutils

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

// BaseTime is the fixed start timestamp used by bar fixtures.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Bar builds a single hourly bar at BaseTime + index hours with the given
// close. Open, high, and low are derived from the close.
func Bar(index int, close float64) domain.Bar {
	c := decimal.NewFromFloat(close)
	return domain.Bar{
		Timestamp: BaseTime.Add(time.Duration(index) * time.Hour),
		Open:      c,
		High:      c.Mul(decimal.NewFromFloat(1.01)),
		Low:       c.Mul(decimal.NewFromFloat(0.99)),
		Close:     c,
		Volume:    decimal.NewFromInt(100),
	}
}

// FlatBars builds n hourly bars all closing at the same price. A strategy
// sees no signal in them.
func FlatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = Bar(i, price)
	}
	return bars
}

// TrendBars builds n hourly bars whose close moves by step each bar.
func TrendBars(n int, start, step float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = Bar(i, start+float64(i)*step)
	}
	return bars
}

// ZigZagBars alternates the close between lo and hi every period bars,
// producing repeated crossovers.
func ZigZagBars(n, period int, lo, hi float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		price := lo
		if (i/period)%2 == 1 {
			price = hi
		}
		bars[i] = Bar(i, price)
	}
	return bars
}
