package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

// CurveSampleMeta describes how an equity curve was down-sampled for
// persistence.
type CurveSampleMeta struct {
	Sampled        bool `json:"sampled"`
	SampleRate     int  `json:"sample_rate"`
	OriginalLength int  `json:"original_length"`
}

// curveBuilder accumulates equity points during a run. Points with a
// duplicate timestamp collapse to the latest value so the persisted curve
// stays ascending. The seed point is the exception: its value is the
// starting capital and must survive, so a first-bar trade appends a second
// point at the same timestamp instead of overwriting it.
type curveBuilder struct {
	points []domain.EquityPoint
}

func newCurveBuilder(capacity int) *curveBuilder {
	return &curveBuilder{points: make([]domain.EquityPoint, 0, capacity)}
}

func (b *curveBuilder) append(ts time.Time, value decimal.Decimal, boundary bool) {
	n := len(b.points)
	// Periodic samples that repeat the previous value add nothing to the
	// rendered curve; a flat zero-trade run stays at two points.
	if !boundary && n > 0 && b.points[n-1].Value.Equal(value) {
		return
	}
	if n > 0 && !b.points[n-1].Time.Before(ts) {
		if n == 1 && !b.points[0].Value.Equal(value) {
			b.points = append(b.points, domain.EquityPoint{
				Time:          ts,
				Value:         value,
				TradeBoundary: boundary,
			})
			return
		}
		last := &b.points[n-1]
		last.Value = value
		last.TradeBoundary = last.TradeBoundary || boundary
		return
	}
	b.points = append(b.points, domain.EquityPoint{
		Time:          ts,
		Value:         value,
		TradeBoundary: boundary,
	})
}

// Points returns the accumulated curve.
func (b *curveBuilder) Points() []domain.EquityPoint {
	return b.points
}

// SampleCurve down-samples a curve to at most max points. Trade-boundary
// points together with the first and last point are kept preferentially;
// the remaining budget is distributed evenly over intermediate points. When
// the boundary points alone exceed the cap, they are thinned evenly too.
func SampleCurve(points []domain.EquityPoint, max int) ([]domain.EquityPoint, CurveSampleMeta) {
	meta := CurveSampleMeta{OriginalLength: len(points)}
	if max < 2 {
		max = 2
	}
	if len(points) <= max {
		return points, meta
	}

	meta.Sampled = true
	meta.SampleRate = (len(points) + max - 1) / max

	keep := make([]bool, len(points))
	keep[0] = true
	keep[len(points)-1] = true
	kept := 2

	var boundaries []int
	for i := 1; i < len(points)-1; i++ {
		if points[i].TradeBoundary {
			boundaries = append(boundaries, i)
		}
	}

	if kept+len(boundaries) > max {
		// More boundary points than the cap allows: thin them evenly.
		for _, i := range thinEvenly(boundaries, max-kept) {
			keep[i] = true
			kept++
		}
	} else {
		for _, i := range boundaries {
			keep[i] = true
			kept++
		}
		var rest []int
		for i := 1; i < len(points)-1; i++ {
			if !keep[i] {
				rest = append(rest, i)
			}
		}
		for _, i := range thinEvenly(rest, max-kept) {
			keep[i] = true
		}
	}

	out := make([]domain.EquityPoint, 0, max)
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out, meta
}

// thinEvenly selects up to budget indices spread evenly over candidates.
func thinEvenly(candidates []int, budget int) []int {
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= budget {
		return candidates
	}
	out := make([]int, 0, budget)
	step := float64(len(candidates)) / float64(budget)
	for i := 0; i < budget; i++ {
		out = append(out, candidates[int(float64(i)*step)])
	}
	return out
}
