package strategy

import (
	"math"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Variance returns the population variance of values in exact decimal arithmetic.
// A window of equal prices yields exactly zero at any price level.
func Variance(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(len(values)))
	mean := decimal.Sum(values[0], values[1:]...).Div(n)

	sq := decimal.Zero
	for _, v := range values {
		dev := v.Sub(mean)
		sq = sq.Add(dev.Mul(dev))
	}
	return sq.Div(n)
}

// Volatility is the population standard deviation of values. Only the square
// root is taken in floating point.
func Volatility(values []decimal.Decimal) float64 {
	v := Variance(values)
	if !v.IsPositive() {
		return 0
	}
	return math.Sqrt(v.InexactFloat64())
}

// Adjustment describes one lookback resize.
type Adjustment struct {
	Previous            int
	Lookback            int
	TodayVolatility     float64
	YesterdayVolatility float64
	Delta               float64

	// SkipReason is domain.ErrDivisionUndefined when today's volatility is zero.
	SkipReason error
}

// Skipped reports whether the lookback was carried over without adjustment.
func (a Adjustment) Skipped() bool {
	return a.SkipReason != nil
}

// LookbackAdjuster scales the breakout window by the day-over-day change in volatility.
type LookbackAdjuster struct {
	lowest  int
	highest int
	window  int
}

// NewLookbackAdjuster creates an adjuster from validated params.
func NewLookbackAdjuster(p Params) *LookbackAdjuster {
	return &LookbackAdjuster{
		lowest:  p.LowestLookback,
		highest: p.HighestLookback,
		window:  p.VolatilityWindow,
	}
}

// SampleSize is the number of closes Adjust expects.
func (a *LookbackAdjuster) SampleSize() int {
	return a.window + 1
}

// Adjust computes the new lookback from closes (oldest first).
// Today's volatility covers the newest window, yesterday's the window one day earlier.
func (a *LookbackAdjuster) Adjust(closes []decimal.Decimal, current int) (Adjustment, error) {
	adj := Adjustment{Previous: current}
	if len(closes) != a.SampleSize() {
		return adj, &domain.DataError{Series: "close", Want: a.SampleSize(), Got: len(closes)}
	}

	adj.TodayVolatility = Volatility(closes[1:])
	adj.YesterdayVolatility = Volatility(closes[:a.window])

	if adj.TodayVolatility == 0 {
		adj.SkipReason = domain.ErrDivisionUndefined
		adj.Lookback = a.clamp(current)
		return adj, nil
	}

	adj.Delta = (adj.TodayVolatility - adj.YesterdayVolatility) / adj.TodayVolatility
	// Half-to-even, matching the rounding the strategy was calibrated with.
	scaled := math.RoundToEven(float64(current) * (1 + adj.Delta))
	adj.Lookback = a.clamp(int(scaled))
	return adj, nil
}

func (a *LookbackAdjuster) clamp(n int) int {
	if n > a.highest {
		return a.highest
	}
	if n < a.lowest {
		return a.lowest
	}
	return n
}
