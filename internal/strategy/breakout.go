package strategy

import (
	"fmt"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Signal is the result of a breakout evaluation.
type Signal struct {
	Enter         bool
	BreakoutLevel decimal.Decimal
	RollingHigh   decimal.Decimal
}

// BreakoutDetector fires when the close reaches the prior rolling high.
type BreakoutDetector struct{}

// RollingHigh returns the maximum of all highs except the newest one.
func RollingHigh(highs []decimal.Decimal) (decimal.Decimal, error) {
	if len(highs) < 2 {
		return decimal.Zero, &domain.ConfigError{
			Field: "lookback",
			Err:   fmt.Errorf("need at least 2 highs, got %d", len(highs)),
		}
	}
	return decimal.Max(highs[0], highs[1:len(highs)-1]...), nil
}

// Evaluate decides entry. It never fires while invested.
func (BreakoutDetector) Evaluate(highs []decimal.Decimal, price decimal.Decimal, invested bool) (Signal, error) {
	high, err := RollingHigh(highs)
	if err != nil {
		return Signal{}, err
	}

	sig := Signal{RollingHigh: high}
	if !invested && price.GreaterThanOrEqual(high) {
		sig.Enter = true
		sig.BreakoutLevel = high
	}
	return sig, nil
}
