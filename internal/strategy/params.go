package strategy

import (
	"errors"
	"fmt"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Params holds the tunable constants of the breakout strategy.
type Params struct {
	// InitialStopLoss is the floor stop as a fraction of the breakout level.
	InitialStopLoss decimal.Decimal
	// DependentStopLoss is the trailing stop as a fraction of the close.
	DependentStopLoss decimal.Decimal

	InitialLookback int
	LowestLookback  int
	HighestLookback int

	// VolatilityWindow is the number of closes per volatility sample.
	// The adjuster needs VolatilityWindow+1 closes.
	VolatilityWindow int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		InitialStopLoss:   decimal.RequireFromString("0.96"),
		DependentStopLoss: decimal.RequireFromString("0.9"),
		InitialLookback:   20,
		LowestLookback:    10,
		HighestLookback:   30,
		VolatilityWindow:  30,
	}
}

// Validate checks the parameter set. Errors are *domain.ConfigError and fatal at startup.
func (p Params) Validate() error {
	// The detector drops the newest high, so it needs at least two.
	if p.LowestLookback < 2 {
		return &domain.ConfigError{Field: "lowest_lookback", Err: fmt.Errorf("must be at least 2, got %d", p.LowestLookback)}
	}
	if p.HighestLookback < p.LowestLookback {
		return &domain.ConfigError{Field: "highest_lookback", Err: fmt.Errorf("%d is below lowest_lookback %d", p.HighestLookback, p.LowestLookback)}
	}
	if p.InitialLookback < p.LowestLookback || p.InitialLookback > p.HighestLookback {
		return &domain.ConfigError{Field: "initial_lookback", Err: fmt.Errorf("%d outside [%d, %d]", p.InitialLookback, p.LowestLookback, p.HighestLookback)}
	}
	if p.VolatilityWindow < 2 {
		return &domain.ConfigError{Field: "volatility_window", Err: fmt.Errorf("must be at least 2, got %d", p.VolatilityWindow)}
	}
	if err := checkFactor(p.InitialStopLoss); err != nil {
		return &domain.ConfigError{Field: "initial_stop_loss", Err: err}
	}
	if err := checkFactor(p.DependentStopLoss); err != nil {
		return &domain.ConfigError{Field: "dependent_stop_loss", Err: err}
	}
	return nil
}

func checkFactor(f decimal.Decimal) error {
	if !f.IsPositive() || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("must be in (0, 1)")
	}
	return nil
}
