package engine

import (
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/strategy"
)

// State is everything carried from one daily cycle to the next.
type State struct {
	Symbol   string           `json:"symbol"`
	Lookback int              `json:"lookback"`
	Position domain.Position  `json:"position"`
	Stop     domain.StopOrder `json:"stop"`
	LastRun  time.Time        `json:"last_run"`
	Cycles   uint64           `json:"cycles"`
}

// NewState returns the state a fresh run starts from.
func NewState(symbol string, p strategy.Params) State {
	return State{
		Symbol:   symbol,
		Lookback: p.InitialLookback,
	}
}
