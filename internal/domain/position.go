package domain

import "github.com/shopspring/decimal"

// Position is the strategy-owned view of the single tracked holding.
type Position struct {
	Invested               bool            `json:"invested"`
	Quantity               decimal.Decimal `json:"quantity"`
	BreakoutLevel          decimal.Decimal `json:"breakout_level"`
	HighestPriceSinceEntry decimal.Decimal `json:"highest_price_since_entry"`
}

// OpenPosition initializes a position right after a breakout entry.
func OpenPosition(qty, breakoutLevel decimal.Decimal) Position {
	return Position{
		Invested:               true,
		Quantity:               qty,
		BreakoutLevel:          breakoutLevel,
		HighestPriceSinceEntry: breakoutLevel,
	}
}
