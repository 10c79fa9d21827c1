package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resolution is the bar size of a history query
type Resolution string

const (
	ResolutionDaily Resolution = "1d"
)

// Bar is one daily price sample. Sequences are ordered oldest to newest.
type Bar struct {
	Time  time.Time       `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Closes extracts the close series from bars.
func Closes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high series from bars.
func Highs(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}
