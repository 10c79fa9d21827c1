package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderTicket is the broker-side view of a placed order.
// Quantity is signed: negative quantities sell.
type OrderTicket struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	OrderTypeMarket     = "MARKET"
	OrderTypeStopMarket = "STOP_MARKET"

	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// IsOpen checks if the order is still active.
func (o OrderTicket) IsOpen() bool {
	return o.Status == OrderStatusNew
}

// WithStopPrice returns a copy of the ticket with the new trigger price.
func (o OrderTicket) WithStopPrice(price decimal.Decimal, at time.Time) OrderTicket {
	o.StopPrice = price
	o.UpdatedAt = at
	return o
}

// StopOrder is the strategy's record of its protective stop.
type StopOrder struct {
	Exists    bool            `json:"exists"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Ticket    OrderTicket     `json:"ticket"`
}

// FromTicket records a confirmed ticket as the current stop.
func FromTicket(t OrderTicket) StopOrder {
	return StopOrder{Exists: true, StopPrice: t.StopPrice, Ticket: t}
}
