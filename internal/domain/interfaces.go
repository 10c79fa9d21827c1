package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData supplies daily history and the latest traded price.
// History sequences are ordered oldest to newest and hold at most count samples.
type MarketData interface {
	CloseHistory(ctx context.Context, symbol string, count int, res Resolution) ([]decimal.Decimal, error)
	HighHistory(ctx context.Context, symbol string, count int, res Resolution) ([]decimal.Decimal, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Portfolio answers holdings questions for a symbol.
type Portfolio interface {
	IsInvested(ctx context.Context, symbol string) (bool, error)
	Quantity(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderRouter places and amends orders. Failures are *OrderRejectedError.
type OrderRouter interface {
	OpenOrders(ctx context.Context, symbol string) ([]OrderTicket, error)
	PlaceStopMarketOrder(ctx context.Context, symbol string, qty, stopPrice decimal.Decimal) (OrderTicket, error)
	UpdateOrder(ctx context.Context, ticket OrderTicket, stopPrice decimal.Decimal) (OrderTicket, error)
	// SetHoldings targets fraction of portfolio value in symbol with a market order.
	SetHoldings(ctx context.Context, symbol string, fraction decimal.Decimal) (OrderTicket, error)
}

// Broker is everything the daily cycle needs from the brokerage.
type Broker interface {
	Portfolio
	OrderRouter
}

// SeriesSink receives plot points. It has no effect on decisions.
type SeriesSink interface {
	Emit(series, label string, value decimal.Decimal)
}
