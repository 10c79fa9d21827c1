package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"breakout_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill is an executed trade.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// PaperBroker simulates a cash account with market entries and stop-market exits.
// Market orders fill at the last known price; stops fill when a bar trades through them.
type PaperBroker struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[string]decimal.Decimal
	prices   map[string]decimal.Decimal
	orders   map[string]*domain.OrderTicket
	orderIDs []string // placement order
	fills    []Fill
	now      func() time.Time
	logger   *slog.Logger
}

// NewPaperBroker creates a broker holding startingCash.
func NewPaperBroker(startingCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		cash:     startingCash,
		holdings: make(map[string]decimal.Decimal),
		prices:   make(map[string]decimal.Decimal),
		orders:   make(map[string]*domain.OrderTicket),
		now:      time.Now,
		logger:   slog.Default().With("module", "paper_broker"),
	}
}

// SetClock overrides the broker's clock (replays run on bar time).
func (p *PaperBroker) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Deposit adds cash.
func (p *PaperBroker) Deposit(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.cash.Add(amount)
}

// Seed restores a holding bought at cost, with its resting stop if any.
// Used when persisted state outlives the process.
func (p *PaperBroker) Seed(symbol string, qty, cost decimal.Decimal, stop *domain.OrderTicket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[symbol] = p.holdings[symbol].Add(qty)
	p.cash = p.cash.Sub(qty.Mul(cost))
	if _, ok := p.prices[symbol]; !ok {
		p.prices[symbol] = cost
	}
	if stop != nil && stop.IsOpen() {
		t := *stop
		p.addLocked(&t)
	}
}

// UpdatePrice sets the last traded price used for market fills and equity.
func (p *PaperBroker) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// IsInvested implements domain.Portfolio.
func (p *PaperBroker) IsInvested(ctx context.Context, symbol string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.holdings[symbol].IsZero(), nil
}

// Quantity implements domain.Portfolio.
func (p *PaperBroker) Quantity(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[symbol], nil
}

// OpenOrders implements domain.OrderRouter. Orders are returned oldest first.
func (p *PaperBroker) OpenOrders(ctx context.Context, symbol string) ([]domain.OrderTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openOrdersLocked(symbol), nil
}

func (p *PaperBroker) openOrdersLocked(symbol string) []domain.OrderTicket {
	var out []domain.OrderTicket
	for _, id := range p.orderIDs {
		if o := p.orders[id]; o.Symbol == symbol && o.IsOpen() {
			out = append(out, *o)
		}
	}
	return out
}

// PlaceStopMarketOrder implements domain.OrderRouter. Only sell stops against a long holding are accepted.
func (p *PaperBroker) PlaceStopMarketOrder(ctx context.Context, symbol string, qty, stopPrice decimal.Decimal) (domain.OrderTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reject := func(reason string) (domain.OrderTicket, error) {
		return domain.OrderTicket{}, &domain.OrderRejectedError{Symbol: symbol, Quantity: qty, Price: stopPrice, Reason: reason}
	}
	if !qty.IsNegative() {
		return reject("stop quantity must be negative")
	}
	if !stopPrice.IsPositive() {
		return reject("stop price must be positive")
	}
	if qty.Abs().GreaterThan(p.holdings[symbol]) {
		return reject(fmt.Sprintf("stop size exceeds holding %s", p.holdings[symbol].String()))
	}

	now := p.now()
	ticket := &domain.OrderTicket{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Type:      domain.OrderTypeStopMarket,
		Quantity:  qty,
		StopPrice: stopPrice,
		Status:    domain.OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.addLocked(ticket)
	return *ticket, nil
}

// UpdateOrder implements domain.OrderRouter.
func (p *PaperBroker) UpdateOrder(ctx context.Context, ticket domain.OrderTicket, stopPrice decimal.Decimal) (domain.OrderTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[ticket.ID]
	if !ok || !o.IsOpen() {
		return domain.OrderTicket{}, &domain.OrderRejectedError{
			Symbol: ticket.Symbol, Quantity: ticket.Quantity, Price: stopPrice, Err: domain.ErrUnknownOrder,
		}
	}
	if !stopPrice.IsPositive() {
		return domain.OrderTicket{}, &domain.OrderRejectedError{
			Symbol: o.Symbol, Quantity: o.Quantity, Price: stopPrice, Reason: "stop price must be positive",
		}
	}
	*o = o.WithStopPrice(stopPrice, p.now())
	return *o, nil
}

// SetHoldings implements domain.OrderRouter. It buys or sells whole units at the
// last price so the symbol makes up fraction of equity.
func (p *PaperBroker) SetHoldings(ctx context.Context, symbol string, fraction decimal.Decimal) (domain.OrderTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || !price.IsPositive() {
		return domain.OrderTicket{}, &domain.OrderRejectedError{Symbol: symbol, Reason: "no price"}
	}

	target := p.equityLocked().Mul(fraction).Div(price).Floor()
	delta := target.Sub(p.holdings[symbol])
	if delta.IsZero() {
		return domain.OrderTicket{}, &domain.OrderRejectedError{Symbol: symbol, Price: price, Reason: "order quantity rounds to zero"}
	}

	now := p.now()
	ticket := &domain.OrderTicket{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Type:      domain.OrderTypeMarket,
		Quantity:  delta,
		Status:    domain.OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.fillLocked(ticket, price); err != nil {
		return domain.OrderTicket{}, &domain.OrderRejectedError{Symbol: symbol, Quantity: delta, Price: price, Err: err}
	}
	p.addLocked(ticket)
	return *ticket, nil
}

// OnBar marks the bar's close and fills any stop the bar traded through.
// A gap below the stop fills at the open.
func (p *PaperBroker) OnBar(symbol string, bar domain.Bar) []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fills []Fill
	for _, o := range p.openOrdersLocked(symbol) {
		if o.Type != domain.OrderTypeStopMarket || bar.Low.GreaterThan(o.StopPrice) {
			continue
		}
		price := o.StopPrice
		if bar.Open.IsPositive() && bar.Open.LessThan(price) {
			price = bar.Open
		}
		order := p.orders[o.ID]
		if err := p.fillLocked(order, price); err != nil {
			p.logger.Warn("Stop fill failed", slog.String("order_id", o.ID), slog.Any("error", err))
			continue
		}
		fills = append(fills, p.fills[len(p.fills)-1])
	}

	if p.holdings[symbol].IsZero() {
		for _, o := range p.openOrdersLocked(symbol) {
			p.orders[o.ID].Status = domain.OrderStatusCanceled
		}
	}

	p.prices[symbol] = bar.Close
	return fills
}

func (p *PaperBroker) addLocked(t *domain.OrderTicket) {
	p.orders[t.ID] = t
	p.orderIDs = append(p.orderIDs, t.ID)
}

var errInsufficientCash = errors.New("insufficient cash")

// fillLocked executes order at price. Quantity is signed.
func (p *PaperBroker) fillLocked(order *domain.OrderTicket, price decimal.Decimal) error {
	qty := order.Quantity
	held := p.holdings[order.Symbol]
	if qty.IsNegative() && qty.Abs().GreaterThan(held) {
		qty = held.Neg()
	}
	cost := qty.Mul(price)
	if cost.GreaterThan(p.cash) {
		return errInsufficientCash
	}

	p.cash = p.cash.Sub(cost)
	p.holdings[order.Symbol] = held.Add(qty)
	order.Status = domain.OrderStatusFilled
	order.UpdatedAt = p.now()

	side := SideBuy
	if qty.IsNegative() {
		side = SideSell
	}
	p.fills = append(p.fills, Fill{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     side,
		Quantity: qty.Abs(),
		Price:    price,
		Time:     order.UpdatedAt,
	})
	return nil
}

func (p *PaperBroker) equityLocked() decimal.Decimal {
	equity := p.cash
	for symbol, qty := range p.holdings {
		equity = equity.Add(qty.Mul(p.prices[symbol]))
	}
	return equity
}

// Equity returns cash plus holdings marked at the last price.
func (p *PaperBroker) Equity() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equityLocked()
}

// Cash returns the free cash balance.
func (p *PaperBroker) Cash() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Fills returns a copy of all fills.
func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}
