package strategy

import (
	"context"
	"log/slog"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// StopResult is the state after a stop update. Only confirmed broker calls are reflected.
type StopResult struct {
	Position  domain.Position
	Stop      domain.StopOrder
	Placed    bool
	Adopted   bool
	Ratcheted bool
}

// StopManager places the protective stop and ratchets it while price makes new highs.
type StopManager struct {
	initial   decimal.Decimal
	dependent decimal.Decimal
	logger    *slog.Logger
}

// NewStopManager creates a stop manager from validated params.
func NewStopManager(p Params, logger *slog.Logger) *StopManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StopManager{
		initial:   p.InitialStopLoss,
		dependent: p.DependentStopLoss,
		logger:    logger.With("module", "stop_manager"),
	}
}

// InitialStopPrice is the protective floor below the breakout level.
func (m *StopManager) InitialStopPrice(breakoutLevel decimal.Decimal) decimal.Decimal {
	return m.initial.Mul(breakoutLevel)
}

// TrailingStopPrice is the candidate stop for a given price.
func (m *StopManager) TrailingStopPrice(price decimal.Decimal) decimal.Decimal {
	return price.Mul(m.dependent)
}

// ShouldRatchet reports whether price is a new high since entry and the trailing
// candidate sits above the initial floor.
// The comparison is against the initial floor, not the current stop.
func (m *StopManager) ShouldRatchet(pos domain.Position, price decimal.Decimal) bool {
	return price.GreaterThan(pos.HighestPriceSinceEntry) &&
		m.InitialStopPrice(pos.BreakoutLevel).LessThan(m.TrailingStopPrice(price))
}

// Update brings the stop in line with the position. Call it only while invested.
// On error the returned result still carries any broker call that did succeed
// earlier in the same update, so callers should commit it.
func (m *StopManager) Update(ctx context.Context, router domain.OrderRouter, symbol string, pos domain.Position, stop domain.StopOrder, price decimal.Decimal) (StopResult, error) {
	res := StopResult{Position: pos, Stop: stop}
	if !pos.Invested {
		return res, nil
	}
	if !pos.BreakoutLevel.IsPositive() {
		return res, domain.ErrNoBreakoutLevel
	}

	open, err := router.OpenOrders(ctx, symbol)
	if err != nil {
		return res, err
	}

	recorded := -1
	if stop.Exists {
		for i, o := range open {
			if o.ID == stop.Ticket.ID {
				recorded = i
				break
			}
		}
	}

	switch {
	case recorded >= 0:
		res.Stop = domain.FromTicket(open[recorded])
	case len(open) > 0 && !stop.Exists:
		res.Stop = domain.FromTicket(open[0])
		res.Adopted = true
		m.logger.Warn("Adopted open order as stop",
			slog.String("symbol", symbol),
			slog.String("order_id", open[0].ID),
			slog.String("stop_price", open[0].StopPrice.String()),
		)
	default:
		// No stop rests at the broker, or the recorded one is gone.
		stopPrice := m.InitialStopPrice(pos.BreakoutLevel)
		if stop.Exists && stop.StopPrice.GreaterThan(stopPrice) {
			// Re-arm at the level already reached.
			stopPrice = stop.StopPrice
		}
		ticket, err := router.PlaceStopMarketOrder(ctx, symbol, pos.Quantity.Neg(), stopPrice)
		if err != nil {
			return res, err
		}
		res.Stop = domain.FromTicket(ticket)
		res.Placed = true
		m.logger.Info("Stop placed",
			slog.String("symbol", symbol),
			slog.String("order_id", ticket.ID),
			slog.String("stop_price", ticket.StopPrice.String()),
			slog.String("quantity", ticket.Quantity.String()),
		)
	}

	if !m.ShouldRatchet(res.Position, price) {
		return res, nil
	}

	newStop := m.TrailingStopPrice(price)
	ticket, err := router.UpdateOrder(ctx, res.Stop.Ticket, newStop)
	if err != nil {
		return res, err
	}
	res.Position.HighestPriceSinceEntry = price
	res.Stop = domain.FromTicket(ticket)
	res.Ratcheted = true
	m.logger.Info("Stop ratcheted",
		slog.String("symbol", symbol),
		slog.String("order_id", ticket.ID),
		slog.String("stop_price", newStop.String()),
		slog.String("price", price.String()),
	)
	return res, nil
}
