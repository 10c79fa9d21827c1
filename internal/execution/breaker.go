package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit around a broker.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
}

// DefaultBreakerSettings trips after 3 consecutive transport failures and probes again after a minute.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		ConsecutiveFailures: 3,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
	}
}

// GuardedBroker wraps a broker in a circuit breaker. Broker rejections are
// answers, not outages, so they never count toward tripping.
type GuardedBroker struct {
	inner  domain.Broker
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewGuardedBroker wraps inner.
func NewGuardedBroker(inner domain.Broker, s BreakerSettings) *GuardedBroker {
	logger := slog.Default().With("module", "broker_breaker")
	st := gobreaker.Settings{
		Name:     s.Name,
		Interval: s.Interval,
		Timeout:  s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			var re *domain.OrderRejectedError
			return err == nil || errors.As(err, &re)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &GuardedBroker{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

// State reports the circuit state.
func (g *GuardedBroker) State() gobreaker.State {
	return g.cb.State()
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// read runs a query through the breaker. An open circuit is a retriable network error.
func read[T any](g *GuardedBroker, op string, fn func() (T, error)) (T, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if isOpen(err) {
			return zero, domain.NewNetworkError(op, err)
		}
		return zero, err
	}
	return out.(T), nil
}

// submit runs an order call through the breaker. An open circuit rejects the order.
func (g *GuardedBroker) submit(symbol string, qty, price decimal.Decimal, fn func() (domain.OrderTicket, error)) (domain.OrderTicket, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if isOpen(err) {
			return domain.OrderTicket{}, &domain.OrderRejectedError{
				Symbol: symbol, Quantity: qty, Price: price, Reason: "circuit open", Err: err,
			}
		}
		return domain.OrderTicket{}, err
	}
	return out.(domain.OrderTicket), nil
}

func (g *GuardedBroker) IsInvested(ctx context.Context, symbol string) (bool, error) {
	return read(g, "is_invested", func() (bool, error) { return g.inner.IsInvested(ctx, symbol) })
}

func (g *GuardedBroker) Quantity(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return read(g, "quantity", func() (decimal.Decimal, error) { return g.inner.Quantity(ctx, symbol) })
}

func (g *GuardedBroker) OpenOrders(ctx context.Context, symbol string) ([]domain.OrderTicket, error) {
	return read(g, "open_orders", func() ([]domain.OrderTicket, error) { return g.inner.OpenOrders(ctx, symbol) })
}

func (g *GuardedBroker) PlaceStopMarketOrder(ctx context.Context, symbol string, qty, stopPrice decimal.Decimal) (domain.OrderTicket, error) {
	return g.submit(symbol, qty, stopPrice, func() (domain.OrderTicket, error) {
		return g.inner.PlaceStopMarketOrder(ctx, symbol, qty, stopPrice)
	})
}

func (g *GuardedBroker) UpdateOrder(ctx context.Context, ticket domain.OrderTicket, stopPrice decimal.Decimal) (domain.OrderTicket, error) {
	return g.submit(ticket.Symbol, ticket.Quantity, stopPrice, func() (domain.OrderTicket, error) {
		return g.inner.UpdateOrder(ctx, ticket, stopPrice)
	})
}

func (g *GuardedBroker) SetHoldings(ctx context.Context, symbol string, fraction decimal.Decimal) (domain.OrderTicket, error) {
	return g.submit(symbol, decimal.Zero, decimal.Zero, func() (domain.OrderTicket, error) {
		return g.inner.SetHoldings(ctx, symbol, fraction)
	})
}
