package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/strategy"

	"github.com/shopspring/decimal"
)

const (
	chartName       = "Data Chart"
	seriesStopPrice = "Stop Price"
	seriesLookback  = "Lookback"
)

// Report describes what one cycle observed and did.
type Report struct {
	Session    time.Time
	Close      decimal.Decimal
	Adjustment strategy.Adjustment
	Signal     strategy.Signal
	Entered    bool
	Entry      domain.OrderTicket
	Exited     bool
	Stop       strategy.StopResult
}

// Cycle runs the once-per-session decision sequence for one symbol.
// It holds no state of its own: Run maps the previous State to the next.
type Cycle struct {
	symbol   string
	adjuster *strategy.LookbackAdjuster
	detector strategy.BreakoutDetector
	stops    *strategy.StopManager

	data   domain.MarketData
	broker domain.Broker
	sink   domain.SeriesSink

	logger *slog.Logger
	now    func() time.Time
}

// NewCycle wires a cycle. Invalid params are a *domain.ConfigError.
func NewCycle(p strategy.Params, symbol string, data domain.MarketData, broker domain.Broker, sink domain.SeriesSink, logger *slog.Logger) (*Cycle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, &domain.ConfigError{Field: "symbol", Err: domain.ErrInvalidSymbol}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{
		symbol:   symbol,
		adjuster: strategy.NewLookbackAdjuster(p),
		stops:    strategy.NewStopManager(p, logger),
		data:     data,
		broker:   broker,
		sink:     sink,
		logger:   logger.With("module", "daily_cycle", "symbol", symbol),
		now:      time.Now,
	}, nil
}

// SetClock overrides the session clock (replays run on bar time).
func (c *Cycle) SetClock(now func() time.Time) {
	c.now = now
}

// Symbol returns the traded symbol.
func (c *Cycle) Symbol() string {
	return c.symbol
}

// Run executes one cycle. The returned State is always safe to persist: on a
// data error it is st unchanged; on an order error it holds the new lookback
// and every order change the broker confirmed, nothing more.
func (c *Cycle) Run(ctx context.Context, st State) (State, Report, error) {
	report := Report{Session: c.now()}

	// 1. Reads. Nothing is mutated until all of them succeed.
	want := c.adjuster.SampleSize()
	closes, err := c.data.CloseHistory(ctx, c.symbol, want, domain.ResolutionDaily)
	if err != nil {
		return st, report, fmt.Errorf("close history: %w", err)
	}
	if len(closes) < want {
		return st, report, &domain.DataError{Series: "close", Want: want, Got: len(closes)}
	}
	closes = closes[len(closes)-want:]

	adj, err := c.adjuster.Adjust(closes, st.Lookback)
	if err != nil {
		return st, report, err
	}
	report.Adjustment = adj
	if adj.Skipped() {
		c.logger.Warn("Lookback adjustment skipped",
			slog.Int("lookback", adj.Lookback),
			slog.Any("error", adj.SkipReason),
		)
	}

	highs, err := c.data.HighHistory(ctx, c.symbol, adj.Lookback, domain.ResolutionDaily)
	if err != nil {
		return st, report, fmt.Errorf("high history: %w", err)
	}
	if len(highs) < adj.Lookback {
		return st, report, &domain.DataError{Series: "high", Want: adj.Lookback, Got: len(highs)}
	}
	highs = highs[len(highs)-adj.Lookback:]

	lastClose, err := c.data.LastPrice(ctx, c.symbol)
	if err != nil {
		return st, report, fmt.Errorf("last price: %w", err)
	}
	report.Close = lastClose

	invested, err := c.broker.IsInvested(ctx, c.symbol)
	if err != nil {
		return st, report, fmt.Errorf("portfolio: %w", err)
	}

	// 2. Commit the lookback and reconcile the position.
	next := st
	next.Lookback = adj.Lookback
	next.LastRun = report.Session
	next.Cycles++
	c.emit(seriesLookback, decimal.NewFromInt(int64(next.Lookback)))

	if !invested && next.Position.Invested {
		c.logger.Info("Position closed since last cycle",
			slog.String("breakout_level", next.Position.BreakoutLevel.String()),
			slog.String("last_stop", next.Stop.StopPrice.String()),
		)
		next.Position = domain.Position{}
		next.Stop = domain.StopOrder{}
		report.Exited = true
	}

	// 3. Entry.
	sig, err := c.detector.Evaluate(highs, lastClose, invested)
	if err != nil {
		return next, report, err
	}
	report.Signal = sig

	if sig.Enter {
		ticket, err := c.broker.SetHoldings(ctx, c.symbol, decimal.NewFromInt(1))
		if err != nil {
			return next, report, err
		}
		next.Position = domain.OpenPosition(ticket.Quantity, sig.BreakoutLevel)
		next.Stop = domain.StopOrder{}
		report.Entered = true
		report.Entry = ticket
		c.logger.Info("Breakout entry",
			slog.String("close", lastClose.String()),
			slog.String("breakout_level", sig.BreakoutLevel.String()),
			slog.String("quantity", ticket.Quantity.String()),
			slog.Int("lookback", next.Lookback),
		)

		if invested, err = c.broker.IsInvested(ctx, c.symbol); err != nil {
			return next, report, fmt.Errorf("portfolio: %w", err)
		}
	}

	if !invested {
		return next, report, nil
	}

	// 4. Stop management.
	if next.Position.Invested {
		qty, err := c.broker.Quantity(ctx, c.symbol)
		if err != nil {
			return next, report, fmt.Errorf("portfolio: %w", err)
		}
		next.Position.Quantity = qty
	}

	res, err := c.stops.Update(ctx, c.broker, c.symbol, positionOrUnknown(next.Position), next.Stop, lastClose)
	report.Stop = res
	if next.Position.Invested {
		next.Position = res.Position
		next.Stop = res.Stop
	}
	if err != nil {
		return next, report, err
	}

	c.emit(seriesStopPrice, next.Stop.StopPrice)
	return next, report, nil
}

// positionOrUnknown marks a broker-reported holding the strategy did not open,
// so the stop manager refuses to guess a breakout level for it.
func positionOrUnknown(p domain.Position) domain.Position {
	if p.Invested {
		return p
	}
	return domain.Position{Invested: true}
}

func (c *Cycle) emit(label string, value decimal.Decimal) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(chartName, label, value)
}
