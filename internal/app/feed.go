package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/execution"

	"github.com/shopspring/decimal"
)

// BarSource serves completed daily bars over a range.
type BarSource interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error)
}

// PriceObserver is told about every last price the cycle reads.
type PriceObserver interface {
	UpdatePrice(symbol string, price decimal.Decimal)
}

// PaperFeed is the live market data seen by the cycle when trading on paper.
// Before handing out the last price it replays the bars completed since the
// previous cycle into the paper broker, so resting stops trigger first.
type PaperFeed struct {
	domain.MarketData
	bars     BarSource
	broker   *execution.PaperBroker
	observer PriceObserver

	mu      sync.Mutex
	lastBar time.Time
	now     func() time.Time
	logger  *slog.Logger
	onFill  func(execution.Fill)
}

// NewPaperFeed wraps data. bars is usually the same client.
func NewPaperFeed(data domain.MarketData, bars BarSource, broker *execution.PaperBroker, observer PriceObserver, onFill func(execution.Fill)) *PaperFeed {
	return &PaperFeed{
		MarketData: data,
		bars:       bars,
		broker:     broker,
		observer:   observer,
		now:        time.Now,
		logger:     slog.Default().With("module", "paper_feed"),
		onFill:     onFill,
	}
}

// SetLastBar marks bars up to t as already applied.
func (f *PaperFeed) SetLastBar(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBar = t
}

// LastPrice implements domain.MarketData with the close of the last completed
// session, the same price a replay decides on. The intraday quote only reaches
// the observer.
func (f *PaperFeed) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.catchUp(ctx, symbol); err != nil {
		return decimal.Zero, err
	}

	closes, err := f.MarketData.CloseHistory(ctx, symbol, 1, domain.ResolutionDaily)
	if err != nil {
		return decimal.Zero, err
	}
	if len(closes) == 0 {
		return decimal.Zero, &domain.DataError{Series: "close", Want: 1, Got: 0}
	}
	price := closes[len(closes)-1]
	f.broker.UpdatePrice(symbol, price)

	if f.observer != nil {
		quote, err := f.MarketData.LastPrice(ctx, symbol)
		if err != nil {
			f.logger.Warn("Quote unavailable, showing last close", slog.String("symbol", symbol), slog.Any("error", err))
			quote = price
		}
		f.observer.UpdatePrice(symbol, quote)
	}
	return price, nil
}

func (f *PaperFeed) catchUp(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	from := f.lastBar.Add(time.Second)
	if f.lastBar.IsZero() {
		// First cycle: nothing rests at the broker yet.
		from = now.AddDate(0, 0, -1)
	}
	bars, err := f.bars.Bars(ctx, symbol, from, now)
	if err != nil {
		return err
	}

	for _, bar := range bars {
		// The bar of the current session is still trading.
		if now.Sub(bar.Time) < 24*time.Hour || !bar.Time.After(f.lastBar) {
			continue
		}
		for _, fill := range f.broker.OnBar(symbol, bar) {
			f.logger.Info("Stop filled",
				slog.Time("session", bar.Time),
				slog.String("price", fill.Price.String()),
				slog.String("quantity", fill.Quantity.String()),
			)
			if f.onFill != nil {
				f.onFill(fill)
			}
		}
		f.lastBar = bar.Time
	}
	return nil
}
