package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// BarView serves history as it looked at one session of a replay: only bars
// before the current one are visible, and the last price is the previous close.
// It implements domain.MarketData.
type BarView struct {
	mu     sync.RWMutex
	symbol string
	bars   []domain.Bar
	cursor int
	offset time.Duration
}

// NewBarView creates a view positioned before the first bar. offset is added
// to a bar's time to get the session clock.
func NewBarView(symbol string, bars []domain.Bar, offset time.Duration) *BarView {
	return &BarView{symbol: symbol, bars: bars, offset: offset}
}

// Seek makes bars[:i] the visible history.
func (v *BarView) Seek(i int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = i
}

// Len returns the number of bars.
func (v *BarView) Len() int {
	return len(v.bars)
}

// Bar returns bar i.
func (v *BarView) Bar(i int) domain.Bar {
	return v.bars[i]
}

// Now is the session clock: the current bar's time plus the offset.
func (v *BarView) Now() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cursor < len(v.bars) {
		return v.bars[v.cursor].Time.Add(v.offset)
	}
	return v.bars[len(v.bars)-1].Time.Add(v.offset)
}

func (v *BarView) visible(symbol string, count int) ([]domain.Bar, error) {
	if symbol != v.symbol {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, symbol)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	from := v.cursor - count
	if from < 0 {
		from = 0
	}
	return v.bars[from:v.cursor], nil
}

// CloseHistory implements domain.MarketData.
func (v *BarView) CloseHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	bars, err := v.visible(symbol, count)
	if err != nil {
		return nil, err
	}
	return domain.Closes(bars), nil
}

// HighHistory implements domain.MarketData.
func (v *BarView) HighHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	bars, err := v.visible(symbol, count)
	if err != nil {
		return nil, err
	}
	return domain.Highs(bars), nil
}

// LastPrice implements domain.MarketData.
func (v *BarView) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	bars, err := v.visible(symbol, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if len(bars) == 0 {
		return decimal.Zero, &domain.DataError{Series: "close", Want: 1, Got: 0}
	}
	return bars[0].Close, nil
}
