package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/execution"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubData struct {
	closes   []decimal.Decimal
	last     decimal.Decimal
	quoteErr error
}

func (s stubData) CloseHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	if len(s.closes) > count {
		return s.closes[len(s.closes)-count:], nil
	}
	return s.closes, nil
}

func (s stubData) HighHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	return nil, nil
}

func (s stubData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.quoteErr != nil {
		return decimal.Zero, s.quoteErr
	}
	return s.last, nil
}

type stubBars struct {
	bars  []domain.Bar
	calls int
}

func (s *stubBars) Bars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	s.calls++
	var out []domain.Bar
	for _, b := range s.bars {
		if !b.Time.Before(from) && b.Time.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

type priceLog map[string]decimal.Decimal

func (p priceLog) UpdatePrice(symbol string, price decimal.Decimal) {
	p[symbol] = price
}

func TestPaperFeed_TriggersStopsBeforePricing(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2021, 3, 1, 14, 30, 0, 0, time.UTC)

	paper := execution.NewPaperBroker(decimal.NewFromInt(1000))
	paper.UpdatePrice("TSLA", decimal.NewFromInt(100))
	_, err := paper.SetHoldings(ctx, "TSLA", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = paper.PlaceStopMarketOrder(ctx, "TSLA", decimal.NewFromInt(-10), decimal.NewFromInt(96))
	require.NoError(t, err)

	bars := &stubBars{bars: []domain.Bar{
		{Time: day, Open: decimal.NewFromInt(99), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(98), Close: decimal.NewFromInt(99)},
		{Time: day.AddDate(0, 0, 1), Open: decimal.NewFromInt(97), High: decimal.NewFromInt(98), Low: decimal.NewFromInt(94), Close: decimal.NewFromInt(95)},
		// Today's session, still open.
		{Time: day.AddDate(0, 0, 2), Open: decimal.NewFromInt(95), High: decimal.NewFromInt(95), Low: decimal.NewFromInt(80), Close: decimal.NewFromInt(90)},
	}}
	prices := priceLog{}
	var fills []execution.Fill

	data := stubData{closes: []decimal.Decimal{decimal.NewFromInt(99), decimal.NewFromInt(95)}, last: decimal.NewFromInt(93)}
	feed := NewPaperFeed(data, bars, paper, prices, func(f execution.Fill) { fills = append(fills, f) })
	feed.now = func() time.Time { return day.AddDate(0, 0, 2).Add(30 * time.Minute) }
	feed.SetLastBar(day.Add(-24 * time.Hour))

	// Decisions use the last completed close; the observer sees the live quote.
	price, err := feed.LastPrice(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(95)), "price %s", price)
	assert.True(t, prices["TSLA"].Equal(decimal.NewFromInt(93)))

	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(decimal.NewFromInt(96)), "filled at %s", fills[0].Price)

	invested, _ := paper.IsInvested(ctx, "TSLA")
	assert.False(t, invested)

	// Bars already applied are not replayed.
	_, err = feed.LastPrice(ctx, "TSLA")
	require.NoError(t, err)
	assert.Len(t, fills, 1)
	assert.Equal(t, 2, bars.calls)
}

func TestPaperFeed_PricesAtPreviousClose(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 3, 3, 15, 0, 0, 0, time.UTC)
	paper := execution.NewPaperBroker(decimal.NewFromInt(1000))
	prices := priceLog{}

	data := stubData{
		closes:   []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(104)},
		quoteErr: errors.New("quote down"),
	}
	feed := NewPaperFeed(data, &stubBars{}, paper, prices, nil)
	feed.now = func() time.Time { return now }

	price, err := feed.LastPrice(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(104)))
	// A failed quote falls back to the close for display.
	assert.True(t, prices["TSLA"].Equal(decimal.NewFromInt(104)))

	// The paper broker fills entries at the same close.
	ticket, err := paper.SetHoldings(ctx, "TSLA", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, ticket.Quantity.Equal(decimal.NewFromInt(9)))

	_, err = NewPaperFeed(stubData{}, &stubBars{}, paper, nil, nil).LastPrice(ctx, "TSLA")
	var de *domain.DataError
	assert.ErrorAs(t, err, &de)
}
