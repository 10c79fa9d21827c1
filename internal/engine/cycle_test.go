package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/execution"
	"breakout_go/internal/strategy"

	"github.com/shopspring/decimal"
)

const sym = "TSLA"

var fixedNow = time.Date(2021, 3, 1, 15, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeData serves fixed series, newest last.
type fakeData struct {
	closes []decimal.Decimal
	highs  []decimal.Decimal
	last   decimal.Decimal
	err    error

	closeCalls int
	highCalls  int
}

func tail(s []decimal.Decimal, n int) []decimal.Decimal {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (f *fakeData) CloseHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	f.closeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return tail(f.closes, count), nil
}

func (f *fakeData) HighHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	f.highCalls++
	return tail(f.highs, count), nil
}

func (f *fakeData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.last, nil
}

type point struct {
	series, label string
	value         decimal.Decimal
}

type recordSink struct {
	points []point
}

func (r *recordSink) Emit(series, label string, value decimal.Decimal) {
	r.points = append(r.points, point{series, label, value})
}

func (r *recordSink) last(label string) (decimal.Decimal, bool) {
	for i := len(r.points) - 1; i >= 0; i-- {
		if r.points[i].label == label {
			return r.points[i].value, true
		}
	}
	return decimal.Zero, false
}

// rejectingStops refuses every stop placement.
type rejectingStops struct {
	*execution.PaperBroker
}

func (r rejectingStops) PlaceStopMarketOrder(ctx context.Context, symbol string, qty, stopPrice decimal.Decimal) (domain.OrderTicket, error) {
	return domain.OrderTicket{}, &domain.OrderRejectedError{Symbol: symbol, Quantity: qty, Price: stopPrice, Reason: "market closed"}
}

// steadyCloses alternates 100/110 so both volatility windows match.
func steadyCloses(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = d("100")
		} else {
			out[i] = d("110")
		}
	}
	return out
}

// highsBelow returns n highs whose maximum over the first n-1 is peak.
func highsBelow(n int, peak string) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = d("100")
	}
	out[n/2] = d(peak)
	return out
}

func newTestCycle(t *testing.T, data domain.MarketData, broker domain.Broker, sink domain.SeriesSink) *Cycle {
	t.Helper()
	c, err := NewCycle(strategy.DefaultParams(), sym, data, broker, sink, nil)
	if err != nil {
		t.Fatalf("NewCycle failed: %v", err)
	}
	c.now = func() time.Time { return fixedNow }
	return c
}

func newPaper(price string) *execution.PaperBroker {
	p := execution.NewPaperBroker(d("100000"))
	p.UpdatePrice(sym, d(price))
	return p
}

func TestCycle_SteadyVolatilityKeepsLookback(t *testing.T) {
	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(20, "120"), last: d("110")}
	sink := &recordSink{}
	c := newTestCycle(t, data, newPaper("110"), sink)

	next, report, err := c.Run(context.Background(), NewState(sym, strategy.DefaultParams()))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if next.Lookback != 20 {
		t.Errorf("Expected lookback 20, got %d", next.Lookback)
	}
	if report.Signal.Enter {
		t.Error("Expected no entry below the rolling high")
	}
	if next.Cycles != 1 || !next.LastRun.Equal(fixedNow) {
		t.Errorf("Expected cycle bookkeeping, got cycles=%d last_run=%s", next.Cycles, next.LastRun)
	}
	if v, ok := sink.last("Lookback"); !ok || !v.Equal(d("20")) {
		t.Errorf("Expected Lookback point 20, got %v (%v)", v, ok)
	}
	if _, ok := sink.last("Stop Price"); ok {
		t.Error("Stop Price should not be emitted while flat")
	}
	if sink.points[0].series != "Data Chart" {
		t.Errorf("Expected Data Chart series, got %s", sink.points[0].series)
	}
}

func TestCycle_ZeroVolatilitySkipsAdjustment(t *testing.T) {
	closes := make([]decimal.Decimal, 31)
	for i := range closes {
		closes[i] = d("100")
	}
	data := &fakeData{closes: closes, highs: highsBelow(17, "120"), last: d("100")}
	c := newTestCycle(t, data, newPaper("100"), nil)

	st := NewState(sym, strategy.DefaultParams())
	st.Lookback = 17
	next, report, err := c.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if next.Lookback != 17 {
		t.Errorf("Expected lookback carried at 17, got %d", next.Lookback)
	}
	if !errors.Is(report.Adjustment.SkipReason, domain.ErrDivisionUndefined) {
		t.Errorf("Expected skip reason, got %v", report.Adjustment.SkipReason)
	}
}

func TestCycle_EntryPlacesInitialStop(t *testing.T) {
	highs := highsBelow(20, "110")
	data := &fakeData{closes: steadyCloses(31), highs: highs, last: d("111")}
	paper := newPaper("111")
	sink := &recordSink{}
	c := newTestCycle(t, data, paper, sink)

	next, report, err := c.Run(context.Background(), NewState(sym, strategy.DefaultParams()))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Entered || !report.Signal.BreakoutLevel.Equal(d("110")) {
		t.Fatalf("Expected entry at breakout 110, got %+v", report.Signal)
	}

	pos := next.Position
	if !pos.Invested || !pos.Quantity.Equal(d("900")) {
		t.Errorf("Expected 900 shares invested, got %+v", pos)
	}
	if !pos.HighestPriceSinceEntry.Equal(d("110")) {
		t.Errorf("Expected highest 110, got %s", pos.HighestPriceSinceEntry)
	}

	if !report.Stop.Placed || !next.Stop.Exists {
		t.Fatal("Expected initial stop placed")
	}
	if !next.Stop.StopPrice.Equal(d("105.6")) {
		t.Errorf("Expected stop 105.6, got %s", next.Stop.StopPrice)
	}
	if !next.Stop.Ticket.Quantity.Equal(d("-900")) {
		t.Errorf("Expected stop for -900, got %s", next.Stop.Ticket.Quantity)
	}
	if v, ok := sink.last("Stop Price"); !ok || !v.Equal(d("105.6")) {
		t.Errorf("Expected Stop Price point 105.6, got %v", v)
	}

	open, _ := paper.OpenOrders(context.Background(), sym)
	if len(open) != 1 {
		t.Errorf("Expected 1 open stop at the broker, got %d", len(open))
	}
}

func TestCycle_RatchetsOnNewHigh(t *testing.T) {
	ctx := context.Background()
	paper := newPaper("110")
	if _, err := paper.SetHoldings(ctx, sym, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SetHoldings failed: %v", err)
	}
	ticket, err := paper.PlaceStopMarketOrder(ctx, sym, d("-909"), d("105.6"))
	if err != nil {
		t.Fatalf("PlaceStopMarketOrder failed: %v", err)
	}

	st := NewState(sym, strategy.DefaultParams())
	st.Position = domain.OpenPosition(d("909"), d("110"))
	st.Stop = domain.FromTicket(ticket)

	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(20, "125"), last: d("130")}
	c := newTestCycle(t, data, paper, nil)

	next, report, err := c.Run(ctx, st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Entered {
		t.Error("Should not enter while invested")
	}
	if !report.Stop.Ratcheted {
		t.Fatal("Expected ratchet")
	}
	if !next.Stop.StopPrice.Equal(d("117")) {
		t.Errorf("Expected stop 117, got %s", next.Stop.StopPrice)
	}
	if !next.Position.HighestPriceSinceEntry.Equal(d("130")) {
		t.Errorf("Expected highest 130, got %s", next.Position.HighestPriceSinceEntry)
	}
	if next.Stop.Ticket.ID != ticket.ID {
		t.Error("Ratchet should amend the existing order")
	}
}

func TestCycle_ShortHistoryLeavesStateUntouched(t *testing.T) {
	paper := newPaper("111")
	sink := &recordSink{}
	data := &fakeData{closes: steadyCloses(20), highs: highsBelow(20, "110"), last: d("111")}
	c := newTestCycle(t, data, paper, sink)

	st := NewState(sym, strategy.DefaultParams())
	st.Lookback = 23
	next, _, err := c.Run(context.Background(), st)

	var de *domain.DataError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DataError, got %v", err)
	}
	if de.Want != 31 || de.Got != 20 {
		t.Errorf("Expected want 31 got 20, got %+v", de)
	}
	if !reflect.DeepEqual(next, st) {
		t.Errorf("State mutated: %+v", next)
	}
	if data.highCalls != 0 {
		t.Error("High history should not be read after a short close series")
	}
	if len(sink.points) != 0 || len(paper.Fills()) != 0 {
		t.Error("No side effects expected on a data error")
	}
}

func TestCycle_ShortHighHistory(t *testing.T) {
	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(5, "110"), last: d("111")}
	c := newTestCycle(t, data, newPaper("111"), nil)

	st := NewState(sym, strategy.DefaultParams())
	next, _, err := c.Run(context.Background(), st)
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("Expected insufficient data, got %v", err)
	}
	if !reflect.DeepEqual(next, st) {
		t.Error("State mutated on short high series")
	}
}

func TestCycle_ReadErrorPropagates(t *testing.T) {
	boom := domain.NewNetworkError("history", errors.New("timeout"))
	data := &fakeData{err: boom}
	c := newTestCycle(t, data, newPaper("111"), nil)

	st := NewState(sym, strategy.DefaultParams())
	next, _, err := c.Run(context.Background(), st)
	if !errors.Is(err, boom) || !domain.IsRetriable(err) {
		t.Fatalf("Expected wrapped network error, got %v", err)
	}
	if !reflect.DeepEqual(next, st) {
		t.Error("State mutated on read error")
	}
}

func TestCycle_ReconcilesStoppedOutPosition(t *testing.T) {
	paper := newPaper("100")
	st := NewState(sym, strategy.DefaultParams())
	st.Position = domain.OpenPosition(d("900"), d("110"))
	st.Stop = domain.StopOrder{Exists: true, StopPrice: d("105.6"), Ticket: domain.OrderTicket{ID: "gone"}}

	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(20, "120"), last: d("100")}
	c := newTestCycle(t, data, paper, nil)

	next, report, err := c.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Exited {
		t.Error("Expected exit to be reported")
	}
	if next.Position.Invested || next.Stop.Exists {
		t.Errorf("Expected flat state, got %+v", next)
	}
}

func TestCycle_StopRejectedKeepsEntry(t *testing.T) {
	ctx := context.Background()
	paper := newPaper("111")
	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(20, "110"), last: d("111")}

	c := newTestCycle(t, data, rejectingStops{paper}, nil)
	next, report, err := c.Run(ctx, NewState(sym, strategy.DefaultParams()))

	var re *domain.OrderRejectedError
	if !errors.As(err, &re) {
		t.Fatalf("Expected OrderRejectedError, got %v", err)
	}
	if !report.Entered || !next.Position.Invested {
		t.Fatal("Confirmed entry must be kept")
	}
	if next.Stop.Exists {
		t.Error("Rejected stop must not be recorded")
	}
	if next.Lookback != 20 || next.Cycles != 1 {
		t.Errorf("Lookback should be committed, got %+v", next)
	}

	// Next session the broker accepts and the stop is placed at the floor.
	c = newTestCycle(t, data, paper, nil)
	next, report, err = c.Run(ctx, next)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Stop.Placed || !next.Stop.StopPrice.Equal(d("105.6")) {
		t.Errorf("Expected stop 105.6 placed on retry, got %+v", next.Stop)
	}
}

func TestCycle_UnknownHoldingIsNotGuessed(t *testing.T) {
	ctx := context.Background()
	paper := newPaper("111")
	if _, err := paper.SetHoldings(ctx, sym, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SetHoldings failed: %v", err)
	}
	data := &fakeData{closes: steadyCloses(31), highs: highsBelow(20, "110"), last: d("111")}
	c := newTestCycle(t, data, paper, nil)

	next, report, err := c.Run(ctx, NewState(sym, strategy.DefaultParams()))
	if !errors.Is(err, domain.ErrNoBreakoutLevel) {
		t.Fatalf("Expected ErrNoBreakoutLevel, got %v", err)
	}
	if report.Entered || next.Position.Invested {
		t.Error("A holding the strategy did not open must not be adopted")
	}
	open, _ := paper.OpenOrders(ctx, sym)
	if len(open) != 0 {
		t.Error("No stop should be placed without a breakout level")
	}
}

func TestNewCycle_ConfigErrors(t *testing.T) {
	bad := strategy.DefaultParams()
	bad.LowestLookback = 40

	cases := []struct {
		name   string
		params strategy.Params
		symbol string
	}{
		{"invalid params", bad, sym},
		{"empty symbol", strategy.DefaultParams(), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCycle(tc.params, tc.symbol, &fakeData{}, newPaper("1"), nil, nil)
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("Expected ConfigError, got %v", err)
			}
		})
	}
}
