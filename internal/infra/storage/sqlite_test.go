package storage

import (
	"path/filepath"
	"testing"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/engine"
	"breakout_go/internal/strategy"

	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSaveAndLoadState(t *testing.T) {
	s := setupTestDB(t)

	// 1. Missing
	_, ok, err := s.LoadState("TSLA")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if ok {
		t.Fatal("expected no state for a fresh db")
	}

	// 2. Save
	st := engine.NewState("TSLA", strategy.DefaultParams())
	st.Lookback = 23
	st.Cycles = 7
	st.Position = domain.OpenPosition(d("900"), d("110"))
	st.Stop = domain.FromTicket(domain.OrderTicket{ID: "stop-1", Symbol: "TSLA", Quantity: d("-900"), StopPrice: d("105.6"), Status: domain.OrderStatusNew})
	st.LastRun = time.Date(2021, 3, 1, 15, 0, 0, 0, time.UTC)
	if err := s.SaveState(st); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	// 3. Load
	got, ok, err := s.LoadState("TSLA")
	if err != nil || !ok {
		t.Fatalf("LoadState failed: ok=%v err=%v", ok, err)
	}
	if got.Lookback != 23 || got.Cycles != 7 {
		t.Errorf("expected lookback 23 cycles 7, got %+v", got)
	}
	if !got.Stop.StopPrice.Equal(d("105.6")) || got.Stop.Ticket.ID != "stop-1" {
		t.Errorf("stop not restored: %+v", got.Stop)
	}
	if !got.Position.BreakoutLevel.Equal(d("110")) || !got.LastRun.Equal(st.LastRun) {
		t.Errorf("position not restored: %+v", got.Position)
	}

	// 4. Overwrite
	st.Lookback = 12
	if err := s.SaveState(st); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	got, _, _ = s.LoadState("TSLA")
	if got.Lookback != 12 {
		t.Errorf("expected overwritten lookback 12, got %d", got.Lookback)
	}
}

func TestSaveAndLoadBars(t *testing.T) {
	s := setupTestDB(t)
	day := time.Date(2020, 10, 1, 13, 30, 0, 0, time.UTC)

	var bars []domain.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, domain.Bar{
			Time:  day.AddDate(0, 0, i),
			Open:  decimal.NewFromInt(int64(100 + i)),
			High:  decimal.NewFromInt(int64(105 + i)),
			Low:   decimal.NewFromInt(int64(95 + i)),
			Close: d("101.25").Add(decimal.NewFromInt(int64(i))),
		})
	}
	if err := s.SaveBars("TSLA", bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	// Re-saving a day replaces it.
	fixed := bars[2]
	fixed.Close = d("999")
	if err := s.SaveBars("TSLA", []domain.Bar{fixed}); err != nil {
		t.Fatalf("SaveBars upsert failed: %v", err)
	}

	got, err := s.LoadBars("TSLA", day.AddDate(0, 0, 1), day.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("LoadBars failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	if !got[0].Close.Equal(d("102.25")) {
		t.Errorf("expected close 102.25, got %s", got[0].Close)
	}
	if !got[1].Close.Equal(d("999")) {
		t.Errorf("expected upserted close 999, got %s", got[1].Close)
	}
	if !got[2].Time.Equal(day.AddDate(0, 0, 3)) {
		t.Errorf("unexpected order: %s", got[2].Time)
	}

	other, _ := s.LoadBars("AAPL", day, day.AddDate(0, 0, 10))
	if len(other) != 0 {
		t.Errorf("expected no AAPL bars, got %d", len(other))
	}
}

func TestOrderJournal(t *testing.T) {
	s := setupTestDB(t)
	at := time.Date(2021, 3, 1, 15, 0, 0, 0, time.UTC)
	ticket := domain.OrderTicket{ID: "stop-1", Symbol: "TSLA", Type: domain.OrderTypeStopMarket, Quantity: d("-900"), StopPrice: d("105.6"), Status: domain.OrderStatusNew}

	if err := s.AppendOrder(EventStopPlaced, ticket, ticket.StopPrice, at); err != nil {
		t.Fatalf("AppendOrder failed: %v", err)
	}
	if err := s.AppendOrder(EventStopUpdated, ticket, d("117"), at.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("AppendOrder failed: %v", err)
	}

	recs, err := s.Orders("TSLA")
	if err != nil {
		t.Fatalf("Orders failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Event != EventStopPlaced || recs[1].Event != EventStopUpdated {
		t.Errorf("unexpected events: %s, %s", recs[0].Event, recs[1].Event)
	}
	if !recs[1].Price.Equal(d("117")) || !recs[1].Quantity.Equal(d("-900")) {
		t.Errorf("unexpected record: %+v", recs[1])
	}
}

func TestSeriesPoints(t *testing.T) {
	s := setupTestDB(t)
	at := time.Date(2021, 3, 1, 15, 0, 0, 0, time.UTC)

	s.AppendSeries("Data Chart", "Lookback", d("20"), at)
	s.AppendSeries("Data Chart", "Stop Price", d("105.6"), at)
	s.AppendSeries("Data Chart", "Lookback", d("22"), at.AddDate(0, 0, 1))

	pts, err := s.Series("Data Chart", "Lookback")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if !pts[1].Value.Equal(d("22")) {
		t.Errorf("expected 22, got %s", pts[1].Value)
	}
}
