package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/engine"

	"github.com/shopspring/decimal"
)

// Snapshot is the read-only view of one symbol served to observers.
type Snapshot struct {
	Symbol        string                     `json:"symbol"`
	Lookback      int                        `json:"lookback"`
	Invested      bool                       `json:"invested"`
	Quantity      decimal.Decimal            `json:"quantity"`
	BreakoutLevel decimal.Decimal            `json:"breakout_level"`
	Highest       decimal.Decimal            `json:"highest_price_since_entry"`
	StopPrice     decimal.Decimal            `json:"stop_price"`
	StopOrderID   string                     `json:"stop_order_id,omitempty"`
	LastPrice     decimal.Decimal            `json:"last_price"`
	StopDistance  *decimal.Decimal           `json:"stop_distance_pct,omitempty"`
	Series        map[string]decimal.Decimal `json:"series"`
	Cycles        uint64                     `json:"cycles"`
	LastRun       time.Time                  `json:"last_run"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// StateService keeps the latest snapshot per symbol and fans changes out to subscribers.
type StateService struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	updates   chan Snapshot
	now       func() time.Time
}

// NewStateService creates a new StateService instance
func NewStateService() *StateService {
	return &StateService{
		snapshots: make(map[string]*Snapshot),
		updates:   make(chan Snapshot, 64),
		now:       time.Now,
	}
}

// GetAll returns all snapshots sorted by symbol
func (s *StateService) GetAll() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		result = append(result, copySnapshot(snap))
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

// Get returns the snapshot of symbol.
func (s *StateService) Get(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return copySnapshot(snap), true
}

// Updates delivers a copy of every changed snapshot. Slow readers miss updates.
func (s *StateService) Updates() <-chan Snapshot {
	return s.updates
}

// UpdateState records the state a cycle produced.
func (s *StateService) UpdateState(st engine.State) {
	s.mu.Lock()
	snap := s.getOrCreate(st.Symbol)
	snap.Lookback = st.Lookback
	snap.Invested = st.Position.Invested
	snap.Quantity = st.Position.Quantity
	snap.BreakoutLevel = st.Position.BreakoutLevel
	snap.Highest = st.Position.HighestPriceSinceEntry
	snap.StopPrice = decimal.Zero
	snap.StopOrderID = ""
	if st.Stop.Exists {
		snap.StopPrice = st.Stop.StopPrice
		snap.StopOrderID = st.Stop.Ticket.ID
	}
	snap.Cycles = st.Cycles
	snap.LastRun = st.LastRun
	s.touch(snap)
	out := copySnapshot(snap)
	s.mu.Unlock()

	s.publish(out)
}

// UpdatePrice records the latest traded price of symbol.
func (s *StateService) UpdatePrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	snap := s.getOrCreate(symbol)
	snap.LastPrice = price
	s.touch(snap)
	out := copySnapshot(snap)
	s.mu.Unlock()

	s.publish(out)
}

// SeriesSink returns a sink that records the latest value of each label for symbol.
func (s *StateService) SeriesSink(symbol string) domain.SeriesSink {
	return seriesSink{svc: s, symbol: symbol}
}

type seriesSink struct {
	svc    *StateService
	symbol string
}

func (k seriesSink) Emit(series, label string, value decimal.Decimal) {
	k.svc.mu.Lock()
	defer k.svc.mu.Unlock()

	snap := k.svc.getOrCreate(k.symbol)
	snap.Series[label] = value
	snap.UpdatedAt = k.svc.now()
}

// StartForwarder calls fn for every update until ctx is done.
func (s *StateService) StartForwarder(ctx context.Context, fn func(Snapshot)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-s.updates:
				fn(snap)
			}
		}
	}()
}

// Must be called with lock held
func (s *StateService) getOrCreate(symbol string) *Snapshot {
	snap, ok := s.snapshots[symbol]
	if !ok {
		snap = &Snapshot{Symbol: symbol, Series: make(map[string]decimal.Decimal)}
		s.snapshots[symbol] = snap
	}
	return snap
}

// touch refreshes derived fields. Must be called with lock held
func (s *StateService) touch(snap *Snapshot) {
	snap.UpdatedAt = s.now()
	s.calculateStopDistance(snap)
}

// calculateStopDistance calculates 100 * (LastPrice - StopPrice) / LastPrice
// Must be called with lock held
func (s *StateService) calculateStopDistance(snap *Snapshot) {
	snap.StopDistance = nil
	if !snap.Invested || snap.StopPrice.IsZero() || !snap.LastPrice.IsPositive() {
		return
	}
	dist := snap.LastPrice.Sub(snap.StopPrice).Div(snap.LastPrice).Mul(decimal.NewFromInt(100))
	snap.StopDistance = &dist
}

func (s *StateService) publish(snap Snapshot) {
	select {
	case s.updates <- snap:
	default:
	}
}

func copySnapshot(src *Snapshot) Snapshot {
	out := *src
	out.Series = make(map[string]decimal.Decimal, len(src.Series))
	for k, v := range src.Series {
		out.Series[k] = v
	}
	if src.StopDistance != nil {
		d := *src.StopDistance
		out.StopDistance = &d
	}
	return out
}
