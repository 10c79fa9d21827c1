package infra

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides lightweight cycle observability.
// Uses atomic operations for thread-safety; Collectors exposes the same values to Prometheus.
type Metrics struct {
	// Counters
	cyclesRun       atomic.Uint64
	cycleErrors     atomic.Uint64
	dataErrors      atomic.Uint64
	orderRejections atomic.Uint64
	entries         atomic.Uint64
	exits           atomic.Uint64
	stopsPlaced     atomic.Uint64
	ratchets        atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	lookback      atomic.Int64
	stopPriceBits atomic.Uint64 // math.Float64bits
	invested      atomic.Int32  // 1 = invested, 0 = flat
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCycle records a completed cycle with latency.
func (m *Metrics) RecordCycle(latency time.Duration) {
	m.cyclesRun.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records a failed cycle.
func (m *Metrics) RecordError() {
	m.cycleErrors.Add(1)
}

// RecordDataError records a cycle aborted on short history.
func (m *Metrics) RecordDataError() {
	m.dataErrors.Add(1)
}

// RecordOrderRejected records a broker rejection.
func (m *Metrics) RecordOrderRejected() {
	m.orderRejections.Add(1)
}

// RecordEntry records a breakout entry.
func (m *Metrics) RecordEntry() {
	m.entries.Add(1)
}

// RecordExit records a position observed closed.
func (m *Metrics) RecordExit() {
	m.exits.Add(1)
}

// RecordStopPlaced records an initial stop placement.
func (m *Metrics) RecordStopPlaced() {
	m.stopsPlaced.Add(1)
}

// RecordRatchet records a trailing stop update.
func (m *Metrics) RecordRatchet() {
	m.ratchets.Add(1)
}

// SetLookback sets the current lookback window.
func (m *Metrics) SetLookback(n int) {
	m.lookback.Store(int64(n))
}

// SetStopPrice sets the current stop trigger price (0 when flat).
func (m *Metrics) SetStopPrice(price float64) {
	m.stopPriceBits.Store(math.Float64bits(price))
}

// SetInvested sets the position gauge.
func (m *Metrics) SetInvested(invested bool) {
	if invested {
		m.invested.Store(1)
	} else {
		m.invested.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesRun       uint64
	CycleErrors     uint64
	DataErrors      uint64
	OrderRejections uint64
	Entries         uint64
	Exits           uint64
	StopsPlaced     uint64
	Ratchets        uint64
	AvgLatencyNs    int64
	Lookback        int
	StopPrice       float64
	Invested        bool
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CyclesRun:       m.cyclesRun.Load(),
		CycleErrors:     m.cycleErrors.Load(),
		DataErrors:      m.dataErrors.Load(),
		OrderRejections: m.orderRejections.Load(),
		Entries:         m.entries.Load(),
		Exits:           m.exits.Load(),
		StopsPlaced:     m.stopsPlaced.Load(),
		Ratchets:        m.ratchets.Load(),
		AvgLatencyNs:    avgLatency,
		Lookback:        int(m.lookback.Load()),
		StopPrice:       math.Float64frombits(m.stopPriceBits.Load()),
		Invested:        m.invested.Load() == 1,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.cyclesRun.Store(0)
	m.cycleErrors.Store(0)
	m.dataErrors.Store(0)
	m.orderRejections.Store(0)
	m.entries.Store(0)
	m.exits.Store(0)
	m.stopsPlaced.Store(0)
	m.ratchets.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.lookback.Store(0)
	m.stopPriceBits.Store(0)
	m.invested.Store(0)
}

// Collectors exposes the metrics as Prometheus collectors reading the atomics on scrape.
func (m *Metrics) Collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "breakout",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("cycles_total", "Daily cycles completed", &m.cyclesRun),
		counter("cycle_errors_total", "Daily cycles that returned an error", &m.cycleErrors),
		counter("data_errors_total", "Cycles aborted on short history", &m.dataErrors),
		counter("order_rejections_total", "Orders refused by the broker", &m.orderRejections),
		counter("entries_total", "Breakout entries", &m.entries),
		counter("exits_total", "Positions observed closed", &m.exits),
		counter("stops_placed_total", "Initial stop orders placed", &m.stopsPlaced),
		counter("ratchets_total", "Trailing stop updates", &m.ratchets),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakout",
			Name:      "lookback",
			Help:      "Current breakout lookback window",
		}, func() float64 { return float64(m.lookback.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakout",
			Name:      "stop_price",
			Help:      "Current stop trigger price",
		}, func() float64 { return math.Float64frombits(m.stopPriceBits.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakout",
			Name:      "invested",
			Help:      "1 while a position is open",
		}, func() float64 { return float64(m.invested.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakout",
			Name:      "cycle_latency_avg_seconds",
			Help:      "Average cycle latency",
		}, func() float64 { return float64(m.Snapshot().AvgLatencyNs) / float64(time.Second) }),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
