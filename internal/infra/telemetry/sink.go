package telemetry

import (
	"log/slog"
	"time"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

// SeriesPoint is one emitted plot value.
type SeriesPoint struct {
	Series string          `json:"series"`
	Label  string          `json:"label"`
	Value  decimal.Decimal `json:"value"`
}

// SeriesStore persists series points.
type SeriesStore interface {
	AppendSeries(series, label string, value decimal.Decimal, at time.Time) error
}

// MultiSink fans a point out to every sink.
type MultiSink []domain.SeriesSink

func (m MultiSink) Emit(series, label string, value decimal.Decimal) {
	for _, s := range m {
		if s != nil {
			s.Emit(series, label, value)
		}
	}
}

// LogSink writes points to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Emit(series, label string, value decimal.Decimal) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Plot",
		slog.String("series", series),
		slog.String("label", label),
		slog.String("value", value.String()),
	)
}

// HubSink pushes points to websocket clients.
type HubSink struct {
	Hub *Hub
}

func (h HubSink) Emit(series, label string, value decimal.Decimal) {
	h.Hub.Publish("series", SeriesPoint{Series: series, Label: label, Value: value})
}

// StoreSink persists points, stamped by Now. Write failures are logged, never returned.
type StoreSink struct {
	Store  SeriesStore
	Now    func() time.Time
	Logger *slog.Logger
}

func (s StoreSink) Emit(series, label string, value decimal.Decimal) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if err := s.Store.AppendSeries(series, label, value, now()); err != nil && s.Logger != nil {
		s.Logger.Warn("Failed to persist series point", slog.String("label", label), slog.Any("error", err))
	}
}
