package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/engine"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// StateRecord holds the carried cycle state of one symbol.
// Payload is the full state as JSON; the other columns are for inspection.
type StateRecord struct {
	Symbol    string          `gorm:"primaryKey"`
	Lookback  int             `gorm:"not null"`
	Invested  bool            `gorm:"not null"`
	StopPrice decimal.Decimal `gorm:"type:text"`
	Cycles    uint64          `gorm:"not null"`
	Payload   string          `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// BarRecord is one cached daily bar.
type BarRecord struct {
	Symbol string          `gorm:"primaryKey"`
	Date   string          `gorm:"primaryKey"` // YYYY-MM-DD
	Time   time.Time       `gorm:"index"`
	Open   decimal.Decimal `gorm:"type:text"`
	High   decimal.Decimal `gorm:"type:text"`
	Low    decimal.Decimal `gorm:"type:text"`
	Close  decimal.Decimal `gorm:"type:text"`
}

// OrderRecord is one entry in the order journal.
type OrderRecord struct {
	ID      uint   `gorm:"primaryKey"`
	OrderID string `gorm:"index"`
	Symbol  string `gorm:"index"`
	// entry, stop_placed, stop_updated or fill
	Event    string
	Type     string
	Quantity decimal.Decimal `gorm:"type:text"`
	Price    decimal.Decimal `gorm:"type:text"`
	Status   string
	At       time.Time
}

// SeriesPoint is one emitted plot value.
type SeriesPoint struct {
	ID     uint            `gorm:"primaryKey"`
	Series string          `gorm:"index:idx_series_label"`
	Label  string          `gorm:"index:idx_series_label"`
	Value  decimal.Decimal `gorm:"type:text"`
	At     time.Time
}

const (
	EventEntry       = "entry"
	EventStopPlaced  = "stop_placed"
	EventStopUpdated = "stop_updated"
	EventFill        = "fill"
)

// Storage persists cycle state, bars, the order journal and series points in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&StateRecord{}, &BarRecord{}, &OrderRecord{}, &SeriesPoint{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// State Operations
// ======================================================================================

// SaveState implements engine.StateStore.
func (s *Storage) SaveState(st engine.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	rec := StateRecord{
		Symbol:    st.Symbol,
		Lookback:  st.Lookback,
		Invested:  st.Position.Invested,
		StopPrice: st.Stop.StopPrice,
		Cycles:    st.Cycles,
		Payload:   string(payload),
	}
	return s.db.Save(&rec).Error
}

// LoadState implements engine.StateStore. A missing symbol is not an error.
func (s *Storage) LoadState(symbol string) (engine.State, bool, error) {
	var rec StateRecord
	err := s.db.First(&rec, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.State{}, false, nil
	}
	if err != nil {
		return engine.State{}, false, err
	}

	var st engine.State
	if err := json.Unmarshal([]byte(rec.Payload), &st); err != nil {
		return engine.State{}, false, fmt.Errorf("decode state %s: %w", symbol, err)
	}
	return st, true, nil
}

// ======================================================================================
// Bar Operations
// ======================================================================================

// SaveBars upserts daily bars keyed by symbol and date.
func (s *Storage) SaveBars(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	recs := make([]BarRecord, len(bars))
	for i, b := range bars {
		recs[i] = BarRecord{
			Symbol: symbol,
			Date:   b.Time.UTC().Format("2006-01-02"),
			Time:   b.Time.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
		}
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(recs, 200).Error
}

// LoadBars returns bars with from <= time < to, oldest first.
func (s *Storage) LoadBars(symbol string, from, to time.Time) ([]domain.Bar, error) {
	var recs []BarRecord
	err := s.db.
		Where("symbol = ? AND time >= ? AND time < ?", symbol, from.UTC(), to.UTC()).
		Order("time asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, len(recs))
	for i, r := range recs {
		bars[i] = domain.Bar{Time: r.Time, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}
	}
	return bars, nil
}

// ======================================================================================
// Journal Operations
// ======================================================================================

// AppendOrder records an order event.
func (s *Storage) AppendOrder(event string, t domain.OrderTicket, price decimal.Decimal, at time.Time) error {
	rec := OrderRecord{
		OrderID:  t.ID,
		Symbol:   t.Symbol,
		Event:    event,
		Type:     t.Type,
		Quantity: t.Quantity,
		Price:    price,
		Status:   t.Status,
		At:       at,
	}
	return s.db.Create(&rec).Error
}

// Orders returns the journal of symbol, oldest first.
func (s *Storage) Orders(symbol string) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.Where("symbol = ?", symbol).Order("id asc").Find(&recs).Error
	return recs, err
}

// AppendSeries records an emitted plot value.
func (s *Storage) AppendSeries(series, label string, value decimal.Decimal, at time.Time) error {
	return s.db.Create(&SeriesPoint{Series: series, Label: label, Value: value, At: at}).Error
}

// Series returns all points of one label, oldest first.
func (s *Storage) Series(series, label string) ([]SeriesPoint, error) {
	var pts []SeriesPoint
	err := s.db.Where("series = ? AND label = ?", series, label).Order("id asc").Find(&pts).Error
	return pts, err
}
