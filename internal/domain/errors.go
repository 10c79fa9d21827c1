package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "history", "place_order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DataError is returned when a history series is shorter than the cycle requires.
// The cycle is aborted and retried on the next session.
type DataError struct {
	Series string // "close" or "high"
	Want   int
	Got    int
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error [%s]: want %d samples, got %d", e.Series, e.Want, e.Got)
}

func (e *DataError) IsRetriable() bool {
	return true
}

func (e *DataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// OrderRejectedError is returned when the broker refuses a placement or update.
// Recorded order state is left untouched.
type OrderRejectedError struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Reason   string
	Err      error
}

func (e *OrderRejectedError) Error() string {
	msg := fmt.Sprintf("order rejected [%s qty=%s price=%s]", e.Symbol, e.Quantity.String(), e.Price.String())
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderRejectedError) IsRetriable() bool {
	return true
}

func (e *OrderRejectedError) Unwrap() error {
	return e.Err
}

var (
	// ErrInsufficientData matches any *DataError via errors.Is.
	ErrInsufficientData = errors.New("insufficient history")

	// ErrDivisionUndefined is reported when today's volatility is zero and the
	// lookback adjustment is skipped. It is never returned as a cycle error.
	ErrDivisionUndefined = errors.New("volatility delta undefined: today's volatility is zero")

	// ErrNoBreakoutLevel is returned when the broker reports a position the
	// strategy did not open, so no stop can be derived.
	ErrNoBreakoutLevel = errors.New("invested without a recorded breakout level")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUnknownOrder is returned when an order ticket is not known to the broker
	ErrUnknownOrder = errors.New("unknown order")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
