package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("history", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "history: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "history: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("auth", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}
		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}
		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("must be at least 2")
	err := &ConfigError{Field: "strategy.lowest_lookback", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [strategy.lowest_lookback]: must be at least 2"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestDataError(t *testing.T) {
	err := &DataError{Series: "close", Want: 31, Got: 20}

	if err.Error() != "data error [close]: want 31 samples, got 20" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsRetriable(err) {
		t.Error("DataError should be retried on the next cycle")
	}

	wrapped := fmt.Errorf("cycle: %w", err)
	if !errors.Is(wrapped, ErrInsufficientData) {
		t.Error("wrapped DataError should match ErrInsufficientData")
	}
	var de *DataError
	if !errors.As(wrapped, &de) || de.Got != 20 {
		t.Error("errors.As should recover the DataError")
	}
}

func TestOrderRejectedError(t *testing.T) {
	cause := errors.New("insufficient buying power")
	err := &OrderRejectedError{
		Symbol:   "TSLA",
		Quantity: decimal.NewFromInt(-10),
		Price:    decimal.RequireFromString("105.6"),
		Err:      cause,
	}

	want := "order rejected [TSLA qty=-10 price=105.6]: insufficient buying power"
	if err.Error() != want {
		t.Errorf("Error message = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to wrap cause")
	}
	if !IsRetriable(err) {
		t.Error("OrderRejectedError should be retried on the next cycle")
	}
}
