// Package models provides the data structures and state management shared by
// the backtesting engine: bars, signals, positions, trades and risk rules.
package models

import (
	"fmt"
	"time"
)

// Bar is one instrument's OHLCV observation at a timestamp. Bars are
// immutable once validated; the engine never repairs a malformed bar.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the single-bar OHLC invariants.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar at %s: symbol is required", b.Timestamp.Format(time.RFC3339))
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar for %s: timestamp is required", b.Symbol)
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s@%s: prices must be positive (O=%.4f H=%.4f L=%.4f C=%.4f)",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s@%s: volume must be >= 0 (current: %.2f)",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s@%s: high %.4f below open/close",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar %s@%s: low %.4f above open/close",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.Low)
	}
	return nil
}

// ValidateSeries checks every bar and enforces strictly increasing
// timestamps per instrument. The input order is the feed order: bars may
// interleave instruments, but each instrument's bars must advance in time.
func ValidateSeries(bars []Bar) error {
	last := make(map[string]time.Time)
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if prev, ok := last[b.Symbol]; ok && !b.Timestamp.After(prev) {
			return fmt.Errorf("bar %d: %s timestamp %s not after previous %s",
				i, b.Symbol, b.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		last[b.Symbol] = b.Timestamp
	}
	return nil
}
