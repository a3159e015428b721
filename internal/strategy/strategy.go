// Package strategy derives per-bar trade signals from price history. Sources
// are pure functions of history up to and including the current bar; the
// engine owns all position state.
package strategy

import (
	"fmt"

	"github.com/quantfold/backtester/internal/models"
)

// SignalSource produces one signal per (instrument, bar). History is ordered
// oldest-first, ends at the bar being evaluated, and never contains future
// bars.
type SignalSource interface {
	Name() string
	Next(symbol string, history []models.Bar) models.Signal
}

// Supported source names.
const (
	NameIndicatorMomentum = "indicator-momentum"
	NameStructureBreakout = "structure-breakout"
)

// Params is the knob set shared by the built-in sources; zero values fall
// back to each source's documented defaults.
type Params struct {
	// indicator-momentum
	ShortWindow   int     `yaml:"short_window"`
	LongWindow    int     `yaml:"long_window"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	GapThreshold  float64 `yaml:"gap_threshold"`

	// structure-breakout
	BreakLookback int     `yaml:"break_lookback"`
	StopLookback  int     `yaml:"stop_lookback"`
	TargetRR      float64 `yaml:"target_rr"`
}

// New constructs a source by name.
func New(name string, p Params) (SignalSource, error) {
	switch name {
	case NameIndicatorMomentum:
		return NewMomentum(p), nil
	case NameStructureBreakout:
		return NewBreakout(p), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}
