package models

import "time"

// SignalDirection is the directional intent carried by a Signal.
type SignalDirection string

const (
	// SignalEnterLong requests a new long position.
	SignalEnterLong SignalDirection = "enter_long"
	// SignalEnterShort requests a new short position.
	SignalEnterShort SignalDirection = "enter_short"
	// SignalExit requests flattening of an open position.
	SignalExit SignalDirection = "exit"
	// SignalHold carries no intent; the engine must tolerate it without state change.
	SignalHold SignalDirection = "hold"
)

// Actionable returns true if the direction can open a position.
func (d SignalDirection) Actionable() bool {
	return d == SignalEnterLong || d == SignalEnterShort
}

// Bias is the signal source's directional conviction, used for risk scaling
// in the structure-breakout strategy.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Directional returns true for a non-neutral bias.
func (b Bias) Directional() bool {
	return b == BiasBullish || b == BiasBearish
}

// ReferenceLevels are caller-supplied stop/target anchors for level-based
// strategies. When present they override the percentage offsets in the
// risk rules.
type ReferenceLevels struct {
	StopAnchor   float64 `json:"stop_anchor"`
	TargetAnchor float64 `json:"target_anchor"`
}

// Signal is the per-bar output of a signal source. It is a pure function of
// history up to and including the bar it is stamped with; the engine
// consumes it at most once.
type Signal struct {
	ID        string           `json:"id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Symbol    string           `json:"symbol"`
	Direction SignalDirection  `json:"direction"`
	Strength  float64          `json:"strength,omitempty"`
	Levels    *ReferenceLevels `json:"levels,omitempty"`
	// StructuralBreak marks that a qualifying break of structure occurred
	// within the source's lookback window.
	StructuralBreak bool `json:"structural_break,omitempty"`
	Bias            Bias `json:"bias,omitempty"`
}

// Hold is the no-op signal for a bar.
func Hold(symbol string, ts time.Time) Signal {
	return Signal{Timestamp: ts, Symbol: symbol, Direction: SignalHold, Bias: BiasNeutral}
}
