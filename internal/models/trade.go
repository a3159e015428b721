package models

import "time"

// ExitReason records why a position was closed. Values double as the exit
// priority order: when several conditions trigger on the same bar the engine
// picks the first one in this order.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitMaxHold      ExitReason = "max_hold"
	ExitSignal       ExitReason = "signal"
	ExitSessionClose ExitReason = "session_close"
	ExitEndOfData    ExitReason = "end_of_data"
)

// ClosedTrade is the immutable record appended to the trade ledger when a
// position dies. Never mutated after creation.
type ClosedTrade struct {
	ID         string     `json:"id"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Quantity   float64    `json:"quantity"`
	ExitReason ExitReason `json:"exit_reason"`
	GrossPnL   float64    `json:"gross_pnl"`
	Costs      float64    `json:"costs"` // entry + exit transaction costs
	NetPnL     float64    `json:"net_pnl"`
	ReturnPct  float64    `json:"return_pct"` // net pnl over entry outlay
	Bias       Bias       `json:"bias,omitempty"`
}

// HoldingPeriod returns the trade's time in market.
func (t ClosedTrade) HoldingPeriod() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// SkipReason is the reason code attached to a rejected entry. Rejections are
// audit records, never errors; the run continues.
type SkipReason string

const (
	SkipPositionLimit       SkipReason = "position_limit"
	SkipDuplicatePosition   SkipReason = "duplicate_position"
	SkipInsufficientCapital SkipReason = "insufficient_capital"
	SkipOutsideSession      SkipReason = "outside_session"
	SkipDailyLossCap        SkipReason = "daily_loss_cap"
	SkipNoStructuralBreak   SkipReason = "no_structural_break"
	SkipStopTooTight        SkipReason = "stop_too_tight"
	SkipRiskRewardBelowMin  SkipReason = "risk_reward_below_min"
)

// SkippedSignal records a signal the engine declined to act on.
type SkippedSignal struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Direction SignalDirection `json:"direction"`
	Reason    SkipReason      `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
}

// EquityPoint is one mark of the equity curve, appended unconditionally at
// every bar close.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	OpenPositions int       `json:"open_positions"`
}
