package models

import (
	"fmt"
	"time"
)

// Side is the direction of an open exposure.
type Side string

const (
	// SideLong profits when price rises.
	SideLong Side = "long"
	// SideShort profits when price falls.
	SideShort Side = "short"
)

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Position is a single open exposure to one instrument. It is created only
// by the engine on a qualifying entry, owned exclusively by the portfolio,
// and destroyed exactly once by conversion to a ClosedTrade.
type Position struct {
	StateMachine *StateMachine `json:"-"` // Runtime only, excluded from JSON
	State        PositionState `json:"state"`
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Side         Side          `json:"side"`
	EntryPrice   float64       `json:"entry_price"`
	EntryTime    time.Time     `json:"entry_time"`
	Quantity     float64       `json:"quantity"`
	StopPrice    float64       `json:"stop_price"`
	TargetPrice  float64       `json:"target_price"`
	OpenedFrom   string        `json:"opened_from,omitempty"` // originating signal id
	Bias         Bias          `json:"bias,omitempty"`

	// EntryOutlay is the cash deployed at open (valuation-policy dependent),
	// excluding the entry cost. EntryCost is the one-time transaction cost.
	EntryOutlay float64 `json:"entry_outlay"`
	EntryCost   float64 `json:"entry_cost"`

	// UnrealizedPnL is the latest mark; bookkeeping only, never touches cash.
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarkedAt      time.Time `json:"marked_at,omitempty"`
}

// NewPosition creates an open position with an initialized state machine.
func NewPosition(id, symbol string, side Side, price float64, ts time.Time, qty float64) *Position {
	return &Position{
		StateMachine: NewStateMachineFromState(StateOpen),
		State:        StateOpen,
		ID:           id,
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   price,
		EntryTime:    ts,
		Quantity:     qty,
	}
}

// TransitionState moves the position to a new state.
func (p *Position) TransitionState(to PositionState, condition string) error {
	if err := p.ensureMachine().Transition(to, condition); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}
	p.State = to
	return nil
}

func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// StopBreached reports whether the bar's range crossed the stop price
// against the position's direction.
func (p *Position) StopBreached(bar Bar) bool {
	if p.StopPrice <= 0 {
		return false
	}
	if p.Side == SideLong {
		return bar.Low <= p.StopPrice
	}
	return bar.High >= p.StopPrice
}

// TargetReached reports whether the bar's range crossed the target price in
// the position's favor.
func (p *Position) TargetReached(bar Bar) bool {
	if p.TargetPrice <= 0 {
		return false
	}
	if p.Side == SideLong {
		return bar.High >= p.TargetPrice
	}
	return bar.Low <= p.TargetPrice
}

// HeldFor returns how long the position has been open as of ts.
func (p *Position) HeldFor(ts time.Time) time.Duration {
	return ts.Sub(p.EntryTime)
}

// ValidateState ensures the position data is consistent with its state.
func (p *Position) ValidateState() error {
	switch p.State {
	case StateOpen:
		if p.EntryTime.IsZero() {
			return fmt.Errorf("position %s: EntryTime must be set for open positions", p.ID)
		}
		if p.EntryPrice <= 0 {
			return fmt.Errorf("position %s: EntryPrice must be positive (current: %.4f)", p.ID, p.EntryPrice)
		}
		if p.Quantity <= 0 {
			return fmt.Errorf("position %s: Quantity must be > 0 (current: %.4f)", p.ID, p.Quantity)
		}
		if p.Side != SideLong && p.Side != SideShort {
			return fmt.Errorf("position %s: invalid side %q", p.ID, p.Side)
		}
		if p.StopPrice > 0 && p.TargetPrice > 0 {
			if p.Side == SideLong && !(p.StopPrice < p.EntryPrice && p.TargetPrice > p.EntryPrice) {
				return fmt.Errorf("position %s: long stop/target must straddle entry (stop=%.4f entry=%.4f target=%.4f)",
					p.ID, p.StopPrice, p.EntryPrice, p.TargetPrice)
			}
			if p.Side == SideShort && !(p.StopPrice > p.EntryPrice && p.TargetPrice < p.EntryPrice) {
				return fmt.Errorf("position %s: short stop/target must straddle entry (stop=%.4f entry=%.4f target=%.4f)",
					p.ID, p.StopPrice, p.EntryPrice, p.TargetPrice)
			}
		}
	case StateClosed:
		return fmt.Errorf("position %s: closed positions must not remain in the open set", p.ID)
	case StateFlat:
		return fmt.Errorf("position %s: flat positions must not exist as objects", p.ID)
	default:
		return fmt.Errorf("position %s: unknown state %q", p.ID, p.State)
	}
	return nil
}
