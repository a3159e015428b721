package models

import "math"

// ValuationPolicy maps quoted prices to cash values for one unit of
// exposure. Swapping the policy changes the price-to-P&L mapping without
// touching the state machine or entry/exit gating: the engine keeps checking
// stops and targets against the quoted price while the portfolio books cash
// through the policy.
type ValuationPolicy interface {
	Name() string
	// EntryValue is the cash outlay per unit at entry.
	EntryValue(side Side, entryPrice float64) float64
	// CurrentValue is the per-unit liquidation value at price for a position
	// entered at entryPrice.
	CurrentValue(side Side, entryPrice, price float64) float64
}

// NotionalValuation is the 1:1 mapping used for cash instruments: one unit
// costs its price and is worth its price. Shorts are modeled as fully
// collateralized at the entry notional, so a short's value grows point for
// point as price falls.
type NotionalValuation struct{}

// Name implements ValuationPolicy.
func (NotionalValuation) Name() string { return "notional" }

// EntryValue implements ValuationPolicy.
func (NotionalValuation) EntryValue(_ Side, entryPrice float64) float64 {
	return entryPrice
}

// CurrentValue implements ValuationPolicy.
func (NotionalValuation) CurrentValue(side Side, entryPrice, price float64) float64 {
	if side == SideShort {
		v := entryPrice + (entryPrice - price)
		if v < 0 {
			return 0
		}
		return v
	}
	return price
}

// minPremium floors the leveraged contract value; a bought contract cannot
// be worth less than this.
const minPremium = 0.01

// LeveragedValuation prices a bounded-risk derivative contract off the
// underlying signal: the outlay is a fixed fraction of the underlying price
// and the value moves with the underlying's percentage change through a
// leverage multiplier. A long maps to a call-like contract, a short to a
// put-like one; either way the maximum loss is the premium paid.
type LeveragedValuation struct {
	// PremiumFraction is the entry premium as a fraction of the underlying
	// price.
	PremiumFraction float64
	// Leverage amplifies the underlying's percentage move.
	Leverage float64
}

// NewLeveragedValuation applies the documented defaults: premium 2% of the
// underlying, 3x leverage.
func NewLeveragedValuation(premiumFraction, leverage float64) LeveragedValuation {
	if premiumFraction <= 0 {
		premiumFraction = 0.02
	}
	if leverage <= 0 {
		leverage = 3.0
	}
	return LeveragedValuation{PremiumFraction: premiumFraction, Leverage: leverage}
}

// Name implements ValuationPolicy.
func (v LeveragedValuation) Name() string { return "leveraged" }

// EntryValue implements ValuationPolicy.
func (v LeveragedValuation) EntryValue(_ Side, entryPrice float64) float64 {
	return entryPrice * v.PremiumFraction
}

// CurrentValue implements ValuationPolicy.
func (v LeveragedValuation) CurrentValue(side Side, entryPrice, price float64) float64 {
	premium := entryPrice * v.PremiumFraction
	move := side.Sign() * (price - entryPrice) / entryPrice
	return math.Max(premium*(1+move*v.Leverage), minPremium)
}

var (
	_ ValuationPolicy = NotionalValuation{}
	_ ValuationPolicy = LeveragedValuation{}
)
