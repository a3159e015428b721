package models

import (
	"fmt"
	"time"
)

// Default risk parameters, applied by Normalize when a field is unset.
const (
	defaultStopLossPct     = 0.05
	defaultTakeProfitPct   = 0.10
	defaultPositionSizePct = 0.20
	defaultMaxPositions    = 3
	defaultCostRate        = 0.001
)

// SessionWindow is a time-of-day range ("HH:MM", half-open) during which new
// entries are permitted.
type SessionWindow struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// RiskRules is the immutable policy object consumed, never mutated, by the
// engine for the duration of one run. Construct via Normalize + Validate
// before any bar is processed; validation failures are fatal.
type RiskRules struct {
	// Percentage offsets for stop/target when the signal carries no anchors.
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct"`

	// PositionSizePct is the fraction of total equity deployed per entry.
	PositionSizePct float64 `yaml:"position_size_pct" json:"position_size_pct"`
	MaxPositions    int     `yaml:"max_positions" json:"max_positions"`

	// CostRate is the proportional transaction cost applied on both sides.
	CostRate float64 `yaml:"cost_rate" json:"cost_rate"`

	// Entry gates for level-based strategies.
	MinRiskReward   float64 `yaml:"min_risk_reward" json:"min_risk_reward"`
	MinStopDistance float64 `yaml:"min_stop_distance" json:"min_stop_distance"`
	// RequireStructuralBreak rejects entries whose signal lacks a qualifying
	// break of structure.
	RequireStructuralBreak bool `yaml:"require_structural_break" json:"require_structural_break"`

	// Per-day throttling. Zero disables the cap.
	MaxDailyLosses int `yaml:"max_daily_losses" json:"max_daily_losses"`

	// MaxHolding forces an exit after this holding duration. Zero disables.
	MaxHolding time.Duration `yaml:"max_holding" json:"max_holding"`

	// Sessions gate entries to time-of-day windows and force flattening
	// outside them. Empty disables session gating.
	Sessions []SessionWindow `yaml:"sessions" json:"sessions,omitempty"`
	Timezone string          `yaml:"timezone" json:"timezone,omitempty"`

	// Bias-scaled risk sizing for level-based entries: when RiskPctNeutral is
	// set and the signal carries anchors, quantity is risk capital over stop
	// distance instead of the flat equity fraction.
	RiskPctBiased  float64 `yaml:"risk_pct_biased" json:"risk_pct_biased"`
	RiskPctNeutral float64 `yaml:"risk_pct_neutral" json:"risk_pct_neutral"`

	// TickSize rounds computed stop/target prices to the instrument's
	// minimum increment. Zero disables rounding.
	TickSize float64 `yaml:"tick_size" json:"tick_size"`

	loc *time.Location
}

// Normalize fills unset fields with documented defaults. Call before Validate.
func (r *RiskRules) Normalize() {
	if r.StopLossPct == 0 {
		r.StopLossPct = defaultStopLossPct
	}
	if r.TakeProfitPct == 0 {
		r.TakeProfitPct = defaultTakeProfitPct
	}
	if r.PositionSizePct == 0 {
		r.PositionSizePct = defaultPositionSizePct
	}
	if r.MaxPositions == 0 {
		r.MaxPositions = defaultMaxPositions
	}
	if r.CostRate == 0 {
		r.CostRate = defaultCostRate
	}
}

// Validate rejects contradictory or out-of-range thresholds. It must pass
// before a run starts.
func (r *RiskRules) Validate() error {
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk: stop_loss_pct must be in (0,1), got %.4f", r.StopLossPct)
	}
	if r.TakeProfitPct <= 0 {
		return fmt.Errorf("risk: take_profit_pct must be > 0, got %.4f", r.TakeProfitPct)
	}
	if r.PositionSizePct <= 0 || r.PositionSizePct > 1 {
		return fmt.Errorf("risk: position_size_pct must be in (0,1], got %.4f", r.PositionSizePct)
	}
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk: max_positions must be > 0, got %d", r.MaxPositions)
	}
	if r.CostRate < 0 || r.CostRate >= 1 {
		return fmt.Errorf("risk: cost_rate must be in [0,1), got %.4f", r.CostRate)
	}
	if r.MinRiskReward < 0 {
		return fmt.Errorf("risk: min_risk_reward must be >= 0, got %.4f", r.MinRiskReward)
	}
	if r.MinStopDistance < 0 {
		return fmt.Errorf("risk: min_stop_distance must be >= 0, got %.4f", r.MinStopDistance)
	}
	if r.MaxDailyLosses < 0 {
		return fmt.Errorf("risk: max_daily_losses must be >= 0, got %d", r.MaxDailyLosses)
	}
	if r.MaxHolding < 0 {
		return fmt.Errorf("risk: max_holding must be >= 0, got %s", r.MaxHolding)
	}
	if r.RiskPctBiased < 0 || r.RiskPctBiased > 1 || r.RiskPctNeutral < 0 || r.RiskPctNeutral > 1 {
		return fmt.Errorf("risk: risk percentages must be in [0,1]")
	}
	if r.RiskPctBiased > 0 && r.RiskPctNeutral > 0 && r.RiskPctBiased < r.RiskPctNeutral {
		return fmt.Errorf("risk: risk_pct_biased (%.4f) must be >= risk_pct_neutral (%.4f)",
			r.RiskPctBiased, r.RiskPctNeutral)
	}
	if r.TickSize < 0 {
		return fmt.Errorf("risk: tick_size must be >= 0, got %.6f", r.TickSize)
	}
	loc, err := r.location()
	if err != nil {
		return fmt.Errorf("risk: invalid timezone %q: %w", r.Timezone, err)
	}
	for i, w := range r.Sessions {
		s, err1 := time.ParseInLocation("15:04", w.Start, loc)
		e, err2 := time.ParseInLocation("15:04", w.End, loc)
		if err1 != nil || err2 != nil || !s.Before(e) {
			return fmt.Errorf("risk: session %d window invalid (start=%q end=%q)", i, w.Start, w.End)
		}
	}
	return nil
}

// SessionGated returns true when entries are restricted to session windows.
func (r *RiskRules) SessionGated() bool {
	return len(r.Sessions) > 0
}

// InSession reports whether ts falls inside any configured session window.
// Start is inclusive, end exclusive. With no windows configured every
// timestamp is in session.
func (r *RiskRules) InSession(ts time.Time) bool {
	if len(r.Sessions) == 0 {
		return true
	}
	loc, err := r.location()
	if err != nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	for _, w := range r.Sessions {
		startClock, err1 := time.ParseInLocation("15:04", w.Start, loc)
		endClock, err2 := time.ParseInLocation("15:04", w.End, loc)
		if err1 != nil || err2 != nil {
			continue
		}
		start := time.Date(local.Year(), local.Month(), local.Day(),
			startClock.Hour(), startClock.Minute(), 0, 0, loc)
		end := time.Date(local.Year(), local.Month(), local.Day(),
			endClock.Hour(), endClock.Minute(), 0, 0, loc)
		if !local.Before(start) && local.Before(end) {
			return true
		}
	}
	return false
}

// TradingDay returns the calendar-day key for ts in the configured
// timezone. Per-day counters use it so the daily reset lines up with the
// session clock rather than UTC midnight.
func (r *RiskRules) TradingDay(ts time.Time) string {
	loc, err := r.location()
	if err != nil {
		loc = time.UTC
	}
	return ts.In(loc).Format("2006-01-02")
}

// RiskPct returns the per-trade risk fraction for the given bias.
func (r *RiskRules) RiskPct(b Bias) float64 {
	if b.Directional() && r.RiskPctBiased > 0 {
		return r.RiskPctBiased
	}
	return r.RiskPctNeutral
}

func (r *RiskRules) location() (*time.Location, error) {
	if r.loc != nil {
		return r.loc, nil
	}
	if r.Timezone == "" {
		r.loc = time.UTC
		return r.loc, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, err
	}
	r.loc = loc
	return loc, nil
}
