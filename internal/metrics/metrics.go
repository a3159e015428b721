// Package metrics computes the performance report for a finished run from
// the equity curve and the closed-trade ledger. Everything here is pure
// arithmetic over immutable inputs.
package metrics

import (
	"encoding/json"
	"math"
	"time"

	"github.com/quantfold/backtester/internal/models"
)

const (
	// Calendar days per year for annualizing total return.
	daysPerYear = 365.25
	// Trading periods per year for Sharpe scaling.
	periodsPerYear = 252
)

// Ratio is a float64 that survives JSON round-trips when infinite. A profit
// factor with no losing trades is +Inf, which encoding/json rejects.
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Report is the full performance summary for one run.
type Report struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`

	TotalReturn      float64 `json:"total_return"`     // absolute P&L
	TotalReturnPct   float64 `json:"total_return_pct"` // fraction of initial capital
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`

	MaxDrawdown         float64       `json:"max_drawdown"` // fraction of the peak
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	DrawdownOngoing     bool          `json:"drawdown_ongoing"`
	CalmarRatio         float64       `json:"calmar_ratio"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  Ratio   `json:"profit_factor"`

	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"` // positive magnitude
	TotalCosts  float64 `json:"total_costs"`

	AvgTradePnL      float64       `json:"avg_trade_pnl"`
	BestTrade        float64       `json:"best_trade"`
	WorstTrade       float64       `json:"worst_trade"`
	AvgHoldingPeriod time.Duration `json:"avg_holding_period"`
}

// Calculate builds the report. A run with no trades or a flat curve yields a
// zeroed report, never NaN.
func Calculate(initialCapital float64, curve []models.EquityPoint, trades []models.ClosedTrade) Report {
	r := Report{InitialCapital: initialCapital, FinalEquity: initialCapital}
	if len(curve) > 0 {
		r.FinalEquity = curve[len(curve)-1].Equity
	}
	if initialCapital > 0 {
		r.TotalReturn = r.FinalEquity - initialCapital
		r.TotalReturnPct = r.TotalReturn / initialCapital
	}

	if len(curve) > 1 {
		r.AnnualizedReturn = annualize(initialCapital, r.FinalEquity, curve[0].Timestamp, curve[len(curve)-1].Timestamp)
		r.SharpeRatio = sharpe(curve)
		r.MaxDrawdown, r.MaxDrawdownDuration, r.DrawdownOngoing = drawdown(curve)
		if r.MaxDrawdown > 0 {
			r.CalmarRatio = r.AnnualizedReturn / r.MaxDrawdown
		}
	}

	r.TotalTrades = len(trades)
	if len(trades) == 0 {
		return r
	}

	var sumPnL, holding float64
	r.BestTrade = math.Inf(-1)
	r.WorstTrade = math.Inf(1)
	for _, t := range trades {
		sumPnL += t.NetPnL
		holding += float64(t.HoldingPeriod())
		r.TotalCosts += t.Costs
		if t.NetPnL > 0 {
			r.WinningTrades++
			r.GrossProfit += t.NetPnL
		} else {
			r.LosingTrades++
			r.GrossLoss += -t.NetPnL
		}
		r.BestTrade = math.Max(r.BestTrade, t.NetPnL)
		r.WorstTrade = math.Min(r.WorstTrade, t.NetPnL)
	}
	r.WinRate = float64(r.WinningTrades) / float64(len(trades))
	r.AvgTradePnL = sumPnL / float64(len(trades))
	r.AvgHoldingPeriod = time.Duration(holding / float64(len(trades)))

	switch {
	case r.GrossLoss > 0:
		r.ProfitFactor = Ratio(r.GrossProfit / r.GrossLoss)
	case r.GrossProfit > 0:
		r.ProfitFactor = Ratio(math.Inf(1))
	}
	return r
}

// annualize compounds total return over the calendar span of the run.
func annualize(initial, final float64, start, end time.Time) float64 {
	if initial <= 0 || final <= 0 {
		return 0
	}
	years := end.Sub(start).Hours() / 24 / daysPerYear
	if years <= 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}

// sharpe is the annualized mean-over-stdev of per-period equity returns,
// zero risk-free rate. A zero-variance curve scores zero.
func sharpe(curve []models.EquityPoint) float64 {
	rets := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		rets = append(rets, curve[i].Equity/prev-1)
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	var variance float64
	for _, v := range rets {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(rets) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

// drawdown scans the curve for the deepest peak-to-trough drop and the
// longest stretch spent below a running peak (the underwater period).
// Ongoing is true when the curve ends below its running peak.
func drawdown(curve []models.EquityPoint) (maxDD float64, maxDur time.Duration, ongoing bool) {
	peak := curve[0].Equity
	peakAt := curve[0].Timestamp
	for _, pt := range curve {
		if pt.Equity >= peak {
			peak = pt.Equity
			peakAt = pt.Timestamp
			continue
		}
		if peak > 0 {
			dd := (peak - pt.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if dur := pt.Timestamp.Sub(peakAt); dur > maxDur {
			maxDur = dur
		}
	}
	ongoing = curve[len(curve)-1].Equity < peak
	return maxDD, maxDur, ongoing
}
