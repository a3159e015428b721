package strategy

import (
	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/util"
)

// Breakout defaults.
const (
	defaultBreakLookback = 20
	defaultStopLookback  = 10
	defaultTargetRR      = 2.0
)

// Breakout is the price-structure source: it enters in the direction of a
// break of the recent lookback range, anchors the stop at the opposite swing
// extreme, and projects the target a configured multiple of the stop
// distance away. Exits are left entirely to the engine's risk rules
// (stop/target/max-hold/session), so this source never emits exit signals.
type Breakout struct {
	p Params
}

// NewBreakout applies defaults for unset params.
func NewBreakout(p Params) *Breakout {
	if p.BreakLookback <= 0 {
		p.BreakLookback = defaultBreakLookback
	}
	if p.StopLookback <= 0 {
		p.StopLookback = defaultStopLookback
	}
	if p.TargetRR <= 0 {
		p.TargetRR = defaultTargetRR
	}
	return &Breakout{p: p}
}

// Name implements SignalSource.
func (b *Breakout) Name() string { return NameStructureBreakout }

// Next implements SignalSource.
func (b *Breakout) Next(symbol string, history []models.Bar) models.Signal {
	n := len(history)
	if n == 0 {
		return models.Signal{Direction: models.SignalHold, Symbol: symbol, Bias: models.BiasNeutral}
	}
	last := history[n-1]
	hold := models.Hold(symbol, last.Timestamp)
	if n < b.p.BreakLookback+2 {
		return hold
	}

	// Range of the lookback window ending at the prior bar.
	window := history[n-1-b.p.BreakLookback : n-1]
	rangeHigh, rangeLow := extremes(window)
	prevClose := history[n-2].Close

	bias := b.dailyBias(history)

	// A break counts only on the bar that crosses the level.
	switch {
	case last.Close > rangeHigh && prevClose <= rangeHigh:
		stop := swingLow(history[n-1-b.p.StopLookback : n-1])
		if stop >= last.Close {
			return hold
		}
		target := last.Close + (last.Close-stop)*b.p.TargetRR
		return models.Signal{
			Timestamp: last.Timestamp, Symbol: symbol,
			Direction:       models.SignalEnterLong,
			Levels:          &models.ReferenceLevels{StopAnchor: stop, TargetAnchor: target},
			StructuralBreak: true,
			Bias:            bias,
		}
	case last.Close < rangeLow && prevClose >= rangeLow:
		stop := swingHigh(history[n-1-b.p.StopLookback : n-1])
		if stop <= last.Close {
			return hold
		}
		target := last.Close - (stop-last.Close)*b.p.TargetRR
		if target <= 0 {
			return hold
		}
		return models.Signal{
			Timestamp: last.Timestamp, Symbol: symbol,
			Direction:       models.SignalEnterShort,
			Levels:          &models.ReferenceLevels{StopAnchor: stop, TargetAnchor: target},
			StructuralBreak: true,
			Bias:            bias,
		}
	}
	return hold
}

// dailyBias compares the latest close against the previous calendar day's
// range: above it is bullish, below it bearish, inside neutral.
func (b *Breakout) dailyBias(history []models.Bar) models.Bias {
	last := history[len(history)-1]
	today := util.DayKey(last.Timestamp)

	var prevHigh, prevLow float64
	prevDay := ""
	for i := len(history) - 1; i >= 0; i-- {
		day := util.DayKey(history[i].Timestamp)
		if day == today {
			continue
		}
		if prevDay == "" {
			prevDay = day
			prevHigh, prevLow = history[i].High, history[i].Low
			continue
		}
		if day != prevDay {
			break
		}
		prevHigh = maxF(prevHigh, history[i].High)
		prevLow = minF(prevLow, history[i].Low)
	}
	if prevDay == "" {
		return models.BiasNeutral
	}
	switch {
	case last.Close > prevHigh:
		return models.BiasBullish
	case last.Close < prevLow:
		return models.BiasBearish
	default:
		return models.BiasNeutral
	}
}

func extremes(bars []models.Bar) (high, low float64) {
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		high = maxF(high, b.High)
		low = minF(low, b.Low)
	}
	return high, low
}

func swingLow(bars []models.Bar) float64 {
	low := bars[0].Low
	for _, b := range bars[1:] {
		low = minF(low, b.Low)
	}
	return low
}

func swingHigh(bars []models.Bar) float64 {
	high := bars[0].High
	for _, b := range bars[1:] {
		high = maxF(high, b.High)
	}
	return high
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
