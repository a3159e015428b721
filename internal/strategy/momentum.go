package strategy

import (
	"math"

	"github.com/quantfold/backtester/internal/indicator"
	"github.com/quantfold/backtester/internal/models"
)

// Momentum defaults.
const (
	defaultShortWindow   = 20
	defaultLongWindow    = 50
	defaultRSIPeriod     = 14
	defaultRSIOversold   = 30
	defaultRSIOverbought = 70
	defaultGapThreshold  = 0.03

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	bbPeriod   = 20
	bbMult     = 2.0

	// RSI band considered actionable for entries.
	rsiNeutralLow  = 35
	rsiNeutralHigh = 65
)

// Momentum is the indicator-confluence source: it goes long when enough of
// its five entry conditions line up on the same bar and exits on the first
// overbought/reversal condition. Long-only.
type Momentum struct {
	p Params
}

// NewMomentum applies defaults for unset params.
func NewMomentum(p Params) *Momentum {
	if p.ShortWindow <= 0 {
		p.ShortWindow = defaultShortWindow
	}
	if p.LongWindow <= 0 {
		p.LongWindow = defaultLongWindow
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = defaultRSIPeriod
	}
	if p.RSIOversold <= 0 {
		p.RSIOversold = defaultRSIOversold
	}
	if p.RSIOverbought <= 0 {
		p.RSIOverbought = defaultRSIOverbought
	}
	if p.GapThreshold <= 0 {
		p.GapThreshold = defaultGapThreshold
	}
	return &Momentum{p: p}
}

// Name implements SignalSource.
func (m *Momentum) Name() string { return NameIndicatorMomentum }

// Next implements SignalSource.
func (m *Momentum) Next(symbol string, history []models.Bar) models.Signal {
	n := len(history)
	if n == 0 {
		return models.Signal{Direction: models.SignalHold, Symbol: symbol, Bias: models.BiasNeutral}
	}
	last := history[n-1]
	hold := models.Hold(symbol, last.Timestamp)
	if n < m.p.LongWindow+1 {
		return hold
	}

	closes := make([]float64, n)
	for i, b := range history {
		closes[i] = b.Close
	}

	smaShort := indicator.SMA(closes, m.p.ShortWindow)
	smaLong := indicator.SMA(closes, m.p.LongWindow)
	rsi := indicator.RSI(closes, m.p.RSIPeriod)
	macd, macdSig := indicator.MACD(closes, macdFast, macdSlow, macdSignal)
	bbUpper, _, bbLower := indicator.Bollinger(closes, bbPeriod, bbMult)

	i := n - 1
	if anyNaN(smaShort[i], smaLong[i], smaShort[i-1], smaLong[i-1], rsi[i], macd[i], macdSig[i], macd[i-1], macdSig[i-1], bbUpper[i], bbLower[i]) {
		return hold
	}

	// Exit conditions take precedence: any one of them flattens.
	deathCross := smaShort[i] < smaLong[i] && smaShort[i-1] >= smaLong[i-1]
	overbought := rsi[i] > m.p.RSIOverbought
	macdDown := macd[i] < macdSig[i] && macd[i-1] >= macdSig[i-1]
	atUpperBand := last.Close >= bbUpper[i]*0.98
	if deathCross || overbought || macdDown || atUpperBand {
		strength := ratio(countTrue(deathCross, overbought, macdDown, atUpperBand), 4)
		return models.Signal{
			Timestamp: last.Timestamp, Symbol: symbol,
			Direction: models.SignalExit, Strength: strength, Bias: models.BiasNeutral,
		}
	}

	// Entry: three of five conditions, or a strong oversold reversal.
	goldenCross := smaShort[i] > smaLong[i] && smaShort[i-1] <= smaLong[i-1]
	rsiNeutral := rsi[i] >= rsiNeutralLow && rsi[i] <= rsiNeutralHigh
	macdUp := macd[i] > macdSig[i] && macd[i-1] <= macdSig[i-1]
	nearLowerBand := last.Close <= bbLower[i]*1.02
	gap := math.Abs(last.Open-history[i-1].Close) / history[i-1].Close
	noGap := gap <= m.p.GapThreshold

	met := countTrue(goldenCross, rsiNeutral, macdUp, nearLowerBand, noGap)
	strongOversold := rsi[i] < m.p.RSIOversold && macd[i] > macdSig[i] && last.Close < bbLower[i]

	if met >= 3 || strongOversold {
		return models.Signal{
			Timestamp: last.Timestamp, Symbol: symbol,
			Direction: models.SignalEnterLong, Strength: ratio(met, 5), Bias: models.BiasNeutral,
		}
	}
	return hold
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func ratio(n, total int) float64 {
	return float64(n) / float64(total)
}
