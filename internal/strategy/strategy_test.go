package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/backtester/internal/models"
)

func dailyBar(day int, open, high, low, close float64) models.Bar {
	ts := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC).AddDate(0, 0, day)
	return models.Bar{Timestamp: ts, Symbol: "ES", Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

func flatSeries(n int) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, dailyBar(i, 100, 102, 98, 100))
	}
	return bars
}

func TestNewFactory(t *testing.T) {
	src, err := New(NameIndicatorMomentum, Params{})
	require.NoError(t, err)
	assert.Equal(t, NameIndicatorMomentum, src.Name())

	src, err = New(NameStructureBreakout, Params{})
	require.NoError(t, err)
	assert.Equal(t, NameStructureBreakout, src.Name())

	_, err = New("mean-reversion", Params{})
	require.Error(t, err)
}

func TestBreakoutWarmupHolds(t *testing.T) {
	src := NewBreakout(Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
	bars := flatSeries(6)
	sig := src.Next("ES", bars)
	assert.Equal(t, models.SignalHold, sig.Direction)
}

func TestBreakoutLongBreak(t *testing.T) {
	src := NewBreakout(Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
	bars := flatSeries(7)
	bars = append(bars, dailyBar(7, 101, 106, 100, 105))

	sig := src.Next("ES", bars)
	require.Equal(t, models.SignalEnterLong, sig.Direction)
	require.NotNil(t, sig.Levels)
	assert.True(t, sig.StructuralBreak)
	// Stop anchored at the swing low of the prior three bars.
	assert.InDelta(t, 98.0, sig.Levels.StopAnchor, 1e-9)
	// Target projects twice the stop distance above entry.
	assert.InDelta(t, 105+(105-98)*2, sig.Levels.TargetAnchor, 1e-9)
	// Close above the prior day's high reads as bullish.
	assert.Equal(t, models.BiasBullish, sig.Bias)
}

func TestBreakoutShortBreak(t *testing.T) {
	src := NewBreakout(Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
	bars := flatSeries(7)
	bars = append(bars, dailyBar(7, 99, 100, 92, 93))

	sig := src.Next("ES", bars)
	require.Equal(t, models.SignalEnterShort, sig.Direction)
	require.NotNil(t, sig.Levels)
	assert.True(t, sig.StructuralBreak)
	assert.InDelta(t, 102.0, sig.Levels.StopAnchor, 1e-9)
	assert.InDelta(t, 93-(102-93)*2, sig.Levels.TargetAnchor, 1e-9)
	assert.Equal(t, models.BiasBearish, sig.Bias)
}

func TestBreakoutFiresOnlyOnCrossingBar(t *testing.T) {
	src := NewBreakout(Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
	bars := flatSeries(7)
	bars = append(bars, dailyBar(7, 101, 106, 100, 105))
	bars = append(bars, dailyBar(8, 105, 107, 104, 106))

	// The bar after the break is still above the old range but inside the
	// updated one, so no fresh signal.
	sig := src.Next("ES", bars)
	assert.Equal(t, models.SignalHold, sig.Direction)
}

func TestMomentumWarmupHolds(t *testing.T) {
	src := NewMomentum(Params{})
	sig := src.Next("SPY", nil)
	assert.Equal(t, models.SignalHold, sig.Direction)

	sig = src.Next("SPY", flatSeries(30))
	assert.Equal(t, models.SignalHold, sig.Direction)
}

func TestMomentumExitsWhenOverbought(t *testing.T) {
	src := NewMomentum(Params{ShortWindow: 3, LongWindow: 5, RSIPeriod: 3})
	bars := make([]models.Bar, 0, 40)
	price := 100.0
	for i := 0; i < 40; i++ {
		bars = append(bars, dailyBar(i, price, price+2.5, price-0.5, price+2))
		price += 2
	}
	sig := src.Next("SPY", bars)
	assert.Equal(t, models.SignalExit, sig.Direction)
	assert.Greater(t, sig.Strength, 0.0)
}

func TestMomentumHoldsInSteadyDecline(t *testing.T) {
	src := NewMomentum(Params{ShortWindow: 3, LongWindow: 5, RSIPeriod: 3})
	bars := make([]models.Bar, 0, 60)
	price := 200.0
	for i := 0; i < 60; i++ {
		bars = append(bars, dailyBar(i, price, price+0.5, price-1.5, price-1))
		price -= 1
	}
	sig := src.Next("SPY", bars)
	assert.Equal(t, models.SignalHold, sig.Direction)
}

func TestMomentumNeverEmitsShorts(t *testing.T) {
	src := NewMomentum(Params{})
	price := 100.0
	bars := make([]models.Bar, 0, 120)
	for i := 0; i < 120; i++ {
		// Deterministic zig-zag to sweep both entry and exit branches.
		delta := float64((i%7)-3) * 1.5
		bars = append(bars, dailyBar(i, price, price+2, price-2, price+delta))
		price += delta
		sig := src.Next("SPY", bars)
		assert.NotEqual(t, models.SignalEnterShort, sig.Direction)
	}
}
