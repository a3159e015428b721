package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/strategy"
)

// scripted replays canned signals keyed by symbol and timestamp, holding
// everywhere else.
type scripted struct {
	signals map[string]map[time.Time]models.Signal
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Next(symbol string, history []models.Bar) models.Signal {
	last := history[len(history)-1]
	if bySym, ok := s.signals[symbol]; ok {
		if sig, ok := bySym[last.Timestamp.UTC()]; ok {
			sig.Timestamp = last.Timestamp
			sig.Symbol = symbol
			return sig
		}
	}
	return models.Hold(symbol, last.Timestamp)
}

func (s *scripted) add(symbol string, ts time.Time, sig models.Signal) *scripted {
	if s.signals == nil {
		s.signals = make(map[string]map[time.Time]models.Signal)
	}
	if s.signals[symbol] == nil {
		s.signals[symbol] = make(map[time.Time]models.Signal)
	}
	s.signals[symbol][ts.UTC()] = sig
	return s
}

func at(hourOffset int) time.Time {
	return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC).Add(time.Duration(hourOffset) * time.Hour)
}

func bar(ts time.Time, sym string, open, high, low, close float64) models.Bar {
	return models.Bar{Timestamp: ts, Symbol: sym, Open: open, High: high, Low: low, Close: close, Volume: 5000}
}

func wideRules() *models.RiskRules {
	// Stops and targets far enough away that only scripted exits fire.
	return &models.RiskRules{StopLossPct: 0.5, TakeProfitPct: 0.9}
}

func TestRunEndOfDataRoundTrip(t *testing.T) {
	src := (&scripted{}).add("SPY", at(0), models.Signal{Direction: models.SignalEnterLong})
	eng, err := New(Config{InitialCapital: 1_000_000, Rules: wideRules(), Source: src})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(at(0), "SPY", 100, 101, 99, 100),
		bar(at(24), "SPY", 105, 106, 104, 105),
		bar(at(48), "SPY", 110, 111, 109, 110),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitEndOfData, tr.ExitReason)
	assert.InDelta(t, 100.0, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 110.0, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 2000.0, tr.Quantity, 1e-9)
	// 20k gross minus 200 entry and 220 exit costs.
	assert.InDelta(t, 19_580.0, tr.NetPnL, 1e-6)
	assert.InDelta(t, 1_019_580.0, res.FinalEquity, 1e-6)

	// One equity point per timestamp, flat after the forced close.
	require.Len(t, res.EquityCurve, 3)
	assert.Equal(t, 0, res.EquityCurve[2].OpenPositions)
}

func TestRunStopBeatsTargetAndFillsAtThreshold(t *testing.T) {
	rules := wideRules()
	rules.RiskPctNeutral = 0.01
	src := (&scripted{}).add("ES", at(0), models.Signal{
		Direction: models.SignalEnterLong,
		Levels:    &models.ReferenceLevels{StopAnchor: 95, TargetAnchor: 110},
	})
	eng, err := New(Config{InitialCapital: 1_000_000, Rules: rules, Source: src})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(at(0), "ES", 100, 101, 99, 100),
		// Both stop and target trade inside this bar; the stop must win and
		// fill at the stop price, not the close.
		bar(at(24), "ES", 100, 112, 94, 108),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.InDelta(t, 95.0, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 2000.0, tr.Quantity, 1e-9)
	assert.InDelta(t, -10_390.0, tr.NetPnL, 1e-6)
}

func TestRunMaxHoldExit(t *testing.T) {
	rules := wideRules()
	rules.MaxHolding = 48 * time.Hour
	src := (&scripted{}).add("QQQ", at(0), models.Signal{Direction: models.SignalEnterLong})
	eng, err := New(Config{InitialCapital: 100_000, Rules: rules, Source: src, KeepOpenAtEnd: true})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(at(0), "QQQ", 100, 101, 99, 100),
		bar(at(24), "QQQ", 101, 102, 100, 101),
		bar(at(48), "QQQ", 102, 103, 101, 102),
		bar(at(72), "QQQ", 103, 104, 102, 103),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitMaxHold, tr.ExitReason)
	assert.Equal(t, at(48), tr.ExitTime)
	assert.InDelta(t, 102.0, tr.ExitPrice, 1e-9)
}

func TestRunSessionCloseAndGate(t *testing.T) {
	rules := wideRules()
	rules.Sessions = []models.SessionWindow{{Start: "09:15", End: "12:00"}}
	inSession := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	outSession := time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC)

	src := (&scripted{}).
		add("NIFTY", inSession, models.Signal{Direction: models.SignalEnterLong}).
		add("NIFTY", outSession, models.Signal{Direction: models.SignalEnterLong})
	eng, err := New(Config{InitialCapital: 100_000, Rules: rules, Source: src, KeepOpenAtEnd: true})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(inSession, "NIFTY", 100, 101, 99, 100),
		bar(outSession, "NIFTY", 100, 101, 99, 100.5),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ExitSessionClose, res.Trades[0].ExitReason)
	assert.InDelta(t, 100.5, res.Trades[0].ExitPrice, 1e-9)

	// The out-of-session entry attempt lands in the skip audit, not the ledger.
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, models.SkipOutsideSession, res.Skipped[0].Reason)
}

func TestRunPositionLimitSkips(t *testing.T) {
	rules := wideRules()
	rules.MaxPositions = 3
	rules.PositionSizePct = 0.1
	src := &scripted{}
	syms := []string{"AAA", "BBB", "CCC", "DDD"}
	for _, s := range syms {
		src.add(s, at(0), models.Signal{Direction: models.SignalEnterLong})
	}
	eng, err := New(Config{InitialCapital: 1_000_000, Rules: rules, Source: src, KeepOpenAtEnd: true})
	require.NoError(t, err)

	var bars []models.Bar
	for _, s := range syms {
		bars = append(bars, bar(at(0), s, 100, 101, 99, 100))
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	// Symbol order decides who gets the slots, so DDD is the one skipped.
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "DDD", res.Skipped[0].Symbol)
	assert.Equal(t, models.SkipPositionLimit, res.Skipped[0].Reason)
	assert.Equal(t, 3, res.EquityCurve[0].OpenPositions)
}

func TestRunEntryGates(t *testing.T) {
	rules := wideRules()
	rules.RequireStructuralBreak = true
	rules.MinStopDistance = 2
	rules.MinRiskReward = 1.5
	rules.RiskPctNeutral = 0.01

	src := (&scripted{}).
		add("ES", at(0), models.Signal{Direction: models.SignalEnterLong}).
		add("ES", at(24), models.Signal{
			Direction:       models.SignalEnterLong,
			StructuralBreak: true,
			Levels:          &models.ReferenceLevels{StopAnchor: 99.5, TargetAnchor: 110},
		}).
		add("ES", at(48), models.Signal{
			Direction:       models.SignalEnterLong,
			StructuralBreak: true,
			Levels:          &models.ReferenceLevels{StopAnchor: 95, TargetAnchor: 104},
		})
	eng, err := New(Config{InitialCapital: 100_000, Rules: rules, Source: src, KeepOpenAtEnd: true})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(at(0), "ES", 100, 101, 99, 100),
		bar(at(24), "ES", 100, 101, 99, 100),
		bar(at(48), "ES", 100, 101, 99, 100),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Skipped, 3)
	assert.Equal(t, models.SkipNoStructuralBreak, res.Skipped[0].Reason)
	assert.Equal(t, models.SkipStopTooTight, res.Skipped[1].Reason)
	assert.Equal(t, models.SkipRiskRewardBelowMin, res.Skipped[2].Reason)
}

func TestRunZeroTrades(t *testing.T) {
	eng, err := New(Config{InitialCapital: 50_000, Rules: wideRules(), Source: &scripted{}})
	require.NoError(t, err)

	bars := []models.Bar{
		bar(at(0), "SPY", 100, 101, 99, 100),
		bar(at(24), "SPY", 101, 102, 100, 101),
	}
	res, err := eng.Run(context.Background(), bars)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.InDelta(t, 50_000.0, res.FinalEquity, 1e-9)
	assert.Len(t, res.EquityCurve, 2)
}

func TestRunDeterministicReplay(t *testing.T) {
	build := func() (*Engine, []models.Bar) {
		src, err := strategy.New(strategy.NameStructureBreakout,
			strategy.Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
		require.NoError(t, err)
		rules := wideRules()
		rules.RiskPctNeutral = 0.02
		eng, err := New(Config{InitialCapital: 500_000, Rules: rules, Source: src})
		require.NoError(t, err)

		var bars []models.Bar
		price := 100.0
		for i := 0; i < 40; i++ {
			delta := float64((i%9)-4) * 0.8
			high := math.Max(price, price+delta) + 1.5
			low := math.Min(price, price+delta) - 1.5
			bars = append(bars, bar(at(i*24), "ES", price, high, low, price+delta))
			price += delta
		}
		return eng, bars
	}

	e1, b1 := build()
	e2, b2 := build()
	require.NoError(t, models.ValidateSeries(b1))
	r1, err := e1.Run(context.Background(), b1)
	require.NoError(t, err)
	r2, err := e2.Run(context.Background(), b2)
	require.NoError(t, err)

	// Byte-identical replay, trade and run IDs included.
	assert.Equal(t, r1, r2)
}

func TestRunNoLookAhead(t *testing.T) {
	newEngine := func() *Engine {
		src, err := strategy.New(strategy.NameStructureBreakout,
			strategy.Params{BreakLookback: 5, StopLookback: 3, TargetRR: 2})
		require.NoError(t, err)
		rules := wideRules()
		rules.RiskPctNeutral = 0.02
		eng, err := New(Config{InitialCapital: 500_000, Rules: rules, Source: src, KeepOpenAtEnd: true})
		require.NoError(t, err)
		return eng
	}

	var bars []models.Bar
	price := 100.0
	for i := 0; i < 40; i++ {
		delta := float64((i%11)-5) * 0.7
		high := math.Max(price, price+delta) + 2
		low := math.Min(price, price+delta) - 2
		bars = append(bars, bar(at(i*24), "ES", price, high, low, price+delta))
		price += delta
	}
	require.NoError(t, models.ValidateSeries(bars))

	full, err := newEngine().Run(context.Background(), bars)
	require.NoError(t, err)
	partial, err := newEngine().Run(context.Background(), bars[:25])
	require.NoError(t, err)

	// Truncating the future must not change the past.
	assert.Equal(t, full.EquityCurve[:25], partial.EquityCurve)
	cutoff := bars[24].Timestamp
	var fullEarly []models.ClosedTrade
	for _, tr := range full.Trades {
		if !tr.ExitTime.After(cutoff) {
			fullEarly = append(fullEarly, tr)
		}
	}
	assert.Equal(t, fullEarly, partial.Trades)
}

func TestRunRejectsInvalidSeries(t *testing.T) {
	eng, err := New(Config{InitialCapital: 10_000, Rules: wideRules(), Source: &scripted{}})
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), nil)
	require.Error(t, err)

	bars := []models.Bar{
		bar(at(24), "SPY", 100, 101, 99, 100),
		bar(at(0), "SPY", 100, 101, 99, 100),
	}
	_, err = eng.Run(context.Background(), bars)
	require.Error(t, err)
}
