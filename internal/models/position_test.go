package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLong(t *testing.T) *Position {
	t.Helper()
	p := NewPosition("pos-1", "NIFTY", SideLong, 100, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 10)
	p.StopPrice = 95
	p.TargetPrice = 110
	require.NoError(t, p.ValidateState())
	return p
}

func TestPosition_StopAndTargetChecks(t *testing.T) {
	p := openLong(t)
	ts := p.EntryTime.Add(time.Hour)

	// Bar that never reaches either level.
	quiet := Bar{Symbol: "NIFTY", Timestamp: ts, Open: 100, High: 103, Low: 98, Close: 101, Volume: 1}
	assert.False(t, p.StopBreached(quiet))
	assert.False(t, p.TargetReached(quiet))

	// Stop is judged on the bar's low, not the close.
	stopBar := Bar{Symbol: "NIFTY", Timestamp: ts, Open: 100, High: 101, Low: 94, Close: 100, Volume: 1}
	assert.True(t, p.StopBreached(stopBar))

	targetBar := Bar{Symbol: "NIFTY", Timestamp: ts, Open: 100, High: 111, Low: 99, Close: 105, Volume: 1}
	assert.True(t, p.TargetReached(targetBar))
}

func TestPosition_ShortStopAndTarget(t *testing.T) {
	p := NewPosition("pos-2", "NIFTY", SideShort, 100, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 10)
	p.StopPrice = 105
	p.TargetPrice = 90
	require.NoError(t, p.ValidateState())

	ts := p.EntryTime.Add(time.Hour)
	stopBar := Bar{Symbol: "NIFTY", Timestamp: ts, Open: 100, High: 106, Low: 99, Close: 104, Volume: 1}
	assert.True(t, p.StopBreached(stopBar))
	assert.False(t, p.TargetReached(stopBar))

	targetBar := Bar{Symbol: "NIFTY", Timestamp: ts, Open: 95, High: 96, Low: 89, Close: 91, Volume: 1}
	assert.True(t, p.TargetReached(targetBar))
}

func TestPosition_TransitionState(t *testing.T) {
	p := openLong(t)
	require.NoError(t, p.TransitionState(StateClosed, "exit_filled"))
	assert.Equal(t, StateClosed, p.State)

	// Second close must fail: positions die exactly once.
	err := p.TransitionState(StateClosed, "exit_filled")
	require.Error(t, err)
}

func TestPosition_ValidateState(t *testing.T) {
	p := openLong(t)

	p.Quantity = 0
	require.Error(t, p.ValidateState())
	p.Quantity = 10

	// Inverted stop/target for a long.
	p.StopPrice, p.TargetPrice = 110, 95
	err := p.ValidateState()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "straddle entry")
}

func TestPosition_HeldFor(t *testing.T) {
	p := openLong(t)
	assert.Equal(t, 26*time.Hour, p.HeldFor(p.EntryTime.Add(26*time.Hour)))
}
