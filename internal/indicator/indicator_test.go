package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestSMA_ShortInput(t *testing.T) {
	out := SMA([]float64{1, 2}, 5)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMA(t *testing.T) {
	values := []float64{2, 4, 6, 8, 10}
	out := EMA(values, 3)

	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 4.0, out[2], 1e-9) // SMA seed
	// k = 0.5: 8*0.5 + 4*0.5 = 6, then 10*0.5 + 6*0.5 = 8
	assert.InDelta(t, 6.0, out[3], 1e-9)
	assert.InDelta(t, 8.0, out[4], 1e-9)
}

func TestRSI_Extremes(t *testing.T) {
	// Monotonically rising series has no losses: RSI pegs at 100.
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out := RSI(rising, 5)
	require.False(t, math.IsNaN(out[5]))
	assert.InDelta(t, 100.0, out[7], 1e-9)

	falling := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	out = RSI(falling, 5)
	assert.InDelta(t, 0.0, out[7], 1e-9)
}

func TestRSI_Warmup(t *testing.T) {
	out := RSI([]float64{1, 2, 3, 4, 5, 6}, 5)
	for i := 0; i < 5; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be warmup", i)
	}
	assert.False(t, math.IsNaN(out[5]))
}

func TestMACD_Alignment(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	macd, signal := MACD(values, 12, 26, 9)

	require.Len(t, macd, 60)
	require.Len(t, signal, 60)
	assert.True(t, math.IsNaN(macd[24]))
	assert.False(t, math.IsNaN(macd[25]))
	// Signal warms up 8 bars after the MACD line starts.
	assert.True(t, math.IsNaN(signal[32]))
	assert.False(t, math.IsNaN(signal[33]))
	// A steady uptrend keeps the MACD line positive once defined.
	assert.Greater(t, macd[59], 0.0)
}

func TestBollinger(t *testing.T) {
	// Constant series: zero deviation, bands collapse onto the mean.
	flat := []float64{5, 5, 5, 5, 5}
	upper, middle, lower := Bollinger(flat, 3, 2)
	assert.InDelta(t, 5.0, middle[4], 1e-9)
	assert.InDelta(t, 5.0, upper[4], 1e-9)
	assert.InDelta(t, 5.0, lower[4], 1e-9)

	values := []float64{2, 4, 6}
	upper, middle, lower = Bollinger(values, 3, 2)
	assert.InDelta(t, 4.0, middle[2], 1e-9)
	sd := math.Sqrt((4.0 + 0 + 4.0) / 3.0)
	assert.InDelta(t, 4.0+2*sd, upper[2], 1e-9)
	assert.InDelta(t, 4.0-2*sd, lower[2], 1e-9)
}
