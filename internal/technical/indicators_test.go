package technical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEmptyHistory(t *testing.T) {
	snap := Compute("AAPL", nil)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Zero(t, snap.Last)
	assert.Nil(t, snap.RSI)
	assert.Nil(t, snap.SMAShort)
	assert.Nil(t, snap.SMALong)
	assert.Nil(t, snap.Momentum)
}

func TestComputeShortHistory(t *testing.T) {
	closes := []float64{100, 101, 102}
	snap := Compute("AAPL", closes)
	assert.Equal(t, 102.0, snap.Last)
	// Too short for every indicator.
	assert.Nil(t, snap.RSI)
	assert.Nil(t, snap.SMAShort)
	assert.Nil(t, snap.SMALong)
	assert.Nil(t, snap.Momentum)
}

func TestComputeFullHistory(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i) // monotonically rising
	}

	snap := Compute("AAPL", closes)
	assert.Equal(t, 129.0, snap.Last)

	require.NotNil(t, snap.RSI)
	// Strictly rising closes push RSI to its ceiling.
	assert.InDelta(t, 100.0, *snap.RSI, 1e-6)

	require.NotNil(t, snap.SMAShort)
	assert.InDelta(t, 124.5, *snap.SMAShort, 1e-9) // mean of 120..129

	require.NotNil(t, snap.SMALong)
	assert.InDelta(t, 119.5, *snap.SMALong, 1e-9) // mean of 110..129

	require.NotNil(t, snap.Momentum)
	assert.InDelta(t, 129.0/119.0-1, *snap.Momentum, 1e-9)
}

func TestSMAWindowBoundary(t *testing.T) {
	closes := make([]float64, smaShort)
	for i := range closes {
		closes[i] = 50
	}
	snap := Compute("TSLA", closes)
	require.NotNil(t, snap.SMAShort)
	assert.InDelta(t, 50.0, *snap.SMAShort, 1e-9)
	assert.Nil(t, snap.SMALong)
}
