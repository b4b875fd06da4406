// Package technical computes indicator snapshots from the rolling
// per-symbol close history. The snapshots feed the dashboard only;
// entry decisions come from the signal generator.
package technical

import (
	"github.com/markcheno/go-talib"
)

const (
	rsiLength    = 14
	smaShort     = 10
	smaLong      = 20
	momentumSpan = 10
)

// Snapshot is the current indicator state for one symbol. Nil fields
// mean the close history is not yet long enough.
type Snapshot struct {
	Symbol   string   `json:"symbol"`
	Last     float64  `json:"last"`
	RSI      *float64 `json:"rsi,omitempty"`
	SMAShort *float64 `json:"sma_short,omitempty"`
	SMALong  *float64 `json:"sma_long,omitempty"`
	Momentum *float64 `json:"momentum,omitempty"` // fractional change over momentumSpan closes
}

// Compute builds a snapshot from the symbol's close history, oldest
// first. An empty history returns a zero snapshot with the symbol set.
func Compute(symbol string, closes []float64) Snapshot {
	snap := Snapshot{Symbol: symbol}
	if len(closes) == 0 {
		return snap
	}
	snap.Last = closes[len(closes)-1]
	snap.RSI = rsi(closes, rsiLength)
	snap.SMAShort = sma(closes, smaShort)
	snap.SMALong = sma(closes, smaLong)
	snap.Momentum = momentum(closes, momentumSpan)
	return snap
}

func rsi(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	values := talib.Rsi(closes, length)
	return lastValid(values)
}

func sma(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}
	values := talib.Sma(closes, length)
	return lastValid(values)
}

func momentum(closes []float64, span int) *float64 {
	if len(closes) < span+1 {
		return nil
	}
	base := closes[len(closes)-1-span]
	if base <= 0 {
		return nil
	}
	m := closes[len(closes)-1]/base - 1
	return &m
}

func lastValid(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if v != v { // NaN
		return nil
	}
	return &v
}
