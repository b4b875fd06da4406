// Package signal decides whether a market-data bar fires a trade signal.
// The generator is a pure function of (bar, symbol state): no I/O, no stored
// state, trivially replaceable.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akaravas/hypetrader/internal/domain"
)

const (
	// largeVolumeThreshold is the minimum bar volume for a momentum read.
	largeVolumeThreshold = 1_000_000

	// momentumBoost is added to the sentiment score when the momentum gate
	// passes, capped at 1.0.
	momentumBoost = 0.2
)

// Config holds the signal thresholds.
type Config struct {
	MinSentiment float64
}

// Generator produces buy signals from bars enriched with cached sentiment.
type Generator struct {
	cfg Config
	now func() time.Time
}

// NewGenerator creates a signal generator.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg, now: time.Now}
}

// FromBar returns a buy signal when the bar is an upward bar on large
// volume and cached sentiment clears the configured minimum. Returns nil
// when no signal fires.
func (g *Generator) FromBar(bar domain.Bar, state domain.SymbolState) *domain.Signal {
	momentum := bar.Close > bar.Open && bar.Volume > largeVolumeThreshold
	if !momentum || state.Sentiment <= g.cfg.MinSentiment {
		return nil
	}

	strength := state.Sentiment + momentumBoost
	if strength > 1.0 {
		strength = 1.0
	}

	return &domain.Signal{
		ID:        uuid.NewString(),
		Symbol:    bar.Symbol,
		Action:    domain.ActionBuy,
		Strength:  strength,
		Source:    "momentum",
		Sentiment: state.Sentiment,
		Mentions:  state.Mentions,
		Price:     bar.Close,
		Reason:    fmt.Sprintf("positive momentum with %d volume", bar.Volume),
		Timestamp: g.now(),
	}
}
