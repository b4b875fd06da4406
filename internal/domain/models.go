// Package domain holds the pure data model and the contracts between the
// control loop and its external collaborators. Nothing in this package
// touches the network or the filesystem.
package domain

import "time"

// Position is the in-process view of one broker-held position. At most one
// Position exists per symbol; the position manager is the single writer.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      int64   `json:"quantity"` // signed, positive = long
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// ProfitFraction returns (current - entry) / entry. Positions with a
// non-positive entry price report 0; callers that care must check the entry
// price themselves before trusting the value.
func (p Position) ProfitFraction() float64 {
	if p.AvgEntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgEntryPrice) / p.AvgEntryPrice
}

// TradeSide is the direction of an order intent.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is an ephemeral order intent. It is validated once, submitted once,
// and discarded; its outcome surfaces later through position reconciliation.
type Trade struct {
	Symbol    string
	Side      TradeSide
	Quantity  int64
	Price     float64
	OrderID   string // set by the broker gateway after submission
	Timestamp time.Time
}

// Value returns the notional value of the intent.
func (t Trade) Value() float64 {
	return float64(t.Quantity) * t.Price
}

// SignalAction is what a signal recommends.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// Signal is an internally generated, time-stamped trade recommendation.
// Produced and consumed within one control-loop iteration.
type Signal struct {
	ID        string
	Symbol    string
	Action    SignalAction
	Strength  float64 // [0, 1]
	Source    string  // e.g. "momentum"
	Sentiment float64
	Mentions  int
	Price     float64 // reference price at signal time (bar close)
	Reason    string
	Timestamp time.Time
}

// Actionable reports whether the signal is strong enough to act on.
func (s Signal) Actionable(minStrength float64) bool {
	return s.Strength >= minStrength && (s.Action == ActionBuy || s.Action == ActionSell)
}

// AccountSnapshot is the broker-owned account state. It is never cached
// beyond a single decision; buying power changes with every fill.
type AccountSnapshot struct {
	Equity           float64
	BuyingPower      float64
	PortfolioValue   float64
	TradingBlocked   bool
	PatternDayTrader bool
}

// Bar is one aggregated minute bar from the market data stream.
type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Quote is a top-of-book update.
type Quote struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// TradeTick is a single printed trade from the stream.
type TradeTick struct {
	Symbol    string
	Price     float64
	Size      int64
	Timestamp time.Time
}

// SentimentScore is the aggregated social-media read for one symbol.
type SentimentScore struct {
	Sentiment       float64 `json:"sentiment" msgpack:"sentiment"` // [-1, 1]
	Mentions        int     `json:"mentions" msgpack:"mentions"`
	BullishMentions int     `json:"bullish_mentions" msgpack:"bullish_mentions"`
	BearishMentions int     `json:"bearish_mentions" msgpack:"bearish_mentions"`
}

// SymbolState is everything the orchestrator tracks per watched symbol:
// the latest sentiment read plus small rolling caches fed by the stream.
// Owned exclusively by the orchestrator.
type SymbolState struct {
	Symbol     string        `json:"symbol" msgpack:"symbol"`
	Sentiment  float64       `json:"sentiment" msgpack:"sentiment"`
	Mentions   int           `json:"mentions" msgpack:"mentions"`
	LastUpdate time.Time     `json:"last_update" msgpack:"last_update"`
	SpreadPct  float64       `json:"spread_pct" msgpack:"spread_pct"`
	LastBar    *Bar          `json:"-" msgpack:"-"`
	Closes     []float64     `json:"-" msgpack:"-"` // rolling bar closes, capped
	Trades     []RecentTrade `json:"-" msgpack:"-"` // rolling tick cache, capped
}

// RecentTrade is one entry in the rolling tick cache.
type RecentTrade struct {
	Price float64
	Size  int64
	Time  time.Time
}

// ExitReason names why a position was flagged for exit.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "profit_target"
	ExitStopLoss     ExitReason = "stop_loss"
)

// ExitCandidate is one position flagged for exit by the position manager.
// The orchestrator, not the position manager, performs the close.
type ExitCandidate struct {
	Symbol         string
	Reason         ExitReason
	ProfitFraction float64
}
