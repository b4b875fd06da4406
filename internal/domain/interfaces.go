package domain

import "context"

// BrokerClient defines the broker gateway operations the control loop
// consumes. Implementations talk to a remote HTTP API with its own rate
// limits and eventual consistency: a submitted order does not immediately
// appear in the position list.
//
// The interface is defined here, at the consumer side, so the position and
// risk managers never import a concrete client package.
type BrokerClient interface {
	// GetAccount returns a fresh account snapshot. Never cached by callers.
	GetAccount(ctx context.Context) (*AccountSnapshot, error)

	// GetPositions returns the authoritative full position list.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetPosition returns the position for symbol, or nil when none is held.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// PlaceMarketOrder submits a market order and returns the broker order id.
	PlaceMarketOrder(ctx context.Context, trade Trade) (string, error)

	// PlaceLimitOrder submits a limit order at limitPrice.
	PlaceLimitOrder(ctx context.Context, trade Trade, limitPrice float64) (string, error)

	// ClosePosition liquidates the position for one symbol.
	ClosePosition(ctx context.Context, symbol string) error

	// CloseAllPositions liquidates everything. Callers must fall back to
	// per-symbol ClosePosition calls when this fails.
	CloseAllPositions(ctx context.Context) error
}

// SentimentSource produces free-text market chatter and condenses it into
// per-symbol scores. Best effort: an empty result is not an error.
type SentimentSource interface {
	GetMarketChatter(ctx context.Context) ([]string, error)
}

// SentimentAnalyzer turns raw chatter into per-symbol sentiment scores.
type SentimentAnalyzer interface {
	AggregateSentiment(texts []string) map[string]SentimentScore
}

// StreamEvent is one message off the market data stream. Exactly one of the
// pointers is set.
type StreamEvent struct {
	Bar   *Bar
	Quote *Quote
	Trade *TradeTick
}

// MarketStream delivers asynchronous quote/trade/bar events for subscribed
// symbols onto the channel returned by Events. Subscribing to an
// already-active symbol set is a no-op.
type MarketStream interface {
	// Subscribe replaces the subscribed symbol set. Symbols already
	// subscribed are not re-subscribed.
	Subscribe(ctx context.Context, symbols []string) error

	// Events returns the channel the dispatch loop drains. Closed when the
	// stream shuts down.
	Events() <-chan StreamEvent

	// Close tears down the websocket connection.
	Close() error
}
