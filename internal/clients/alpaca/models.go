package alpaca

import (
	"strconv"

	"github.com/akaravas/hypetrader/internal/domain"
)

// Alpaca's REST API encodes numeric fields as JSON strings. The wire types
// below mirror that encoding; transformers convert them into domain models.

type apiAccount struct {
	Equity           string `json:"equity"`
	BuyingPower      string `json:"buying_power"`
	PortfolioValue   string `json:"portfolio_value"`
	TradingBlocked   bool   `json:"trading_blocked"`
	PatternDayTrader bool   `json:"pattern_day_trader"`
}

type apiPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

type apiOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

// orderRequest is the payload for POST /v2/orders.
type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// parseFloat tolerates the empty strings Alpaca sends for fields that are
// not yet populated (e.g. current_price right after a fill).
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	// Quantities can arrive as "10" or "10.000000"; truncate fractions.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func transformAccount(a apiAccount) *domain.AccountSnapshot {
	return &domain.AccountSnapshot{
		Equity:           parseFloat(a.Equity),
		BuyingPower:      parseFloat(a.BuyingPower),
		PortfolioValue:   parseFloat(a.PortfolioValue),
		TradingBlocked:   a.TradingBlocked,
		PatternDayTrader: a.PatternDayTrader,
	}
}

func transformPosition(p apiPosition) domain.Position {
	return domain.Position{
		Symbol:        p.Symbol,
		Quantity:      parseInt(p.Qty),
		AvgEntryPrice: parseFloat(p.AvgEntryPrice),
		CurrentPrice:  parseFloat(p.CurrentPrice),
		MarketValue:   parseFloat(p.MarketValue),
		UnrealizedPnL: parseFloat(p.UnrealizedPL),
	}
}
