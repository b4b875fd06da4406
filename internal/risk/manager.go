// Package risk sizes trades and validates them against capital,
// concentration and position-count rules.
package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/domain"
)

const (
	// accountFraction caps any single position at 10% of account value.
	accountFraction = 0.10

	// buyingPowerFraction keeps a 10% safety margin on buying power, both
	// when sizing and again at validation time: the price may have moved
	// between the two.
	buyingPowerFraction = 0.90
)

// PositionReader is the read-only view of the position table the risk
// manager needs. Defined here, at the consumer, so risk never imports the
// position package.
type PositionReader interface {
	HasPosition(symbol string) bool
	Count() int
}

// Config holds the risk limits.
type Config struct {
	MaxPositionSize float64 // max capital per position, account currency
	MaxPositions    int
}

// Manager computes position sizes and validates order intents. It only
// reads account snapshots and positions; it never mutates either.
type Manager struct {
	cfg       Config
	broker    domain.BrokerClient
	positions PositionReader
	log       zerolog.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg Config, broker domain.BrokerClient, positions PositionReader, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		broker:    broker,
		positions: positions,
		log:       log.With().Str("component", "risk_manager").Logger(),
	}
}

// PositionSize computes the whole-share quantity to buy at price. The
// capital deployed is min(configured max, 10% of account value, 90% of
// buying power): no single runaway input can alone produce an oversized
// order. Always at least 1 share.
//
// A non-positive account value, buying power or price is a broker or data
// fault, not a business condition, and fails with a risk error instead of a
// silent default.
func (m *Manager) PositionSize(ctx context.Context, symbol string, price float64) (int64, error) {
	if price <= 0 {
		return 0, domain.Errorf(domain.KindRisk, "risk.position_size", "invalid price %.4f for %s", price, symbol)
	}

	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return 0, domain.E(domain.KindRisk, "risk.position_size", err)
	}
	if account.PortfolioValue <= 0 {
		return 0, domain.Errorf(domain.KindRisk, "risk.position_size", "account value is %.2f", account.PortfolioValue)
	}
	if account.BuyingPower <= 0 {
		return 0, domain.Errorf(domain.KindRisk, "risk.position_size", "buying power is %.2f", account.BuyingPower)
	}

	capital := math.Min(m.cfg.MaxPositionSize, account.PortfolioValue*accountFraction)
	capital = math.Min(capital, account.BuyingPower*buyingPowerFraction)

	shares := int64(math.Floor(capital / price))
	if shares < 1 {
		shares = 1
	}

	m.log.Debug().
		Str("symbol", symbol).
		Float64("price", price).
		Float64("capital", capital).
		Int64("shares", shares).
		Msg("Position size computed")
	return shares, nil
}

// ValidateTrade checks a proposed trade. Expected-path rejections come back
// as (false, reason, nil); a broker failure while confirming preconditions
// propagates as a risk error, because a trade must never be treated as valid
// when its preconditions could not be confirmed.
//
// Structural checks run first and make no network calls.
func (m *Manager) ValidateTrade(ctx context.Context, trade domain.Trade) (bool, string, error) {
	if trade.Quantity < 1 {
		return false, fmt.Sprintf("invalid quantity %d", trade.Quantity), nil
	}
	if trade.Price <= 0 {
		return false, fmt.Sprintf("invalid price %.4f", trade.Price), nil
	}
	if trade.Side != domain.SideBuy && trade.Side != domain.SideSell {
		return false, fmt.Sprintf("invalid side %q", trade.Side), nil
	}

	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return false, "", domain.E(domain.KindRisk, "risk.validate_trade", err)
	}

	if account.TradingBlocked {
		return false, "account trading is blocked", nil
	}

	if trade.Side == domain.SideBuy {
		required := trade.Value()
		if required > account.BuyingPower {
			return false, fmt.Sprintf("insufficient buying power: need %.2f, have %.2f", required, account.BuyingPower), nil
		}
		if required > account.BuyingPower*buyingPowerFraction {
			return false, fmt.Sprintf("trade exceeds %.0f%% of buying power", buyingPowerFraction*100), nil
		}
		if m.positions.HasPosition(trade.Symbol) {
			return false, fmt.Sprintf("already holding %s", trade.Symbol), nil
		}
		if m.positions.Count() >= m.cfg.MaxPositions {
			return false, fmt.Sprintf("maximum positions reached (%d)", m.cfg.MaxPositions), nil
		}
	}

	return true, "", nil
}

// CheckMarketConditions is a best-effort advisory check. Failure to
// determine suitability reports unsuitable rather than silently proceeding,
// but is never fatal on its own.
func (m *Manager) CheckMarketConditions(ctx context.Context) (bool, string) {
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not determine market conditions")
		return false, "account state unavailable"
	}
	if account.TradingBlocked {
		return false, "account trading is blocked"
	}
	return true, ""
}
