// Package position maintains the authoritative in-process view of open
// positions, reconciled against broker state, and evaluates exit rules.
package position

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/domain"
)

// maxReconcileFailures is how many consecutive failed polls are tolerated
// before stale position state is declared fatal. A single transient broker
// hiccup skips one cycle; a broker that stays unreachable must not leave
// exits unevaluated indefinitely.
const maxReconcileFailures = 3

// Config holds the exit and concurrency limits.
type Config struct {
	ProfitTarget float64 // exit when profit fraction >= this
	StopLoss     float64 // exit when profit fraction <= -this
	MaxPositions int
}

// Manager owns the Position table. It is the single writer; every other
// component reads through its accessors.
type Manager struct {
	cfg    Config
	broker domain.BrokerClient
	log    zerolog.Logger

	mu        sync.RWMutex
	positions map[string]domain.Position
	failures  int // consecutive reconcile failures
}

// NewManager creates a position manager.
func NewManager(cfg Config, broker domain.BrokerClient, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		broker:    broker,
		positions: make(map[string]domain.Position),
		log:       log.With().Str("component", "position_manager").Logger(),
	}
}

// Reconcile replaces the position table with the broker's authoritative
// state: update-in-place for reported symbols, delete for symbols the broker
// no longer reports. Idempotent for an unchanged broker response.
//
// Failure handling: authentication/connectivity rejections pass through as
// fatal. A transient broker failure is recoverable for up to
// maxReconcileFailures consecutive polls (the caller skips exit evaluation
// for that cycle); beyond that the stale table itself becomes the hazard and
// the error escalates to a fatal position error.
func (m *Manager) Reconcile(ctx context.Context) error {
	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuth {
			return err
		}

		m.mu.Lock()
		m.failures++
		failures := m.failures
		m.mu.Unlock()

		if failures >= maxReconcileFailures {
			return domain.E(domain.KindPosition, "position.reconcile", err)
		}
		m.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("Position reconciliation failed, keeping previous table")
		return domain.E(domain.KindAPI, "position.reconcile", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0

	next := make(map[string]domain.Position, len(brokerPositions))
	for _, pos := range brokerPositions {
		next[pos.Symbol] = pos
		if _, tracked := m.positions[pos.Symbol]; !tracked {
			m.log.Info().Str("symbol", pos.Symbol).Int64("quantity", pos.Quantity).Msg("Tracking new position")
		}
	}
	for symbol := range m.positions {
		if _, still := next[symbol]; !still {
			m.log.Info().Str("symbol", symbol).Msg("Position closed at broker, removing")
		}
	}
	m.positions = next
	return nil
}

// ExitCandidates scans the table and flags positions whose profit fraction
// breaches the profit target or stop loss. Positions with a non-positive
// entry price are skipped with a warning; a data glitch must never crash the
// scan. Closing is the orchestrator's job.
func (m *Manager) ExitCandidates() []domain.ExitCandidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exits []domain.ExitCandidate
	for symbol, pos := range m.positions {
		if pos.AvgEntryPrice <= 0 {
			m.log.Warn().Str("symbol", symbol).Float64("entry_price", pos.AvgEntryPrice).Msg("Position has non-positive entry price, skipping exit scan")
			continue
		}

		profit := pos.ProfitFraction()
		switch {
		case profit >= m.cfg.ProfitTarget:
			m.log.Info().Str("symbol", symbol).Float64("profit_pct", profit).Msg("Profit target reached")
			exits = append(exits, domain.ExitCandidate{Symbol: symbol, Reason: domain.ExitProfitTarget, ProfitFraction: profit})
		case profit <= -m.cfg.StopLoss:
			m.log.Info().Str("symbol", symbol).Float64("profit_pct", profit).Msg("Stop loss triggered")
			exits = append(exits, domain.ExitCandidate{Symbol: symbol, Reason: domain.ExitStopLoss, ProfitFraction: profit})
		}
	}

	sort.Slice(exits, func(i, j int) bool { return exits[i].Symbol < exits[j].Symbol })
	return exits
}

// CanOpenNewPosition reports whether the tracked count is below the limit.
func (m *Manager) CanOpenNewPosition() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions) < m.cfg.MaxPositions
}

// HasPosition reports whether symbol is currently tracked.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[symbol]
	return ok
}

// Get returns the tracked position for symbol, or nil.
func (m *Manager) Get(symbol string) *domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos, ok := m.positions[symbol]; ok {
		return &pos
	}
	return nil
}

// Count returns the number of tracked positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Symbols returns the tracked symbols in sorted order.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.positions))
	for s := range m.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Snapshot returns a copy of the position table for status reporting.
func (m *Manager) Snapshot() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PortfolioValue sums market value across tracked positions. Status
// reporting only; never fails.
func (m *Manager) PortfolioValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.MarketValue
	}
	return total
}

// PortfolioPnL sums unrealized P&L across tracked positions. Status
// reporting only; never fails.
func (m *Manager) PortfolioPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.UnrealizedPnL
	}
	return total
}
