package position

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akaravas/hypetrader/internal/domain"
)

// MockBroker is a mock broker client for testing
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountSnapshot), args.Error(1)
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Position), args.Error(1)
}

func (m *MockBroker) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Position), args.Error(1)
}

func (m *MockBroker) PlaceMarketOrder(ctx context.Context, trade domain.Trade) (string, error) {
	args := m.Called(ctx, trade)
	return args.String(0), args.Error(1)
}

func (m *MockBroker) PlaceLimitOrder(ctx context.Context, trade domain.Trade, limitPrice float64) (string, error) {
	args := m.Called(ctx, trade, limitPrice)
	return args.String(0), args.Error(1)
}

func (m *MockBroker) ClosePosition(ctx context.Context, symbol string) error {
	args := m.Called(ctx, symbol)
	return args.Error(0)
}

func (m *MockBroker) CloseAllPositions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newManager(broker domain.BrokerClient) *Manager {
	return NewManager(Config{
		ProfitTarget: 0.05,
		StopLoss:     0.02,
		MaxPositions: 5,
	}, broker, zerolog.Nop())
}

func TestReconcileReplacesTable(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 101},
		{Symbol: "TSLA", Quantity: 2, AvgEntryPrice: 250, CurrentPrice: 240},
	}, nil).Once()

	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.HasPosition("AAPL"))

	// Broker closed TSLA; the next poll removes it and updates AAPL.
	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 105},
	}, nil).Once()

	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, 1, m.Count())
	assert.False(t, m.HasPosition("TSLA"))
	require.NotNil(t, m.Get("AAPL"))
	assert.InDelta(t, 105.0, m.Get("AAPL").CurrentPrice, 1e-9)

	broker.AssertExpectations(t)
}

func TestReconcileIsIdempotent(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	list := []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 106, MarketValue: 1060, UnrealizedPnL: 60},
	}
	broker.On("GetPositions", mock.Anything).Return(list, nil).Twice()

	require.NoError(t, m.Reconcile(context.Background()))
	first := m.Snapshot()
	require.NoError(t, m.Reconcile(context.Background()))
	second := m.Snapshot()

	assert.Equal(t, first, second)
}

func TestReconcileTransientFailureKeepsTable(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 101},
	}, nil).Once()
	require.NoError(t, m.Reconcile(context.Background()))

	broker.On("GetPositions", mock.Anything).
		Return(nil, domain.E(domain.KindAPI, "broker.get_positions", errors.New("timeout"))).Once()

	err := m.Reconcile(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))
	// Previous table survives so status reads stay coherent.
	assert.Equal(t, 1, m.Count())
}

func TestReconcileEscalatesAfterRepeatedFailures(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	transient := domain.E(domain.KindAPI, "broker.get_positions", errors.New("timeout"))
	broker.On("GetPositions", mock.Anything).Return(nil, transient).Times(maxReconcileFailures)

	var err error
	for i := 0; i < maxReconcileFailures; i++ {
		err = m.Reconcile(context.Background())
		require.Error(t, err)
	}
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.KindPosition, domain.KindOf(err))
}

func TestReconcileSuccessResetsFailureCount(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	transient := domain.E(domain.KindAPI, "broker.get_positions", errors.New("timeout"))
	broker.On("GetPositions", mock.Anything).Return(nil, transient).Twice()
	broker.On("GetPositions", mock.Anything).Return([]domain.Position{}, nil).Once()
	broker.On("GetPositions", mock.Anything).Return(nil, transient).Once()

	require.Error(t, m.Reconcile(context.Background()))
	require.Error(t, m.Reconcile(context.Background()))
	require.NoError(t, m.Reconcile(context.Background()))

	// Counter restarted: one more failure is still recoverable.
	err := m.Reconcile(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))
}

func TestReconcileAuthFailurePassesThrough(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)

	broker.On("GetPositions", mock.Anything).
		Return(nil, domain.E(domain.KindAuth, "broker.get_positions", errors.New("401"))).Once()

	err := m.Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.True(t, domain.IsFatal(err))
}

func seedPositions(t *testing.T, m *Manager, broker *MockBroker, positions []domain.Position) {
	t.Helper()
	broker.On("GetPositions", mock.Anything).Return(positions, nil).Once()
	require.NoError(t, m.Reconcile(context.Background()))
}

func TestExitCandidatesProfitTarget(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 106},
	})

	exits := m.ExitCandidates()
	require.Len(t, exits, 1)
	assert.Equal(t, "AAPL", exits[0].Symbol)
	assert.Equal(t, domain.ExitProfitTarget, exits[0].Reason)
	assert.InDelta(t, 0.06, exits[0].ProfitFraction, 1e-9)
}

func TestExitCandidatesStopLoss(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 97},
	})

	exits := m.ExitCandidates()
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitStopLoss, exits[0].Reason)
	assert.InDelta(t, -0.03, exits[0].ProfitFraction, 1e-9)
}

func TestExitCandidatesNoExitBetweenThresholds(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 101}, // +1%, inside the band
		{Symbol: "TSLA", Quantity: 5, AvgEntryPrice: 200, CurrentPrice: 198},  // -1%, inside the band
	})

	assert.Empty(t, m.ExitCandidates())
}

func TestExitCandidatesSkipsBadEntryPrice(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "BAD", Quantity: 1, AvgEntryPrice: 0, CurrentPrice: 50},
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 106},
	})

	exits := m.ExitCandidates()
	require.Len(t, exits, 1)
	assert.Equal(t, "AAPL", exits[0].Symbol)
}

func TestCanOpenNewPosition(t *testing.T) {
	broker := new(MockBroker)
	m := NewManager(Config{ProfitTarget: 0.05, StopLoss: 0.02, MaxPositions: 2}, broker, zerolog.Nop())

	assert.True(t, m.CanOpenNewPosition())

	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", Quantity: 1, AvgEntryPrice: 100, CurrentPrice: 100},
		{Symbol: "TSLA", Quantity: 1, AvgEntryPrice: 200, CurrentPrice: 200},
	})
	assert.False(t, m.CanOpenNewPosition())

	// One position drops away; a slot opens up again.
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", Quantity: 1, AvgEntryPrice: 100, CurrentPrice: 100},
	})
	assert.True(t, m.CanOpenNewPosition())
}

func TestPortfolioAggregates(t *testing.T) {
	broker := new(MockBroker)
	m := newManager(broker)
	seedPositions(t, m, broker, []domain.Position{
		{Symbol: "AAPL", MarketValue: 1060, UnrealizedPnL: 60, AvgEntryPrice: 100, CurrentPrice: 106},
		{Symbol: "TSLA", MarketValue: 480, UnrealizedPnL: -20, AvgEntryPrice: 250, CurrentPrice: 240},
	})

	assert.InDelta(t, 1540.0, m.PortfolioValue(), 1e-9)
	assert.InDelta(t, 40.0, m.PortfolioPnL(), 1e-9)
}

func TestPortfolioAggregatesEmpty(t *testing.T) {
	m := newManager(new(MockBroker))
	assert.Equal(t, 0.0, m.PortfolioValue())
	assert.Equal(t, 0.0, m.PortfolioPnL())
}
