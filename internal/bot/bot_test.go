package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akaravas/hypetrader/internal/config"
	"github.com/akaravas/hypetrader/internal/domain"
	"github.com/akaravas/hypetrader/internal/journal"
	"github.com/akaravas/hypetrader/internal/sentiment"
)

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

type fakeStream struct {
	mu         sync.Mutex
	events     chan domain.StreamEvent
	subscribed []string
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan domain.StreamEvent, 16)}
}

func (s *fakeStream) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append([]string(nil), symbols...)
	return nil
}

func (s *fakeStream) Events() <-chan domain.StreamEvent {
	return s.events
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeStream) current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

type fakeChatter struct {
	texts []string
	err   error
}

func (f *fakeChatter) GetMarketChatter(ctx context.Context) ([]string, error) {
	return f.texts, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Trading: config.TradingConfig{
			ProfitTarget:    0.05,
			StopLoss:        0.02,
			MaxPositionSize: 100,
			MaxPositions:    5,
			MinSentiment:    0.3,
			MinStrength:     0.5,
		},
		Sentiment: config.SentimentConfig{
			MinMentions:    3,
			MaxWatchlist:   30,
			DefaultSymbols: []string{"SPY", "QQQ"},
		},
	}
}

func newTestBot(t *testing.T, broker domain.BrokerClient, stream domain.MarketStream, chatter domain.SentimentSource) *Bot {
	t.Helper()
	return newTestBotWith(t, testConfig(t), broker, stream, chatter)
}

func newTestBotWith(t *testing.T, cfg *config.Config, broker domain.BrokerClient, stream domain.MarketStream, chatter domain.SentimentSource) *Bot {
	t.Helper()
	db, err := journal.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(cfg, Deps{
		Broker:   broker,
		Stream:   stream,
		Chatter:  chatter,
		Analyzer: sentiment.NewAnalyzer(),
		Journal:  journal.New(db, zerolog.Nop()),
		Errors:   journal.NewErrorLog(""),
	}, zerolog.Nop())
}

func TestTryEnterPlacesOrder(t *testing.T) {
	broker := new(MockBroker)
	broker.On("GetAccount", mock.Anything).Return(&domain.AccountSnapshot{
		PortfolioValue: 10000,
		BuyingPower:    5000,
	}, nil).Twice() // sizing, then validation
	broker.On("PlaceMarketOrder", mock.Anything, mock.MatchedBy(func(tr domain.Trade) bool {
		return tr.Symbol == "SPY" && tr.Side == domain.SideBuy && tr.Quantity == 1 && tr.Price == 100
	})).Return("order-1", nil).Once()

	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	b.setState(StateRunning)
	b.watchlist.UpdateSentiment("SPY", domain.SentimentScore{Sentiment: 0.6, Mentions: 8}, time.Now())

	b.tryEnter(domain.Bar{Symbol: "SPY", Open: 99, Close: 100, Volume: 2_000_000})

	broker.AssertExpectations(t)

	history, err := b.journal.TradeHistory(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "order-1", history[0].OrderID)
	assert.Equal(t, "momentum", history[0].Reason)
}

func TestTryEnterNoSignalNoBrokerCalls(t *testing.T) {
	broker := new(MockBroker)
	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	b.setState(StateRunning)

	// Sentiment below the floor: no signal, no broker traffic.
	b.watchlist.UpdateSentiment("SPY", domain.SentimentScore{Sentiment: 0.1, Mentions: 8}, time.Now())
	b.tryEnter(domain.Bar{Symbol: "SPY", Open: 99, Close: 100, Volume: 2_000_000})

	// Unwatched symbol: dropped before signal generation.
	b.tryEnter(domain.Bar{Symbol: "GME", Open: 99, Close: 100, Volume: 2_000_000})

	broker.AssertNotCalled(t, "GetAccount", mock.Anything)
	broker.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything)
}

func TestTryEnterSkipsHeldSymbol(t *testing.T) {
	broker := new(MockBroker)
	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "SPY", Quantity: 1, AvgEntryPrice: 95, CurrentPrice: 100},
	}, nil).Once()

	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	require.NoError(t, b.positions.Reconcile(context.Background()))
	b.setState(StateRunning)
	b.watchlist.UpdateSentiment("SPY", domain.SentimentScore{Sentiment: 0.6, Mentions: 8}, time.Now())

	b.tryEnter(domain.Bar{Symbol: "SPY", Open: 99, Close: 100, Volume: 2_000_000})

	broker.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything)
}

func TestTryEnterIgnoredWhenNotRunning(t *testing.T) {
	broker := new(MockBroker)
	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	b.watchlist.UpdateSentiment("SPY", domain.SentimentScore{Sentiment: 0.6, Mentions: 8}, time.Now())

	b.setState(StateShuttingDown)
	b.tryEnter(domain.Bar{Symbol: "SPY", Open: 99, Close: 100, Volume: 2_000_000})

	broker.AssertNotCalled(t, "GetAccount", mock.Anything)
}

func TestMonitorCycleClosesExits(t *testing.T) {
	broker := new(MockBroker)
	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "AAPL", Quantity: 2, AvgEntryPrice: 100, CurrentPrice: 106},
		{Symbol: "TSLA", Quantity: 1, AvgEntryPrice: 200, CurrentPrice: 202},
	}, nil).Once()
	broker.On("ClosePosition", mock.Anything, "AAPL").Return(nil).Once()

	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	require.NoError(t, b.monitorCycle())

	broker.AssertExpectations(t)
	// TSLA sits inside the exit band and stays open.
	broker.AssertNotCalled(t, "ClosePosition", mock.Anything, "TSLA")

	history, err := b.journal.TradeHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "AAPL", history[0].Symbol)
	assert.Equal(t, "sell", history[0].Side)
	assert.Equal(t, "profit_target", history[0].Reason)
	assert.Equal(t, 106.0, history[0].Price)
}

func TestMonitorCycleSkipsExitsOnReconcileFailure(t *testing.T) {
	broker := new(MockBroker)
	broker.On("GetPositions", mock.Anything).
		Return(nil, domain.E(domain.KindAPI, "broker.get_positions", errors.New("timeout"))).Once()

	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})
	err := b.monitorCycle()
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))

	broker.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything)
}

func TestSentimentCycleGrowsWatchlist(t *testing.T) {
	broker := new(MockBroker)
	stream := newFakeStream()
	chatter := &fakeChatter{texts: []string{
		"GME to the moon, calls printing",
		"loading up on GME, very bullish setup",
		"GME breakout looks strong, buy the dip",
	}}

	b := newTestBot(t, broker, stream, chatter)
	require.NoError(t, b.sentimentCycle())

	assert.True(t, b.watchlist.Has("GME"))
	assert.Contains(t, stream.current(), "GME")

	state, _ := b.watchlist.Get("GME")
	assert.Equal(t, 3, state.Mentions)
	assert.Greater(t, state.Sentiment, 0.0)
}

func TestSentimentCycleRespectsMentionFloor(t *testing.T) {
	broker := new(MockBroker)
	stream := newFakeStream()
	chatter := &fakeChatter{texts: []string{"AMC looking bullish today"}}

	b := newTestBot(t, broker, stream, chatter)
	require.NoError(t, b.sentimentCycle())

	// One mention is below the floor of three.
	assert.False(t, b.watchlist.Has("AMC"))
	// No growth, no resubscribe.
	assert.Empty(t, stream.current())
}

func TestSentimentCycleAdmitsByMentionRank(t *testing.T) {
	// With one free slot and two qualifying symbols, the most-mentioned
	// one must win regardless of map iteration order.
	texts := []string{
		"GME to the moon, calls printing",
		"GME very bullish setup",
		"GME breakout looks strong",
		"buy the GME dip",
		"AMC calls printing",
		"AMC looking bullish",
		"AMC to the moon",
	}

	for i := 0; i < 25; i++ {
		broker := new(MockBroker)
		stream := newFakeStream()
		cfg := testConfig(t)
		cfg.Sentiment.MaxWatchlist = 3 // SPY and QQQ leave one slot

		b := newTestBotWith(t, cfg, broker, stream, &fakeChatter{texts: texts})
		require.NoError(t, b.sentimentCycle())

		require.True(t, b.watchlist.Has("GME"), "GME has 4 mentions and must take the last slot")
		require.False(t, b.watchlist.Has("AMC"), "AMC has 3 mentions and must lose the last slot")
		require.Equal(t, 3, b.watchlist.Len())
		require.Contains(t, stream.current(), "GME")
		require.NotContains(t, stream.current(), "AMC")
	}
}

func TestRunRefusesInvalidConfig(t *testing.T) {
	broker := new(MockBroker)
	stream := newFakeStream()

	cfg := testConfig(t)
	cfg.Trading.ProfitTarget = 5.0
	cfg.Trading.StopLoss = -1
	cfg.Trading.MaxPositions = 0

	b := newTestBotWith(t, cfg, broker, stream, &fakeChatter{})
	err := b.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
	assert.Equal(t, StateStopped, b.State())
	// Refused before any broker traffic.
	broker.AssertNotCalled(t, "GetPositions", mock.Anything)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	sched := NewScheduler(zerolog.Nop(), nil)
	err := sched.AddJob("not a schedule", funcJob{"broken", func() error { return nil }})
	require.Error(t, err)
}

func TestFatalJobErrorEscalates(t *testing.T) {
	broker := new(MockBroker)
	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})

	b.onJobError("position_monitor", domain.E(domain.KindPosition, "position.reconcile", errors.New("stale")))

	select {
	case err := <-b.fatalCh:
		assert.Equal(t, domain.KindPosition, domain.KindOf(err))
	default:
		t.Fatal("fatal error was not escalated")
	}
	require.Equal(t, 1, b.errors.Len())
}

func TestRecoverableJobErrorDoesNotEscalate(t *testing.T) {
	broker := new(MockBroker)
	b := newTestBot(t, broker, newFakeStream(), &fakeChatter{})

	b.onJobError("sentiment_refresh", domain.E(domain.KindData, "reddit.scrape", errors.New("bad payload")))

	select {
	case <-b.fatalCh:
		t.Fatal("recoverable error escalated to fatal")
	default:
	}
	assert.Equal(t, 1, b.errors.Len())
}

func TestShutdownFallsBackToPerSymbolCloses(t *testing.T) {
	broker := new(MockBroker)
	broker.On("GetPositions", mock.Anything).Return([]domain.Position{
		{Symbol: "AAPL", Quantity: 1, AvgEntryPrice: 100, CurrentPrice: 101},
		{Symbol: "TSLA", Quantity: 1, AvgEntryPrice: 200, CurrentPrice: 201},
	}, nil).Once()
	broker.On("CloseAllPositions", mock.Anything).
		Return(domain.E(domain.KindAPI, "broker.close_all_positions", errors.New("502"))).Once()
	broker.On("ClosePosition", mock.Anything, "AAPL").Return(nil).Once()
	broker.On("ClosePosition", mock.Anything, "TSLA").
		Return(domain.E(domain.KindTrading, "broker.close_position", errors.New("rejected"))).Once()

	stream := newFakeStream()
	b := newTestBot(t, broker, stream, &fakeChatter{})
	require.NoError(t, b.positions.Reconcile(context.Background()))

	go b.dispatchLoop()
	b.shutdown()

	broker.AssertExpectations(t)
	assert.Equal(t, StateStopped, b.State())
	// Both the bulk failure and the TSLA failure are on the record.
	assert.GreaterOrEqual(t, b.errors.Len(), 2)
}

func TestShutdownWithNoPositionsSkipsLiquidation(t *testing.T) {
	broker := new(MockBroker)
	stream := newFakeStream()
	b := newTestBot(t, broker, stream, &fakeChatter{})

	go b.dispatchLoop()
	b.shutdown()

	broker.AssertNotCalled(t, "CloseAllPositions", mock.Anything)
	assert.Equal(t, StateStopped, b.State())
}
