// Package bot wires sentiment, market data, risk and broker access
// into the trading control loop.
package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/config"
	"github.com/akaravas/hypetrader/internal/domain"
	"github.com/akaravas/hypetrader/internal/journal"
	"github.com/akaravas/hypetrader/internal/position"
	"github.com/akaravas/hypetrader/internal/risk"
	"github.com/akaravas/hypetrader/internal/signal"
)

const (
	monitorSchedule   = "@every 30s"
	sentimentSchedule = "@every 5m"
	snapshotSchedule  = "@every 15m"

	monitorTimeout   = 25 * time.Second
	sentimentTimeout = 4 * time.Minute
	entryTimeout     = 15 * time.Second

	// shutdownTimeout bounds the bulk liquidation on shutdown; the
	// per-symbol fallback gets its own, shorter budget per position.
	shutdownTimeout      = 30 * time.Second
	closeFallbackTimeout = 10 * time.Second

	snapshotFile = "watchlist.msgpack"
)

// State is the bot lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the external collaborators the bot needs.
type Deps struct {
	Broker   domain.BrokerClient
	Stream   domain.MarketStream
	Chatter  domain.SentimentSource
	Analyzer domain.SentimentAnalyzer
	Journal  *journal.Journal
	Errors   *journal.ErrorLog
}

// Bot runs the trading control loop: periodic position monitoring and
// sentiment refresh via the scheduler, plus a dispatch loop draining
// the market data stream. All trading decisions funnel through here;
// nothing else places or closes orders.
type Bot struct {
	cfg *config.Config
	log zerolog.Logger

	broker   domain.BrokerClient
	stream   domain.MarketStream
	chatter  domain.SentimentSource
	analyzer domain.SentimentAnalyzer
	journal  *journal.Journal
	errors   *journal.ErrorLog

	signals   *signal.Generator
	positions *position.Manager
	risk      *risk.Manager
	watchlist *Watchlist
	sched     *Scheduler

	state        atomic.Int32
	startedAt    time.Time
	snapshotPath string

	fatalCh   chan error
	fatalOnce sync.Once
	loopDone  chan struct{}
}

// New creates a bot. The position and risk managers are built here;
// they are implementation details of the control loop.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Bot {
	b := &Bot{
		cfg:      cfg,
		log:      log.With().Str("service", "bot").Logger(),
		broker:   deps.Broker,
		stream:   deps.Stream,
		chatter:  deps.Chatter,
		analyzer: deps.Analyzer,
		journal:  deps.Journal,
		errors:   deps.Errors,
		signals: signal.NewGenerator(signal.Config{
			MinSentiment: cfg.Trading.MinSentiment,
		}),
		watchlist:    NewWatchlist(cfg.Sentiment.MaxWatchlist, cfg.Sentiment.DefaultSymbols),
		snapshotPath: filepath.Join(cfg.DataDir, snapshotFile),
		fatalCh:      make(chan error, 1),
		loopDone:     make(chan struct{}),
	}

	b.positions = position.NewManager(position.Config{
		ProfitTarget: cfg.Trading.ProfitTarget,
		StopLoss:     cfg.Trading.StopLoss,
		MaxPositions: cfg.Trading.MaxPositions,
	}, deps.Broker, log)

	b.risk = risk.NewManager(risk.Config{
		MaxPositionSize: cfg.Trading.MaxPositionSize,
		MaxPositions:    cfg.Trading.MaxPositions,
	}, deps.Broker, b.positions, log)

	b.sched = NewScheduler(log, b.onJobError)

	return b
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	return State(b.state.Load())
}

// StartedAt returns when Run began.
func (b *Bot) StartedAt() time.Time {
	return b.startedAt
}

// Watchlist returns the symbol state table for read access.
func (b *Bot) Watchlist() *Watchlist {
	return b.watchlist
}

// Positions returns the position manager for read access.
func (b *Bot) Positions() *position.Manager {
	return b.positions
}

// Run starts the bot and blocks until ctx is cancelled or a fatal
// error occurs. It always shuts down cleanly before returning; the
// returned error is the fatal cause, or nil on a requested stop.
func (b *Bot) Run(ctx context.Context) error {
	b.setState(StateInitializing)
	b.startedAt = time.Now()

	// The bot never reaches Running on a config that fails its bounds
	// checks. Trading with, say, a profit target of 5.0 would simply
	// never exit a position.
	if err := b.cfg.Validate(); err != nil {
		b.setState(StateStopped)
		return domain.E(domain.KindConfig, "config.validate", err)
	}

	if err := b.watchlist.LoadSnapshot(b.snapshotPath); err != nil {
		b.log.Warn().Err(err).Msg("Could not load watchlist snapshot, starting fresh")
	}

	// The position table must be trusted before the first monitor
	// cycle. A fatal failure here means the bot never starts trading.
	rctx, rcancel := context.WithTimeout(ctx, monitorTimeout)
	err := b.positions.Reconcile(rctx)
	rcancel()
	if err != nil {
		b.errors.Record("position.reconcile", err)
		if domain.IsFatal(err) {
			b.setState(StateStopped)
			return err
		}
		b.log.Warn().Err(err).Msg("Initial reconcile failed, retrying on schedule")
	}

	if err := b.stream.Subscribe(ctx, b.watchlist.Symbols()); err != nil {
		b.errors.Record("stream.subscribe", err)
		if domain.IsFatal(err) {
			b.setState(StateStopped)
			return err
		}
		b.log.Warn().Err(err).Msg("Initial stream subscribe failed")
	}

	jobs := []struct {
		schedule string
		job      funcJob
	}{
		{monitorSchedule, funcJob{"position_monitor", b.monitorCycle}},
		{sentimentSchedule, funcJob{"sentiment_refresh", b.sentimentCycle}},
		{snapshotSchedule, funcJob{"watchlist_snapshot", b.snapshotCycle}},
	}
	for _, j := range jobs {
		if err := b.sched.AddJob(j.schedule, j.job); err != nil {
			if cerr := b.stream.Close(); cerr != nil {
				b.log.Warn().Err(cerr).Msg("Stream close failed")
			}
			b.setState(StateStopped)
			return fmt.Errorf("failed to register %s job: %w", j.job.name, err)
		}
	}

	b.sched.Start()
	b.setState(StateRunning)
	b.log.Info().
		Int("watchlist", b.watchlist.Len()).
		Int("positions", b.positions.Count()).
		Msg("Bot running")

	go b.dispatchLoop()

	// Seed the watchlist with fresh sentiment without waiting for the
	// first scheduled refresh.
	go func() {
		if err := b.sched.RunNow(funcJob{"sentiment_refresh", b.sentimentCycle}); err != nil {
			b.onJobError("sentiment_refresh", err)
		}
	}()

	var cause error
	select {
	case <-ctx.Done():
		b.log.Info().Msg("Shutdown requested")
	case cause = <-b.fatalCh:
		b.log.Error().Err(cause).Msg("Fatal error, shutting down")
	}

	b.shutdown()
	return cause
}

// dispatchLoop drains the market data stream and folds each event into
// the watchlist. Bars additionally drive the entry path. The loop ends
// when the stream's event channel closes.
func (b *Bot) dispatchLoop() {
	defer close(b.loopDone)

	for ev := range b.stream.Events() {
		switch {
		case ev.Bar != nil:
			b.watchlist.ApplyBar(*ev.Bar)
			b.tryEnter(*ev.Bar)
		case ev.Quote != nil:
			b.watchlist.ApplyQuote(*ev.Quote)
		case ev.Trade != nil:
			b.watchlist.ApplyTrade(*ev.Trade)
		}
	}
}

// tryEnter runs the entry path for one bar: signal generation, risk
// sizing, validation, order submission. Cheap local gates run before
// anything that touches the broker.
func (b *Bot) tryEnter(bar domain.Bar) {
	if b.State() != StateRunning {
		return
	}

	state, ok := b.watchlist.Get(bar.Symbol)
	if !ok {
		return
	}

	sig := b.signals.FromBar(bar, state)
	if sig == nil {
		return
	}
	if !sig.Actionable(b.cfg.Trading.MinStrength) {
		return
	}
	if b.positions.HasPosition(sig.Symbol) || !b.positions.CanOpenNewPosition() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), entryTimeout)
	defer cancel()

	quantity, err := b.risk.PositionSize(ctx, sig.Symbol, sig.Price)
	if err != nil {
		b.handleError("risk.position_size", err)
		return
	}

	trade := domain.Trade{
		Symbol:    sig.Symbol,
		Side:      domain.SideBuy,
		Quantity:  quantity,
		Price:     sig.Price,
		Timestamp: time.Now().UTC(),
	}

	ok, reason, err := b.risk.ValidateTrade(ctx, trade)
	if err != nil {
		b.handleError("risk.validate_trade", err)
		return
	}
	if !ok {
		b.log.Debug().
			Str("symbol", trade.Symbol).
			Str("reason", reason).
			Msg("Entry rejected")
		return
	}

	orderID, err := b.broker.PlaceMarketOrder(ctx, trade)
	if err != nil {
		b.handleError("broker.place_order", err)
		return
	}
	trade.OrderID = orderID

	if err := b.journal.RecordTrade(trade, sig.Source); err != nil {
		b.log.Error().Err(err).Msg("Could not journal entry trade")
	}

	b.log.Info().
		Str("symbol", trade.Symbol).
		Int64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Float64("strength", sig.Strength).
		Str("order_id", orderID).
		Msg("Position opened")
}

// monitorCycle reconciles the position table against the broker and
// closes any position past its profit target or stop loss. Exits are
// skipped when the table could not be refreshed this cycle.
func (b *Bot) monitorCycle() error {
	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
	defer cancel()

	if err := b.positions.Reconcile(ctx); err != nil {
		return err
	}

	for _, cand := range b.positions.ExitCandidates() {
		b.executeExit(ctx, cand)
	}
	return nil
}

// executeExit closes one flagged position and journals the exit.
func (b *Bot) executeExit(ctx context.Context, cand domain.ExitCandidate) {
	pos := b.positions.Get(cand.Symbol)
	if pos == nil {
		return
	}

	if err := b.broker.ClosePosition(ctx, cand.Symbol); err != nil {
		b.handleError("broker.close_position", err)
		return
	}

	trade := domain.Trade{
		Symbol:    cand.Symbol,
		Side:      domain.SideSell,
		Quantity:  pos.Quantity,
		Price:     pos.CurrentPrice,
		Timestamp: time.Now().UTC(),
	}
	if err := b.journal.RecordTrade(trade, string(cand.Reason)); err != nil {
		b.log.Error().Err(err).Msg("Could not journal exit trade")
	}
	if err := b.journal.RecordEvent("exit", cand.Symbol,
		fmt.Sprintf("%s at %+.2f%%", cand.Reason, cand.ProfitFraction*100)); err != nil {
		b.log.Error().Err(err).Msg("Could not journal exit event")
	}

	b.log.Info().
		Str("symbol", cand.Symbol).
		Str("reason", string(cand.Reason)).
		Float64("profit_pct", cand.ProfitFraction*100).
		Msg("Position closed")
}

// sentimentCycle scrapes fresh chatter, refreshes sentiment for
// watched symbols and admits new ones that clear the mention floor.
func (b *Bot) sentimentCycle() error {
	ctx, cancel := context.WithTimeout(context.Background(), sentimentTimeout)
	defer cancel()

	texts, err := b.chatter.GetMarketChatter(ctx)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		b.log.Debug().Msg("No chatter this cycle")
		return nil
	}

	scores := b.analyzer.AggregateSentiment(texts)
	now := time.Now().UTC()

	type candidate struct {
		symbol string
		score  domain.SentimentScore
	}
	var candidates []candidate
	for symbol, score := range scores {
		if b.watchlist.Has(symbol) {
			b.watchlist.UpdateSentiment(symbol, score, now)
			continue
		}
		if score.Mentions < b.cfg.Sentiment.MinMentions {
			continue
		}
		candidates = append(candidates, candidate{symbol, score})
	}

	// When more symbols qualify than slots remain, the most-mentioned
	// ones win. Ties break alphabetically so a cycle is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score.Mentions != candidates[j].score.Mentions {
			return candidates[i].score.Mentions > candidates[j].score.Mentions
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	added := 0
	for _, c := range candidates {
		if !b.watchlist.Admit(c.symbol, c.score, now) {
			break
		}
		added++
		if err := b.journal.RecordEvent("watchlist_grown", c.symbol,
			fmt.Sprintf("admitted with %d mentions", c.score.Mentions)); err != nil {
			b.log.Error().Err(err).Msg("Could not journal watchlist event")
		}
		b.log.Info().
			Str("symbol", c.symbol).
			Int("mentions", c.score.Mentions).
			Float64("sentiment", c.score.Sentiment).
			Msg("Watchlist grown")
	}

	if added > 0 {
		if err := b.stream.Subscribe(ctx, b.watchlist.Symbols()); err != nil {
			return err
		}
	}
	return nil
}

// snapshotCycle persists the watchlist so a restart keeps its
// accumulated symbols.
func (b *Bot) snapshotCycle() error {
	return b.watchlist.SaveSnapshot(b.snapshotPath)
}

// shutdown liquidates everything and stops the loops. Bulk close
// first; on failure, each position individually, so one unclosable
// symbol cannot keep the rest open.
func (b *Bot) shutdown() {
	b.setState(StateShuttingDown)
	b.sched.Stop()

	if err := b.stream.Close(); err != nil {
		b.log.Warn().Err(err).Msg("Stream close failed")
	}
	<-b.loopDone

	if b.positions.Count() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := b.broker.CloseAllPositions(ctx)
		cancel()

		if err != nil {
			b.errors.Record("broker.close_all_positions", err)
			b.log.Error().Err(err).Msg("Bulk liquidation failed, closing positions individually")

			for _, symbol := range b.positions.Symbols() {
				cctx, ccancel := context.WithTimeout(context.Background(), closeFallbackTimeout)
				cerr := b.broker.ClosePosition(cctx, symbol)
				ccancel()
				if cerr != nil {
					b.errors.Record("broker.close_position", cerr)
					b.log.Error().
						Err(cerr).
						Str("symbol", symbol).
						Msg("Position may remain open, operator attention required")
				}
			}
		}
	}

	if err := b.watchlist.SaveSnapshot(b.snapshotPath); err != nil {
		b.log.Warn().Err(err).Msg("Could not save watchlist snapshot")
	}
	if err := b.journal.RecordEvent("shutdown", "", b.State().String()); err != nil {
		b.log.Warn().Err(err).Msg("Could not journal shutdown")
	}

	b.setState(StateStopped)
	b.log.Info().Msg("Bot stopped")
}

// handleError records an error and escalates it when fatal. Only the
// first fatal error wins; the rest would describe the same collapse.
func (b *Bot) handleError(op string, err error) {
	b.errors.Record(op, err)
	if domain.IsFatal(err) {
		b.fatalOnce.Do(func() { b.fatalCh <- err })
	}
}

func (b *Bot) onJobError(job string, err error) {
	b.handleError(job, err)
}

func (b *Bot) setState(s State) {
	b.state.Store(int32(s))
}

type funcJob struct {
	name string
	fn   func() error
}

func (j funcJob) Name() string { return j.name }
func (j funcJob) Run() error   { return j.fn() }
