package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/akaravas/hypetrader/internal/domain"
)

const (
	// closesCap bounds the rolling close history per symbol. Enough for
	// every indicator window with room to spare.
	closesCap = 100

	// tradesCap bounds the rolling tick cache per symbol.
	tradesCap = 50
)

// Watchlist owns the per-symbol state table. It only ever grows within
// a run: dropping a symbol would tear down its stream subscription and
// discard accumulated history for a sentiment score that may recover
// minutes later. The maximum size bounds stream subscriptions.
//
// All mutation happens here, under one lock. The scheduler jobs and the
// dispatch loop both write; the dashboard reads copies.
type Watchlist struct {
	mu     sync.RWMutex
	max    int
	states map[string]*domain.SymbolState
}

// NewWatchlist creates a watchlist seeded with the default symbols,
// holding at most max symbols.
func NewWatchlist(max int, seed []string) *Watchlist {
	w := &Watchlist{
		max:    max,
		states: make(map[string]*domain.SymbolState),
	}
	for _, symbol := range seed {
		if len(w.states) >= max {
			break
		}
		w.states[symbol] = &domain.SymbolState{Symbol: symbol}
	}
	return w
}

// Symbols returns the watched symbols, sorted.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	symbols := make([]string, 0, len(w.states))
	for symbol := range w.states {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Len returns the number of watched symbols.
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.states)
}

// Has reports whether symbol is watched.
func (w *Watchlist) Has(symbol string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.states[symbol]
	return ok
}

// Admit adds a new symbol with its sentiment score. Returns false when
// the symbol is already watched or the watchlist is full.
func (w *Watchlist) Admit(symbol string, score domain.SentimentScore, at time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.states[symbol]; ok {
		return false
	}
	if len(w.states) >= w.max {
		return false
	}
	w.states[symbol] = &domain.SymbolState{
		Symbol:     symbol,
		Sentiment:  score.Sentiment,
		Mentions:   score.Mentions,
		LastUpdate: at,
	}
	return true
}

// UpdateSentiment refreshes an already-watched symbol's sentiment.
// Unknown symbols are ignored.
func (w *Watchlist) UpdateSentiment(symbol string, score domain.SentimentScore, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[symbol]
	if !ok {
		return
	}
	state.Sentiment = score.Sentiment
	state.Mentions = score.Mentions
	state.LastUpdate = at
}

// ApplyBar folds a bar into the symbol's rolling caches. Bars for
// unwatched symbols are dropped.
func (w *Watchlist) ApplyBar(bar domain.Bar) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[bar.Symbol]
	if !ok {
		return
	}
	b := bar
	state.LastBar = &b
	state.Closes = append(state.Closes, bar.Close)
	if len(state.Closes) > closesCap {
		state.Closes = state.Closes[len(state.Closes)-closesCap:]
	}
}

// ApplyQuote updates the symbol's spread from a top-of-book quote.
func (w *Watchlist) ApplyQuote(quote domain.Quote) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[quote.Symbol]
	if !ok {
		return
	}
	if quote.BidPrice > 0 && quote.AskPrice > quote.BidPrice {
		mid := (quote.AskPrice + quote.BidPrice) / 2
		state.SpreadPct = (quote.AskPrice - quote.BidPrice) / mid
	}
}

// ApplyTrade appends a printed trade to the symbol's tick cache.
func (w *Watchlist) ApplyTrade(tick domain.TradeTick) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[tick.Symbol]
	if !ok {
		return
	}
	state.Trades = append(state.Trades, domain.RecentTrade{
		Price: tick.Price,
		Size:  tick.Size,
		Time:  tick.Timestamp,
	})
	if len(state.Trades) > tradesCap {
		state.Trades = state.Trades[len(state.Trades)-tradesCap:]
	}
}

// Get returns a copy of the symbol's state.
func (w *Watchlist) Get(symbol string) (domain.SymbolState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	state, ok := w.states[symbol]
	if !ok {
		return domain.SymbolState{}, false
	}
	return copyState(state), true
}

// States returns copies of every symbol state, sorted by symbol.
func (w *Watchlist) States() []domain.SymbolState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]domain.SymbolState, 0, len(w.states))
	for _, state := range w.states {
		out = append(out, copyState(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SaveSnapshot persists the sentiment fields of every state so a
// restart does not begin from a blank watchlist. The rolling market
// caches are deliberately not persisted; they go stale in minutes.
func (w *Watchlist) SaveSnapshot(path string) error {
	states := w.States()

	data, err := msgpack.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to encode watchlist snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write watchlist snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize watchlist snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot merges a persisted snapshot into the watchlist. Symbols
// beyond the size cap are dropped. A missing file is not an error.
func (w *Watchlist) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read watchlist snapshot: %w", err)
	}

	var states []domain.SymbolState
	if err := msgpack.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("failed to decode watchlist snapshot: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range states {
		if existing, ok := w.states[s.Symbol]; ok {
			existing.Sentiment = s.Sentiment
			existing.Mentions = s.Mentions
			existing.LastUpdate = s.LastUpdate
			continue
		}
		if len(w.states) >= w.max {
			continue
		}
		w.states[s.Symbol] = &domain.SymbolState{
			Symbol:     s.Symbol,
			Sentiment:  s.Sentiment,
			Mentions:   s.Mentions,
			LastUpdate: s.LastUpdate,
		}
	}
	return nil
}

func copyState(state *domain.SymbolState) domain.SymbolState {
	out := *state
	if state.LastBar != nil {
		bar := *state.LastBar
		out.LastBar = &bar
	}
	out.Closes = append([]float64(nil), state.Closes...)
	out.Trades = append([]domain.RecentTrade(nil), state.Trades...)
	return out
}
