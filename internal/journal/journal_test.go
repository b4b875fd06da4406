package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akaravas/hypetrader/internal/domain"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, zerolog.Nop())
}

func TestRecordTradeAndHistory(t *testing.T) {
	j := newTestJournal(t)

	base := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	trades := []struct {
		trade  domain.Trade
		reason string
	}{
		{domain.Trade{Symbol: "aapl", Side: domain.SideBuy, Quantity: 2, Price: 150, OrderID: "o1", Timestamp: base}, "momentum"},
		{domain.Trade{Symbol: "TSLA", Side: domain.SideBuy, Quantity: 1, Price: 200, OrderID: "o2", Timestamp: base.Add(time.Minute)}, "momentum"},
		{domain.Trade{Symbol: "AAPL", Side: domain.SideSell, Quantity: 2, Price: 159, OrderID: "o3", Timestamp: base.Add(2 * time.Minute)}, "profit_target"},
	}
	for _, tt := range trades {
		require.NoError(t, j.RecordTrade(tt.trade, tt.reason))
	}

	history, err := j.TradeHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Newest first, symbols normalized to upper case.
	assert.Equal(t, "o3", history[0].OrderID)
	assert.Equal(t, "AAPL", history[0].Symbol)
	assert.Equal(t, "profit_target", history[0].Reason)
	assert.Equal(t, "o1", history[2].OrderID)
	assert.Equal(t, "AAPL", history[2].Symbol)

	limited, err := j.TradeHistory(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "o3", limited[0].OrderID)
}

func TestTradesForSymbol(t *testing.T) {
	j := newTestJournal(t)

	base := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(domain.Trade{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 2, Price: 150, Timestamp: base}, "momentum"))
	require.NoError(t, j.RecordTrade(domain.Trade{Symbol: "TSLA", Side: domain.SideBuy, Quantity: 1, Price: 200, Timestamp: base}, "momentum"))
	require.NoError(t, j.RecordTrade(domain.Trade{Symbol: "AAPL", Side: domain.SideSell, Quantity: 2, Price: 147, Timestamp: base.Add(time.Hour)}, "stop_loss"))

	records, err := j.TradesForSymbol("aapl")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Oldest first for entry/exit pairing.
	assert.Equal(t, "buy", records[0].Side)
	assert.Equal(t, "sell", records[1].Side)
	assert.Equal(t, 150.0, records[0].Price)
}

func TestRecordTradeZeroTimestampDefaults(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.RecordTrade(domain.Trade{Symbol: "NVDA", Side: domain.SideBuy, Quantity: 1, Price: 500}, "momentum"))

	history, err := j.TradeHistory(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.WithinDuration(t, time.Now().UTC(), history[0].ExecutedAt, time.Minute)
}

func TestEvents(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.RecordEvent("watchlist_grown", "GME", "admitted with 12 mentions"))
	require.NoError(t, j.RecordEvent("exit", "AAPL", "profit_target"))

	events, err := j.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "exit", events[0].Kind)
	assert.Equal(t, "AAPL", events[0].Symbol)
	assert.Equal(t, "watchlist_grown", events[1].Kind)
}

func TestErrorLogRing(t *testing.T) {
	el := NewErrorLog("")

	for i := 0; i < maxErrorEntries+20; i++ {
		el.Record("reddit.scrape", domain.E(domain.KindData, "reddit.scrape", errors.New("bad payload")))
	}
	assert.Equal(t, maxErrorEntries, el.Len())

	recent := el.Recent(5)
	require.Len(t, recent, 5)
	assert.Equal(t, "data", recent[0].Kind)
	assert.False(t, recent[0].Fatal)
}

func TestErrorLogPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")

	el := NewErrorLog(path)
	el.Record("broker.get_account", domain.E(domain.KindAuth, "broker.get_account", errors.New("401 unauthorized")))
	el.Record("reddit.scrape", errors.New("plain failure"))

	reloaded := NewErrorLog(path)
	require.Equal(t, 2, reloaded.Len())

	recent := reloaded.Recent(2)
	assert.Equal(t, "reddit.scrape", recent[0].Op)
	// Unclassified errors land in the recoverable API bucket.
	assert.Equal(t, "api", recent[0].Kind)
	assert.False(t, recent[0].Fatal)
	assert.Equal(t, "auth", recent[1].Kind)
	assert.True(t, recent[1].Fatal)
}

func TestErrorLogIgnoresNil(t *testing.T) {
	el := NewErrorLog("")
	el.Record("noop", nil)
	assert.Equal(t, 0, el.Len())
}
