package alpaca

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchDecodesBarQuoteTrade(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())

	s.dispatch([]byte(`[
		{"T":"b","S":"AAPL","o":100,"h":106.5,"l":99.5,"c":106,"v":2000000,"t":"2024-01-02T15:04:00Z"},
		{"T":"q","S":"AAPL","bp":105.9,"ap":106.1,"bs":2,"as":3,"t":"2024-01-02T15:04:01Z"},
		{"T":"t","S":"AAPL","p":106.05,"s":100,"t":"2024-01-02T15:04:02Z"},
		{"T":"subscription","msg":"control frames are skipped"}
	]`))

	require.Len(t, s.events, 3)

	bar := <-s.events
	require.NotNil(t, bar.Bar)
	assert.Equal(t, "AAPL", bar.Bar.Symbol)
	assert.InDelta(t, 106.0, bar.Bar.Close, 1e-9)
	assert.Equal(t, int64(2000000), bar.Bar.Volume)

	quote := <-s.events
	require.NotNil(t, quote.Quote)
	assert.InDelta(t, 106.1, quote.Quote.AskPrice, 1e-9)

	tick := <-s.events
	require.NotNil(t, tick.Trade)
	assert.Equal(t, int64(100), tick.Trade.Size)
}

func TestDispatchSkipsMalformedPayload(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	s.dispatch([]byte(`{"not":"an array"}`))
	s.dispatch([]byte(`garbage`))
	assert.Empty(t, s.events)
}

func TestDispatchDropsWhenBufferFull(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	payload := []byte(`[{"T":"t","S":"SPY","p":500,"s":1,"t":"2024-01-02T15:04:02Z"}]`)
	for i := 0; i < eventBufferSize+10; i++ {
		s.dispatch(payload)
	}
	// The read loop never blocks; overflow is dropped.
	assert.Len(t, s.events, eventBufferSize)
}

func TestSubscribeNoNewSymbolsIsNoOp(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	s.subscribed["SPY"] = struct{}{}

	// No connection exists; if Subscribe tried to dial or write this would
	// fail. The no-op path must return before touching the network.
	err := s.Subscribe(context.Background(), []string{"SPY"})
	assert.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, open := <-s.events
	assert.False(t, open)
}

func TestDispatchAfterCloseDoesNotPanic(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	require.NoError(t, s.Close())

	// A read loop can still hold a message decoded just before Close.
	// Delivering it must be a silent drop, never a send on a closed
	// channel.
	assert.NotPanics(t, func() {
		s.dispatch([]byte(`[{"T":"b","S":"SPY","o":500,"h":501,"l":499,"c":500.5,"v":2000000,"t":"2024-01-02T15:04:00Z"}]`))
	})
}

func TestSubscribeRefusedAfterClose(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	require.NoError(t, s.Close())

	err := s.Subscribe(context.Background(), []string{"SPY"})
	require.Error(t, err)
	assert.Empty(t, s.subscribed)
}

func TestReadLoopOwnsEventChannelAfterConnect(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	s.mu.Lock()
	s.reading = true
	s.mu.Unlock()

	// With a read loop active, Close must leave events open for the
	// loop to drain; the loop closes it on its own stop path.
	require.NoError(t, s.Close())
	select {
	case <-s.events:
		t.Fatal("events closed while a read loop still owned it")
	default:
	}

	s.closeEvents()
	_, open := <-s.events
	assert.False(t, open)
}
