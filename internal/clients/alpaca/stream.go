package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/akaravas/hypetrader/internal/domain"
)

const (
	dialTimeout       = 30 * time.Second
	writeTimeout      = 10 * time.Second
	baseReconnectWait = 5 * time.Second
	maxReconnectWait  = 5 * time.Minute
	eventBufferSize   = 256
)

// StreamConfig holds market-data stream settings.
type StreamConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// Stream is the market-data websocket client. Incoming bar/quote/trade
// messages are decoded and pushed onto a buffered channel that the
// orchestrator's dispatch loop drains; when the buffer is full the oldest
// behavior is to drop the event rather than block the read loop.
type Stream struct {
	cfg StreamConfig
	log zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	connected  bool

	// reading is set once the first read loop starts. From then on the
	// read/reconnect side owns closing events; Close only closes it when
	// no loop ever ran.
	reading bool

	events     chan domain.StreamEvent
	eventsOnce sync.Once
	stop       chan struct{}
	once       sync.Once
}

var _ domain.MarketStream = (*Stream)(nil)

// NewStream creates a market-data stream client. No connection is opened
// until the first Subscribe call.
func NewStream(cfg StreamConfig, log zerolog.Logger) *Stream {
	return &Stream{
		cfg:        cfg,
		log:        log.With().Str("client", "alpaca_stream").Logger(),
		subscribed: make(map[string]struct{}),
		events:     make(chan domain.StreamEvent, eventBufferSize),
		stop:       make(chan struct{}),
	}
}

// Events returns the channel the dispatch loop drains.
func (s *Stream) Events() <-chan domain.StreamEvent {
	return s.events
}

// streamMessage is one element of the JSON arrays the feed sends.
type streamMessage struct {
	Type      string  `json:"T"`
	Msg       string  `json:"msg"`
	Symbol    string  `json:"S"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
	BidPrice  float64 `json:"bp"`
	AskPrice  float64 `json:"ap"`
	BidSize   int64   `json:"bs"`
	AskSize   int64   `json:"as"`
	Price     float64 `json:"p"`
	Size      int64   `json:"s"`
	Timestamp string  `json:"t"`
}

type streamAction struct {
	Action string   `json:"action"`
	Key    string   `json:"key,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Bars   []string `json:"bars,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
	Trades []string `json:"trades,omitempty"`
}

// Subscribe adds symbols to the active subscription. Symbols already
// subscribed are skipped; when nothing new remains this is a no-op.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stop:
		return domain.Errorf(domain.KindAPI, "stream.subscribe", "stream is closed")
	default:
	}

	var added []string
	for _, sym := range symbols {
		if _, ok := s.subscribed[sym]; !ok {
			added = append(added, sym)
		}
	}
	if len(added) == 0 {
		return nil
	}

	if !s.connected {
		if err := s.connectLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.writeLocked(ctx, streamAction{
		Action: "subscribe",
		Bars:   added,
		Quotes: added,
		Trades: added,
	}); err != nil {
		return domain.E(domain.KindAPI, "stream.subscribe", err)
	}

	for _, sym := range added {
		s.subscribed[sym] = struct{}{}
	}
	s.log.Info().Strs("symbols", added).Int("total", len(s.subscribed)).Msg("Subscribed to market data")
	return nil
}

// connectLocked dials, authenticates and starts the read loop. Caller holds mu.
func (s *Stream) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return domain.E(domain.KindAPI, "stream.connect", err)
	}
	conn.SetReadLimit(1 << 20)

	if err := s.authenticate(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return err
	}

	s.conn = conn
	s.connected = true
	s.reading = true
	go s.readLoop(conn)

	s.log.Info().Str("url", s.cfg.URL).Msg("Market data stream connected")
	return nil
}

func (s *Stream) authenticate(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(streamAction{Action: "auth", Key: s.cfg.APIKey, Secret: s.cfg.APISecret})
	if err != nil {
		return fmt.Errorf("failed to encode auth message: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return domain.E(domain.KindAPI, "stream.auth", err)
	}

	// The feed acknowledges with a control frame; "error" here means the
	// credentials were rejected.
	readCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			return domain.E(domain.KindAPI, "stream.auth", err)
		}
		var msgs []streamMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			continue
		}
		for _, m := range msgs {
			switch m.Type {
			case "error":
				return domain.Errorf(domain.KindAuth, "stream.auth", "stream rejected credentials: %s", m.Msg)
			case "success":
				if m.Msg == "authenticated" {
					return nil
				}
			}
		}
	}
}

func (s *Stream) writeLocked(ctx context.Context, action streamAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, payload)
}

// readLoop drains the connection until it fails or the stream is closed,
// then hands off to the reconnect loop.
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.stop:
				s.closeEvents()
				return
			default:
			}
			s.log.Warn().Err(err).Msg("Stream read failed, reconnecting")
			s.reconnect()
			return
		}
		s.dispatch(data)
	}
}

func (s *Stream) dispatch(data []byte) {
	var msgs []streamMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.log.Warn().Err(err).Msg("Malformed stream message, skipping")
		return
	}

	for _, m := range msgs {
		var event domain.StreamEvent
		ts, _ := time.Parse(time.RFC3339, m.Timestamp)
		switch m.Type {
		case "b":
			event.Bar = &domain.Bar{
				Symbol: m.Symbol, Open: m.Open, High: m.High,
				Low: m.Low, Close: m.Close, Volume: m.Volume, Timestamp: ts,
			}
		case "q":
			event.Quote = &domain.Quote{
				Symbol: m.Symbol, BidPrice: m.BidPrice, AskPrice: m.AskPrice,
				BidSize: m.BidSize, AskSize: m.AskSize, Timestamp: ts,
			}
		case "t":
			event.Trade = &domain.TradeTick{
				Symbol: m.Symbol, Price: m.Price, Size: m.Size, Timestamp: ts,
			}
		default:
			continue
		}

		select {
		case <-s.stop:
			return
		default:
		}
		select {
		case s.events <- event:
		default:
			s.log.Warn().Str("symbol", m.Symbol).Msg("Event buffer full, dropping stream event")
		}
	}
}

// reconnect re-dials with exponential backoff and restores the previous
// subscription set. Gives up only when the stream is closed.
func (s *Stream) reconnect() {
	s.mu.Lock()
	s.connected = false
	s.conn = nil
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	// Force a fresh subscribe message after the new dial.
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		wait := time.Duration(math.Min(
			float64(baseReconnectWait)*math.Pow(2, float64(attempt)),
			float64(maxReconnectWait),
		))
		select {
		case <-s.stop:
			s.closeEvents()
			return
		case <-time.After(wait):
		}

		if err := s.Subscribe(context.Background(), symbols); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Stream reconnect failed")
			continue
		}
		s.log.Info().Int("symbols", len(symbols)).Msg("Stream reconnected")
		return
	}
}

// Close tears down the connection. The event channel closes once the
// read loop has drained: closing it here while a read loop is mid
// dispatch would panic the sender.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close(websocket.StatusNormalClosure, "shutting down")
			s.conn = nil
		}
		s.connected = false
		reading := s.reading
		s.mu.Unlock()

		// Never connected, so no read loop will ever close events.
		if !reading {
			s.closeEvents()
		}
	})
	return nil
}

func (s *Stream) closeEvents() {
	s.eventsOnce.Do(func() { close(s.events) })
}
