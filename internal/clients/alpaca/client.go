// Package alpaca provides the broker gateway client: an Alpaca-style
// trading REST API plus the market-data websocket stream.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/domain"
)

const requestTimeout = 30 * time.Second

// Config holds broker API settings.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Client talks to the broker's trading REST API. It implements
// domain.BrokerClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.BrokerClient = (*Client)(nil)

// NewClient creates a broker API client. Credentials are not validated here;
// the first authenticated call surfaces a KindAuth error if they are bad.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("client", "alpaca").Logger(),
	}
}

// apiError is a non-2xx response from the broker.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker returned status %d: %s", e.Status, e.Body)
}

// classify maps a transport-level failure to an error kind. Authentication
// rejections are fatal; everything else at this layer is a transient API
// fault, and call sites decide whether repeated faults escalate.
func classify(err error) domain.ErrorKind {
	var ae *apiError
	if errors.As(err, &ae) {
		if ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden {
			return domain.KindAuth
		}
	}
	return domain.KindAPI
}

// do issues one authenticated request and decodes the response into out
// (when out is non-nil). A nil error with a 404 status is reported through
// the returned status code so callers can treat "no position" as data.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GetAccount returns a fresh account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	var acct apiAccount
	if _, err := c.do(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, domain.E(classify(err), "broker.get_account", err)
	}
	return transformAccount(acct), nil
}

// GetPositions returns the full authoritative position list.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var raw []apiPosition
	if _, err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &raw); err != nil {
		return nil, domain.E(classify(err), "broker.get_positions", err)
	}
	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, transformPosition(p))
	}
	return positions, nil
}

// GetPosition returns the position for symbol, or nil when none is held.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var raw apiPosition
	status, err := c.do(ctx, http.MethodGet, "/v2/positions/"+symbol, nil, &raw)
	if err != nil {
		return nil, domain.E(classify(err), "broker.get_position", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	pos := transformPosition(raw)
	return &pos, nil
}

func (c *Client) submitOrder(ctx context.Context, req orderRequest) (string, error) {
	var order apiOrder
	if _, err := c.do(ctx, http.MethodPost, "/v2/orders", req, &order); err != nil {
		kind := classify(err)
		if kind == domain.KindAPI {
			// A rejected or failed submission is a trading error: the
			// caller has already committed to this trade.
			kind = domain.KindTrading
		}
		return "", domain.E(kind, "broker.place_order", err)
	}
	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("qty", req.Qty).
		Str("order_id", order.ID).
		Msg("Order placed")
	return order.ID, nil
}

// PlaceMarketOrder submits a day market order and returns the order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, trade domain.Trade) (string, error) {
	return c.submitOrder(ctx, orderRequest{
		Symbol:        trade.Symbol,
		Qty:           strconv.FormatInt(trade.Quantity, 10),
		Side:          string(trade.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: uuid.NewString(),
	})
}

// PlaceLimitOrder submits a day limit order at limitPrice.
func (c *Client) PlaceLimitOrder(ctx context.Context, trade domain.Trade, limitPrice float64) (string, error) {
	return c.submitOrder(ctx, orderRequest{
		Symbol:        trade.Symbol,
		Qty:           strconv.FormatInt(trade.Quantity, 10),
		Side:          string(trade.Side),
		Type:          "limit",
		TimeInForce:   "day",
		LimitPrice:    strconv.FormatFloat(limitPrice, 'f', 2, 64),
		ClientOrderID: uuid.NewString(),
	})
}

// ClosePosition liquidates one symbol. A 404 means the position is already
// gone and is treated as success.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	status, err := c.do(ctx, http.MethodDelete, "/v2/positions/"+symbol, nil, nil)
	if err != nil {
		kind := classify(err)
		if kind == domain.KindAPI {
			kind = domain.KindTrading
		}
		return domain.E(kind, "broker.close_position", err)
	}
	if status == http.StatusNotFound {
		c.log.Warn().Str("symbol", symbol).Msg("Close requested for a position the broker no longer holds")
		return nil
	}
	c.log.Info().Str("symbol", symbol).Msg("Position closed")
	return nil
}

// CloseAllPositions liquidates everything the broker holds. Callers must
// fall back to per-symbol closes when this fails.
func (c *Client) CloseAllPositions(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodDelete, "/v2/positions", nil, nil); err != nil {
		kind := classify(err)
		if kind == domain.KindAPI {
			kind = domain.KindTrading
		}
		return domain.E(kind, "broker.close_all_positions", err)
	}
	c.log.Info().Msg("All positions closed")
	return nil
}
