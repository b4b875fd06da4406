package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/domain"
)

// Record is one persisted trade row.
type Record struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Reason     string    `json:"reason"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Event is one persisted lifecycle event (exit triggered, watchlist
// grown, shutdown, and so on).
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Symbol    string    `json:"symbol"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records executed trades and bot events. Writes are
// best-effort from the caller's point of view but errors are always
// returned so the orchestrator can log them.
type Journal struct {
	db  *DB
	log zerolog.Logger
}

// New creates a journal backed by db.
func New(db *DB, log zerolog.Logger) *Journal {
	return &Journal{
		db:  db,
		log: log.With().Str("component", "journal").Logger(),
	}
}

// RecordTrade persists an executed trade intent with the reason it was
// placed ("momentum", "profit_target", "stop_loss").
func (j *Journal) RecordTrade(trade domain.Trade, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	executedAt := trade.Timestamp
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO trades
		(order_id, symbol, side, quantity, price, reason, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.conn.Exec(query,
		trade.OrderID,
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		string(trade.Side),
		trade.Quantity,
		trade.Price,
		reason,
		executedAt.Format(time.RFC3339),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}

	j.log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Int64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Str("reason", reason).
		Msg("Trade recorded")

	return nil
}

// TradeHistory returns the most recent trades, newest first.
func (j *Journal) TradeHistory(limit int) ([]Record, error) {
	query := `
		SELECT id, order_id, symbol, side, quantity, price, reason, executed_at
		FROM trades
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := j.db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return records, nil
}

// TradesForSymbol returns all recorded trades for one symbol, oldest
// first, as needed for pairing entries with exits.
func (j *Journal) TradesForSymbol(symbol string) ([]Record, error) {
	query := `
		SELECT id, order_id, symbol, side, quantity, price, reason, executed_at
		FROM trades
		WHERE symbol = ?
		ORDER BY executed_at ASC, id ASC
	`
	rows, err := j.db.conn.Query(query, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return records, nil
}

// AllTrades returns every recorded trade, oldest first.
func (j *Journal) AllTrades() ([]Record, error) {
	query := `
		SELECT id, order_id, symbol, side, quantity, price, reason, executed_at
		FROM trades
		ORDER BY executed_at ASC, id ASC
	`
	rows, err := j.db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return records, nil
}

// RecordEvent persists a lifecycle event.
func (j *Journal) RecordEvent(kind, symbol, detail string) error {
	query := `INSERT INTO events (kind, symbol, detail, created_at) VALUES (?, ?, ?, ?)`
	_, err := j.db.conn.Exec(query, kind, symbol, detail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events, newest first.
func (j *Journal) RecentEvents(limit int) ([]Event, error) {
	query := `
		SELECT id, kind, symbol, detail, created_at
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := j.db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var symbol, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Kind, &symbol, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Symbol = symbol.String
		ev.Detail = detail.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var orderID, reason sql.NullString
	var executedAt string
	if err := row.Scan(&rec.ID, &orderID, &rec.Symbol, &rec.Side, &rec.Quantity, &rec.Price, &reason, &executedAt); err != nil {
		return Record{}, err
	}
	rec.OrderID = orderID.String
	rec.Reason = reason.String
	rec.ExecutedAt, _ = time.Parse(time.RFC3339, executedAt)
	return rec, nil
}
