// Package perf computes trading performance statistics from the
// journal's trade records.
package perf

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/akaravas/hypetrader/internal/journal"
)

// RoundTrip is one completed entry/exit pair.
type RoundTrip struct {
	Symbol     string  `json:"symbol"`
	Quantity   int64   `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	Return     float64 `json:"return"` // fractional, exit/entry - 1
	ExitReason string  `json:"exit_reason"`
}

// Summary aggregates performance over all completed round trips.
type Summary struct {
	RoundTrips   int     `json:"round_trips"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	MeanReturn   float64 `json:"mean_return"`
	StdDevReturn float64 `json:"stddev_return"`
	BestReturn   float64 `json:"best_return"`
	WorstReturn  float64 `json:"worst_return"`
}

// Tracker derives round trips and summary statistics from recorded
// trades. It holds no state of its own; every call recomputes from the
// journal, which is cheap at the trade volumes a single account sees.
type Tracker struct {
	journal *journal.Journal
}

// NewTracker creates a performance tracker reading from j.
func NewTracker(j *journal.Journal) *Tracker {
	return &Tracker{journal: j}
}

// RoundTrips pairs each sell with the preceding buys of the same
// symbol, FIFO by execution time, and returns the completed pairs.
// Open positions (buys without a matching sell) are excluded.
func (t *Tracker) RoundTrips() ([]RoundTrip, error) {
	records, err := t.journal.AllTrades()
	if err != nil {
		return nil, err
	}
	return pairTrades(records), nil
}

// Summarize computes the overall summary. With no completed round
// trips every field is zero.
func (t *Tracker) Summarize() (Summary, error) {
	trips, err := t.RoundTrips()
	if err != nil {
		return Summary{}, err
	}
	return summarize(trips), nil
}

type openLot struct {
	quantity int64
	price    float64
}

func pairTrades(records []journal.Record) []RoundTrip {
	// Group per symbol, preserving execution order within each.
	bySymbol := make(map[string][]journal.Record)
	var symbols []string
	for _, rec := range records {
		if _, seen := bySymbol[rec.Symbol]; !seen {
			symbols = append(symbols, rec.Symbol)
		}
		bySymbol[rec.Symbol] = append(bySymbol[rec.Symbol], rec)
	}
	sort.Strings(symbols)

	var trips []RoundTrip
	for _, symbol := range symbols {
		var lots []openLot
		for _, rec := range bySymbol[symbol] {
			switch rec.Side {
			case "buy":
				lots = append(lots, openLot{quantity: rec.Quantity, price: rec.Price})
			case "sell":
				remaining := rec.Quantity
				for remaining > 0 && len(lots) > 0 {
					lot := &lots[0]
					matched := min64(remaining, lot.quantity)

					if lot.price > 0 {
						trips = append(trips, RoundTrip{
							Symbol:     symbol,
							Quantity:   matched,
							EntryPrice: lot.price,
							ExitPrice:  rec.Price,
							PnL:        float64(matched) * (rec.Price - lot.price),
							Return:     rec.Price/lot.price - 1,
							ExitReason: rec.Reason,
						})
					}

					lot.quantity -= matched
					remaining -= matched
					if lot.quantity == 0 {
						lots = lots[1:]
					}
				}
			}
		}
	}
	return trips
}

func summarize(trips []RoundTrip) Summary {
	if len(trips) == 0 {
		return Summary{}
	}

	s := Summary{
		RoundTrips:  len(trips),
		BestReturn:  math.Inf(-1),
		WorstReturn: math.Inf(1),
	}

	returns := make([]float64, 0, len(trips))
	for _, trip := range trips {
		s.TotalPnL += trip.PnL
		returns = append(returns, trip.Return)
		if trip.PnL > 0 {
			s.Wins++
		} else if trip.PnL < 0 {
			s.Losses++
		}
		if trip.Return > s.BestReturn {
			s.BestReturn = trip.Return
		}
		if trip.Return < s.WorstReturn {
			s.WorstReturn = trip.Return
		}
	}

	s.WinRate = float64(s.Wins) / float64(len(trips))
	s.MeanReturn = stat.Mean(returns, nil)
	if len(returns) > 1 {
		s.StdDevReturn = stat.StdDev(returns, nil)
	}
	return s
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
