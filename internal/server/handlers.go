package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/akaravas/hypetrader/internal/journal"
	"github.com/akaravas/hypetrader/internal/technical"
)

const defaultListLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":           s.deps.Bot.State().String(),
		"uptime_seconds":  int64(time.Since(s.deps.Bot.StartedAt()).Seconds()),
		"watchlist_size":  s.deps.Watchlist.Len(),
		"open_positions":  s.deps.Positions.Count(),
		"portfolio_value": s.deps.Positions.PortfolioValue(),
		"unrealized_pnl":  s.deps.Positions.PortfolioPnL(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.deps.Positions.Snapshot()

	type positionView struct {
		Symbol        string  `json:"symbol"`
		Quantity      int64   `json:"quantity"`
		AvgEntryPrice float64 `json:"avg_entry_price"`
		CurrentPrice  float64 `json:"current_price"`
		MarketValue   float64 `json:"market_value"`
		UnrealizedPnL float64 `json:"unrealized_pnl"`
		ProfitPct     float64 `json:"profit_pct"`
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPnL: p.UnrealizedPnL,
			ProfitPct:     p.ProfitFraction() * 100,
		})
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	states := s.deps.Watchlist.States()

	type symbolView struct {
		Symbol     string             `json:"symbol"`
		Sentiment  float64            `json:"sentiment"`
		Mentions   int                `json:"mentions"`
		LastUpdate time.Time          `json:"last_update"`
		SpreadPct  float64            `json:"spread_pct"`
		Indicators technical.Snapshot `json:"indicators"`
	}

	views := make([]symbolView, 0, len(states))
	for _, st := range states {
		views = append(views, symbolView{
			Symbol:     st.Symbol,
			Sentiment:  st.Sentiment,
			Mentions:   st.Mentions,
			LastUpdate: st.LastUpdate,
			SpreadPct:  st.SpreadPct,
			Indicators: technical.Compute(st.Symbol, st.Closes),
		})
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.deps.History.TradeHistory(listLimit(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if trades == nil {
		trades = []journal.Record{}
	}
	s.respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.History.RecentEvents(listLimit(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	s.respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Errors.Recent(listLimit(r)))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Perf.Summarize()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := s.systemStats()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent": cpuPct,
		"ram_percent": ramPct,
		"goroutines":  runtime.NumGoroutine(),
	})
}

// systemStats samples CPU over a short window so the endpoint stays
// responsive for pollers.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("Handler failed")
	s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
