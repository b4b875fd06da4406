// Package server exposes the dashboard HTTP API. Read-only: every
// trading decision stays inside the bot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/bot"
	"github.com/akaravas/hypetrader/internal/domain"
	"github.com/akaravas/hypetrader/internal/journal"
	"github.com/akaravas/hypetrader/internal/perf"
)

// BotInfo is the lifecycle view of the running bot.
type BotInfo interface {
	State() bot.State
	StartedAt() time.Time
}

// PositionSource is the read-only position table view.
type PositionSource interface {
	Snapshot() []domain.Position
	Count() int
	PortfolioValue() float64
	PortfolioPnL() float64
}

// WatchlistSource is the read-only symbol state view.
type WatchlistSource interface {
	States() []domain.SymbolState
	Symbols() []string
	Len() int
}

// HistorySource serves the journal's trades and events.
type HistorySource interface {
	TradeHistory(limit int) ([]journal.Record, error)
	RecentEvents(limit int) ([]journal.Event, error)
}

// ErrorSource serves the recent error ring.
type ErrorSource interface {
	Recent(limit int) []journal.ErrorEntry
}

// PerfSource serves performance statistics.
type PerfSource interface {
	Summarize() (perf.Summary, error)
}

// Deps are the read-only views the dashboard renders.
type Deps struct {
	Bot       BotInfo
	Positions PositionSource
	Watchlist WatchlistSource
	History   HistorySource
	Errors    ErrorSource
	Perf      PerfSource
}

// Server is the dashboard HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	deps   Deps
}

// New creates the server listening on port.
func New(port int, deps Deps, devMode bool, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    log.With().Str("component", "server").Logger(),
		deps:   deps,
	}

	s.setupMiddleware(devMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/watchlist", s.handleWatchlist)
		r.Get("/trades", s.handleTrades)
		r.Get("/events", s.handleEvents)
		r.Get("/errors", s.handleErrors)
		r.Get("/performance", s.handlePerformance)
		r.Get("/system", s.handleSystem)
	})
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
