package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/arlov/crypto_trade_bot/internal/usecase"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes read-only operational endpoints plus a small control surface
// that feeds the same command channel the chat commands use.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	bot       *usecase.Bot
	tradeRepo domain.TradeRepository
	commands  chan<- domain.Command
	logger    *zap.Logger
}

func NewServer(
	port int,
	bot *usecase.Bot,
	tradeRepo domain.TradeRepository,
	commands chan<- domain.Command,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		bot:       bot,
		tradeRepo: tradeRepo,
		commands:  commands,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Trades
	s.router.HandleFunc("GET /trades", s.handleTrades)
	s.router.HandleFunc("GET /positions/history", s.handlePositionHistory)

	// Control
	s.router.HandleFunc("POST /pause", s.handleCommand(domain.CommandPause))
	s.router.HandleFunc("POST /resume", s.handleCommand(domain.CommandResume))

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("web server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bot.Status())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		http.Error(w, "trade journal disabled", http.StatusNotFound)
		return
	}
	trades, err := s.tradeRepo.ListTrades(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.logger.Error("failed to list trades", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		http.Error(w, "trade journal disabled", http.StatusNotFound)
		return
	}
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.logger.Error("failed to list position history", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, history)
}

func (s *Server) handleCommand(kind domain.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := domain.Command{Kind: kind, Reply: make(chan string, 1)}
		select {
		case s.commands <- cmd:
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
			return
		}
		select {
		case reply := <-cmd.Reply:
			s.writeJSON(w, map[string]string{"result": reply})
		case <-time.After(10 * time.Second):
			http.Error(w, "command accepted, no reply", http.StatusGatewayTimeout)
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
