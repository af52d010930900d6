package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/ledgerwallet/service/config"
	"github.com/brojonat/ledgerwallet/service/metrics"
	"github.com/brojonat/ledgerwallet/service/wallet"
)

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr         string
	cfg          *config.Config
	wallet       *wallet.Service
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server. ssePublisher and m are optional; without
// them the streaming and /metrics endpoints are not mounted.
func New(addr string, cfg *config.Config, svc *wallet.Service, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		wallet:       svc,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	pages := pageLimits{defaultSize: s.cfg.DefaultPageSize, maxSize: s.cfg.MaxPageSize}

	route("GET /api/v1/tokens", "/api/v1/tokens", handleListTokens(s.wallet, s.logger))
	route("POST /api/v1/validate/address", "/api/v1/validate/address", handleValidateAddress(s.wallet, s.logger))
	route("POST /api/v1/validate/amount", "/api/v1/validate/amount", handleValidateAmount(s.wallet, s.logger))
	route("GET /api/v1/max-available", "/api/v1/max-available", handleMaxAvailable(s.wallet, s.logger))
	route("POST /api/v1/transfers", "/api/v1/transfers", handleSubmitTransfer(s.wallet, s.logger))
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.wallet, pages, s.logger))
	route("GET /api/v1/transactions/recent", "/api/v1/transactions/recent", handleRecentTransactions(s.wallet, pages, s.logger))
	route("GET /api/v1/transactions/stats", "/api/v1/transactions/stats", handleTransactionStats(s.wallet, s.logger))
	route("GET /api/v1/transactions/{id}", "/api/v1/transactions/{id}", handleGetTransaction(s.wallet, s.logger))
	route("POST /api/v1/transactions/{id}/settle", "/api/v1/transactions/{id}/settle", handleSettleTransaction(s.wallet, s.logger))
	route("POST /api/v1/sync", "/api/v1/sync", handleSync(s.wallet, s.logger))

	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/transactions/{token}", handleStreamTransactions(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transactions", handleStreamTransactions(s.ssePublisher, s.metrics, s.logger))
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// streaming responses must outlive a fixed write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
