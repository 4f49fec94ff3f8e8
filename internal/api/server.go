// Package api implements the HTTP query and submission surface of the
// indexer.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/utxoledger/indexd/internal/chain"
	klog "github.com/utxoledger/indexd/internal/log"
	"github.com/utxoledger/indexd/internal/metrics"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is the HTTP API server.
type Server struct {
	addr   string
	chain  *chain.Chain
	hub    *wsHub
	server *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// New creates an API server over the given chain. Accepted blocks are
// broadcast to WebSocket subscribers.
func New(addr string, ch *chain.Chain) *Server {
	s := &Server{
		addr:   addr,
		chain:  ch,
		hub:    newWSHub(),
		logger: klog.WithComponent("api"),
	}
	ch.SetBlockHandler(s.hub.Broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.instrument("/", s.handleWelcome))
	mux.HandleFunc("POST /blocks", s.instrument("/blocks", s.handleSubmitBlock))
	mux.HandleFunc("GET /blocks", s.instrument("/blocks", s.handleListBlocks))
	mux.HandleFunc("GET /blocks/{height}", s.instrument("/blocks/{height}", s.handleGetBlock))
	mux.HandleFunc("GET /balance/{address}", s.instrument("/balance/{address}", s.handleBalance))
	mux.HandleFunc("GET /utxos/{address}", s.instrument("/utxos/{address}", s.handleUTXOs))
	mux.HandleFunc("GET /tx/{id}", s.instrument("/tx/{id}", s.handleGetTransaction))
	mux.HandleFunc("POST /rollback", s.instrument("/rollback", s.handleRollback))
	mux.HandleFunc("POST /reset", s.instrument("/reset", s.handleReset))
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop closes all WebSocket sessions and gracefully shuts down the server.
func (s *Server) Stop() error {
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with a request counter labeled by route and
// response status.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}
