package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
)

// EventSource serves journaled events
type EventSource interface {
	LoadEvents(after uint64, pairID pair.ID, limit int) ([]events.Envelope, error)
}

type Options struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics; defaults to the global Prometheus registry
	Gatherer prometheus.Gatherer
	Events   EventSource
	Logger   *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	events  EventSource
	origins []string
	log     *zap.SugaredLogger
}

func NewServer(app *dex.App, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		metrics: opts.Metrics,
		events:  opts.Events,
		origins: origins,
		log:     log,
	}
	s.setupRoutes(gatherer)
	return s
}

// Hub is the event sink that feeds WebSocket subscribers
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/lookup", s.handleLookupPair).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/reserves", s.handleGetReserves).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/quote", s.handleQuote).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/share/{address}", s.handleGetShare).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/orders/{orderId:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Token endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/allowances/{owner}/{spender}", s.handleGetAllowance).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Signed requests
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ==============================
// Middleware
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, rec.status)
		}
		s.log.Debugw("http_request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{Error: error, Message: message})
}

// respondErr maps an application error to its HTTP status
func respondErr(w http.ResponseWriter, err error) {
	status, class := statusFor(err)
	respondStatus(w, status, ErrorResponse{Error: err.Error(), Class: class})
}
