// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/data"
	"github.com/atlas-desktop/strategy-engine/internal/execution"
	"github.com/atlas-desktop/strategy-engine/internal/metrics"
	"github.com/atlas-desktop/strategy-engine/internal/optimizer"
	"github.com/atlas-desktop/strategy-engine/internal/session"
	"github.com/atlas-desktop/strategy-engine/internal/simulator"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	dataStore *data.Store
	sim       *simulator.Simulator
	optim     *optimizer.Coordinator
	orders    *execution.Coordinator
	metrics   *metrics.Metrics
	session   *session.Session

	backtests     map[string]*BacktestState
	optimizations map[string]*OptimizationState
}

// Client represents a WebSocket client. Subs is written from the read
// pump and read from broadcast goroutines, so it has its own lock.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	subMu sync.Mutex
	Subs  map[string]bool
}

func (c *Client) subscribe(channel string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.Subs[channel] = true
}

func (c *Client) unsubscribe(channel string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.Subs, channel)
}

func (c *Client) subscribed(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.Subs[channel]
}

// BacktestState tracks a submitted backtest run
type BacktestState struct {
	ID      string
	Status  string
	Started time.Time
	Result  *types.BacktestResult
	Err     string
}

// OptimizationState tracks a submitted optimization batch
type OptimizationState struct {
	ID      string
	Status  string
	Started time.Time
	Report  *types.OptimizationReport
	Err     string
	cancel  context.CancelFunc
}

// Message represents a WebSocket message
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// BacktestRequest is the body of POST /backtest/run
type BacktestRequest struct {
	Symbol string                 `json:"symbol"`
	Spec   types.StrategySpec     `json:"spec"`
	Config types.SimulationConfig `json:"config"`
}

// OptimizeRequest is the body of POST /optimize/run
type OptimizeRequest struct {
	Symbol       string                 `json:"symbol"`
	Draws        int                    `json:"draws"`
	Seed         int64                  `json:"seed"`
	Config       types.SimulationConfig `json:"config"`
	Distribution map[string]float64     `json:"distribution,omitempty"`
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, dataStore *data.Store, optim *optimizer.Coordinator, orders *execution.Coordinator, m *metrics.Metrics) *Server {
	server := &Server{
		logger:        logger.Named("api"),
		config:        config,
		router:        mux.NewRouter(),
		clients:       make(map[string]*Client),
		dataStore:     dataStore,
		sim:           simulator.New(logger),
		optim:         optim,
		orders:        orders,
		metrics:       m,
		backtests:     make(map[string]*BacktestState),
		optimizations: make(map[string]*OptimizationState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

// SetSession attaches a live session for the session endpoints
func (s *Server) SetSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Router exposes the mux for additional route registration
func (s *Server) Router() *mux.Router {
	return s.router
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/data/quality/{symbol}", s.handleGetQuality).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleGetStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")

	s.router.HandleFunc("/api/v1/optimize/run", s.handleRunOptimization).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize/{id}", s.handleGetOptimization).Methods("GET")
	s.router.HandleFunc("/api/v1/optimize/{id}/cancel", s.handleCancelOptimization).Methods("POST")

	s.router.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.router.HandleFunc("/api/v1/orders", s.handleListOrders).Methods("GET")
	s.router.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.router.HandleFunc("/api/v1/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	s.router.HandleFunc("/api/v1/session", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/api/v1/session/reconcile", s.handleReconcileSession).Methods("POST")

	if s.config.EnableMetrics && s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	// Fan order status changes out to subscribers
	go s.pumpOrderUpdates()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleGetSymbols returns available symbols
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols": s.dataStore.Symbols(),
	})
}

// handleGetHistory returns the stored series for a symbol
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	bars, err := s.dataStore.Load(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

// handleGetQuality runs data quality checks over a stored series
func (s *Server) handleGetQuality(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	bars, err := s.dataStore.Load(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(data.CheckQuality(symbol, bars))
}

// handleGetStrategies lists registered strategy variants
func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"variants": strategy.Variants(),
	})
}

// handleRunBacktest starts a new backtest
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	bars, err := s.dataStore.Load(r.Context(), req.Symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	state := &BacktestState{
		ID:      uuid.New().String(),
		Status:  "running",
		Started: time.Now(),
	}

	s.mu.Lock()
	s.backtests[state.ID] = state
	s.mu.Unlock()

	go func() {
		result, err := s.sim.RunSpec(bars, req.Spec, nil, req.Config)

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
			state.Err = err.Error()
			s.logger.Error("Backtest failed", zap.String("id", state.ID), zap.Error(err))
		} else {
			state.Status = "completed"
			state.Result = result
			if s.metrics != nil {
				s.metrics.BacktestsTotal.Inc()
				s.metrics.BacktestDuration.Observe(result.Duration.Seconds())
			}
		}
		status := state.Status
		s.mu.Unlock()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:complete",
			Payload:   map[string]interface{}{"id": state.ID, "status": status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

// handleGetBacktest returns backtest results
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Result != nil {
		response["result"] = state.Result
	}
	if state.Err != "" {
		response["error"] = state.Err
	}

	json.NewEncoder(w).Encode(response)
}

// handleGetBacktestTrades returns trades from a backtest
func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}
	if state.Result == nil {
		http.Error(w, "Backtest not complete", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

// handleRunOptimization starts an optimization batch
func (s *Server) handleRunOptimization(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Draws <= 0 {
		http.Error(w, "draws must be positive", http.StatusBadRequest)
		return
	}

	bars, err := s.dataStore.Load(r.Context(), req.Symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	dist, err := distributionOf(req.Distribution)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &OptimizationState{
		ID:      uuid.New().String(),
		Status:  "running",
		Started: time.Now(),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.optimizations[state.ID] = state
	s.mu.Unlock()

	go func() {
		defer cancel()
		if s.metrics != nil {
			s.metrics.ActiveWorkerPools.Inc()
		}
		report, err := s.optim.Optimize(ctx, bars, dist, req.Draws, req.Config, req.Seed)
		if s.metrics != nil {
			s.metrics.ActiveWorkerPools.Dec()
		}

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
			state.Err = err.Error()
		} else {
			state.Report = report
			if report.Cancelled {
				state.Status = "cancelled"
			} else {
				state.Status = "completed"
			}
			if s.metrics != nil {
				s.metrics.OptimizationRuns.Inc()
				for _, res := range report.Results {
					if res.Failed {
						s.metrics.DrawsTotal.WithLabelValues("failed").Inc()
					} else {
						s.metrics.DrawsTotal.WithLabelValues("ok").Inc()
					}
				}
			}
		}
		status := state.Status
		s.mu.Unlock()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "optimize:complete",
			Payload:   map[string]interface{}{"id": state.ID, "status": status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

// handleGetOptimization returns batch status, progress, and the report
// once complete
func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.optimizations[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Optimization not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Status == "running" {
		response["progress"] = s.optim.Progress()
	}
	if state.Report != nil {
		response["report"] = state.Report
	}
	if state.Err != "" {
		response["error"] = state.Err
	}

	json.NewEncoder(w).Encode(response)
}

// handleCancelOptimization cancels a running batch
func (s *Server) handleCancelOptimization(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.optimizations[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Optimization not found", http.StatusNotFound)
		return
	}
	if state.Status != "running" {
		http.Error(w, "Optimization not running", http.StatusBadRequest)
		return
	}

	state.cancel()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"status": "cancelling",
	})
}

// handleCreateOrder submits a live order intent
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var intent types.OrderIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if intent.Kind == "" {
		intent.Kind = types.OrderKindMarket
	}

	order, err := s.orders.CreateOrder(r.Context(), intent)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"order": order,
			"error": err.Error(),
		})
		return
	}

	if s.metrics != nil {
		s.metrics.OrdersSubmitted.Inc()
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"order": order})
}

// handleListOrders returns every tracked order
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orders": s.orders.Orders(),
	})
}

// handleGetOrder returns one order by local id
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrderStatus(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"order": order})
}

// handleCancelOrder cancels a pending order
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Cancel(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"order": order})
}

// handleGetSession returns live session state
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()

	if sess == nil {
		http.Error(w, "No live session", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(sess.Snapshot())
}

// handleReconcileSession forces a position-mirror refresh
func (s *Server) handleReconcileSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()

	if sess == nil {
		http.Error(w, "No live session", http.StatusNotFound)
		return
	}
	if err := sess.Reconcile(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	json.NewEncoder(w).Encode(sess.Snapshot())
}

// pumpOrderUpdates forwards order status changes to WebSocket clients
func (s *Server) pumpOrderUpdates() {
	for order := range s.orders.Updates() {
		if s.metrics != nil {
			s.metrics.OrdersByStatus.WithLabelValues(string(order.Status)).Inc()
		}
		s.broadcastToSubscribers("orders", &Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "order:update",
			Payload:   order,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// distributionOf converts a variant->weight map into a distribution.
// Variants are sorted by name so the cumulative-weight sampling order,
// and therefore the draws for a given seed, do not depend on map
// iteration order.
func distributionOf(weights map[string]float64) (strategy.Distribution, error) {
	if len(weights) == 0 {
		return strategy.DefaultDistribution(), nil
	}
	names := make([]string, 0, len(weights))
	for variant := range weights {
		names = append(names, variant)
	}
	sort.Strings(names)

	dist := make(strategy.Distribution, 0, len(names))
	for _, variant := range names {
		if weights[variant] < 0 {
			return nil, fmt.Errorf("negative weight %.3f for variant %q", weights[variant], variant)
		}
		dist = append(dist, strategy.Weighted{Variant: variant, Weight: weights[variant]})
	}
	return dist, nil
}
