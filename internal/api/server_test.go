package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/broker"
	"github.com/atlas-desktop/strategy-engine/internal/data"
	"github.com/atlas-desktop/strategy-engine/internal/execution"
	"github.com/atlas-desktop/strategy-engine/internal/metrics"
	"github.com/atlas-desktop/strategy-engine/internal/optimizer"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.Generate("BTCUSDT", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, 400, 100, 7); err != nil {
		t.Fatalf("generate: %v", err)
	}

	paper := broker.NewPaper(logger, broker.PaperConfig{Symbols: []string{"BTCUSDT"}})
	paper.SetPrice("BTCUSDT", decimal.NewFromInt(100))

	monitorCfg := types.DefaultMonitorConfig()
	monitorCfg.SettleDelay = 10 * time.Millisecond
	monitorCfg.RetryInterval = 10 * time.Millisecond
	orders := execution.NewCoordinator(logger, paper, monitorCfg)
	t.Cleanup(orders.Stop)

	optim := optimizer.New(logger, optimizer.Config{Workers: 2, Grace: time.Second})

	cfg := &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		EnableMetrics: true,
	}
	s := NewServer(logger, cfg, store, optim, orders, metrics.New())

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/v1/health", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestSymbolsAndHistory(t *testing.T) {
	_, ts := newTestServer(t)

	var syms struct {
		Symbols []string `json:"symbols"`
	}
	getJSON(t, ts.URL+"/api/v1/data/symbols", &syms)
	if len(syms.Symbols) != 1 || syms.Symbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %v", syms.Symbols)
	}

	var hist struct {
		Count int `json:"count"`
	}
	getJSON(t, ts.URL+"/api/v1/data/history/BTCUSDT", &hist)
	if hist.Count != 400 {
		t.Errorf("expected 400 bars, got %d", hist.Count)
	}

	if code := getJSON(t, ts.URL+"/api/v1/data/history/NOPE", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown symbol, got %d", code)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Variants []string `json:"variants"`
	}
	getJSON(t, ts.URL+"/api/v1/strategies", &body)
	if len(body.Variants) == 0 {
		t.Error("expected registered strategy variants")
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	req := BacktestRequest{
		Symbol: "BTCUSDT",
		Spec: types.StrategySpec{
			Variant: "ma_crossover",
			Params:  map[string]float64{"fast": 5, "slow": 20},
		},
		Config: types.SimulationConfig{
			InitialCapital: decimal.NewFromInt(10000),
			CommissionRate: decimal.RequireFromString("0.001"),
			AllowShort:     true,
		},
	}

	var started struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if code := postJSON(t, ts.URL+"/api/v1/backtest/run", req, &started); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if started.ID == "" || started.Status != "running" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var state struct {
			Status string                 `json:"status"`
			Result map[string]interface{} `json:"result"`
			Error  string                 `json:"error"`
		}
		getJSON(t, fmt.Sprintf("%s/api/v1/backtest/%s", ts.URL, started.ID), &state)
		if state.Status == "completed" {
			if state.Result == nil {
				t.Fatal("completed backtest has no result")
			}
			return
		}
		if state.Status == "failed" {
			t.Fatalf("backtest failed: %s", state.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("backtest never completed")
}

func TestOptimizeRoundTrip(t *testing.T) {
	s, ts := newTestServer(t)

	req := OptimizeRequest{
		Symbol: "BTCUSDT",
		Draws:  8,
		Seed:   42,
		Config: types.SimulationConfig{
			InitialCapital: decimal.NewFromInt(10000),
			CommissionRate: decimal.RequireFromString("0.001"),
			AllowShort:     true,
		},
	}

	var started struct {
		ID string `json:"id"`
	}
	if code := postJSON(t, ts.URL+"/api/v1/optimize/run", req, &started); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		var state struct {
			Status string `json:"status"`
			Report *struct {
				Results []json.RawMessage `json:"results"`
			} `json:"report"`
		}
		getJSON(t, fmt.Sprintf("%s/api/v1/optimize/%s", ts.URL, started.ID), &state)
		if state.Status == "completed" {
			if state.Report == nil || len(state.Report.Results) != 8 {
				t.Fatalf("expected 8 results, got %+v", state.Report)
			}
			if pools := testutil.ToFloat64(s.metrics.ActiveWorkerPools); pools != 0 {
				t.Errorf("worker pool gauge should return to zero, got %v", pools)
			}
			return
		}
		if state.Status == "failed" {
			t.Fatal("optimization failed")
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("optimization never completed")
}

func TestOptimizeRejectsBadDraws(t *testing.T) {
	_, ts := newTestServer(t)
	code := postJSON(t, ts.URL+"/api/v1/optimize/run", OptimizeRequest{Symbol: "BTCUSDT", Draws: 0}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestOrderEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	intent := types.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     types.OrderSideBuy,
		Quantity: decimal.NewFromInt(2),
	}
	var created struct {
		Order types.BrokerOrder `json:"order"`
	}
	if code := postJSON(t, ts.URL+"/api/v1/orders", intent, &created); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if created.Order.LocalID == "" || created.Order.Status != types.OrderStatusSubmitted {
		t.Fatalf("unexpected order: %+v", created.Order)
	}

	var fetched struct {
		Order types.BrokerOrder `json:"order"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/orders/"+created.Order.LocalID, &fetched); code != http.StatusOK {
		t.Fatalf("expected 200 fetching order, got %d", code)
	}
	if fetched.Order.LocalID != created.Order.LocalID {
		t.Errorf("id mismatch: %s vs %s", fetched.Order.LocalID, created.Order.LocalID)
	}

	if code := getJSON(t, ts.URL+"/api/v1/orders/does-not-exist", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown order, got %d", code)
	}
}

func TestCreateOrderRejectsBadIntent(t *testing.T) {
	_, ts := newTestServer(t)

	intent := types.OrderIntent{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: decimal.Zero}
	var resp struct {
		Order types.BrokerOrder `json:"order"`
		Error string            `json:"error"`
	}
	if code := postJSON(t, ts.URL+"/api/v1/orders", intent, &resp); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if resp.Order.Status != types.OrderStatusRejected {
		t.Errorf("expected REJECTED, got %s", resp.Order.Status)
	}
}

func TestSessionEndpointsWithoutSession(t *testing.T) {
	_, ts := newTestServer(t)
	if code := getJSON(t, ts.URL+"/api/v1/session", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 without a session, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	if code := getJSON(t, ts.URL+"/metrics", nil); code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", code)
	}
}

func TestDistributionOfDeterministicOrder(t *testing.T) {
	weights := map[string]float64{
		"rsi_reversion": 1.0,
		"ma_crossover":  2.0,
		"ensemble":      0.5,
		"consensus":     1.5,
	}

	first, err := distributionOf(weights)
	if err != nil {
		t.Fatalf("distributionOf failed: %v", err)
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Variant >= first[i].Variant {
			t.Fatalf("variants not sorted: %q before %q", first[i-1].Variant, first[i].Variant)
		}
	}

	// Seeded draws depend on the distribution order, so repeated
	// conversions of the same weights must agree exactly.
	for i := 0; i < 25; i++ {
		again, err := distributionOf(weights)
		if err != nil {
			t.Fatalf("distributionOf failed: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("order changed between calls: %+v vs %+v", again, first)
			}
		}
	}
}

func TestDistributionOfRejectsNegativeWeight(t *testing.T) {
	if _, err := distributionOf(map[string]float64{"ma_crossover": -0.25}); err == nil {
		t.Fatal("expected an error for a negative weight")
	}
}

func TestSubscriptionChurnDuringBroadcast(t *testing.T) {
	s, _ := newTestServer(t)

	client := &Client{
		ID:   "churn-client",
		Send: make(chan []byte, 256),
		Subs: make(map[string]bool),
	}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	drain := func() {
		for {
			select {
			case <-client.Send:
			default:
				return
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			client.subscribe("orders")
			client.subscribe("session")
			client.unsubscribe("orders")
		}
	}()

	for i := 0; i < 500; i++ {
		s.broadcastToSubscribers("orders", &Message{Type: "event", Method: "order_update"})
		drain()
	}
	<-done

	if !client.subscribed("session") {
		t.Error("session subscription should survive the churn")
	}
}
