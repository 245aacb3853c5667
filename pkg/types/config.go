// Package types provides configuration and result types for the strategy engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationConfig configures a single backtest run
type SimulationConfig struct {
	InitialCapital decimal.Decimal `json:"initialCapital"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	AllowShort     bool            `json:"allowShort"`
}

// Validate rejects configurations the simulator cannot honor
func (c SimulationConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	if c.CommissionRate.IsNegative() {
		return fmt.Errorf("commission rate must not be negative, got %s", c.CommissionRate)
	}
	if c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate must be below 1, got %s", c.CommissionRate)
	}
	return nil
}

// BacktestResult is the immutable outcome of one simulation run
type BacktestResult struct {
	ID          string           `json:"id"`
	Spec        StrategySpec     `json:"spec"`
	Config      SimulationConfig `json:"config"`
	EquityCurve []EquityPoint    `json:"equityCurve"`
	Trades      []Trade          `json:"trades"`
	Metrics     *SummaryMetrics  `json:"metrics"`
	StartedAt   time.Time        `json:"startedAt"`
	Duration    time.Duration    `json:"duration"`
}

// DrawResult is the compact per-draw outcome of an optimization batch.
// Failed draws carry the worst possible metric so they never win.
type DrawResult struct {
	Index      int             `json:"index"`
	Spec       StrategySpec    `json:"spec"`
	Metric     float64         `json:"metric"`
	Metrics    *SummaryMetrics `json:"metrics,omitempty"`
	TradeCount int             `json:"tradeCount"`
	Failed     bool            `json:"failed"`
	Error      string          `json:"error,omitempty"`
}

// OptimizationReport aggregates an optimization batch. Results always has
// length Requested; BestIndex is -1 only when every draw failed.
type OptimizationReport struct {
	ID         string          `json:"id"`
	Requested  int             `json:"requested"`
	Results    []DrawResult    `json:"results"`
	BestIndex  int             `json:"bestIndex"`
	BestMetric float64         `json:"bestMetric"`
	Best       *BacktestResult `json:"best,omitempty"`
	Completed  int             `json:"completed"`
	Cancelled  bool            `json:"cancelled"`
	Duration   time.Duration   `json:"duration"`
}

// OptimizationProgress is a point-in-time view of a running batch
type OptimizationProgress struct {
	ID         string  `json:"id"`
	Requested  int     `json:"requested"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	BestIndex  int     `json:"bestIndex"`
	BestMetric float64 `json:"bestMetric"`
	Running    bool    `json:"running"`
}

// MonitorConfig bounds the fill-detection loop of the order lifecycle
type MonitorConfig struct {
	SettleDelay          time.Duration   `json:"settleDelay"`
	RetryInterval        time.Duration   `json:"retryInterval"`
	MaxFillChecks        int             `json:"maxFillChecks"`
	MaxConnectivityFails int             `json:"maxConnectivityFails"`
	QuantityTolerance    decimal.Decimal `json:"quantityTolerance"`
}

// DefaultMonitorConfig returns the production monitoring bounds
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SettleDelay:          2 * time.Second,
		RetryInterval:        3 * time.Second,
		MaxFillChecks:        5,
		MaxConnectivityFails: 3,
		QuantityTolerance:    decimal.NewFromFloat(0.001),
	}
}

// SessionConfig configures one live trading session
type SessionConfig struct {
	Symbol       string          `json:"symbol"`
	BufferSize   int             `json:"bufferSize"`
	PollInterval time.Duration   `json:"pollInterval"`
	OrderQty     decimal.Decimal `json:"orderQty"`
	AllowShort   bool            `json:"allowShort"`
}

// ServerConfig represents the API server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
}

// DataConfig represents bar storage configuration
type DataConfig struct {
	DataDir string `json:"dataDir"`
}
