// Package config loads engine configuration from file, environment,
// and defaults, in that order of increasing precedence for env vars.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full engine configuration
type Config struct {
	Server     types.ServerConfig
	Data       types.DataConfig
	Simulation types.SimulationConfig
	Monitor    types.MonitorConfig
	Session    types.SessionConfig
	Optimizer  OptimizerConfig
	LogLevel   string
}

// OptimizerConfig sizes the optimization worker pool
type OptimizerConfig struct {
	Workers int
	Grace   time.Duration
}

// Load reads configuration. path may name a YAML file; when empty,
// engine.yaml is looked up in the working directory and is optional.
// Every key can be overridden via ENGINE_* environment variables
// (dots become underscores, e.g. ENGINE_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("engine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: types.ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			WebSocketPath:  v.GetString("server.websocket_path"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			MaxConnections: v.GetInt("server.max_connections"),
			EnableMetrics:  v.GetBool("server.enable_metrics"),
		},
		Data: types.DataConfig{
			DataDir: v.GetString("data.dir"),
		},
		Simulation: types.SimulationConfig{
			InitialCapital: decimalOf(v, "simulation.initial_capital"),
			CommissionRate: decimalOf(v, "simulation.commission_rate"),
			AllowShort:     v.GetBool("simulation.allow_short"),
		},
		Monitor: types.MonitorConfig{
			SettleDelay:          v.GetDuration("monitor.settle_delay"),
			RetryInterval:        v.GetDuration("monitor.retry_interval"),
			MaxFillChecks:        v.GetInt("monitor.max_fill_checks"),
			MaxConnectivityFails: v.GetInt("monitor.max_connectivity_fails"),
			QuantityTolerance:    decimalOf(v, "monitor.quantity_tolerance"),
		},
		Session: types.SessionConfig{
			Symbol:       v.GetString("session.symbol"),
			BufferSize:   v.GetInt("session.buffer_size"),
			PollInterval: v.GetDuration("session.poll_interval"),
			OrderQty:     decimalOf(v, "session.order_qty"),
			AllowShort:   v.GetBool("session.allow_short"),
		},
		Optimizer: OptimizerConfig{
			Workers: v.GetInt("optimizer.workers"),
			Grace:   v.GetDuration("optimizer.grace"),
		},
		LogLevel: v.GetString("log.level"),
	}

	if err := cfg.Simulation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("data.dir", "./data")

	v.SetDefault("simulation.initial_capital", "10000")
	v.SetDefault("simulation.commission_rate", "0.001")
	v.SetDefault("simulation.allow_short", true)

	def := types.DefaultMonitorConfig()
	v.SetDefault("monitor.settle_delay", def.SettleDelay)
	v.SetDefault("monitor.retry_interval", def.RetryInterval)
	v.SetDefault("monitor.max_fill_checks", def.MaxFillChecks)
	v.SetDefault("monitor.max_connectivity_fails", def.MaxConnectivityFails)
	v.SetDefault("monitor.quantity_tolerance", def.QuantityTolerance.String())

	v.SetDefault("session.symbol", "BTC/USDT")
	v.SetDefault("session.buffer_size", 300)
	v.SetDefault("session.poll_interval", 5*time.Second)
	v.SetDefault("session.order_qty", "1")
	v.SetDefault("session.allow_short", false)

	v.SetDefault("optimizer.workers", 0) // 0 means CPU count
	v.SetDefault("optimizer.grace", 5*time.Second)

	v.SetDefault("log.level", "info")
}

// decimalOf parses a decimal key, falling back to zero on bad input so
// validation reports it instead of a parse panic
func decimalOf(v *viper.Viper, key string) decimal.Decimal {
	d, err := decimal.NewFromString(v.GetString(key))
	if err != nil {
		return decimal.Zero
	}
	return d
}
