// Package main provides the entry point for the strategy engine server:
// historical backtesting, parallel strategy optimization, and a paper
// live-trading session with asynchronous order tracking.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/api"
	"github.com/atlas-desktop/strategy-engine/internal/broker"
	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/data"
	"github.com/atlas-desktop/strategy-engine/internal/execution"
	"github.com/atlas-desktop/strategy-engine/internal/metrics"
	"github.com/atlas-desktop/strategy-engine/internal/optimizer"
	"github.com/atlas-desktop/strategy-engine/internal/session"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML)")
	live := flag.Bool("live", false, "Start a paper live-trading session")
	seed := flag.Int64("seed", 42, "Seed for synthetic data generation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting strategy engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Data.DataDir),
		zap.Bool("live", *live),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	// Seed a synthetic series for the session symbol when no data is
	// stored yet, so backtests work out of the box.
	if _, err := dataStore.Load(ctx, cfg.Session.Symbol); err != nil {
		if _, err := dataStore.Generate(cfg.Session.Symbol,
			time.Now().AddDate(0, -6, 0), time.Hour, 4000, 100, *seed); err != nil {
			logger.Fatal("Failed to seed data", zap.Error(err))
		}
	}

	gateway := broker.NewPaper(logger, broker.PaperConfig{
		Symbols:     []string{cfg.Session.Symbol},
		FillLatency: 500 * time.Millisecond,
	})

	orderCoordinator := execution.NewCoordinator(logger, gateway, cfg.Monitor)

	optimCoordinator := optimizer.New(logger, optimizer.Config{
		Workers: cfg.Optimizer.Workers,
		Grace:   cfg.Optimizer.Grace,
	})

	engineMetrics := metrics.New()

	server := api.NewServer(logger, &cfg.Server, dataStore, optimCoordinator, orderCoordinator, engineMetrics)

	if *live {
		sess, err := buildSession(logger, cfg, orderCoordinator, gateway)
		if err != nil {
			logger.Fatal("Failed to build live session", zap.Error(err))
		}
		sess.SetMetrics(engineMetrics)
		server.SetSession(sess)
		go func() {
			if err := sess.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("Session error", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()
	orderCoordinator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// buildSession wires a consensus strategy to a synthetic walk feed that
// also drives the paper broker's fill prices
func buildSession(logger *zap.Logger, cfg *config.Config, orders *execution.Coordinator, gateway *broker.Paper) (*session.Session, error) {
	strat, err := strategy.New(types.StrategySpec{
		Variant: strategy.VariantConsensus,
		Params: map[string]float64{
			"min_agreement": 3,
		},
	})
	if err != nil {
		return nil, err
	}

	walk := data.NewWalkSource(100, time.Hour, time.Now().UnixNano())
	feed := &pricedFeed{source: walk, gateway: gateway}

	return session.New(logger, cfg.Session, strat, orders, gateway, feed)
}

// pricedFeed mirrors each polled close into the paper broker so fills
// land at the price the strategy saw
type pricedFeed struct {
	source  data.LiveSource
	gateway *broker.Paper
}

func (f *pricedFeed) PollLatest(ctx context.Context, symbol string) (types.Bar, error) {
	bar, err := f.source.PollLatest(ctx, symbol)
	if err != nil {
		return bar, err
	}
	f.gateway.SetPrice(symbol, bar.Close)
	return bar, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
