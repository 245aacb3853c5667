// Package optimizer searches a randomly parameterized strategy space by
// distributing simulations across a worker pool.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/internal/simulator"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/internal/workers"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorstMetric is the penalized score assigned to failed draws. Kept
// finite so reports serialize cleanly.
const WorstMetric = -math.MaxFloat64

// Config configures a coordinator
type Config struct {
	// Workers defaults to the available CPU parallelism
	Workers int
	// Grace bounds how long in-flight draws may finish after cancellation
	Grace time.Duration
	// NewStrategy defaults to the registry factory
	NewStrategy strategy.Factory
}

// Coordinator runs optimization batches. One batch is in flight at a
// time per coordinator; Progress reports on the current one.
type Coordinator struct {
	logger  *zap.Logger
	sim     *simulator.Simulator
	factory strategy.Factory
	workers int
	grace   time.Duration

	mu       sync.Mutex
	progress types.OptimizationProgress
}

// New creates a coordinator
func New(logger *zap.Logger, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	if cfg.NewStrategy == nil {
		cfg.NewStrategy = strategy.New
	}
	return &Coordinator{
		logger:  logger.Named("optimizer"),
		sim:     simulator.New(logger),
		factory: cfg.NewStrategy,
		workers: cfg.Workers,
		grace:   cfg.Grace,
	}
}

// Optimize draws n seeded strategies from the distribution and simulates
// each against the shared indicator cache. Worker faults become
// penalized sentinel entries; the batch always returns a report with
// exactly n results. Cancelling the context stops new dispatch, lets
// in-flight draws finish within the grace period, and returns the
// partial results collected so far.
func (c *Coordinator) Optimize(ctx context.Context, bars []types.Bar, dist strategy.Distribution, n int, cfg types.SimulationConfig, seed int64) (*types.OptimizationReport, error) {
	if n <= 0 {
		return nil, fmt.Errorf("draw count must be positive, got %d", n)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	if len(dist) == 0 {
		dist = strategy.DefaultDistribution()
	}

	started := time.Now()
	runID := uuid.New().String()

	// One shared read-only cache for every draw
	cache := indicator.Build(bars)

	c.setProgress(types.OptimizationProgress{
		ID:        runID,
		Requested: n,
		BestIndex: -1,
		Running:   true,
	})

	pool := workers.NewPool(c.logger, workers.PoolConfig{
		Name:            "optimizer",
		NumWorkers:      c.workers,
		QueueSize:       n,
		ShutdownTimeout: c.grace,
	})
	pool.Start()
	defer pool.Stop()

	resultCh := make(chan types.DrawResult, n)
	specs := make([]types.StrategySpec, n)
	cancelled := false
	dispatched := 0

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		// Per-draw seeding keeps draws reproducible regardless of
		// worker scheduling.
		gen, err := strategy.NewGenerator(seed+int64(i), dist)
		if err != nil {
			return nil, fmt.Errorf("invalid distribution: %w", err)
		}
		spec := gen.Draw()
		specs[i] = spec

		idx := i
		if err := pool.SubmitFunc(func() error {
			resultCh <- c.runDraw(idx, spec, bars, cache, cfg)
			return nil
		}); err != nil {
			cancelled = true
			break
		}
		dispatched++
	}

	results := make([]types.DrawResult, n)
	received := make([]bool, n)

	ctxDone := ctx.Done()
	var graceExpired <-chan time.Time
	collected := 0
collect:
	for collected < dispatched {
		select {
		case res := <-resultCh:
			results[res.Index] = res
			received[res.Index] = true
			collected++
			c.recordProgress(res)
		case <-ctxDone:
			cancelled = true
			graceExpired = time.After(c.grace)
			ctxDone = nil
		case <-graceExpired:
			c.logger.Warn("abandoning in-flight draws after grace period",
				zap.Int("outstanding", dispatched-collected),
			)
			break collect
		}
	}

	// Sentinel entries for draws that never produced a result
	for i := 0; i < n; i++ {
		if !received[i] {
			results[i] = types.DrawResult{
				Index:  i,
				Spec:   specs[i],
				Metric: WorstMetric,
				Failed: true,
				Error:  "draw not completed",
			}
		}
	}

	bestIndex, bestMetric := bestOf(results)

	report := &types.OptimizationReport{
		ID:         runID,
		Requested:  n,
		Results:    results,
		BestIndex:  bestIndex,
		BestMetric: bestMetric,
		Completed:  collected,
		Cancelled:  cancelled,
		Duration:   time.Since(started),
	}

	// Reattach the full equity curve only for the retained best result
	if bestIndex >= 0 {
		best, err := c.sim.RunSpec(bars, results[bestIndex].Spec, cache, cfg)
		if err != nil {
			c.logger.Warn("failed to rebuild best result", zap.Error(err))
		} else {
			report.Best = best
		}
	}

	c.finishProgress()

	c.logger.Info("optimization batch complete",
		zap.String("id", runID),
		zap.Int("requested", n),
		zap.Int("completed", collected),
		zap.Int("bestIndex", bestIndex),
		zap.Bool("cancelled", cancelled),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

// runDraw simulates one draw, converting any fault into a penalized
// sentinel result rather than letting it escape the worker.
func (c *Coordinator) runDraw(idx int, spec types.StrategySpec, bars []types.Bar, cache *indicator.Cache, cfg types.SimulationConfig) (out types.DrawResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("draw faulted",
				zap.Int("draw", idx),
				zap.String("variant", spec.Variant),
				zap.Any("panic", r),
			)
			out = types.DrawResult{
				Index:  idx,
				Spec:   spec,
				Metric: WorstMetric,
				Failed: true,
				Error:  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	strat, err := c.factory(spec)
	if err != nil {
		return types.DrawResult{Index: idx, Spec: spec, Metric: WorstMetric, Failed: true, Error: err.Error()}
	}

	res, err := c.sim.Run(bars, strat, cache, cfg)
	if err != nil {
		return types.DrawResult{Index: idx, Spec: spec, Metric: WorstMetric, Failed: true, Error: err.Error()}
	}

	// Compact result: summary metrics only, no equity curve in flight
	return types.DrawResult{
		Index:      idx,
		Spec:       spec,
		Metric:     res.Metrics.TotalReturn.InexactFloat64(),
		Metrics:    res.Metrics,
		TradeCount: res.Metrics.TradeCount,
	}
}

// bestOf scans ascending so equal metrics resolve to the lowest index
func bestOf(results []types.DrawResult) (int, float64) {
	bestIndex := -1
	bestMetric := WorstMetric
	for i, r := range results {
		if r.Failed {
			continue
		}
		if bestIndex < 0 || r.Metric > bestMetric {
			bestIndex = i
			bestMetric = r.Metric
		}
	}
	return bestIndex, bestMetric
}

// Progress returns a snapshot of the current batch
func (c *Coordinator) Progress() types.OptimizationProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Coordinator) setProgress(p types.OptimizationProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = p
}

func (c *Coordinator) recordProgress(res types.DrawResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.Completed++
	if res.Failed {
		c.progress.Failed++
		return
	}
	if c.progress.BestIndex < 0 ||
		res.Metric > c.progress.BestMetric ||
		(res.Metric == c.progress.BestMetric && res.Index < c.progress.BestIndex) {
		c.progress.BestIndex = res.Index
		c.progress.BestMetric = res.Metric
	}
}

func (c *Coordinator) finishProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.Running = false
}
