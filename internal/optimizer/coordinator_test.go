package optimizer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func walkBars(n int) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price *= 1.01
		} else {
			price *= 0.995
		}
		p := decimal.NewFromFloat(price)
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func simCfg() types.SimulationConfig {
	return types.SimulationConfig{
		InitialCapital: decimal.NewFromInt(10000),
		CommissionRate: decimal.NewFromFloat(0.001),
		AllowShort:     true,
	}
}

// flatStrategy never trades, so every draw scores identically
type flatStrategy struct{}

func (flatStrategy) Name() string { return "flat" }
func (flatStrategy) WarmUp() int  { return 0 }
func (flatStrategy) GenerateSignal([]types.Bar, indicator.Snapshot) types.Signal {
	return types.SignalFlat
}

// panicStrategy faults during evaluation
type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }
func (panicStrategy) WarmUp() int  { return 0 }
func (panicStrategy) GenerateSignal([]types.Bar, indicator.Snapshot) types.Signal {
	panic("simulated worker fault")
}

func TestOptimizeProducesAllResults(t *testing.T) {
	coord := New(zap.NewNop(), Config{Workers: 4})
	bars := walkBars(260)

	report, err := coord.Optimize(context.Background(), bars, nil, 20, simCfg(), 42)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(report.Results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(report.Results))
	}
	for i, res := range report.Results {
		if res.Index != i {
			t.Errorf("result %d carries index %d", i, res.Index)
		}
		if res.Failed {
			t.Errorf("draw %d unexpectedly failed: %s", i, res.Error)
		}
	}
	if report.BestIndex < 0 || report.BestIndex >= 20 {
		t.Errorf("best index %d out of range", report.BestIndex)
	}
	if report.Best == nil {
		t.Error("best result should carry the rebuilt equity curve")
	} else if len(report.Best.EquityCurve) == 0 {
		t.Error("best result equity curve is empty")
	}
	if report.Cancelled {
		t.Error("uncancelled batch reported cancelled")
	}
}

func TestOptimizeReproducible(t *testing.T) {
	coord := New(zap.NewNop(), Config{Workers: 4})
	bars := walkBars(260)

	a, err := coord.Optimize(context.Background(), bars, nil, 15, simCfg(), 7)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	b, err := coord.Optimize(context.Background(), bars, nil, 15, simCfg(), 7)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if a.BestIndex != b.BestIndex {
		t.Errorf("best index differs across runs: %d vs %d", a.BestIndex, b.BestIndex)
	}
	for i := range a.Results {
		if a.Results[i].Spec.Variant != b.Results[i].Spec.Variant {
			t.Errorf("draw %d variant differs: %s vs %s",
				i, a.Results[i].Spec.Variant, b.Results[i].Spec.Variant)
		}
		if a.Results[i].Metric != b.Results[i].Metric {
			t.Errorf("draw %d metric differs: %f vs %f",
				i, a.Results[i].Metric, b.Results[i].Metric)
		}
	}
}

func TestWorkerFaultsBecomeSentinels(t *testing.T) {
	var constructed atomic.Int64
	coord := New(zap.NewNop(), Config{
		Workers: 4,
		NewStrategy: func(spec types.StrategySpec) (strategy.Strategy, error) {
			if constructed.Add(1) <= 3 {
				return panicStrategy{}, nil
			}
			return flatStrategy{}, nil
		},
	})

	report, err := coord.Optimize(context.Background(), walkBars(50), nil, 100, simCfg(), 1)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if len(report.Results) != 100 {
		t.Fatalf("expected 100 results, got %d", len(report.Results))
	}
	failed := 0
	for _, res := range report.Results {
		if res.Failed {
			failed++
			if res.Metric != WorstMetric {
				t.Errorf("sentinel draw %d should carry the worst metric", res.Index)
			}
		}
	}
	if failed != 3 {
		t.Errorf("expected 3 sentinel results, got %d", failed)
	}
	if report.BestIndex < 0 {
		t.Fatal("best index should reference a successful draw")
	}
	if report.Results[report.BestIndex].Failed {
		t.Error("best index references a sentinel result")
	}
}

func TestTieBreakLowestIndex(t *testing.T) {
	coord := New(zap.NewNop(), Config{
		Workers: 4,
		NewStrategy: func(spec types.StrategySpec) (strategy.Strategy, error) {
			return flatStrategy{}, nil
		},
	})

	report, err := coord.Optimize(context.Background(), walkBars(50), nil, 30, simCfg(), 5)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	// Every draw scores identically, so the lowest index must win
	if report.BestIndex != 0 {
		t.Errorf("expected best index 0 on equal metrics, got %d", report.BestIndex)
	}
}

func TestAllFailedReportsNoBest(t *testing.T) {
	coord := New(zap.NewNop(), Config{
		Workers: 2,
		NewStrategy: func(spec types.StrategySpec) (strategy.Strategy, error) {
			return nil, errors.New("construction refused")
		},
	})

	report, err := coord.Optimize(context.Background(), walkBars(50), nil, 10, simCfg(), 1)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if report.BestIndex != -1 {
		t.Errorf("expected best index -1 when every draw failed, got %d", report.BestIndex)
	}
	if report.Best != nil {
		t.Error("no best result should be attached when every draw failed")
	}
	for _, res := range report.Results {
		if !res.Failed {
			t.Errorf("draw %d should have failed", res.Index)
		}
	}
}

func TestCancellationReturnsPartials(t *testing.T) {
	coord := New(zap.NewNop(), Config{
		Workers: 2,
		Grace:   200 * time.Millisecond,
		NewStrategy: func(spec types.StrategySpec) (strategy.Strategy, error) {
			return slowStrategy{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, err := coord.Optimize(ctx, walkBars(30), nil, 200, simCfg(), 3)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if !report.Cancelled {
		t.Error("cancelled batch should be flagged")
	}
	if len(report.Results) != 200 {
		t.Fatalf("expected 200 result slots, got %d", len(report.Results))
	}
	if report.Completed >= 200 {
		t.Error("cancellation should leave some draws incomplete")
	}
}

// slowStrategy delays each evaluation so cancellation lands mid-batch
type slowStrategy struct{}

func (slowStrategy) Name() string { return "slow" }
func (slowStrategy) WarmUp() int  { return 0 }
func (slowStrategy) GenerateSignal([]types.Bar, indicator.Snapshot) types.Signal {
	time.Sleep(time.Millisecond)
	return types.SignalFlat
}
