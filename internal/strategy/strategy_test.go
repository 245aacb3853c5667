package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func barsOf(closes []float64) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

// growth is a steadily accelerating rise: every trend-following
// sub-signal votes long, while RSI pegs at 100 and votes short
func growth(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.05, float64(i))
	}
	return closes
}

func TestFactoryUnknownVariant(t *testing.T) {
	_, err := New(types.StrategySpec{Variant: "no_such_variant"})
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestFactoryValidatesParams(t *testing.T) {
	cases := []types.StrategySpec{
		{Variant: VariantMACrossover, Params: map[string]float64{"fast": 50, "slow": 10}},
		{Variant: VariantRSIReversion, Params: map[string]float64{"oversold": 80, "overbought": 20}},
		{Variant: VariantConsensus, Params: map[string]float64{"min_agreement": 5}},
		{Variant: VariantEnsemble, Params: map[string]float64{"threshold": 2}},
	}
	for _, spec := range cases {
		if _, err := New(spec); err == nil {
			t.Errorf("variant %s: expected param validation error", spec.Variant)
		}
	}
}

func TestFactoryRejectsUncachedPeriods(t *testing.T) {
	cases := []types.StrategySpec{
		{Variant: VariantMACrossover, Params: map[string]float64{"fast": 3, "slow": 8}},
		{Variant: VariantRSIReversion, Params: map[string]float64{"period": 10}},
		{Variant: VariantConsensus, Params: map[string]float64{"fast": 7, "slow": 50}},
		{Variant: VariantEnsemble, Params: map[string]float64{"rsi_period": 13}},
	}
	for _, spec := range cases {
		if _, err := New(spec); err == nil {
			t.Errorf("variant %s: periods outside the cached sets must be rejected, got nil error", spec.Variant)
		}
	}
}

func TestFactoryAcceptsAllCachedPeriods(t *testing.T) {
	for i, fast := range indicator.SMAPeriods {
		for _, slow := range indicator.SMAPeriods[i+1:] {
			spec := types.StrategySpec{
				Variant: VariantMACrossover,
				Params:  map[string]float64{"fast": float64(fast), "slow": float64(slow)},
			}
			if _, err := New(spec); err != nil {
				t.Errorf("fast=%d slow=%d: %v", fast, slow, err)
			}
		}
	}
	for _, period := range indicator.RSIPeriods {
		spec := types.StrategySpec{
			Variant: VariantRSIReversion,
			Params:  map[string]float64{"period": float64(period)},
		}
		if _, err := New(spec); err != nil {
			t.Errorf("rsi period=%d: %v", period, err)
		}
	}
}

func TestVariantsRegistered(t *testing.T) {
	variants := Variants()
	want := map[string]bool{
		VariantMACrossover:  false,
		VariantRSIReversion: false,
		VariantConsensus:    false,
		VariantEnsemble:     false,
	}
	for _, v := range variants {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for v, seen := range want {
		if !seen {
			t.Errorf("variant %s not registered", v)
		}
	}
}

func TestMACrossoverSignals(t *testing.T) {
	strat, err := New(types.StrategySpec{
		Variant: VariantMACrossover,
		Params:  map[string]float64{"fast": 5, "slow": 20},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	bars := barsOf(growth(60))
	cache := indicator.Build(bars)
	sig := strat.GenerateSignal(bars, cache.At(len(bars)-1))
	if sig != types.SignalLong {
		t.Errorf("rising series should signal long, got %s", sig)
	}

	// Falling series
	closes := growth(60)
	for i, j := 0, len(closes)-1; i < j; i, j = i+1, j-1 {
		closes[i], closes[j] = closes[j], closes[i]
	}
	bars = barsOf(closes)
	cache = indicator.Build(bars)
	sig = strat.GenerateSignal(bars, cache.At(len(bars)-1))
	if sig != types.SignalShort {
		t.Errorf("falling series should signal short, got %s", sig)
	}
}

func TestSignalFlatDuringWarmUp(t *testing.T) {
	strat, err := New(types.StrategySpec{
		Variant: VariantMACrossover,
		Params:  map[string]float64{"fast": 5, "slow": 20},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	bars := barsOf(growth(10))
	cache := indicator.Build(bars)
	if sig := strat.GenerateSignal(bars, cache.At(len(bars)-1)); sig != types.SignalFlat {
		t.Errorf("unavailable indicators should signal flat, got %s", sig)
	}
}

func TestConsensusMinAgreement(t *testing.T) {
	bars := barsOf(growth(120))
	cache := indicator.Build(bars)
	snap := cache.At(len(bars) - 1)

	// On an accelerating rise: MA, MACD, and momentum vote long; RSI
	// pegs overbought and votes short. Three of four agree.
	spec := types.StrategySpec{
		Variant: VariantConsensus,
		Params:  map[string]float64{"min_agreement": 3, "fast": 5, "slow": 50},
	}
	strat, err := New(spec)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if sig := strat.GenerateSignal(bars, snap); sig != types.SignalLong {
		t.Errorf("three agreeing votes should signal long, got %s", sig)
	}

	// Demanding all four must stay flat on the same inputs
	spec.Params["min_agreement"] = 4
	strat, err = New(spec)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if sig := strat.GenerateSignal(bars, snap); sig != types.SignalFlat {
		t.Errorf("unmet agreement threshold should signal flat, got %s", sig)
	}
}

func TestConsensusWarmUpCoversAllIndicators(t *testing.T) {
	strat, err := New(types.StrategySpec{
		Variant: VariantConsensus,
		Params:  map[string]float64{"min_agreement": 2, "fast": 5, "slow": 100},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if strat.WarmUp() < 100 {
		t.Errorf("warm-up %d must cover the slow MA of 100", strat.WarmUp())
	}
}

func TestEnsembleThreshold(t *testing.T) {
	bars := barsOf(growth(120))
	cache := indicator.Build(bars)
	snap := cache.At(len(bars) - 1)

	// All weight on momentum: normalized score is +1 on a rise
	strat, err := New(types.StrategySpec{
		Variant: VariantEnsemble,
		Params: map[string]float64{
			"w_ma": 0, "w_rsi": 0, "w_macd": 0, "w_momentum": 1,
			"threshold": 0.9, "fast": 5, "slow": 50,
		},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if sig := strat.GenerateSignal(bars, snap); sig != types.SignalLong {
		t.Errorf("momentum-only ensemble on a rise should signal long, got %s", sig)
	}
}

func TestMomentumVote(t *testing.T) {
	bars := barsOf([]float64{100, 101, 102, 103, 104})
	if v := momentumVote(bars, 3); v != voteLong {
		t.Errorf("rising momentum should vote long, got %d", v)
	}
	if v := momentumVote(bars, 10); v != voteFlat {
		t.Errorf("insufficient window should vote flat, got %d", v)
	}
}
