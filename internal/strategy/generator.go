package strategy

import (
	"fmt"
	"math/rand"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Weighted pairs a variant name with its draw probability weight
type Weighted struct {
	Variant string  `json:"variant"`
	Weight  float64 `json:"weight"`
}

// Distribution is the weighted set of variants a generator draws from
type Distribution []Weighted

// DefaultDistribution favors the composite variants
func DefaultDistribution() Distribution {
	return Distribution{
		{Variant: VariantMACrossover, Weight: 0.25},
		{Variant: VariantRSIReversion, Weight: 0.25},
		{Variant: VariantConsensus, Weight: 0.3},
		{Variant: VariantEnsemble, Weight: 0.2},
	}
}

// Generator draws randomly parameterized strategy specs. Randomness comes
// only from the explicitly seeded source, so equal seeds produce equal
// draw sequences.
type Generator struct {
	rng   *rand.Rand
	dist  Distribution
	total float64
}

// NewGenerator creates a seeded generator over the given distribution
func NewGenerator(seed int64, dist Distribution) (*Generator, error) {
	if len(dist) == 0 {
		dist = DefaultDistribution()
	}
	var total float64
	for _, w := range dist {
		if w.Weight < 0 {
			return nil, fmt.Errorf("negative weight %.3f for variant %q", w.Weight, w.Variant)
		}
		total += w.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("distribution has no positive weight")
	}
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		dist:  dist,
		total: total,
	}, nil
}

// Draw samples a variant from the weighted distribution and its
// parameters from bounded ranges. Periods come from the standard sets the
// indicator cache precomputes, so any draw is served by a shared cache.
func (g *Generator) Draw() types.StrategySpec {
	variant := g.drawVariant()
	spec := types.StrategySpec{
		Variant: variant,
		Params:  make(map[string]float64),
	}

	switch variant {
	case VariantMACrossover:
		fast, slow := g.drawMAPair()
		spec.Params["fast"] = float64(fast)
		spec.Params["slow"] = float64(slow)

	case VariantRSIReversion:
		spec.Params["period"] = float64(g.choiceInt(indicator.RSIPeriods))
		spec.Params["oversold"] = g.uniform(20, 40)
		spec.Params["overbought"] = g.uniform(60, 80)

	case VariantConsensus:
		fast, slow := g.drawMAPair()
		spec.Params["fast"] = float64(fast)
		spec.Params["slow"] = float64(slow)
		spec.Params["rsi_period"] = float64(g.choiceInt(indicator.RSIPeriods))
		spec.Params["oversold"] = g.uniform(25, 45)
		spec.Params["overbought"] = g.uniform(55, 75)
		spec.Params["momentum"] = float64(g.choiceInt([]int{5, 10, 20}))
		spec.Params["min_agreement"] = float64(2 + g.rng.Intn(3))

	case VariantEnsemble:
		fast, slow := g.drawMAPair()
		spec.Params["fast"] = float64(fast)
		spec.Params["slow"] = float64(slow)
		spec.Params["rsi_period"] = float64(g.choiceInt(indicator.RSIPeriods))
		spec.Params["momentum"] = float64(g.choiceInt([]int{5, 10, 20}))
		spec.Params["w_ma"] = g.uniform(0.1, 1)
		spec.Params["w_rsi"] = g.uniform(0.1, 1)
		spec.Params["w_macd"] = g.uniform(0.1, 1)
		spec.Params["w_momentum"] = g.uniform(0.1, 1)
		spec.Params["threshold"] = g.uniform(0.3, 0.8)
	}

	return spec
}

func (g *Generator) drawVariant() string {
	r := g.rng.Float64() * g.total
	for _, w := range g.dist {
		r -= w.Weight
		if r < 0 {
			return w.Variant
		}
	}
	return g.dist[len(g.dist)-1].Variant
}

// drawMAPair samples a fast/slow pair from the standard SMA periods with
// fast strictly below slow.
func (g *Generator) drawMAPair() (int, int) {
	fast := g.choiceInt([]int{5, 10, 20})
	slow := g.choiceInt([]int{50, 100, 200})
	return fast, slow
}

func (g *Generator) choiceInt(values []int) int {
	return values[g.rng.Intn(len(values))]
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}
