// Package strategy provides signal-generating strategy variants.
//
// A strategy is a pure function of the bar window and the shared
// indicator snapshot: no hidden state, so one instance can be evaluated
// from many workers at once. Variants differ in which indicators they
// consult and how many must agree.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Strategy is the capability every variant implements
type Strategy interface {
	Name() string
	// WarmUp is the longest lookback; the strategy emits flat before it
	WarmUp() int
	// GenerateSignal must be a pure function of its inputs. Unavailable
	// indicator values contribute flat, never an error.
	GenerateSignal(window []types.Bar, snap indicator.Snapshot) types.Signal
}

// Factory builds a strategy instance from an immutable spec
type Factory func(spec types.StrategySpec) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a variant factory to the registry
func Register(variant string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[variant] = f
}

// New creates a strategy instance from a spec via the registry
func New(spec types.StrategySpec) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[spec.Variant]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy variant %q", spec.Variant)
	}
	return f(spec)
}

// Variants returns the registered variant names, sorted
func Variants() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intParam(spec types.StrategySpec, key string, def int) int {
	if v, ok := spec.Params[key]; ok {
		return int(v)
	}
	return def
}

func floatParam(spec types.StrategySpec, key string, def float64) float64 {
	if v, ok := spec.Params[key]; ok {
		return v
	}
	return def
}

func init() {
	Register(VariantMACrossover, newMACrossover)
	Register(VariantRSIReversion, newRSIReversion)
	Register(VariantConsensus, newConsensus)
	Register(VariantEnsemble, newEnsemble)
}
