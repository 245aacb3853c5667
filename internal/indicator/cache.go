// Package indicator precomputes shared technical-indicator series.
// A Cache is built once per price series, then read concurrently by many
// strategy evaluations; values for an index are never recomputed.
package indicator

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Standard periods covered by every cache. Strategy parameters are drawn
// from these sets so a shared cache serves any generated strategy.
var (
	SMAPeriods = []int{5, 10, 20, 50, 100, 200}
	EMAPeriods = []int{9, 12, 26, 50}
	RSIPeriods = []int{7, 14, 21}
	ATRPeriods = []int{14}
)

// MACD configuration (fast EMA, slow EMA, signal EMA)
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// CoversSMA reports whether caches precompute the SMA for a period
func CoversSMA(period int) bool { return containsPeriod(SMAPeriods, period) }

// CoversEMA reports whether caches precompute the EMA for a period
func CoversEMA(period int) bool { return containsPeriod(EMAPeriods, period) }

// CoversRSI reports whether caches precompute the RSI for a period
func CoversRSI(period int) bool { return containsPeriod(RSIPeriods, period) }

func containsPeriod(set []int, period int) bool {
	for _, p := range set {
		if p == period {
			return true
		}
	}
	return false
}

// SMAName returns the series key for a simple moving average
func SMAName(period int) string { return fmt.Sprintf("sma_%d", period) }

// EMAName returns the series key for an exponential moving average
func EMAName(period int) string { return fmt.Sprintf("ema_%d", period) }

// RSIName returns the series key for a relative strength index
func RSIName(period int) string { return fmt.Sprintf("rsi_%d", period) }

// ATRName returns the series key for an average true range
func ATRName(period int) string { return fmt.Sprintf("atr_%d", period) }

// MACDName is the series key for the MACD line, MACDSignalName for its signal line
const (
	MACDName       = "macd"
	MACDSignalName = "macd_signal"
)

// Cache holds one float64 series per indicator, aligned to the bar index.
// Unavailable values (warm-up, degenerate windows) are NaN. The cache is
// read-only after Build and safe for concurrent readers.
type Cache struct {
	length int
	series map[string][]float64
}

// Build precomputes every standard indicator series for the given bars.
// Pathological inputs never fail the build; the affected series stays
// unavailable instead.
func Build(bars []types.Bar) *Cache {
	c := &Cache{
		length: len(bars),
		series: make(map[string][]float64),
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
		highs[i] = b.High.InexactFloat64()
		lows[i] = b.Low.InexactFloat64()
	}

	for _, p := range SMAPeriods {
		c.series[SMAName(p)] = sma(closes, p)
	}
	for _, p := range EMAPeriods {
		c.series[EMAName(p)] = ema(closes, p)
	}
	for _, p := range RSIPeriods {
		c.series[RSIName(p)] = rsi(closes, p)
	}
	for _, p := range ATRPeriods {
		c.series[ATRName(p)] = atr(highs, lows, closes, p)
	}

	fast := c.series[EMAName(MACDFast)]
	slow := c.series[EMAName(MACDSlow)]
	macd := unavailable(len(bars))
	for i := range macd {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			macd[i] = fast[i] - slow[i]
		}
	}
	c.series[MACDName] = macd
	c.series[MACDSignalName] = emaOver(macd, MACDSignal)

	return c
}

// Len returns the number of bar indices the cache covers
func (c *Cache) Len() int { return c.length }

// Value returns the indicator value at a bar index. The second return is
// false when the series or the value at that index is unavailable.
func (c *Cache) Value(name string, idx int) (float64, bool) {
	s, ok := c.series[name]
	if !ok || idx < 0 || idx >= len(s) {
		return 0, false
	}
	v := s[idx]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Snapshot is a read-only view of the cache up to one bar index.
// Strategies consume snapshots, never the cache directly, so a strategy
// cannot look ahead of the bar it is evaluating.
type Snapshot struct {
	cache *Cache
	idx   int
}

// At returns the snapshot for a bar index
func (c *Cache) At(idx int) Snapshot {
	return Snapshot{cache: c, idx: idx}
}

// Value returns the indicator value at the snapshot's bar
func (s Snapshot) Value(name string) (float64, bool) {
	return s.cache.Value(name, s.idx)
}

// ValueAt returns the indicator value lookback bars before the snapshot
func (s Snapshot) ValueAt(name string, lookback int) (float64, bool) {
	return s.cache.Value(name, s.idx-lookback)
}

// Index returns the bar index the snapshot is pinned to
func (s Snapshot) Index() int { return s.idx }

func unavailable(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func sma(values []float64, period int) []float64 {
	out := unavailable(len(values))
	if period <= 0 || period > len(values) {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func ema(values []float64, period int) []float64 {
	return emaOver(values, period)
}

// emaOver seeds the EMA with the mean of the first period valid values,
// then applies the standard smoothing multiplier.
func emaOver(values []float64, period int) []float64 {
	out := unavailable(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	// First index with period consecutive valid values
	start, run := -1, 0
	for i, v := range values {
		if math.IsNaN(v) {
			run = 0
			continue
		}
		run++
		if run == period {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}

	var seed float64
	for i := start - period + 1; i <= start; i++ {
		seed += values[i]
	}
	out[start] = seed / float64(period)

	mult := 2.0 / float64(period+1)
	for i := start + 1; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			break
		}
		out[i] = values[i]*mult + out[i-1]*(1-mult)
	}
	return out
}

// rsi uses Wilder's smoothing
func rsi(closes []float64, period int) []float64 {
	out := unavailable(len(closes))
	if period <= 0 || period+1 > len(closes) {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func atr(highs, lows, closes []float64, period int) []float64 {
	out := unavailable(len(closes))
	if period <= 0 || period+1 > len(closes) {
		return out
	}

	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < len(closes); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}
