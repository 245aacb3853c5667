package strategy

import (
	"fmt"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Variant names accepted by the factory
const (
	VariantMACrossover  = "ma_crossover"
	VariantRSIReversion = "rsi_reversion"
	VariantConsensus    = "multi_indicator_consensus"
	VariantEnsemble     = "random_weighted_ensemble"
)

// Sub-signal votes. Unavailable indicator values always vote 0, which
// contributes flat and never errors past the strategy boundary.
const (
	voteLong  = 1
	voteShort = -1
	voteFlat  = 0
)

// Period parameters must come from the sets the shared indicator cache
// precomputes; anything else would read as unavailable on every bar and
// the strategy would sit flat forever. Reject such specs at construction.
func checkSMAPeriods(periods ...int) error {
	for _, p := range periods {
		if !indicator.CoversSMA(p) {
			return fmt.Errorf("sma period %d is not precomputed (available: %v)", p, indicator.SMAPeriods)
		}
	}
	return nil
}

func checkRSIPeriod(period int) error {
	if !indicator.CoversRSI(period) {
		return fmt.Errorf("rsi period %d is not precomputed (available: %v)", period, indicator.RSIPeriods)
	}
	return nil
}

func maVote(snap indicator.Snapshot, fast, slow int) int {
	f, okF := snap.Value(indicator.SMAName(fast))
	s, okS := snap.Value(indicator.SMAName(slow))
	if !okF || !okS {
		return voteFlat
	}
	switch {
	case f > s:
		return voteLong
	case f < s:
		return voteShort
	}
	return voteFlat
}

func rsiVote(snap indicator.Snapshot, period int, oversold, overbought float64) int {
	v, ok := snap.Value(indicator.RSIName(period))
	if !ok {
		return voteFlat
	}
	switch {
	case v < oversold:
		return voteLong
	case v > overbought:
		return voteShort
	}
	return voteFlat
}

func macdVote(snap indicator.Snapshot) int {
	line, okL := snap.Value(indicator.MACDName)
	sig, okS := snap.Value(indicator.MACDSignalName)
	if !okL || !okS {
		return voteFlat
	}
	switch {
	case line > sig:
		return voteLong
	case line < sig:
		return voteShort
	}
	return voteFlat
}

func momentumVote(window []types.Bar, lookback int) int {
	n := len(window)
	if lookback <= 0 || n <= lookback {
		return voteFlat
	}
	cur := window[n-1].Close
	past := window[n-1-lookback].Close
	switch cur.Cmp(past) {
	case 1:
		return voteLong
	case -1:
		return voteShort
	}
	return voteFlat
}

func signalFromVote(v int) types.Signal {
	switch {
	case v > 0:
		return types.SignalLong
	case v < 0:
		return types.SignalShort
	}
	return types.SignalFlat
}

// MACrossover goes long while the fast moving average is above the slow
// one and short while it is below.
type MACrossover struct {
	Fast int
	Slow int
}

func newMACrossover(spec types.StrategySpec) (Strategy, error) {
	s := &MACrossover{
		Fast: intParam(spec, "fast", 10),
		Slow: intParam(spec, "slow", 50),
	}
	if s.Fast <= 0 || s.Slow <= 0 || s.Fast >= s.Slow {
		return nil, fmt.Errorf("ma_crossover requires 0 < fast < slow, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if err := checkSMAPeriods(s.Fast, s.Slow); err != nil {
		return nil, fmt.Errorf("ma_crossover: %w", err)
	}
	return s, nil
}

func (s *MACrossover) Name() string { return VariantMACrossover }
func (s *MACrossover) WarmUp() int  { return s.Slow }

func (s *MACrossover) GenerateSignal(window []types.Bar, snap indicator.Snapshot) types.Signal {
	return signalFromVote(maVote(snap, s.Fast, s.Slow))
}

// RSIReversion buys oversold and sells overbought readings
type RSIReversion struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func newRSIReversion(spec types.StrategySpec) (Strategy, error) {
	s := &RSIReversion{
		Period:     intParam(spec, "period", 14),
		Oversold:   floatParam(spec, "oversold", 30),
		Overbought: floatParam(spec, "overbought", 70),
	}
	if s.Period <= 0 {
		return nil, fmt.Errorf("rsi_reversion requires a positive period, got %d", s.Period)
	}
	if err := checkRSIPeriod(s.Period); err != nil {
		return nil, fmt.Errorf("rsi_reversion: %w", err)
	}
	if s.Oversold >= s.Overbought {
		return nil, fmt.Errorf("rsi_reversion requires oversold < overbought, got %.1f/%.1f", s.Oversold, s.Overbought)
	}
	return s, nil
}

func (s *RSIReversion) Name() string { return VariantRSIReversion }
func (s *RSIReversion) WarmUp() int  { return s.Period + 1 }

func (s *RSIReversion) GenerateSignal(window []types.Bar, snap indicator.Snapshot) types.Signal {
	return signalFromVote(rsiVote(snap, s.Period, s.Oversold, s.Overbought))
}

// Consensus computes several indicator-derived sub-signals and emits a
// direction only when at least MinAgreement of them agree on it.
type Consensus struct {
	MinAgreement int
	Fast         int
	Slow         int
	RSIPeriod    int
	Oversold     float64
	Overbought   float64
	Momentum     int
}

func newConsensus(spec types.StrategySpec) (Strategy, error) {
	s := &Consensus{
		MinAgreement: intParam(spec, "min_agreement", 3),
		Fast:         intParam(spec, "fast", 10),
		Slow:         intParam(spec, "slow", 50),
		RSIPeriod:    intParam(spec, "rsi_period", 14),
		Oversold:     floatParam(spec, "oversold", 35),
		Overbought:   floatParam(spec, "overbought", 65),
		Momentum:     intParam(spec, "momentum", 10),
	}
	if s.MinAgreement < 1 || s.MinAgreement > 4 {
		return nil, fmt.Errorf("consensus requires 1 <= min_agreement <= 4, got %d", s.MinAgreement)
	}
	if s.Fast <= 0 || s.Slow <= 0 || s.Fast >= s.Slow {
		return nil, fmt.Errorf("consensus requires 0 < fast < slow, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.RSIPeriod <= 0 || s.Momentum <= 0 {
		return nil, fmt.Errorf("consensus requires positive rsi_period and momentum")
	}
	if err := checkSMAPeriods(s.Fast, s.Slow); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	if err := checkRSIPeriod(s.RSIPeriod); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	return s, nil
}

func (s *Consensus) Name() string { return VariantConsensus }

func (s *Consensus) WarmUp() int {
	warm := s.Slow
	if s.RSIPeriod+1 > warm {
		warm = s.RSIPeriod + 1
	}
	if s.Momentum > warm {
		warm = s.Momentum
	}
	if macdWarm := indicator.MACDSlow + indicator.MACDSignal; macdWarm > warm {
		warm = macdWarm
	}
	return warm
}

func (s *Consensus) GenerateSignal(window []types.Bar, snap indicator.Snapshot) types.Signal {
	votes := []int{
		maVote(snap, s.Fast, s.Slow),
		rsiVote(snap, s.RSIPeriod, s.Oversold, s.Overbought),
		macdVote(snap),
		momentumVote(window, s.Momentum),
	}

	long, short := 0, 0
	for _, v := range votes {
		switch {
		case v > 0:
			long++
		case v < 0:
			short++
		}
	}

	switch {
	case long >= s.MinAgreement && long > short:
		return types.SignalLong
	case short >= s.MinAgreement && short > long:
		return types.SignalShort
	}
	return types.SignalFlat
}

// Ensemble scores the same sub-signals with randomly drawn weights and
// emits a direction when the normalized score clears the threshold.
type Ensemble struct {
	WeightMA       float64
	WeightRSI      float64
	WeightMACD     float64
	WeightMomentum float64
	Threshold      float64
	Fast           int
	Slow           int
	RSIPeriod      int
	Momentum       int
}

func newEnsemble(spec types.StrategySpec) (Strategy, error) {
	s := &Ensemble{
		WeightMA:       floatParam(spec, "w_ma", 1),
		WeightRSI:      floatParam(spec, "w_rsi", 1),
		WeightMACD:     floatParam(spec, "w_macd", 1),
		WeightMomentum: floatParam(spec, "w_momentum", 1),
		Threshold:      floatParam(spec, "threshold", 0.5),
		Fast:           intParam(spec, "fast", 10),
		Slow:           intParam(spec, "slow", 50),
		RSIPeriod:      intParam(spec, "rsi_period", 14),
		Momentum:       intParam(spec, "momentum", 10),
	}
	total := s.WeightMA + s.WeightRSI + s.WeightMACD + s.WeightMomentum
	if total <= 0 {
		return nil, fmt.Errorf("ensemble requires positive total weight, got %.3f", total)
	}
	if s.Threshold <= 0 || s.Threshold > 1 {
		return nil, fmt.Errorf("ensemble requires 0 < threshold <= 1, got %.3f", s.Threshold)
	}
	if s.Fast <= 0 || s.Slow <= 0 || s.Fast >= s.Slow {
		return nil, fmt.Errorf("ensemble requires 0 < fast < slow, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if err := checkSMAPeriods(s.Fast, s.Slow); err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	if err := checkRSIPeriod(s.RSIPeriod); err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}
	return s, nil
}

func (s *Ensemble) Name() string { return VariantEnsemble }

func (s *Ensemble) WarmUp() int {
	warm := s.Slow
	if s.RSIPeriod+1 > warm {
		warm = s.RSIPeriod + 1
	}
	if s.Momentum > warm {
		warm = s.Momentum
	}
	if macdWarm := indicator.MACDSlow + indicator.MACDSignal; macdWarm > warm {
		warm = macdWarm
	}
	return warm
}

func (s *Ensemble) GenerateSignal(window []types.Bar, snap indicator.Snapshot) types.Signal {
	total := s.WeightMA + s.WeightRSI + s.WeightMACD + s.WeightMomentum
	score := s.WeightMA*float64(maVote(snap, s.Fast, s.Slow)) +
		s.WeightRSI*float64(rsiVote(snap, s.RSIPeriod, 30, 70)) +
		s.WeightMACD*float64(macdVote(snap)) +
		s.WeightMomentum*float64(momentumVote(window, s.Momentum))
	score /= total

	switch {
	case score >= s.Threshold:
		return types.SignalLong
	case score <= -s.Threshold:
		return types.SignalShort
	}
	return types.SignalFlat
}
