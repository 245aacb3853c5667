// Package simulator replays a price series against one strategy,
// maintaining a single open position and a trade ledger.
package simulator

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var one = decimal.NewFromInt(1)

// Simulator evaluates strategies bar-by-bar. One instance may run many
// simulations; each Run carries its own state on the stack.
type Simulator struct {
	logger *zap.Logger
}

// New creates a simulator
func New(logger *zap.Logger) *Simulator {
	return &Simulator{logger: logger.Named("simulator")}
}

// Run replays bars against the strategy. The cache may be shared across
// parallel runs; pass nil to build one for this series. Evaluation starts
// after the strategy's warm-up window; equity is recorded once per
// evaluated bar whether or not a transition occurred.
func (s *Simulator) Run(bars []types.Bar, strat strategy.Strategy, cache *indicator.Cache, cfg types.SimulationConfig) (*types.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	if strat == nil {
		return nil, fmt.Errorf("nil strategy")
	}
	if cache == nil {
		cache = indicator.Build(bars)
	} else if cache.Len() != len(bars) {
		return nil, fmt.Errorf("cache covers %d bars, series has %d", cache.Len(), len(bars))
	}

	started := time.Now()
	st := runState{
		cash:       cfg.InitialCapital,
		commission: cfg.CommissionRate,
	}

	warmup := strat.WarmUp()
	for i := warmup; i < len(bars); i++ {
		bar := bars[i]
		sig := strat.GenerateSignal(bars[:i+1], cache.At(i))
		st.apply(sig, bar, cfg.AllowShort)
		st.equity = append(st.equity, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    st.markToMarket(bar.Close),
		})
	}

	result := &types.BacktestResult{
		ID: uuid.New().String(),
		Spec: types.StrategySpec{
			Variant: strat.Name(),
		},
		Config:      cfg,
		EquityCurve: st.equity,
		Trades:      st.trades,
		Metrics:     CalculateMetrics(st.trades, st.equity, cfg.InitialCapital),
		StartedAt:   started,
		Duration:    time.Since(started),
	}

	s.logger.Debug("simulation complete",
		zap.String("strategy", strat.Name()),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(st.trades)),
		zap.String("totalReturn", result.Metrics.TotalReturn.String()),
	)

	return result, nil
}

// RunSpec builds the strategy from its spec and runs it, recording the
// full spec on the result.
func (s *Simulator) RunSpec(bars []types.Bar, spec types.StrategySpec, cache *indicator.Cache, cfg types.SimulationConfig) (*types.BacktestResult, error) {
	strat, err := strategy.New(spec)
	if err != nil {
		return nil, err
	}
	result, err := s.Run(bars, strat, cache, cfg)
	if err != nil {
		return nil, err
	}
	result.Spec = spec
	return result, nil
}

// runState is the mutable state of one simulation run
type runState struct {
	cash       decimal.Decimal
	commission decimal.Decimal
	pos        types.SimulatedPosition
	trades     []types.Trade
	equity     []types.EquityPoint
}

// apply advances the position state machine by one signal. Positions
// never overlap: a close completes before any reversal opens.
func (st *runState) apply(sig types.Signal, bar types.Bar, allowShort bool) {
	price := bar.Close
	ts := bar.Timestamp

	switch st.pos.Side {
	case types.PositionSideLong:
		if sig == types.SignalShort || sig == types.SignalFlat {
			st.closeLong(price, ts)
			if sig == types.SignalShort && allowShort {
				st.openShort(price, ts)
			}
		}
	case types.PositionSideShort:
		if sig == types.SignalLong || sig == types.SignalFlat {
			st.coverShort(price, ts)
			if sig == types.SignalLong {
				st.openLong(price, ts)
			}
		}
	default:
		switch sig {
		case types.SignalLong:
			st.openLong(price, ts)
		case types.SignalShort:
			if allowShort {
				st.openShort(price, ts)
			}
		}
	}
}

func (st *runState) openLong(price decimal.Decimal, ts time.Time) {
	if !price.IsPositive() {
		return
	}
	unit := price.Mul(one.Add(st.commission))
	qty := st.cash.Div(unit).Floor()
	if !qty.IsPositive() {
		return
	}
	st.cash = st.cash.Sub(qty.Mul(unit))
	st.pos = types.SimulatedPosition{
		Side:       types.PositionSideLong,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  ts,
	}
}

func (st *runState) openShort(price decimal.Decimal, ts time.Time) {
	if !price.IsPositive() {
		return
	}
	qty := st.cash.Div(price).Floor()
	if !qty.IsPositive() {
		return
	}
	st.cash = st.cash.Add(qty.Mul(price).Mul(one.Sub(st.commission)))
	st.pos = types.SimulatedPosition{
		Side:       types.PositionSideShort,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  ts,
	}
}

func (st *runState) closeLong(price decimal.Decimal, ts time.Time) {
	qty := st.pos.Quantity
	entryCommission := st.pos.EntryPrice.Mul(qty).Mul(st.commission)
	exitCommission := price.Mul(qty).Mul(st.commission)
	proceeds := price.Mul(qty).Sub(exitCommission)
	cost := st.pos.EntryPrice.Mul(qty).Add(entryCommission)

	st.cash = st.cash.Add(proceeds)
	st.trades = append(st.trades, types.Trade{
		OpenTime:        st.pos.EntryTime,
		CloseTime:       ts,
		Side:            types.PositionSideLong,
		EntryPrice:      st.pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        qty,
		EntryCommission: entryCommission,
		ExitCommission:  exitCommission,
		NetPnL:          proceeds.Sub(cost),
	})
	st.pos = types.SimulatedPosition{Side: types.PositionSideFlat}
}

func (st *runState) coverShort(price decimal.Decimal, ts time.Time) {
	qty := st.pos.Quantity
	entryCommission := st.pos.EntryPrice.Mul(qty).Mul(st.commission)
	exitCommission := price.Mul(qty).Mul(st.commission)
	credit := st.pos.EntryPrice.Mul(qty).Sub(entryCommission)
	debit := price.Mul(qty).Add(exitCommission)

	st.cash = st.cash.Sub(debit)
	st.trades = append(st.trades, types.Trade{
		OpenTime:        st.pos.EntryTime,
		CloseTime:       ts,
		Side:            types.PositionSideShort,
		EntryPrice:      st.pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        qty,
		EntryCommission: entryCommission,
		ExitCommission:  exitCommission,
		NetPnL:          credit.Sub(debit),
	})
	st.pos = types.SimulatedPosition{Side: types.PositionSideFlat}
}

// markToMarket values open inventory at the given price. A short position
// carries its buy-back liability since entry proceeds already sit in cash.
func (st *runState) markToMarket(price decimal.Decimal) decimal.Decimal {
	switch st.pos.Side {
	case types.PositionSideLong:
		return st.cash.Add(st.pos.Quantity.Mul(price))
	case types.PositionSideShort:
		return st.cash.Sub(st.pos.Quantity.Mul(price))
	}
	return st.cash
}
