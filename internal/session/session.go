// Package session runs the live trading loop: it buffers incoming
// bars, evaluates a strategy, and turns signals into orders while
// mirroring the broker's position state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/broker"
	"github.com/atlas-desktop/strategy-engine/internal/data"
	"github.com/atlas-desktop/strategy-engine/internal/execution"
	"github.com/atlas-desktop/strategy-engine/internal/indicator"
	"github.com/atlas-desktop/strategy-engine/internal/metrics"
	"github.com/atlas-desktop/strategy-engine/internal/strategy"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// Session drives live trading for one symbol. It is the single writer
// of the position mirror and holds at most one outstanding order at a
// time. All state is mutated only from the Run loop goroutine;
// Snapshot copies it out under the mutex for observers.
type Session struct {
	logger  *zap.Logger
	cfg     types.SessionConfig
	strat   strategy.Strategy
	coord   *execution.Coordinator
	gateway broker.Gateway
	source  data.LiveSource
	metrics *metrics.Metrics

	mu     sync.RWMutex
	buffer []types.Bar
	mirror types.PositionMirror
	active string // local id of the outstanding order, empty if none
}

// Snapshot is an observer's view of session state
type Snapshot struct {
	Symbol      string               `json:"symbol"`
	BufferLen   int                  `json:"bufferLen"`
	Mirror      types.PositionMirror `json:"mirror"`
	ActiveOrder string               `json:"activeOrder,omitempty"`
}

// New creates a session
func New(logger *zap.Logger, cfg types.SessionConfig, strat strategy.Strategy, coord *execution.Coordinator, gateway broker.Gateway, source data.LiveSource) (*Session, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if cfg.BufferSize <= strat.WarmUp() {
		return nil, fmt.Errorf("buffer size %d must exceed strategy warm-up %d", cfg.BufferSize, strat.WarmUp())
	}
	if !cfg.OrderQty.IsPositive() {
		return nil, fmt.Errorf("order quantity must be positive, got %s", cfg.OrderQty)
	}
	return &Session{
		logger:  logger.Named("session").With(zap.String("symbol", cfg.Symbol)),
		cfg:     cfg,
		strat:   strat,
		coord:   coord,
		gateway: gateway,
		source:  source,
		buffer:  make([]types.Bar, 0, cfg.BufferSize),
	}, nil
}

// SetMetrics attaches instrumentation; call before Run
func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run polls the price source until the context is cancelled or the
// source is exhausted. Each poll appends one bar to the bounded buffer
// and, when no order is outstanding, evaluates the strategy against
// the buffered window.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		s.logger.Warn("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.step(ctx); err != nil {
				if errors.Is(err, data.ErrSourceExhausted) {
					s.logger.Info("price source exhausted, session complete")
					return nil
				}
				s.logger.Warn("session step failed", zap.Error(err))
			}
		}
	}
}

// step handles one poll cycle
func (s *Session) step(ctx context.Context) error {
	bar, err := s.source.PollLatest(ctx, s.cfg.Symbol)
	if err != nil {
		return err
	}
	s.push(bar)

	// An outstanding order suppresses new signals until it resolves
	if localID := s.activeOrder(); localID != "" {
		order, err := s.coord.GetOrderStatus(localID)
		if err != nil {
			s.clearActive()
			return err
		}
		if !order.Status.Terminal() {
			return nil
		}
		s.clearActive()
		if order.Status == types.OrderStatusFilled || order.Status == types.OrderStatusUnknown {
			if err := s.Reconcile(ctx); err != nil {
				return fmt.Errorf("post-order reconciliation: %w", err)
			}
		}
	}

	window := s.window()
	if len(window) <= s.strat.WarmUp() {
		return nil
	}

	cache := indicator.Build(window)
	sig := s.strat.GenerateSignal(window, cache.At(len(window)-1))
	if s.metrics != nil {
		s.metrics.SessionSignals.WithLabelValues(string(sig)).Inc()
	}
	intent, ok := s.intentFor(sig)
	if !ok {
		return nil
	}

	order, err := s.coord.CreateOrder(ctx, intent)
	if err != nil {
		return fmt.Errorf("order rejected: %w", err)
	}
	s.setActive(order.LocalID)
	s.logger.Info("signal acted on",
		zap.String("signal", string(sig)),
		zap.String("side", string(intent.Side)),
		zap.String("quantity", intent.Quantity.String()),
		zap.String("localId", order.LocalID),
	)
	return nil
}

// intentFor maps a signal against the current mirror to at most one
// order. Reversals take two cycles: close first, then open once flat.
func (s *Session) intentFor(sig types.Signal) (types.OrderIntent, bool) {
	s.mu.RLock()
	mirror := s.mirror
	s.mu.RUnlock()

	intent := types.OrderIntent{Symbol: s.cfg.Symbol, Kind: types.OrderKindMarket}

	switch sig {
	case types.SignalLong:
		switch mirror.Side {
		case types.PositionSideShort:
			intent.Side = types.OrderSideBuy
			intent.Quantity = mirror.Quantity
		case types.PositionSideFlat:
			intent.Side = types.OrderSideBuy
			intent.Quantity = s.cfg.OrderQty
		default:
			return intent, false
		}
	case types.SignalShort:
		switch mirror.Side {
		case types.PositionSideLong:
			intent.Side = types.OrderSideSell
			intent.Quantity = mirror.Quantity
		case types.PositionSideFlat:
			if !s.cfg.AllowShort {
				return intent, false
			}
			intent.Side = types.OrderSideSell
			intent.Quantity = s.cfg.OrderQty
		default:
			return intent, false
		}
	default: // FLAT closes whatever is open
		switch mirror.Side {
		case types.PositionSideLong:
			intent.Side = types.OrderSideSell
			intent.Quantity = mirror.Quantity
		case types.PositionSideShort:
			intent.Side = types.OrderSideBuy
			intent.Quantity = mirror.Quantity
		default:
			return intent, false
		}
	}
	return intent, true
}

// Reconcile replaces the mirror with broker truth. The write is a
// compare-and-set against the fetched snapshot, so repeated calls with
// an unchanged broker state are no-ops.
func (s *Session) Reconcile(ctx context.Context) error {
	positions, err := s.gateway.Positions(ctx)
	if err != nil {
		return fmt.Errorf("position fetch: %w", err)
	}

	side := types.PositionSideFlat
	qty := positions[s.cfg.Symbol].Quantity
	switch {
	case qty.IsPositive():
		side = types.PositionSideLong
	case qty.IsNegative():
		side = types.PositionSideShort
		qty = qty.Neg()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirror.Side == side && s.mirror.Quantity.Equal(qty) {
		return nil
	}
	s.logger.Info("position mirror updated",
		zap.String("side", string(side)),
		zap.String("quantity", qty.String()),
	)
	s.mirror = types.PositionMirror{Side: side, Quantity: qty, UpdatedAt: time.Now()}
	return nil
}

// Snapshot returns an observer's copy of session state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Symbol:      s.cfg.Symbol,
		BufferLen:   len(s.buffer),
		Mirror:      s.mirror,
		ActiveOrder: s.active,
	}
}

// Mirror returns the current position mirror
func (s *Session) Mirror() types.PositionMirror {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror
}

func (s *Session) push(bar types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == s.cfg.BufferSize {
		copy(s.buffer, s.buffer[1:])
		s.buffer = s.buffer[:len(s.buffer)-1]
	}
	s.buffer = append(s.buffer, bar)
}

func (s *Session) window() []types.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Bar, len(s.buffer))
	copy(out, s.buffer)
	return out
}

func (s *Session) activeOrder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) setActive(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = localID
}

func (s *Session) clearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
}
