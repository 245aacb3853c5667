package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperConfig configures the simulated venue
type PaperConfig struct {
	// Symbols the venue resolves; empty means resolve everything
	Symbols []string
	// FillLatency delays fills after submission
	FillLatency time.Duration
	// Tranches splits each order into partial fills by ratio; the
	// ratios must sum to 1. Empty means a single full fill.
	Tranches []float64
	// Halted suppresses fills entirely, leaving orders resting
	Halted bool
}

// Paper is an in-memory venue used for live sessions without a real
// broker connection and for lifecycle testing. All state is guarded by
// one mutex; fills are applied on timers after the configured latency.
type Paper struct {
	logger *zap.Logger
	cfg    PaperConfig

	mu        sync.Mutex
	offline   bool
	symbols   map[string]bool
	prices    map[string]decimal.Decimal
	positions map[string]PositionSnapshot
	fills     map[string][]Fill
	pending   map[string]types.OrderIntent
}

// NewPaper creates a simulated venue
func NewPaper(logger *zap.Logger, cfg PaperConfig) *Paper {
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = true
	}
	return &Paper{
		logger:    logger.Named("paper"),
		cfg:       cfg,
		symbols:   symbols,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]PositionSnapshot),
		fills:     make(map[string][]Fill),
		pending:   make(map[string]types.OrderIntent),
	}
}

// SetPrice sets the price the venue fills at for a symbol
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetOffline toggles connectivity. While offline every call fails with
// ErrUnavailable; already-scheduled fills still land.
func (p *Paper) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}

// SetHalted toggles fill suppression for subsequently submitted orders
func (p *Paper) SetHalted(halted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Halted = halted
}

func (p *Paper) Resolve(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return ErrUnavailable
	}
	if len(p.symbols) > 0 && !p.symbols[symbol] {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return nil
}

func (p *Paper) Submit(ctx context.Context, intent types.OrderIntent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return "", ErrUnavailable
	}
	if len(p.symbols) > 0 && !p.symbols[intent.Symbol] {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, intent.Symbol)
	}

	brokerID := uuid.New().String()
	p.pending[brokerID] = intent
	p.fills[brokerID] = nil

	if !p.cfg.Halted {
		p.scheduleFills(brokerID, intent)
	}

	p.logger.Debug("order accepted",
		zap.String("brokerId", brokerID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("quantity", intent.Quantity.String()),
	)
	return brokerID, nil
}

// scheduleFills queues tranche timers; caller holds the lock
func (p *Paper) scheduleFills(brokerID string, intent types.OrderIntent) {
	tranches := p.cfg.Tranches
	if len(tranches) == 0 {
		tranches = []float64{1}
	}
	delay := p.cfg.FillLatency
	for _, ratio := range tranches {
		qty := intent.Quantity.Mul(decimal.NewFromFloat(ratio))
		d := delay
		time.AfterFunc(d, func() {
			p.applyFill(brokerID, intent, qty)
		})
		// Tranches land in order, spaced by the latency
		delay += p.cfg.FillLatency
	}
}

func (p *Paper) applyFill(brokerID string, intent types.OrderIntent, qty decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[intent.Symbol]
	if !ok {
		p.logger.Warn("no price for symbol, dropping fill", zap.String("symbol", intent.Symbol))
		return
	}

	p.fills[brokerID] = append(p.fills[brokerID], Fill{
		BrokerID:  brokerID,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now(),
	})

	signed := qty
	if intent.Side == types.OrderSideSell {
		signed = qty.Neg()
	}
	pos := p.positions[intent.Symbol]
	pos.Quantity = pos.Quantity.Add(signed)
	pos.CostBasis = pos.CostBasis.Add(signed.Mul(price))
	if pos.Quantity.IsZero() {
		delete(p.positions, intent.Symbol)
	} else {
		p.positions[intent.Symbol] = pos
	}
}

func (p *Paper) Positions(ctx context.Context) (map[string]PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return nil, ErrUnavailable
	}
	out := make(map[string]PositionSnapshot, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos
	}
	return out, nil
}

func (p *Paper) Executions(ctx context.Context, brokerID string) ([]Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return nil, ErrUnavailable
	}
	if _, ok := p.pending[brokerID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, brokerID)
	}
	out := make([]Fill, len(p.fills[brokerID]))
	copy(out, p.fills[brokerID])
	return out, nil
}
