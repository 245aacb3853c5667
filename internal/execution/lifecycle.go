// Package execution tracks live orders from submission to a terminal
// state, reconciling fills against broker-reported positions with a
// fallback to execution records.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/broker"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrOrderNotFound is returned for lookups of unknown local ids
var ErrOrderNotFound = errors.New("order not found")

// Coordinator owns the order state machine. Each submitted order is
// tracked by exactly one monitoring goroutine; all status writes after
// submission go through that goroutine, so transitions stay monotonic
// without per-order locking beyond the registry mutex.
type Coordinator struct {
	logger  *zap.Logger
	gateway broker.Gateway
	cfg     types.MonitorConfig

	mu     sync.RWMutex
	orders map[string]*types.BrokerOrder

	updates chan types.BrokerOrder

	ctx      context.Context
	cancel   context.CancelFunc
	monitors sync.WaitGroup
}

// NewCoordinator creates an order-lifecycle coordinator
func NewCoordinator(logger *zap.Logger, gateway broker.Gateway, cfg types.MonitorConfig) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:  logger.Named("execution"),
		gateway: gateway,
		cfg:     cfg,
		orders:  make(map[string]*types.BrokerOrder),
		updates: make(chan types.BrokerOrder, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Updates streams status-change events. Events are dropped rather than
// blocking a monitor when no one is consuming.
func (c *Coordinator) Updates() <-chan types.BrokerOrder {
	return c.updates
}

// CreateOrder validates the intent, submits it, and returns immediately
// with status SUBMITTED; fill detection happens on a background monitor
// after the settle delay. Validation and submission failures reject the
// order synchronously.
func (c *Coordinator) CreateOrder(ctx context.Context, intent types.OrderIntent) (types.BrokerOrder, error) {
	localID := uuid.New().String()
	now := time.Now()
	order := types.BrokerOrder{
		LocalID:   localID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Kind:      intent.Kind,
		Status:    types.OrderStatusRejected,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := validateIntent(intent); err != nil {
		c.store(order)
		return order, err
	}
	if err := c.gateway.Resolve(ctx, intent.Symbol); err != nil {
		c.store(order)
		return order, fmt.Errorf("symbol %s not resolvable: %w", intent.Symbol, err)
	}

	// Pre-order snapshot for position reconciliation. Best effort: if
	// the venue is unreachable here the monitor falls back to
	// execution records only.
	preSnapshot, err := c.gateway.Positions(ctx)
	if err != nil {
		c.logger.Warn("pre-order position snapshot unavailable",
			zap.String("localId", localID), zap.Error(err))
		preSnapshot = nil
	}

	brokerID, err := c.gateway.Submit(ctx, intent)
	if err != nil {
		c.store(order)
		return order, fmt.Errorf("submission failed: %w", err)
	}

	order.BrokerID = brokerID
	order.Status = types.OrderStatusSubmitted
	order.UpdatedAt = time.Now()
	c.store(order)

	c.monitors.Add(1)
	go c.monitor(localID, brokerID, intent, preSnapshot)

	c.logger.Info("order submitted",
		zap.String("localId", localID),
		zap.String("brokerId", brokerID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("quantity", intent.Quantity.String()),
	)
	return order, nil
}

// GetOrderStatus returns the current state of an order by local id
func (c *Coordinator) GetOrderStatus(localID string) (types.BrokerOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, ok := c.orders[localID]
	if !ok {
		return types.BrokerOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, localID)
	}
	return *order, nil
}

// Orders returns a snapshot of every tracked order
func (c *Coordinator) Orders() []types.BrokerOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.BrokerOrder, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, *o)
	}
	return out
}

// Cancel marks a still-pending order CANCELLED. Fills already detected
// win: terminal orders are left untouched.
func (c *Coordinator) Cancel(localID string) (types.BrokerOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[localID]
	if !ok {
		return types.BrokerOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, localID)
	}
	if !order.Status.Terminal() {
		order.Status = types.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		c.emit(*order)
	}
	return *order, nil
}

// Stop halts all monitors and waits for them to exit
func (c *Coordinator) Stop() {
	c.cancel()
	c.monitors.Wait()
}

// monitor owns the order's status after submission. It waits out the
// settle delay, then alternates position reconciliation and the
// execution-record fallback until the order confirms, the check budget
// runs out (order stays SUBMITTED), or connectivity loss exceeds its
// bound (order becomes UNKNOWN).
func (c *Coordinator) monitor(localID, brokerID string, intent types.OrderIntent, preSnapshot map[string]broker.PositionSnapshot) {
	defer c.monitors.Done()

	logger := c.logger.With(zap.String("localId", localID), zap.String("brokerId", brokerID))

	if !c.sleep(c.cfg.SettleDelay) {
		return
	}

	connectivityFails := 0
	for check := 0; check < c.cfg.MaxFillChecks; check++ {
		if c.done(localID) {
			return
		}

		confirmed, connErr := c.checkOnce(localID, brokerID, intent, preSnapshot, logger)
		if confirmed {
			return
		}
		if connErr {
			connectivityFails++
			if connectivityFails >= c.cfg.MaxConnectivityFails {
				logger.Error("broker unreachable during monitoring, marking order unknown",
					zap.Int("attempts", connectivityFails))
				c.transition(localID, func(o *types.BrokerOrder) {
					o.Status = types.OrderStatusUnknown
				})
				return
			}
		} else {
			connectivityFails = 0
		}

		if !c.sleep(c.cfg.RetryInterval) {
			return
		}
	}

	// Budget exhausted without confirmation: a normal pending state,
	// not an error.
	logger.Info("fill not confirmed within check budget, order remains pending")
}

// checkOnce runs one fill-detection pass. It reports whether the order
// reached a terminal confirmation and whether the pass failed on
// connectivity (as opposed to simply not confirming).
func (c *Coordinator) checkOnce(localID, brokerID string, intent types.OrderIntent, preSnapshot map[string]broker.PositionSnapshot, logger *zap.Logger) (confirmed, connErr bool) {
	expected := signedQuantity(intent)

	// Position reconciliation first: compare broker truth against the
	// pre-order snapshot.
	if preSnapshot != nil {
		current, err := c.gateway.Positions(c.ctx)
		if err != nil {
			logger.Warn("position snapshot failed", zap.Error(err))
			return false, true
		}
		deltaQty := current[intent.Symbol].Quantity.Sub(preSnapshot[intent.Symbol].Quantity)
		if deltaQty.Sub(expected).Abs().LessThanOrEqual(c.cfg.QuantityTolerance) && !deltaQty.IsZero() {
			deltaCost := current[intent.Symbol].CostBasis.Sub(preSnapshot[intent.Symbol].CostBasis)
			avgPrice := deltaCost.Div(deltaQty)
			c.transition(localID, func(o *types.BrokerOrder) {
				o.Status = types.OrderStatusFilled
				o.FilledQuantity = deltaQty.Abs()
				o.AvgFillPrice = avgPrice
			})
			logger.Info("fill confirmed via position reconciliation",
				zap.String("quantity", deltaQty.Abs().String()),
				zap.String("avgPrice", avgPrice.String()),
			)
			return true, false
		}
	}

	// Execution-record fallback
	fills, err := c.gateway.Executions(c.ctx, brokerID)
	if err != nil {
		if errors.Is(err, broker.ErrUnknownOrder) {
			return false, false
		}
		logger.Warn("execution lookup failed", zap.Error(err))
		return false, true
	}

	filledQty, vwap := aggregateFills(fills)
	if filledQty.IsZero() {
		return false, false
	}

	if intent.Quantity.Sub(filledQty).Abs().LessThanOrEqual(c.cfg.QuantityTolerance) {
		c.transition(localID, func(o *types.BrokerOrder) {
			o.Status = types.OrderStatusFilled
			o.FilledQuantity = filledQty
			o.AvgFillPrice = vwap
		})
		logger.Info("fill confirmed via execution records",
			zap.String("quantity", filledQty.String()),
			zap.String("avgPrice", vwap.String()),
		)
		return true, false
	}

	// Partial fill: record progress and keep checking
	c.transition(localID, func(o *types.BrokerOrder) {
		o.Status = types.OrderStatusPartiallyFilled
		o.FilledQuantity = filledQty
		o.AvgFillPrice = vwap
	})
	return false, false
}

// transition applies a status write unless the order is already
// terminal. Only the owning monitor (or Cancel) reaches here.
func (c *Coordinator) transition(localID string, apply func(*types.BrokerOrder)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[localID]
	if !ok || order.Status.Terminal() {
		return
	}
	apply(order)
	order.UpdatedAt = time.Now()
	c.emit(*order)
}

// done reports whether the order no longer needs monitoring
func (c *Coordinator) done(localID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, ok := c.orders[localID]
	return !ok || order.Status.Terminal()
}

func (c *Coordinator) store(order types.BrokerOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := order
	c.orders[order.LocalID] = &o
}

// emit publishes a status change; caller holds the lock
func (c *Coordinator) emit(order types.BrokerOrder) {
	select {
	case c.updates <- order:
	default:
	}
}

// sleep waits interruptibly; false means the coordinator is stopping
func (c *Coordinator) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func validateIntent(intent types.OrderIntent) error {
	if intent.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !intent.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", intent.Quantity)
	}
	if intent.Side != types.OrderSideBuy && intent.Side != types.OrderSideSell {
		return fmt.Errorf("invalid side %q", intent.Side)
	}
	return nil
}

func signedQuantity(intent types.OrderIntent) decimal.Decimal {
	if intent.Side == types.OrderSideSell {
		return intent.Quantity.Neg()
	}
	return intent.Quantity
}

func aggregateFills(fills []broker.Fill) (decimal.Decimal, decimal.Decimal) {
	qty := decimal.Zero
	volume := decimal.Zero
	for _, f := range fills {
		qty = qty.Add(f.Quantity)
		volume = volume.Add(f.Quantity.Mul(f.Price))
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return qty, volume.Div(qty)
}
