// Package broker abstracts the venue-facing surface the order lifecycle
// depends on: symbol resolution, order submission, account positions,
// and per-order execution records.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol is returned by Resolve for symbols the venue
	// does not recognize.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrUnavailable indicates a connectivity failure; callers should
	// treat the venue state as unobservable, not as absent.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrUnknownOrder is returned for execution queries on broker ids
	// the venue has no record of.
	ErrUnknownOrder = errors.New("unknown order")
)

// PositionSnapshot is one account position as the venue reports it.
// Quantity is signed: negative for short. CostBasis is the signed
// total cost of the open quantity, from which an average fill price
// can be recovered as CostBasis / Quantity.
type PositionSnapshot struct {
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"costBasis"`
}

// Fill is a single execution record for a submitted order
type Fill struct {
	BrokerID  string          `json:"brokerId"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Gateway is the venue connection. Submit is fire-and-forget: it
// returns the venue's order id without waiting for fills, which the
// lifecycle coordinator reconciles afterwards from Positions and
// Executions.
type Gateway interface {
	// Resolve validates that the venue trades the symbol
	Resolve(ctx context.Context, symbol string) error

	// Submit places the order and returns the broker-assigned id
	Submit(ctx context.Context, intent types.OrderIntent) (string, error)

	// Positions returns the account's open positions keyed by symbol
	Positions(ctx context.Context) (map[string]PositionSnapshot, error)

	// Executions returns the fills recorded so far for a broker id
	Executions(ctx context.Context, brokerID string) ([]Fill, error)
}
