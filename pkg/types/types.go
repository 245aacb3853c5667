// Package types provides shared type definitions for the strategy engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is the output of a strategy evaluation
type Signal string

const (
	SignalLong  Signal = "long"
	SignalShort Signal = "short"
	SignalFlat  Signal = "flat"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind represents the kind of order sent to the broker
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus represents the status of a live order
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusUnknown         OrderStatus = "unknown"
)

// Terminal reports whether no further status transition may occur
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusUnknown:
		return true
	}
	return false
}

// PositionSide represents the side of an open position
type PositionSide string

const (
	PositionSideFlat  PositionSide = "flat"
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Bar represents a single OHLCV candlestick
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// SimulatedPosition is the single open position of a simulation run.
// Side != flat implies Quantity > 0 and EntryPrice > 0.
type SimulatedPosition struct {
	Side       PositionSide    `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	EntryTime  time.Time       `json:"entryTime"`
}

// Open reports whether the position holds inventory
func (p SimulatedPosition) Open() bool {
	return p.Side != PositionSideFlat && p.Side != ""
}

// Trade represents a fully closed round trip. Commission is charged on
// both legs independently and NetPnL has both already applied.
type Trade struct {
	OpenTime        time.Time       `json:"openTime"`
	CloseTime       time.Time       `json:"closeTime"`
	Side            PositionSide    `json:"side"`
	EntryPrice      decimal.Decimal `json:"entryPrice"`
	ExitPrice       decimal.Decimal `json:"exitPrice"`
	Quantity        decimal.Decimal `json:"quantity"`
	EntryCommission decimal.Decimal `json:"entryCommission"`
	ExitCommission  decimal.Decimal `json:"exitCommission"`
	NetPnL          decimal.Decimal `json:"netPnl"`
}

// EquityPoint is one mark-to-market sample of the equity curve
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// SummaryMetrics aggregates the performance of one simulation run
type SummaryMetrics struct {
	TotalReturn  decimal.Decimal `json:"totalReturn"`
	WinRate      decimal.Decimal `json:"winRate"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	AvgWin       decimal.Decimal `json:"avgWin"`
	AvgLoss      decimal.Decimal `json:"avgLoss"`
	LargestWin   decimal.Decimal `json:"largestWin"`
	LargestLoss  decimal.Decimal `json:"largestLoss"`
	Expectancy   decimal.Decimal `json:"expectancy"`
	TradeCount   int             `json:"tradeCount"`
	WinningCount int             `json:"winningCount"`
	LosingCount  int             `json:"losingCount"`
}

// StrategySpec names a strategy variant plus its parameter record.
// Specs are immutable after creation and are what the optimizer draws.
type StrategySpec struct {
	Variant string             `json:"variant"`
	Params  map[string]float64 `json:"params"`
}

// OrderIntent is a validated request to place a live order
type OrderIntent struct {
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Kind     OrderKind       `json:"kind"`
}

// BrokerOrder tracks a live order through its lifecycle. BrokerID is
// assigned only by the broker submission call, never predicted locally.
type BrokerOrder struct {
	LocalID        string          `json:"localId"`
	BrokerID       string          `json:"brokerId"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Kind           OrderKind       `json:"kind"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	AvgFillPrice   decimal.Decimal `json:"avgFillPrice"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PositionMirror is a session's view of broker truth for one symbol.
// It is replaced wholesale from position snapshots, never accumulated
// from local deltas.
type PositionMirror struct {
	Side      PositionSide    `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
