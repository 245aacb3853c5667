package data

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrSourceExhausted is returned when a replay source runs out of bars
var ErrSourceExhausted = errors.New("price source exhausted")

// LiveSource feeds a session one bar per poll
type LiveSource interface {
	// PollLatest returns the next available bar for the symbol
	PollLatest(ctx context.Context, symbol string) (types.Bar, error)
}

// ReplaySource replays a fixed series in order, then reports
// exhaustion. Useful for paper sessions over historical data.
type ReplaySource struct {
	mu   sync.Mutex
	bars []types.Bar
	next int
}

// NewReplaySource creates a source over an in-memory series
func NewReplaySource(bars []types.Bar) *ReplaySource {
	return &ReplaySource{bars: bars}
}

func (r *ReplaySource) PollLatest(ctx context.Context, symbol string) (types.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.bars) {
		return types.Bar{}, ErrSourceExhausted
	}
	bar := r.bars[r.next]
	r.next++
	return bar, nil
}

// Reset rewinds the replay to the beginning
func (r *ReplaySource) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
}

// WalkSource produces an endless seeded random walk, one bar per poll.
// Used to drive paper sessions when no historical feed is wired.
type WalkSource struct {
	mu       sync.Mutex
	rng      *rand.Rand
	price    float64
	interval time.Duration
	ts       time.Time
}

// NewWalkSource creates a walk source starting at startPrice
func NewWalkSource(startPrice float64, interval time.Duration, seed int64) *WalkSource {
	return &WalkSource{
		rng:      rand.New(rand.NewSource(seed)),
		price:    startPrice,
		interval: interval,
		ts:       time.Now().Truncate(interval),
	}
}

func (w *WalkSource) PollLatest(ctx context.Context, symbol string) (types.Bar, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	open := decimal.NewFromFloat(w.price)
	w.price *= 1 + (w.rng.Float64()-0.5)*0.02
	if w.price < 0.01 {
		w.price = 0.01
	}
	close := decimal.NewFromFloat(w.price)

	bar := types.Bar{
		Timestamp: w.ts,
		Open:      open,
		High:      decimal.Max(open, close),
		Low:       decimal.Min(open, close),
		Close:     close,
		Volume:    decimal.NewFromFloat(w.rng.Float64() * 1000000),
	}
	w.ts = w.ts.Add(w.interval)
	return bar, nil
}
