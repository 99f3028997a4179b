// Package position maintains per-trader per-coin net position state and
// classifies how each fill changes it.
package position

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpscope/engine/internal/store"
)

type partitionKey struct {
	trader string
	coin   string
}

// Tracker folds canonical fills into PositionState rows, one per
// (trader, coin) pair, and emits a PositionDelta per fill.
//
// Fills should arrive in non-decreasing timestamp order per partition.
// Out-of-order fills still update the arithmetic correctly (signed sums are
// order-independent); only the classification may be reported against a
// stale baseline.
type Tracker struct {
	mu     sync.RWMutex
	states map[partitionKey]*store.PositionState
}

func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[partitionKey]*store.PositionState),
	}
}

// Apply folds one fill into the trader's position and returns the resulting
// delta. The PositionState row is updated in place; rows are never deleted,
// only zeroed when a position closes.
func (t *Tracker) Apply(fill store.Fill) store.PositionDelta {
	key := partitionKey{trader: fill.Trader, coin: fill.Coin}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		state = &store.PositionState{
			Trader:   fill.Trader,
			Coin:     fill.Coin,
			Size:     decimal.Zero,
			Notional: decimal.Zero,
		}
		t.states[key] = state
	}

	prevSize := state.Size
	prevNotional := state.Notional
	newSize := prevSize.Add(fill.Size)
	newNotional := newSize.Mul(fill.Price).Abs()

	classification := classify(prevSize, newSize)
	if fill.Liquidation {
		classification = store.DeltaLiquidated
	}

	state.Size = newSize
	state.Notional = newNotional
	state.UpdatedAt = fill.Timestamp

	return store.PositionDelta{
		Trader:         fill.Trader,
		Coin:           fill.Coin,
		Classification: classification,
		PrevSize:       prevSize,
		NewSize:        newSize,
		PrevNotional:   prevNotional,
		NewNotional:    newNotional,
		Price:          fill.Price,
		Notional:       fill.Notional,
		Timestamp:      fill.Timestamp,
	}
}

// State returns a copy of the current position for one (trader, coin) pair,
// or false if the trader has never traded the coin.
func (t *Tracker) State(trader, coin string) (store.PositionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[partitionKey{trader: trader, coin: coin}]
	if !ok {
		return store.PositionState{}, false
	}
	return *state, true
}

// classify maps the sign transition (prev, next) onto a delta classification.
func classify(prev, next decimal.Decimal) string {
	switch {
	case prev.IsZero() && next.IsPositive():
		return store.DeltaNewLong
	case prev.IsZero() && next.IsNegative():
		return store.DeltaNewShort
	case next.IsZero() && prev.IsPositive():
		return store.DeltaCloseLong
	case next.IsZero() && prev.IsNegative():
		return store.DeltaCloseShort
	case prev.IsPositive() && next.IsNegative():
		return store.DeltaFlipLongShort
	case prev.IsNegative() && next.IsPositive():
		return store.DeltaFlipShortLong
	case prev.IsPositive():
		if next.GreaterThan(prev) {
			return store.DeltaIncreaseLong
		}
		return store.DeltaDecreaseLong
	default:
		if next.LessThan(prev) {
			return store.DeltaIncreaseShort
		}
		return store.DeltaDecreaseShort
	}
}
