// Package store provides data models and database operations.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill represents one canonical executed trade leg for one trader on one
// coin. Produced by the ingest normalizer; immutable once created.
type Fill struct {
	// ID is a unique identifier for this fill record
	ID string

	// Trader is the wallet address that executed the fill
	Trader string

	// Coin is the perp symbol (e.g. "BTC")
	Coin string

	// Price is the execution price
	Price decimal.Decimal

	// Size is the signed fill size: buys positive, sells negative
	Size decimal.Decimal

	// Side is "buy" or "sell"
	Side string

	// Notional is |price * size|
	Notional decimal.Decimal

	// Fee charged for this fill
	Fee decimal.Decimal

	// ClosedPnL is the realized PnL attributed to this fill
	ClosedPnL decimal.Decimal

	// Direction is the venue's free-text direction hint
	// (e.g. "Open Long", "Close Short"); empty when absent
	Direction string

	// Liquidation marks a forced fill
	Liquidation bool

	// Timestamp is when the fill executed
	Timestamp time.Time

	// TxHash is the on-chain transaction hash (if available)
	TxHash string
}

// PositionState is the current net position of one trader in one coin.
// Size is the running signed sum of all fill sizes since the position was
// last flat; crossing zero closes the lifecycle.
type PositionState struct {
	Trader    string
	Coin      string
	Size      decimal.Decimal
	Notional  decimal.Decimal
	UpdatedAt time.Time
}

// Position delta classifications.
const (
	DeltaNewLong         = "new_long"
	DeltaNewShort        = "new_short"
	DeltaIncreaseLong    = "increase_long"
	DeltaIncreaseShort   = "increase_short"
	DeltaDecreaseLong    = "decrease_long"
	DeltaDecreaseShort   = "decrease_short"
	DeltaCloseLong       = "close_long"
	DeltaCloseShort      = "close_short"
	DeltaFlipLongShort   = "flip_long_to_short"
	DeltaFlipShortLong   = "flip_short_to_long"
	DeltaLiquidated      = "liquidated"
)

// PositionDelta describes the effect of a single fill on a PositionState.
// Ephemeral: produced by the position tracker, consumed by the minute
// aggregator and the whale detector.
type PositionDelta struct {
	Trader         string
	Coin           string
	Classification string

	PrevSize     decimal.Decimal
	NewSize      decimal.Decimal
	PrevNotional decimal.Decimal
	NewNotional  decimal.Decimal

	// Price and Notional of the triggering fill
	Price    decimal.Decimal
	Notional decimal.Decimal

	Timestamp time.Time
}

// MinuteAggregate is the persisted rollup for one (coin, minute) bucket.
// PriceSum/SampleCount are stored instead of the mean so that concurrent
// additive merges stay associative; AveragePrice derives the mean.
type MinuteAggregate struct {
	Coin       string
	BucketTime time.Time

	NewLongs        int
	NewShorts       int
	IncreasedLongs  int
	IncreasedShorts int
	DecreasedLongs  int
	DecreasedShorts int
	ClosedLongs     int
	ClosedShorts    int

	LongVolumeIn   float64
	ShortVolumeIn  float64
	LongVolumeOut  float64
	ShortVolumeOut float64

	UniqueWallets int
	NewWallets    int
	WhaleWallets  int

	PriceSum    float64
	SampleCount int
	TotalVolume float64
}

// AveragePrice returns the mean fill price folded into the bucket,
// or 0 for an empty bucket.
func (m *MinuteAggregate) AveragePrice() float64 {
	if m.SampleCount == 0 {
		return 0
	}
	return m.PriceSum / float64(m.SampleCount)
}

// Whale alert types.
const (
	AlertNewWhale   = "NEW_WHALE"
	AlertWhaleAdd   = "WHALE_ADD"
	AlertWhaleClose = "WHALE_CLOSE"
)

// WhaleAlert is emitted once per qualifying position delta; insert-only.
type WhaleAlert struct {
	Coin      string
	Trader    string
	AlertType string
	Notional  float64
	Direction string // "long" or "short"
	Timestamp time.Time
}

// TraderSnapshot is a periodic point-in-time positioning summary for a coin.
// Written by the sampler; read (and deduplicated) by the series layer.
type TraderSnapshot struct {
	Coin           string
	Timestamp      time.Time
	LongCount      int
	ShortCount     int
	LongNotional   float64
	ShortNotional  float64
	TotalTraders   int
	LongShortRatio float64
}
