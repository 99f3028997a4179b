// Package aggregate folds position deltas into minute-bucketed rollups.
package aggregate

import (
	"fmt"
	"time"

	"github.com/perpscope/engine/internal/store"
)

// ConflictError reports a merge of two buckets with different keys.
// Fatal for the bucket involved; other buckets are unaffected.
type ConflictError struct {
	Coin   string
	Bucket time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("aggregation conflict: bucket %s/%s", e.Coin, e.Bucket.Format(time.RFC3339))
}

// BucketKey identifies one (coin, minute) rollup bucket.
type BucketKey struct {
	Coin   string
	Minute int64 // minute-aligned ms epoch
}

// MinuteFloor truncates a timestamp down to its minute boundary.
func MinuteFloor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Bucket accumulates deltas for one (coin, minute) key. Counts and volumes
// combine additively; wallet membership is an idempotent set union, so
// re-folding the same trader within a bucket never double-counts the
// distinct-wallet figures.
type Bucket struct {
	Coin  string
	Start time.Time

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

	PriceSum    float64
	SampleCount int
	TotalVolume float64

	wallets      map[string]struct{}
	newWallets   map[string]struct{}
	whaleWallets map[string]struct{}
}

func newBucket(coin string, start time.Time) *Bucket {
	return &Bucket{
		Coin:         coin,
		Start:        start,
		wallets:      make(map[string]struct{}),
		newWallets:   make(map[string]struct{}),
		whaleWallets: make(map[string]struct{}),
	}
}

// Merge additively combines another bucket into this one. The combine is
// commutative and associative: counts and volumes sum, wallet sets union.
func (b *Bucket) Merge(o *Bucket) error {
	if b.Coin != o.Coin || !b.Start.Equal(o.Start) {
		return &ConflictError{Coin: o.Coin, Bucket: o.Start}
	}

	b.NewLongs += o.NewLongs
	b.NewShorts += o.NewShorts
	b.IncreasedLongs += o.IncreasedLongs
	b.IncreasedShorts += o.IncreasedShorts
	b.DecreasedLongs += o.DecreasedLongs
	b.DecreasedShorts += o.DecreasedShorts
	b.ClosedLongs += o.ClosedLongs
	b.ClosedShorts += o.ClosedShorts

	b.LongVolumeIn += o.LongVolumeIn
	b.ShortVolumeIn += o.ShortVolumeIn
	b.LongVolumeOut += o.LongVolumeOut
	b.ShortVolumeOut += o.ShortVolumeOut

	b.PriceSum += o.PriceSum
	b.SampleCount += o.SampleCount
	b.TotalVolume += o.TotalVolume

	for w := range o.wallets {
		b.wallets[w] = struct{}{}
	}
	for w := range o.newWallets {
		b.newWallets[w] = struct{}{}
	}
	for w := range o.whaleWallets {
		b.whaleWallets[w] = struct{}{}
	}

	return nil
}

// Row projects the bucket into its persisted form.
func (b *Bucket) Row() store.MinuteAggregate {
	return store.MinuteAggregate{
		Coin:            b.Coin,
		BucketTime:      b.Start,
		NewLongs:        b.NewLongs,
		NewShorts:       b.NewShorts,
		IncreasedLongs:  b.IncreasedLongs,
		IncreasedShorts: b.IncreasedShorts,
		DecreasedLongs:  b.DecreasedLongs,
		DecreasedShorts: b.DecreasedShorts,
		ClosedLongs:     b.ClosedLongs,
		ClosedShorts:    b.ClosedShorts,
		LongVolumeIn:    b.LongVolumeIn,
		ShortVolumeIn:   b.ShortVolumeIn,
		LongVolumeOut:   b.LongVolumeOut,
		ShortVolumeOut:  b.ShortVolumeOut,
		UniqueWallets:   len(b.wallets),
		NewWallets:      len(b.newWallets),
		WhaleWallets:    len(b.whaleWallets),
		PriceSum:        b.PriceSum,
		SampleCount:     b.SampleCount,
		TotalVolume:     b.TotalVolume,
	}
}

// Aggregator folds PositionDeltas into open minute buckets. Each pipeline
// partition owns its own Aggregator; buckets for the same (coin, minute)
// held by different partitions reconcile through the store's additive merge.
type Aggregator struct {
	whaleThreshold float64
	buckets        map[BucketKey]*Bucket
	seenWallets    map[string]map[string]struct{} // coin -> wallets seen since start
}

func New(whaleThresholdUSD float64) *Aggregator {
	return &Aggregator{
		whaleThreshold: whaleThresholdUSD,
		buckets:        make(map[BucketKey]*Bucket),
		seenWallets:    make(map[string]map[string]struct{}),
	}
}

// Fold merges one delta into its (coin, minute) bucket, creating the bucket
// if needed, and returns the bucket touched.
func (a *Aggregator) Fold(delta store.PositionDelta) *Bucket {
	start := MinuteFloor(delta.Timestamp)
	key := BucketKey{Coin: delta.Coin, Minute: start.UnixMilli()}

	bucket, ok := a.buckets[key]
	if !ok {
		bucket = newBucket(delta.Coin, start)
		a.buckets[key] = bucket
	}

	notional, _ := delta.Notional.Float64()
	price, _ := delta.Price.Float64()
	prevNotional, _ := delta.PrevNotional.Float64()
	newNotional, _ := delta.NewNotional.Float64()

	switch delta.Classification {
	case store.DeltaNewLong:
		bucket.NewLongs++
		bucket.LongVolumeIn += notional
	case store.DeltaNewShort:
		bucket.NewShorts++
		bucket.ShortVolumeIn += notional
	case store.DeltaIncreaseLong:
		bucket.IncreasedLongs++
		bucket.LongVolumeIn += notional
	case store.DeltaIncreaseShort:
		bucket.IncreasedShorts++
		bucket.ShortVolumeIn += notional
	case store.DeltaDecreaseLong:
		bucket.DecreasedLongs++
		bucket.LongVolumeOut += notional
	case store.DeltaDecreaseShort:
		bucket.DecreasedShorts++
		bucket.ShortVolumeOut += notional
	case store.DeltaCloseLong:
		bucket.ClosedLongs++
		bucket.LongVolumeOut += notional
	case store.DeltaCloseShort:
		bucket.ClosedShorts++
		bucket.ShortVolumeOut += notional
	case store.DeltaFlipLongShort:
		// One fill, two lifecycle events: the long closes, a short opens.
		bucket.ClosedLongs++
		bucket.NewShorts++
		bucket.LongVolumeOut += prevNotional
		bucket.ShortVolumeIn += newNotional
	case store.DeltaFlipShortLong:
		bucket.ClosedShorts++
		bucket.NewLongs++
		bucket.ShortVolumeOut += prevNotional
		bucket.LongVolumeIn += newNotional
	case store.DeltaLiquidated:
		if delta.PrevSize.IsPositive() {
			bucket.ClosedLongs++
			bucket.LongVolumeOut += notional
		} else {
			bucket.ClosedShorts++
			bucket.ShortVolumeOut += notional
		}
	}

	bucket.wallets[delta.Trader] = struct{}{}

	seen, ok := a.seenWallets[delta.Coin]
	if !ok {
		seen = make(map[string]struct{})
		a.seenWallets[delta.Coin] = seen
	}
	if _, known := seen[delta.Trader]; !known {
		seen[delta.Trader] = struct{}{}
		bucket.newWallets[delta.Trader] = struct{}{}
	}

	if newNotional >= a.whaleThreshold {
		bucket.whaleWallets[delta.Trader] = struct{}{}
	}

	bucket.PriceSum += price
	bucket.SampleCount++
	bucket.TotalVolume += notional

	return bucket
}

// FlushBefore removes and returns the rows of all buckets whose minute
// closed before the cutoff. Late deltas for a flushed minute open a fresh
// bucket that the additive store merge reconciles.
func (a *Aggregator) FlushBefore(cutoff time.Time) []store.MinuteAggregate {
	boundary := MinuteFloor(cutoff)

	var rows []store.MinuteAggregate
	for key, bucket := range a.buckets {
		if bucket.Start.Before(boundary) {
			rows = append(rows, bucket.Row())
			delete(a.buckets, key)
		}
	}
	return rows
}

// FlushAll removes and returns every open bucket. Called on shutdown.
func (a *Aggregator) FlushAll() []store.MinuteAggregate {
	rows := make([]store.MinuteAggregate, 0, len(a.buckets))
	for key, bucket := range a.buckets {
		rows = append(rows, bucket.Row())
		delete(a.buckets, key)
	}
	return rows
}
