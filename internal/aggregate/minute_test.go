package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscope/engine/internal/store"
)

var bucketStart = time.Date(2026, 8, 14, 12, 30, 0, 0, time.UTC)

func delta(trader, coin, classification string, notional float64, at time.Time) store.PositionDelta {
	n := decimal.NewFromFloat(notional)
	return store.PositionDelta{
		Trader:         trader,
		Coin:           coin,
		Classification: classification,
		NewNotional:    n,
		Price:          decimal.NewFromInt(100),
		Notional:       n,
		Timestamp:      at,
	}
}

func TestFoldCounters(t *testing.T) {
	agg := New(100000)

	at := bucketStart.Add(10 * time.Second)
	agg.Fold(delta("0xA", "BTC", store.DeltaNewLong, 5000, at))
	agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 2500, at))
	agg.Fold(delta("0xB", "BTC", store.DeltaNewShort, 150000, at))
	bucket := agg.Fold(delta("0xC", "BTC", store.DeltaCloseLong, 1000, at))

	if bucket.NewLongs != 1 || bucket.IncreasedLongs != 1 || bucket.NewShorts != 1 || bucket.ClosedLongs != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 1/1/1/1",
			bucket.NewLongs, bucket.IncreasedLongs, bucket.NewShorts, bucket.ClosedLongs)
	}

	if bucket.LongVolumeIn != 7500 {
		t.Errorf("long volume in = %f, want 7500", bucket.LongVolumeIn)
	}
	if bucket.ShortVolumeIn != 150000 {
		t.Errorf("short volume in = %f, want 150000", bucket.ShortVolumeIn)
	}
	if bucket.LongVolumeOut != 1000 {
		t.Errorf("long volume out = %f, want 1000", bucket.LongVolumeOut)
	}
	if bucket.TotalVolume != 158500 {
		t.Errorf("total volume = %f, want 158500", bucket.TotalVolume)
	}

	row := bucket.Row()
	if row.UniqueWallets != 3 {
		t.Errorf("unique wallets = %d, want 3", row.UniqueWallets)
	}
	if row.WhaleWallets != 1 {
		t.Errorf("whale wallets = %d, want 1", row.WhaleWallets)
	}
	if row.AveragePrice() != 100 {
		t.Errorf("average price = %f, want 100", row.AveragePrice())
	}
}

// Re-folding the same trader within a bucket must not double-count the
// distinct-wallet figures.
func TestFoldWalletIdempotency(t *testing.T) {
	agg := New(100000)

	at := bucketStart.Add(5 * time.Second)
	agg.Fold(delta("0xA", "BTC", store.DeltaNewLong, 1000, at))
	agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 1000, at))
	bucket := agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 1000, at))

	row := bucket.Row()
	if row.UniqueWallets != 1 {
		t.Errorf("unique wallets = %d, want 1", row.UniqueWallets)
	}
	if row.NewWallets != 1 {
		t.Errorf("new wallets = %d, want 1", row.NewWallets)
	}
}

func TestFoldBucketKeying(t *testing.T) {
	agg := New(100000)

	b1 := agg.Fold(delta("0xA", "BTC", store.DeltaNewLong, 1000, bucketStart.Add(2*time.Second)))
	b2 := agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 1000, bucketStart.Add(59*time.Second)))
	b3 := agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 1000, bucketStart.Add(61*time.Second)))
	b4 := agg.Fold(delta("0xA", "ETH", store.DeltaNewLong, 1000, bucketStart.Add(2*time.Second)))

	if b1 != b2 {
		t.Error("same coin and minute should share a bucket")
	}
	if b1 == b3 {
		t.Error("next minute should open a new bucket")
	}
	if b1 == b4 {
		t.Error("different coin should open a new bucket")
	}
}

// Merge is a commutative, associative combine: merging [A,B] then [C] equals
// merging [A] then [B,C] equals folding [A,B,C] directly.
func TestMergeCommutativeAssociative(t *testing.T) {
	deltas := []store.PositionDelta{
		delta("0xA", "BTC", store.DeltaNewLong, 120000, bucketStart.Add(1*time.Second)),
		delta("0xB", "BTC", store.DeltaNewShort, 3000, bucketStart.Add(2*time.Second)),
		delta("0xA", "BTC", store.DeltaDecreaseLong, 500, bucketStart.Add(3*time.Second)),
	}

	foldInto := func(idx ...int) *Bucket {
		agg := New(100000)
		var b *Bucket
		for _, i := range idx {
			b = agg.Fold(deltas[i])
		}
		return b
	}

	// ([A,B]) merged with ([C])
	left := foldInto(0, 1)
	if err := left.Merge(foldInto(2)); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	// ([A]) merged with ([B,C])
	right := foldInto(0)
	if err := right.Merge(foldInto(1, 2)); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	// [A,B,C] folded directly
	direct := foldInto(0, 1, 2)

	for name, b := range map[string]*Bucket{"left": left, "right": right} {
		if b.Row() != direct.Row() {
			t.Errorf("%s grouping: row = %+v, want %+v", name, b.Row(), direct.Row())
		}
	}
}

func TestMergeKeyConflict(t *testing.T) {
	a := newBucket("BTC", bucketStart)
	b := newBucket("ETH", bucketStart)

	if err := a.Merge(b); err == nil {
		t.Error("expected conflict error merging buckets with different keys")
	}
}

func TestFlushBefore(t *testing.T) {
	agg := New(100000)

	agg.Fold(delta("0xA", "BTC", store.DeltaNewLong, 1000, bucketStart))
	agg.Fold(delta("0xA", "BTC", store.DeltaIncreaseLong, 1000, bucketStart.Add(time.Minute)))

	rows := agg.FlushBefore(bucketStart.Add(time.Minute))
	if len(rows) != 1 {
		t.Fatalf("flushed %d rows, want 1", len(rows))
	}
	if !rows[0].BucketTime.Equal(bucketStart) {
		t.Errorf("flushed bucket %s, want %s", rows[0].BucketTime, bucketStart)
	}

	// The open minute stays resident until it closes.
	if rows := agg.FlushBefore(bucketStart.Add(time.Minute)); len(rows) != 0 {
		t.Errorf("second flush returned %d rows, want 0", len(rows))
	}

	if rows := agg.FlushAll(); len(rows) != 1 {
		t.Errorf("flush all returned %d rows, want 1", len(rows))
	}
}
