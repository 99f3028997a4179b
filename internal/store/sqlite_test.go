package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testFill(id, trader string) *Fill {
	return &Fill{
		ID:        id,
		Trader:    trader,
		Coin:      "BTC",
		Price:     decimal.RequireFromString("65000.5"),
		Size:      decimal.RequireFromString("0.25"),
		Side:      "buy",
		Notional:  decimal.RequireFromString("16250.125"),
		Fee:       decimal.RequireFromString("1.2"),
		ClosedPnL: decimal.Zero,
		Direction: "Open Long",
		Timestamp: time.Date(2026, 8, 14, 12, 30, 5, 0, time.UTC),
		TxHash:    "0xhash",
	}
}

func TestFillRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	want := testFill("1", "0xA")
	if err := st.InsertFill(ctx, want); err != nil {
		t.Fatalf("insert fill: %v", err)
	}

	fills, err := st.RecentFills(ctx, "BTC", 10)
	if err != nil {
		t.Fatalf("recent fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}

	got := fills[0]
	if got.ID != want.ID || got.Trader != want.Trader {
		t.Errorf("identity = %s/%s, want %s/%s", got.ID, got.Trader, want.ID, want.Trader)
	}
	if !got.Price.Equal(want.Price) || !got.Size.Equal(want.Size) {
		t.Errorf("price/size = %s/%s, want %s/%s", got.Price, got.Size, want.Price, want.Size)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, want.Timestamp)
	}
}

func TestInsertFillIgnoresDuplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertFill(ctx, testFill("1", "0xA")); err != nil {
		t.Fatalf("insert fill: %v", err)
	}
	if err := st.InsertFill(ctx, testFill("1", "0xA")); err != nil {
		t.Fatalf("duplicate insert should be a no-op: %v", err)
	}

	fills, err := st.RecentFills(ctx, "BTC", 10)
	if err != nil {
		t.Fatalf("recent fills: %v", err)
	}
	if len(fills) != 1 {
		t.Errorf("got %d fills, want 1", len(fills))
	}
}

// Two partial buckets for the same (coin, minute) merged in either order must
// land on the same row as one combined bucket.
func TestMergeMinuteAggregateAdditive(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 8, 14, 12, 30, 0, 0, time.UTC)

	partA := &MinuteAggregate{
		Coin: "BTC", BucketTime: at,
		NewLongs: 2, LongVolumeIn: 5000,
		UniqueWallets: 2, NewWallets: 2,
		PriceSum: 200, SampleCount: 2, TotalVolume: 5000,
	}
	partB := &MinuteAggregate{
		Coin: "BTC", BucketTime: at,
		NewShorts: 1, ClosedLongs: 1,
		ShortVolumeIn: 3000, LongVolumeOut: 1000,
		UniqueWallets: 2, WhaleWallets: 1,
		PriceSum: 220, SampleCount: 2, TotalVolume: 4000,
	}

	read := func(st *Store) MinuteAggregate {
		t.Helper()
		row := st.db.QueryRowContext(ctx, `
			SELECT new_longs, new_shorts, closed_longs,
				long_volume_in, short_volume_in, long_volume_out,
				unique_wallets, whale_wallets, price_sum, sample_count, total_volume
			FROM minute_aggregates WHERE coin = 'BTC'`)
		var m MinuteAggregate
		if err := row.Scan(&m.NewLongs, &m.NewShorts, &m.ClosedLongs,
			&m.LongVolumeIn, &m.ShortVolumeIn, &m.LongVolumeOut,
			&m.UniqueWallets, &m.WhaleWallets, &m.PriceSum, &m.SampleCount,
			&m.TotalVolume); err != nil {
			t.Fatalf("read aggregate: %v", err)
		}
		return m
	}

	var merged [2]MinuteAggregate
	for i, order := range [][]*MinuteAggregate{{partA, partB}, {partB, partA}} {
		st := openTestStore(t)
		for _, part := range order {
			if err := st.MergeMinuteAggregate(ctx, part); err != nil {
				t.Fatalf("merge: %v", err)
			}
		}
		merged[i] = read(st)
	}

	if merged[0] != merged[1] {
		t.Errorf("merge order changed result: %+v vs %+v", merged[0], merged[1])
	}

	got := merged[0]
	if got.NewLongs != 2 || got.NewShorts != 1 || got.ClosedLongs != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", got.NewLongs, got.NewShorts, got.ClosedLongs)
	}
	if got.TotalVolume != 9000 {
		t.Errorf("total volume = %f, want 9000", got.TotalVolume)
	}
	if got.AveragePrice() != 105 {
		t.Errorf("average price = %f, want 105", got.AveragePrice())
	}
}

func TestCoinPositioning(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 12, 40, 0, 0, time.UTC)

	states := []PositionState{
		{Trader: "0xA", Coin: "BTC", Size: decimal.NewFromInt(2), Notional: decimal.NewFromInt(130000), UpdatedAt: now},
		{Trader: "0xB", Coin: "BTC", Size: decimal.NewFromInt(1), Notional: decimal.NewFromInt(65000), UpdatedAt: now},
		{Trader: "0xC", Coin: "BTC", Size: decimal.NewFromInt(-3), Notional: decimal.NewFromInt(195000), UpdatedAt: now},
		{Trader: "0xD", Coin: "BTC", Size: decimal.Zero, Notional: decimal.Zero, UpdatedAt: now},
		{Trader: "0xA", Coin: "ETH", Size: decimal.NewFromInt(1), Notional: decimal.NewFromInt(3000), UpdatedAt: now},
	}
	for i := range states {
		if err := st.UpsertPositionState(ctx, &states[i]); err != nil {
			t.Fatalf("upsert state: %v", err)
		}
	}

	snap, err := st.CoinPositioning(ctx, "BTC", now)
	if err != nil {
		t.Fatalf("coin positioning: %v", err)
	}
	if snap.LongCount != 2 || snap.ShortCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", snap.LongCount, snap.ShortCount)
	}
	// Flat positions do not count as traders.
	if snap.TotalTraders != 3 {
		t.Errorf("total traders = %d, want 3", snap.TotalTraders)
	}
	if snap.LongShortRatio != 2 {
		t.Errorf("ratio = %f, want 2", snap.LongShortRatio)
	}
}

func TestCoinPositioningNoRows(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC()

	snap, err := st.CoinPositioning(context.Background(), "DOGE", now)
	if err != nil {
		t.Fatalf("coin positioning: %v", err)
	}
	if snap.TotalTraders != 0 || snap.LongShortRatio != 0 {
		t.Errorf("empty coin snapshot = %+v, want zeros", snap)
	}
}

func TestSnapshotHistoryNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		snap := &TraderSnapshot{
			Coin:      "BTC",
			Timestamp: base.Add(time.Duration(i*10) * time.Minute),
			LongCount: i,
		}
		if err := st.InsertTraderSnapshot(ctx, snap); err != nil {
			t.Fatalf("insert snapshot: %v", err)
		}
	}

	history, err := st.SnapshotHistory(ctx, "BTC", 2)
	if err != nil {
		t.Fatalf("snapshot history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(history))
	}
	if history[0].LongCount != 2 || history[1].LongCount != 1 {
		t.Errorf("order = %d,%d, want 2,1 (newest first)", history[0].LongCount, history[1].LongCount)
	}
}

func TestNilStoreUnavailable(t *testing.T) {
	var st *Store
	ctx := context.Background()

	if err := st.InsertFill(ctx, testFill("1", "0xA")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("insert fill error = %v, want ErrUnavailable", err)
	}
	if _, err := st.SnapshotHistory(ctx, "BTC", 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("snapshot history error = %v, want ErrUnavailable", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("close on nil store = %v, want nil", err)
	}
}
