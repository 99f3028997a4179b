package series

import (
	"testing"
	"time"

	"github.com/perpscope/engine/internal/store"
)

func snap(coin string, at time.Time, longCount int) store.TraderSnapshot {
	return store.TraderSnapshot{
		Coin:      coin,
		Timestamp: at,
		LongCount: longCount,
	}
}

// Snapshots at 10:01, 10:04, and 10:07 all belong to the 10:00 bucket.
// History arrives newest-first, so the 10:07 row wins.
func TestResampleCollapsesJitteredBucket(t *testing.T) {
	base := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	history := []store.TraderSnapshot{
		snap("ETH", base.Add(7*time.Minute), 3),
		snap("ETH", base.Add(4*time.Minute), 2),
		snap("ETH", base.Add(1*time.Minute), 1),
	}

	out := Resample(history, 10, 100)
	if len(out) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(out))
	}
	if out[0].LongCount != 3 {
		t.Errorf("kept snapshot has longCount %d, want 3 (newest row)", out[0].LongCount)
	}
}

func TestResampleSortsAscending(t *testing.T) {
	base := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	history := []store.TraderSnapshot{
		snap("BTC", base.Add(20*time.Minute), 3),
		snap("BTC", base.Add(10*time.Minute), 2),
		snap("BTC", base, 1),
	}

	out := Resample(history, 10, 100)
	if len(out) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i-1].Timestamp.Before(out[i].Timestamp) {
			t.Errorf("snapshot %d not in ascending order", i)
		}
	}
}

func TestResampleLimitKeepsNewest(t *testing.T) {
	base := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	var history []store.TraderSnapshot
	for i := 4; i >= 0; i-- {
		history = append(history, snap("BTC", base.Add(time.Duration(i*10)*time.Minute), i))
	}

	out := Resample(history, 10, 2)
	if len(out) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(out))
	}
	if out[0].LongCount != 3 || out[1].LongCount != 4 {
		t.Errorf("kept longCounts %d,%d, want 3,4", out[0].LongCount, out[1].LongCount)
	}
}

// Resampling an already-clean series is a no-op.
func TestResampleIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	history := []store.TraderSnapshot{
		snap("SOL", base.Add(23*time.Minute), 3),
		snap("SOL", base.Add(21*time.Minute), 2),
		snap("SOL", base.Add(7*time.Minute), 1),
		snap("SOL", base.Add(1*time.Minute), 0),
	}

	once := Resample(history, 10, 100)
	twice := Resample(once, 10, 100)

	if len(twice) != len(once) {
		t.Fatalf("second pass changed length: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Timestamp.Equal(twice[i].Timestamp) || once[i].LongCount != twice[i].LongCount {
			t.Errorf("row %d changed on second pass", i)
		}
	}
}

func TestResampleCoinsDoNotCollide(t *testing.T) {
	base := time.Date(2026, 8, 14, 10, 1, 0, 0, time.UTC)

	history := []store.TraderSnapshot{
		snap("BTC", base, 1),
		snap("ETH", base, 2),
	}

	out := Resample(history, 10, 100)
	if len(out) != 2 {
		t.Errorf("got %d snapshots, want 2", len(out))
	}
}
