// Package series cleans persisted snapshot history and projects it into the
// shapes the serving API returns.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/perpscope/engine/internal/store"
)

// DefaultBucketMinutes is the nominal sampling interval of the snapshot feed.
const DefaultBucketMinutes = 10

// bucketKey truncates a snapshot timestamp down to the nearest multiple of
// the bucket width within the hour (:00/:10/:20... for width 10), combined
// with the coin. Wall-clock alignment is deliberate: the first and last
// bucket of a day can be uneven at day boundaries.
func bucketKey(coin string, t time.Time, bucketMinutes int) string {
	t = t.UTC().Truncate(time.Minute)
	aligned := t.Add(-time.Duration(t.Minute()%bucketMinutes) * time.Minute)
	return fmt.Sprintf("%s-%d", coin, aligned.Unix())
}

// Resample deduplicates a possibly jittered, possibly duplicated snapshot
// history into a clean chronological series with at most one row per
// (coin, bucket) key.
//
// The input is expected newest-first (as fetched from storage); the
// first-seen row per bucket wins, so ties resolve to the most recently
// ingested snapshot. The output is sorted ascending by timestamp and
// trimmed to the most recent `limit` buckets. Gaps are not filled.
func Resample(history []store.TraderSnapshot, bucketMinutes, limit int) []store.TraderSnapshot {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}

	seen := make(map[string]struct{}, len(history))
	deduped := make([]store.TraderSnapshot, 0, len(history))

	for _, snap := range history {
		key := bucketKey(snap.Coin, snap.Timestamp, bucketMinutes)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, snap)
	}

	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].Timestamp.Before(deduped[j].Timestamp)
	})

	if limit > 0 && len(deduped) > limit {
		deduped = deduped[len(deduped)-limit:]
	}

	return deduped
}
