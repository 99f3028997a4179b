// Package sampler periodically summarizes per-coin positioning into
// TraderSnapshot rows for the read path.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/perpscope/engine/internal/store"
)

// Sampler writes one TraderSnapshot per tracked coin every interval. The
// snapshot log is append-only; downstream consumers deduplicate jittered
// or repeated rows, so a tick firing twice near a boundary is harmless.
type Sampler struct {
	store    *store.Store
	coins    []string
	interval time.Duration
}

func New(st *store.Store, coins []string, interval time.Duration) *Sampler {
	return &Sampler{
		store:    st,
		coins:    coins,
		interval: interval,
	}
}

// Run samples until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	slog.Info("sampler_started", "interval", s.interval, "coins", len(s.coins))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sampler_stopped")
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	now := time.Now().UTC()

	for _, coin := range s.coins {
		snap, err := s.store.CoinPositioning(ctx, coin, now)
		if err != nil {
			slog.Warn("sample_query_failed", "coin", coin, "error", err)
			continue
		}

		if err := s.store.InsertTraderSnapshot(ctx, snap); err != nil {
			slog.Warn("sample_write_failed", "coin", coin, "error", err)
			continue
		}

		slog.Debug("snapshot_written",
			"coin", coin,
			"longs", snap.LongCount,
			"shorts", snap.ShortCount,
			"ratio", snap.LongShortRatio,
		)
	}
}
