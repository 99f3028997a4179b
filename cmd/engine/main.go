// Package main is the entry point for the perpscope positioning engine.
package main

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/perpscope/engine/internal/aggregate"
	"github.com/perpscope/engine/internal/config"
	"github.com/perpscope/engine/internal/ingest"
	"github.com/perpscope/engine/internal/metrics"
	"github.com/perpscope/engine/internal/position"
	"github.com/perpscope/engine/internal/sampler"
	"github.com/perpscope/engine/internal/server"
	"github.com/perpscope/engine/internal/store"
	"github.com/perpscope/engine/internal/ui"
	"github.com/perpscope/engine/internal/whale"
)

const (
	// FillChannelBuffer is the size of the buffered fill channel
	FillChannelBuffer = 1000
	// PartitionChannelBuffer is the per-worker channel size
	PartitionChannelBuffer = 256
	// AlertChannelBuffer is the size of the buffered alert channel
	AlertChannelBuffer = 128
	// AggregateFlushInterval controls how often closed minute buckets are
	// flushed to storage
	AggregateFlushInterval = 15 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("perpscope starting", "version", "1.0.0")

	slog.Info("config_loaded",
		"feed_ws_url", cfg.FeedWSURL,
		"info_rest_url", cfg.InfoRESTURL,
		"coins", strings.Join(cfg.Coins, ","),
		"whale_notional_usd", cfg.WhaleNotionalUSD,
		"snapshot_interval", cfg.SnapshotInterval,
		"snapshot_bucket_minutes", cfg.SnapshotBucketMinutes,
		"worker_count", cfg.WorkerCount,
		"db_path", cfg.DBPath,
		"http_port", cfg.HTTPPort,
		"enable_tui", cfg.EnableTUI,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Open storage. A missing DB path leaves the engine serving 503s on
	// data endpoints rather than refusing to start.
	var st *store.Store
	if cfg.DBPath == "" {
		slog.Warn("storage_unconfigured", "status", "data endpoints will return 503")
	} else {
		st, err = store.Open(cfg.DBPath)
		if err != nil {
			slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer st.Close()
	}

	// Validate configured coins against the venue's listed universe.
	coins := cfg.Coins
	if universe, err := ingest.FetchPerpMeta(cfg.InfoRESTURL); err != nil {
		slog.Warn("failed to fetch perp meta, keeping configured coins", "error", err)
	} else if listed := ingest.FilterListedCoins(coins, universe); len(listed) > 0 {
		coins = listed
	}

	// Create channels
	fillChan := make(chan store.Fill, FillChannelBuffer)
	uiFillChan := make(chan store.Fill, PartitionChannelBuffer)
	alertChan := make(chan store.WhaleAlert, AlertChannelBuffer)

	// Initialize metrics tracker
	tracker := metrics.NewTracker()

	// Start WebSocket listener and REST backfill poller
	listener := ingest.NewListener(cfg.FeedWSURL, coins, fillChan, tracker)
	listener.Start(ctx)

	poller := ingest.NewFillsPoller(cfg.InfoRESTURL, coins, cfg.FillPollInterval, fillChan, tracker)
	go poller.Start(ctx)

	// Start partitioned worker pool. Each (trader, coin) partition hashes
	// onto exactly one worker, so position folds are serialized per
	// partition while partitions run in parallel.
	partitions := make([]chan store.Fill, cfg.WorkerCount)
	var wg sync.WaitGroup
	for i := range partitions {
		partitions[i] = make(chan store.Fill, PartitionChannelBuffer)
		wg.Add(1)
		go func(id int, ch <-chan store.Fill) {
			defer wg.Done()
			worker(ctx, id, ch, alertChan, st, tracker, cfg.WhaleNotionalUSD)
		}(i, partitions[i])
	}

	go dispatch(ctx, fillChan, partitions, uiFillChan, tracker)

	// Start snapshot sampler
	if st != nil {
		go sampler.New(st, coins, cfg.SnapshotInterval).Run(ctx)
	}

	// Start HTTP API
	srv := server.NewServer(server.Params{
		Port:          cfg.HTTPPort,
		BucketMinutes: cfg.SnapshotBucketMinutes,
	}, st, tracker)
	go func() {
		if err := srv.Run(ctx); err != nil {
			slog.Error("http_server_failed", "error", err)
			cancel()
		}
	}()

	slog.Info("engine_started",
		"status", "listening for fills",
		"coins", len(coins),
		"workers", cfg.WorkerCount,
		"tui_enabled", cfg.EnableTUI,
	)

	// Start TUI or run in background mode
	if cfg.EnableTUI {
		slog.Info("starting_tui")
		app := ui.NewApp(uiFillChan, alertChan, tracker, cfg.UIRefreshRate)

		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				cancel()
			}
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
		case <-ctx.Done():
		}
	}

	cancel()

	// Graceful shutdown
	slog.Info("shutting_down", "status", "stopping listener")
	listener.Stop()

	// Workers flush remaining buckets on ctx cancellation
	wg.Wait()

	slog.Info("shutdown_complete")
}

// dispatch routes fills onto partition channels keyed by (trader, coin),
// dropping duplicate fill IDs, and tees a copy to the UI.
func dispatch(ctx context.Context, fillChan <-chan store.Fill, partitions []chan store.Fill, uiFillChan chan<- store.Fill, tracker *metrics.Tracker) {
	defer func() {
		for _, ch := range partitions {
			close(ch)
		}
	}()

	seen := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-fillChan:
			if !ok {
				return
			}

			// The websocket feed and the REST backfill overlap; the
			// first copy of a fill wins.
			if _, dup := seen[fill.ID]; dup {
				continue
			}
			seen[fill.ID] = struct{}{}

			tracker.SetChannelBuffer(len(fillChan), cap(fillChan))

			idx := partitionIndex(fill.Trader, fill.Coin, len(partitions))
			select {
			case partitions[idx] <- fill:
			case <-ctx.Done():
				return
			}

			select {
			case uiFillChan <- fill:
			default:
			}
		}
	}
}

// partitionIndex hashes a (trader, coin) pair onto a worker slot.
func partitionIndex(trader, coin string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(trader))
	h.Write([]byte{'|'})
	h.Write([]byte(coin))
	return int(h.Sum32() % uint32(n))
}

// worker folds fills for its partitions: position tracking, minute
// aggregation, and whale detection. Each worker owns its own tracker and
// aggregator; same-minute buckets held by other workers reconcile through
// the store's additive merge.
func worker(ctx context.Context, id int, fills <-chan store.Fill, alertChan chan<- store.WhaleAlert, st *store.Store, tracker *metrics.Tracker, whaleThreshold float64) {
	slog.Debug("worker_started", "id", id)
	defer slog.Debug("worker_stopped", "id", id)

	positions := position.NewTracker()
	agg := aggregate.New(whaleThreshold)
	detector := whale.NewDetector(whaleThreshold)

	flushTicker := time.NewTicker(AggregateFlushInterval)
	defer flushTicker.Stop()

	// Shutdown flush runs after ctx is cancelled.
	defer flushAggregates(context.Background(), st, agg.FlushAll())

	for {
		select {
		case <-ctx.Done():
			return

		case <-flushTicker.C:
			flushAggregates(ctx, st, agg.FlushBefore(time.Now()))

		case fill, ok := <-fills:
			if !ok {
				return
			}

			tracker.IncrementFills()
			price, _ := fill.Price.Float64()
			notional, _ := fill.Notional.Float64()
			tracker.RecordCoinActivity(fill.Coin, price, notional)

			delta := positions.Apply(fill)
			tracker.IncrementDelta(delta.Classification)

			if err := st.InsertFill(ctx, &fill); persistWorthLogging(ctx, err) {
				slog.Warn("fill_persist_failed", "fill", fill.ID, "error", err)
			}

			state, _ := positions.State(fill.Trader, fill.Coin)
			if err := st.UpsertPositionState(ctx, &state); persistWorthLogging(ctx, err) {
				slog.Warn("position_persist_failed", "trader", fill.Trader, "coin", fill.Coin, "error", err)
			}

			agg.Fold(delta)

			if alert := detector.Inspect(delta); alert != nil {
				tracker.IncrementAlert(alert.AlertType)

				if err := st.InsertWhaleAlert(ctx, alert); persistWorthLogging(ctx, err) {
					slog.Warn("alert_persist_failed", "error", err)
				}

				select {
				case alertChan <- *alert:
					slog.Debug("whale_alert",
						"type", alert.AlertType,
						"coin", alert.Coin,
						"trader", alert.Trader,
						"notional", alert.Notional,
					)
				default:
					slog.Warn("alert_channel_full", "alert_type", alert.AlertType)
				}
			}
		}
	}
}

// flushAggregates merges closed minute buckets into storage. A failure on
// one bucket never blocks the others.
func flushAggregates(ctx context.Context, st *store.Store, rows []store.MinuteAggregate) {
	for i := range rows {
		if err := st.MergeMinuteAggregate(ctx, &rows[i]); persistWorthLogging(ctx, err) {
			slog.Warn("aggregate_flush_failed",
				"coin", rows[i].Coin,
				"bucket", rows[i].BucketTime,
				"error", err,
			)
		}
	}
}

// persistWorthLogging filters out write failures that only reflect an
// unconfigured store or an in-progress shutdown.
func persistWorthLogging(ctx context.Context, err error) bool {
	return err != nil && !errors.Is(err, store.ErrUnavailable) && ctx.Err() == nil
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
