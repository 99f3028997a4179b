package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrUnavailable is returned when the store is unconfigured or the
// underlying database cannot be reached.
var ErrUnavailable = errors.New("store: unavailable")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Run schema migration
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) available() error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	return nil
}

func (s *Store) InsertFill(ctx context.Context, f *Fill) error {
	if err := s.available(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (fill_id, trader, coin, price, size, side,
			notional, fee, closed_pnl, direction, liquidation, ts, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Trader, f.Coin, f.Price.String(), f.Size.String(), f.Side,
		f.Notional.String(), f.Fee.String(), f.ClosedPnL.String(),
		f.Direction, f.Liquidation, f.Timestamp.UnixMilli(), f.TxHash,
	)
	return err
}

func (s *Store) UpsertPositionState(ctx context.Context, p *PositionState) error {
	if err := s.available(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_states (trader, coin, size, notional, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trader, coin) DO UPDATE SET
			size = excluded.size,
			notional = excluded.notional,
			updated_at = excluded.updated_at`,
		p.Trader, p.Coin, p.Size.String(), p.Notional.String(),
		p.UpdatedAt.UnixMilli(),
	)
	return err
}

// MergeMinuteAggregate upserts a (coin, minute) bucket with additive conflict
// resolution. The combine is commutative and associative, so buckets flushed
// concurrently from different partitions reconcile without coordination.
func (s *Store) MergeMinuteAggregate(ctx context.Context, m *MinuteAggregate) error {
	if err := s.available(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO minute_aggregates (coin, bucket_ts,
			new_longs, new_shorts, increased_longs, increased_shorts,
			decreased_longs, decreased_shorts, closed_longs, closed_shorts,
			long_volume_in, short_volume_in, long_volume_out, short_volume_out,
			unique_wallets, new_wallets, whale_wallets,
			price_sum, sample_count, total_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin, bucket_ts) DO UPDATE SET
			new_longs = new_longs + excluded.new_longs,
			new_shorts = new_shorts + excluded.new_shorts,
			increased_longs = increased_longs + excluded.increased_longs,
			increased_shorts = increased_shorts + excluded.increased_shorts,
			decreased_longs = decreased_longs + excluded.decreased_longs,
			decreased_shorts = decreased_shorts + excluded.decreased_shorts,
			closed_longs = closed_longs + excluded.closed_longs,
			closed_shorts = closed_shorts + excluded.closed_shorts,
			long_volume_in = long_volume_in + excluded.long_volume_in,
			short_volume_in = short_volume_in + excluded.short_volume_in,
			long_volume_out = long_volume_out + excluded.long_volume_out,
			short_volume_out = short_volume_out + excluded.short_volume_out,
			unique_wallets = unique_wallets + excluded.unique_wallets,
			new_wallets = new_wallets + excluded.new_wallets,
			whale_wallets = whale_wallets + excluded.whale_wallets,
			price_sum = price_sum + excluded.price_sum,
			sample_count = sample_count + excluded.sample_count,
			total_volume = total_volume + excluded.total_volume`,
		m.Coin, m.BucketTime.UnixMilli(),
		m.NewLongs, m.NewShorts, m.IncreasedLongs, m.IncreasedShorts,
		m.DecreasedLongs, m.DecreasedShorts, m.ClosedLongs, m.ClosedShorts,
		m.LongVolumeIn, m.ShortVolumeIn, m.LongVolumeOut, m.ShortVolumeOut,
		m.UniqueWallets, m.NewWallets, m.WhaleWallets,
		m.PriceSum, m.SampleCount, m.TotalVolume,
	)
	return err
}

func (s *Store) InsertWhaleAlert(ctx context.Context, a *WhaleAlert) error {
	if err := s.available(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whale_alerts (coin, trader, alert_type, notional, direction, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Coin, a.Trader, a.AlertType, a.Notional, a.Direction,
		a.Timestamp.UnixMilli(),
	)
	return err
}

func (s *Store) InsertTraderSnapshot(ctx context.Context, snap *TraderSnapshot) error {
	if err := s.available(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trader_snapshots (coin, ts, long_count, short_count,
			long_notional, short_notional, total_traders, long_short_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Coin, snap.Timestamp.UnixMilli(), snap.LongCount, snap.ShortCount,
		snap.LongNotional, snap.ShortNotional, snap.TotalTraders,
		snap.LongShortRatio,
	)
	return err
}

// SnapshotHistory returns snapshot rows for a coin ordered by timestamp
// descending. Callers requesting N deduplicated buckets should over-fetch
// (at least 2x) to absorb duplicate rows within the same nominal interval.
func (s *Store) SnapshotHistory(ctx context.Context, coin string, fetchLimit int) ([]TraderSnapshot, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT coin, ts, long_count, short_count, long_notional, short_notional,
			total_traders, long_short_ratio
		FROM trader_snapshots
		WHERE coin = ?
		ORDER BY ts DESC LIMIT ?`, coin, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TraderSnapshot
	for rows.Next() {
		var snap TraderSnapshot
		var ts int64
		if err := rows.Scan(&snap.Coin, &ts, &snap.LongCount, &snap.ShortCount,
			&snap.LongNotional, &snap.ShortNotional, &snap.TotalTraders,
			&snap.LongShortRatio); err != nil {
			return nil, err
		}
		snap.Timestamp = time.UnixMilli(ts).UTC()
		results = append(results, snap)
	}
	return results, rows.Err()
}

func (s *Store) RecentFills(ctx context.Context, coin string, limit int) ([]Fill, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, trader, coin, price, size, side, notional, fee,
			closed_pnl, direction, liquidation, ts, tx_hash
		FROM fills
		WHERE coin = ?
		ORDER BY ts DESC LIMIT ?`, coin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func (s *Store) RecentWhaleAlerts(ctx context.Context, coin string, limit int) ([]WhaleAlert, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT coin, trader, alert_type, notional, direction, ts
		FROM whale_alerts
		WHERE coin = ?
		ORDER BY ts DESC LIMIT ?`, coin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WhaleAlert
	for rows.Next() {
		var a WhaleAlert
		var ts int64
		if err := rows.Scan(&a.Coin, &a.Trader, &a.AlertType, &a.Notional,
			&a.Direction, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMilli(ts).UTC()
		results = append(results, a)
	}
	return results, rows.Err()
}

// CoinPositioning summarizes the current position_states rows for a coin
// into a snapshot. Used by the periodic sampler.
func (s *Store) CoinPositioning(ctx context.Context, coin string, at time.Time) (*TraderSnapshot, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT long_count, short_count, long_notional, short_notional, total_traders
		FROM v_coin_positioning WHERE coin = ?`, coin)

	snap := &TraderSnapshot{Coin: coin, Timestamp: at}
	err := row.Scan(&snap.LongCount, &snap.ShortCount, &snap.LongNotional,
		&snap.ShortNotional, &snap.TotalTraders)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.ShortCount > 0 {
		snap.LongShortRatio = float64(snap.LongCount) / float64(snap.ShortCount)
	}
	return snap, nil
}

func scanFill(rows *sql.Rows) (Fill, error) {
	var f Fill
	var price, size, notional, fee, pnl string
	var ts int64
	if err := rows.Scan(&f.ID, &f.Trader, &f.Coin, &price, &size, &f.Side,
		&notional, &fee, &pnl, &f.Direction, &f.Liquidation, &ts,
		&f.TxHash); err != nil {
		return Fill{}, err
	}
	var err error
	if f.Price, err = decimal.NewFromString(price); err != nil {
		return Fill{}, fmt.Errorf("scanning fill price: %w", err)
	}
	if f.Size, err = decimal.NewFromString(size); err != nil {
		return Fill{}, fmt.Errorf("scanning fill size: %w", err)
	}
	if f.Notional, err = decimal.NewFromString(notional); err != nil {
		return Fill{}, fmt.Errorf("scanning fill notional: %w", err)
	}
	if f.Fee, err = decimal.NewFromString(fee); err != nil {
		return Fill{}, fmt.Errorf("scanning fill fee: %w", err)
	}
	if f.ClosedPnL, err = decimal.NewFromString(pnl); err != nil {
		return Fill{}, fmt.Errorf("scanning fill pnl: %w", err)
	}
	f.Timestamp = time.UnixMilli(ts).UTC()
	return f, nil
}
