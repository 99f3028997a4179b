package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS fills (
	fill_id     TEXT PRIMARY KEY,
	trader      TEXT NOT NULL,
	coin        TEXT NOT NULL,
	price       TEXT NOT NULL,
	size        TEXT NOT NULL,
	side        TEXT NOT NULL,
	notional    TEXT NOT NULL,
	fee         TEXT NOT NULL DEFAULT '0',
	closed_pnl  TEXT NOT NULL DEFAULT '0',
	direction   TEXT NOT NULL DEFAULT '',
	liquidation BOOLEAN NOT NULL DEFAULT 0,
	ts          INTEGER NOT NULL,
	tx_hash     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fills_coin_ts ON fills(coin, ts);
CREATE INDEX IF NOT EXISTS idx_fills_trader ON fills(trader);

CREATE TABLE IF NOT EXISTS position_states (
	trader     TEXT NOT NULL,
	coin       TEXT NOT NULL,
	size       TEXT NOT NULL,
	notional   TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (trader, coin)
);

CREATE INDEX IF NOT EXISTS idx_positions_coin ON position_states(coin);

CREATE TABLE IF NOT EXISTS minute_aggregates (
	coin             TEXT NOT NULL,
	bucket_ts        INTEGER NOT NULL,
	new_longs        INTEGER NOT NULL DEFAULT 0,
	new_shorts       INTEGER NOT NULL DEFAULT 0,
	increased_longs  INTEGER NOT NULL DEFAULT 0,
	increased_shorts INTEGER NOT NULL DEFAULT 0,
	decreased_longs  INTEGER NOT NULL DEFAULT 0,
	decreased_shorts INTEGER NOT NULL DEFAULT 0,
	closed_longs     INTEGER NOT NULL DEFAULT 0,
	closed_shorts    INTEGER NOT NULL DEFAULT 0,
	long_volume_in   REAL NOT NULL DEFAULT 0,
	short_volume_in  REAL NOT NULL DEFAULT 0,
	long_volume_out  REAL NOT NULL DEFAULT 0,
	short_volume_out REAL NOT NULL DEFAULT 0,
	unique_wallets   INTEGER NOT NULL DEFAULT 0,
	new_wallets      INTEGER NOT NULL DEFAULT 0,
	whale_wallets    INTEGER NOT NULL DEFAULT 0,
	price_sum        REAL NOT NULL DEFAULT 0,
	sample_count     INTEGER NOT NULL DEFAULT 0,
	total_volume     REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (coin, bucket_ts)
);

CREATE TABLE IF NOT EXISTS whale_alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	coin       TEXT NOT NULL,
	trader     TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	notional   REAL NOT NULL,
	direction  TEXT NOT NULL,
	ts         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_whale_alerts_coin_ts ON whale_alerts(coin, ts);

CREATE TABLE IF NOT EXISTS trader_snapshots (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	coin             TEXT NOT NULL,
	ts               INTEGER NOT NULL,
	long_count       INTEGER NOT NULL DEFAULT 0,
	short_count      INTEGER NOT NULL DEFAULT 0,
	long_notional    REAL NOT NULL DEFAULT 0,
	short_notional   REAL NOT NULL DEFAULT 0,
	total_traders    INTEGER NOT NULL DEFAULT 0,
	long_short_ratio REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_snapshots_coin_ts ON trader_snapshots(coin, ts);

CREATE VIEW IF NOT EXISTS v_coin_positioning AS
SELECT
	coin,
	SUM(CASE WHEN CAST(size AS REAL) > 0 THEN 1 ELSE 0 END) AS long_count,
	SUM(CASE WHEN CAST(size AS REAL) < 0 THEN 1 ELSE 0 END) AS short_count,
	SUM(CASE WHEN CAST(size AS REAL) > 0 THEN CAST(notional AS REAL) ELSE 0 END) AS long_notional,
	SUM(CASE WHEN CAST(size AS REAL) < 0 THEN CAST(notional AS REAL) ELSE 0 END) AS short_notional,
	SUM(CASE WHEN CAST(size AS REAL) != 0 THEN 1 ELSE 0 END) AS total_traders
FROM position_states
GROUP BY coin;
`
