// Package ingest handles WebSocket connection and message parsing from the
// upstream perpetuals feed.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscope/engine/internal/store"
)

// WSMessage represents the base structure of a WebSocket message.
type WSMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RawFill is one fill/liquidation record as the venue emits it: loosely
// typed, numeric fields as strings, optional fields frequently absent.
// Validated into a strict store.Fill by Normalize before anything
// downstream sees it.
type RawFill struct {
	Coin      string `json:"coin"`
	User      string `json:"user"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"` // "B"/"A" or "buy"/"sell"
	Time      int64  `json:"time"` // ms epoch
	Dir       string `json:"dir"`  // "Open Long", "Close Short", ...
	Fee       string `json:"fee"`
	ClosedPnl string `json:"closedPnl"`
	Hash      string `json:"hash"`
	Tid       int64  `json:"tid"`
	Users     []string `json:"users,omitempty"`

	// Liquidation is set by the venue on forced fills.
	Liquidation bool `json:"liquidation,omitempty"`
}

// FillsEvent wraps fill data on the user-fills channel.
type FillsEvent struct {
	IsSnapshot bool      `json:"isSnapshot,omitempty"`
	User       string    `json:"user,omitempty"`
	Fills      []RawFill `json:"fills"`
}

// MalformedFillError reports a raw record that cannot be normalized.
// Such records are dropped and counted, never propagated downstream.
type MalformedFillError struct {
	Field  string
	Reason string
}

func (e *MalformedFillError) Error() string {
	return fmt.Sprintf("malformed fill: %s %s", e.Field, e.Reason)
}

// ParseMessage parses a raw WebSocket message and returns any fill records
// it carries, plus the channel name for logging.
func ParseMessage(data []byte) ([]RawFill, string, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.Channel {
	case "trades":
		var raws []RawFill
		if err := json.Unmarshal(msg.Data, &raws); err != nil {
			return nil, msg.Channel, fmt.Errorf("failed to parse trades: %w", err)
		}
		return raws, msg.Channel, nil

	case "userFills":
		var event FillsEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return nil, msg.Channel, fmt.Errorf("failed to parse userFills: %w", err)
		}
		// Snapshot frames replay history already ingested via REST backfill.
		if event.IsSnapshot {
			return nil, msg.Channel, nil
		}
		for i := range event.Fills {
			if event.Fills[i].User == "" {
				event.Fills[i].User = event.User
			}
		}
		return event.Fills, msg.Channel, nil
	}

	// Subscription acks, pongs, and other non-fill frames.
	return nil, msg.Channel, nil
}

// Normalize validates a raw record into a canonical Fill. Records with a
// missing or non-numeric price, size, or timestamp fail with
// MalformedFillError.
func Normalize(raw RawFill) (store.Fill, error) {
	if raw.Coin == "" {
		return store.Fill{}, &MalformedFillError{Field: "coin", Reason: "is missing"}
	}

	trader := coalesce(raw.User, firstOf(raw.Users))
	if trader == "" {
		return store.Fill{}, &MalformedFillError{Field: "user", Reason: "is missing"}
	}

	price, err := decimal.NewFromString(raw.Px)
	if err != nil || !price.IsPositive() {
		return store.Fill{}, &MalformedFillError{Field: "px", Reason: "is missing or non-numeric"}
	}

	size, err := decimal.NewFromString(raw.Sz)
	if err != nil || size.IsZero() {
		return store.Fill{}, &MalformedFillError{Field: "sz", Reason: "is missing or non-numeric"}
	}

	if raw.Time <= 0 {
		return store.Fill{}, &MalformedFillError{Field: "time", Reason: "is missing"}
	}

	side, err := normalizeSide(raw.Side)
	if err != nil {
		return store.Fill{}, err
	}

	// Canonical size is signed: buys positive, sells negative.
	size = size.Abs()
	if side == "sell" {
		size = size.Neg()
	}

	fill := store.Fill{
		ID:          fillID(raw),
		Trader:      trader,
		Coin:        strings.ToUpper(raw.Coin),
		Price:       price,
		Size:        size,
		Side:        side,
		Notional:    price.Mul(size).Abs(),
		Fee:         parseDecimal(raw.Fee),
		ClosedPnL:   parseDecimal(raw.ClosedPnl),
		Direction:   raw.Dir,
		Liquidation: raw.Liquidation || strings.Contains(strings.ToLower(raw.Dir), "liquidat"),
		Timestamp:   time.UnixMilli(raw.Time).UTC(),
		TxHash:      raw.Hash,
	}

	return fill, nil
}

// normalizeSide maps the venue side codes onto "buy"/"sell".
func normalizeSide(s string) (string, error) {
	switch strings.ToUpper(s) {
	case "B", "BUY", "BID":
		return "buy", nil
	case "A", "S", "SELL", "ASK":
		return "sell", nil
	}
	return "", &MalformedFillError{Field: "side", Reason: fmt.Sprintf("unrecognized code %q", s)}
}

// fillID creates a unique ID for the fill record.
func fillID(raw RawFill) string {
	if raw.Tid != 0 {
		return fmt.Sprintf("%d", raw.Tid)
	}
	if raw.Hash != "" {
		return fmt.Sprintf("%s-%s-%d", raw.Hash, raw.Coin, raw.Time)
	}
	// Fallback: generate from available data
	return fmt.Sprintf("%s-%s-%d", raw.Coin, raw.User, raw.Time)
}

// parseDecimal parses optional numeric fields, treating absent or bad
// values as zero.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
