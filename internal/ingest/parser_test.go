package ingest

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validRaw() RawFill {
	return RawFill{
		Coin: "btc",
		User: "0xabc",
		Px:   "65000.5",
		Sz:   "0.25",
		Side: "B",
		Time: 1755172800000,
		Dir:  "Open Long",
		Fee:  "1.2",
		Tid:  987654,
	}
}

func TestNormalizeValid(t *testing.T) {
	fill, err := Normalize(validRaw())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if fill.ID != "987654" {
		t.Errorf("id = %s, want 987654", fill.ID)
	}
	if fill.Coin != "BTC" {
		t.Errorf("coin = %s, want BTC", fill.Coin)
	}
	if fill.Side != "buy" {
		t.Errorf("side = %s, want buy", fill.Side)
	}
	if !fill.Size.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("size = %s, want 0.25", fill.Size)
	}
	if !fill.Notional.Equal(decimal.RequireFromString("16250.125")) {
		t.Errorf("notional = %s, want 16250.125", fill.Notional)
	}
	if fill.Timestamp.UnixMilli() != 1755172800000 {
		t.Errorf("timestamp = %d, want 1755172800000", fill.Timestamp.UnixMilli())
	}
	if fill.Liquidation {
		t.Error("liquidation = true, want false")
	}
}

func TestNormalizeSellSizeSigned(t *testing.T) {
	raw := validRaw()
	raw.Side = "A"

	fill, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if fill.Side != "sell" {
		t.Errorf("side = %s, want sell", fill.Side)
	}
	if !fill.Size.IsNegative() {
		t.Errorf("size = %s, want negative", fill.Size)
	}
	if fill.Notional.IsNegative() {
		t.Errorf("notional = %s, want non-negative", fill.Notional)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawFill)
	}{
		{"missing coin", func(r *RawFill) { r.Coin = "" }},
		{"missing user", func(r *RawFill) { r.User = "" }},
		{"missing price", func(r *RawFill) { r.Px = "" }},
		{"non-numeric price", func(r *RawFill) { r.Px = "abc" }},
		{"negative price", func(r *RawFill) { r.Px = "-1" }},
		{"missing size", func(r *RawFill) { r.Sz = "" }},
		{"zero size", func(r *RawFill) { r.Sz = "0" }},
		{"missing time", func(r *RawFill) { r.Time = 0 }},
		{"bad side", func(r *RawFill) { r.Side = "X" }},
	}

	for _, tc := range cases {
		raw := validRaw()
		tc.mutate(&raw)

		_, err := Normalize(raw)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}

		var malformed *MalformedFillError
		if !errors.As(err, &malformed) {
			t.Errorf("%s: error type = %T, want *MalformedFillError", tc.name, err)
		}
	}
}

func TestNormalizeLiquidationFromDirection(t *testing.T) {
	raw := validRaw()
	raw.Dir = "Liquidated Isolated Long"
	raw.Side = "A"

	fill, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !fill.Liquidation {
		t.Error("liquidation = false, want true")
	}
}

func TestNormalizeUsersFallback(t *testing.T) {
	raw := validRaw()
	raw.User = ""
	raw.Users = []string{"0xmaker", "0xtaker"}

	fill, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if fill.Trader != "0xmaker" {
		t.Errorf("trader = %s, want 0xmaker", fill.Trader)
	}
}

func TestParseMessageTrades(t *testing.T) {
	data := []byte(`{"channel":"trades","data":[{"coin":"ETH","px":"3000","sz":"1","side":"A","time":1755172800000,"tid":42,"users":["0xa","0xb"]}]}`)

	raws, channel, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if channel != "trades" {
		t.Errorf("channel = %s, want trades", channel)
	}
	if len(raws) != 1 {
		t.Fatalf("got %d fills, want 1", len(raws))
	}
	if raws[0].Tid != 42 {
		t.Errorf("tid = %d, want 42", raws[0].Tid)
	}
}

func TestParseMessageUserFillsSnapshotSkipped(t *testing.T) {
	data := []byte(`{"channel":"userFills","data":{"isSnapshot":true,"user":"0xabc","fills":[{"coin":"BTC","px":"65000","sz":"1","side":"B","time":1755172800000}]}}`)

	raws, _, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("got %d fills from snapshot frame, want 0", len(raws))
	}
}

func TestParseMessageUserFillsInheritUser(t *testing.T) {
	data := []byte(`{"channel":"userFills","data":{"user":"0xabc","fills":[{"coin":"BTC","px":"65000","sz":"1","side":"B","time":1755172800000,"tid":7}]}}`)

	raws, _, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("got %d fills, want 1", len(raws))
	}
	if raws[0].User != "0xabc" {
		t.Errorf("user = %s, want 0xabc", raws[0].User)
	}
}

func TestParseMessageIgnoresOtherChannels(t *testing.T) {
	raws, channel, err := ParseMessage([]byte(`{"channel":"subscriptionResponse","data":{}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if channel != "subscriptionResponse" || len(raws) != 0 {
		t.Errorf("got %d fills on %s, want 0", len(raws), channel)
	}
}

func TestFillIDFallbacks(t *testing.T) {
	raw := validRaw()
	raw.Tid = 0
	raw.Hash = "0xdeadbeef"
	if id := fillID(raw); id != "0xdeadbeef-btc-1755172800000" {
		t.Errorf("hash fallback id = %s", id)
	}

	raw.Hash = ""
	if id := fillID(raw); id != "btc-0xabc-1755172800000" {
		t.Errorf("composite fallback id = %s", id)
	}
}
