// Package whale classifies position deltas against a notional threshold and
// emits whale alerts.
package whale

import (
	"github.com/shopspring/decimal"

	"github.com/perpscope/engine/internal/store"
)

// Detector applies the whale rules to position deltas.
//
// NEW_WHALE: a position just opened at or above the threshold.
// WHALE_ADD: an existing position increased and sits at or above the threshold.
// WHALE_CLOSE: a position that was at or above the threshold closed or flipped.
//
// Decreases that remain above the threshold never alert, and positions that
// never cross the threshold never alert.
type Detector struct {
	threshold decimal.Decimal
}

// NewDetector creates a Detector with the given notional threshold in USD.
func NewDetector(thresholdUSD float64) *Detector {
	return &Detector{threshold: decimal.NewFromFloat(thresholdUSD)}
}

// Inspect returns at most one alert for the delta, or nil.
func (d *Detector) Inspect(delta store.PositionDelta) *store.WhaleAlert {
	switch delta.Classification {
	case store.DeltaNewLong, store.DeltaNewShort:
		if delta.NewNotional.GreaterThanOrEqual(d.threshold) {
			return d.alert(delta, store.AlertNewWhale, delta.NewNotional, sideOf(delta.NewSize))
		}

	case store.DeltaIncreaseLong, store.DeltaIncreaseShort:
		if delta.NewNotional.GreaterThanOrEqual(d.threshold) {
			return d.alert(delta, store.AlertWhaleAdd, delta.NewNotional, sideOf(delta.NewSize))
		}

	case store.DeltaCloseLong, store.DeltaCloseShort,
		store.DeltaFlipLongShort, store.DeltaFlipShortLong,
		store.DeltaLiquidated:
		if delta.PrevNotional.GreaterThanOrEqual(d.threshold) {
			return d.alert(delta, store.AlertWhaleClose, delta.PrevNotional, sideOf(delta.PrevSize))
		}
	}

	return nil
}

func (d *Detector) alert(delta store.PositionDelta, alertType string, notional decimal.Decimal, direction string) *store.WhaleAlert {
	value, _ := notional.Float64()
	return &store.WhaleAlert{
		Coin:      delta.Coin,
		Trader:    delta.Trader,
		AlertType: alertType,
		Notional:  value,
		Direction: direction,
		Timestamp: delta.Timestamp,
	}
}

func sideOf(size decimal.Decimal) string {
	if size.IsNegative() {
		return "short"
	}
	return "long"
}
