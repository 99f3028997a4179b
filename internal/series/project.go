package series

import (
	"fmt"

	"github.com/perpscope/engine/internal/store"
)

// Valid metric names for single-metric projections.
const (
	MetricLongShortRatio = "longShortRatio"
	MetricLongCount      = "longCount"
	MetricShortCount     = "shortCount"
	MetricTotalTraders   = "totalTraders"
	MetricLongNotional   = "longNotional"
	MetricShortNotional  = "shortNotional"
)

var validMetrics = map[string]bool{
	MetricLongShortRatio: true,
	MetricLongCount:      true,
	MetricShortCount:     true,
	MetricTotalTraders:   true,
	MetricLongNotional:   true,
	MetricShortNotional:  true,
}

// InvalidMetricError reports a metric name outside the fixed set. Surfaced
// to the caller as a client error; the request is otherwise unprocessed.
type InvalidMetricError struct {
	Metric string
}

func (e *InvalidMetricError) Error() string {
	return fmt.Sprintf("invalid metric %q", e.Metric)
}

// ValidateMetric checks a metric name against the fixed set. Callers must
// validate before querying storage.
func ValidateMetric(metric string) error {
	if !validMetrics[metric] {
		return &InvalidMetricError{Metric: metric}
	}
	return nil
}

// Point is one {timestamp, value} sample in a single-metric series.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Timeseries is a single-metric projection with latest-value convenience
// fields. Latest and LatestTimestamp are null when the series is empty.
type Timeseries struct {
	Coin            string   `json:"coin"`
	Metric          string   `json:"metric"`
	Latest          *float64 `json:"latest"`
	LatestTimestamp *int64   `json:"latestTimestamp"`
	DataPoints      int      `json:"dataPoints"`
	Timeseries      []Point  `json:"timeseries"`
}

// FullPoint carries every metric for one snapshot, for the full-JSON
// projection.
type FullPoint struct {
	Timestamp      int64   `json:"timestamp"`
	LongCount      int     `json:"longCount"`
	ShortCount     int     `json:"shortCount"`
	LongNotional   float64 `json:"longNotional"`
	ShortNotional  float64 `json:"shortNotional"`
	TotalTraders   int     `json:"totalTraders"`
	LongShortRatio float64 `json:"longShortRatio"`
}

// Project extracts one metric from an ordered snapshot series.
// An unknown metric always fails; it never silently defaults.
func Project(coin string, snapshots []store.TraderSnapshot, metric string) (*Timeseries, error) {
	if err := ValidateMetric(metric); err != nil {
		return nil, err
	}

	out := &Timeseries{
		Coin:       coin,
		Metric:     metric,
		Timeseries: make([]Point, 0, len(snapshots)),
	}

	for _, snap := range snapshots {
		out.Timeseries = append(out.Timeseries, Point{
			Timestamp: snap.Timestamp.UnixMilli(),
			Value:     metricValue(snap, metric),
		})
	}

	out.DataPoints = len(out.Timeseries)
	if n := len(out.Timeseries); n > 0 {
		last := out.Timeseries[n-1]
		out.Latest = &last.Value
		out.LatestTimestamp = &last.Timestamp
	}

	return out, nil
}

// ProjectAll emits every metric per point.
func ProjectAll(snapshots []store.TraderSnapshot) []FullPoint {
	points := make([]FullPoint, 0, len(snapshots))
	for _, snap := range snapshots {
		points = append(points, FullPoint{
			Timestamp:      snap.Timestamp.UnixMilli(),
			LongCount:      snap.LongCount,
			ShortCount:     snap.ShortCount,
			LongNotional:   snap.LongNotional,
			ShortNotional:  snap.ShortNotional,
			TotalTraders:   snap.TotalTraders,
			LongShortRatio: snap.LongShortRatio,
		})
	}
	return points
}

func metricValue(snap store.TraderSnapshot, metric string) float64 {
	switch metric {
	case MetricLongShortRatio:
		return snap.LongShortRatio
	case MetricLongCount:
		return float64(snap.LongCount)
	case MetricShortCount:
		return float64(snap.ShortCount)
	case MetricTotalTraders:
		return float64(snap.TotalTraders)
	case MetricLongNotional:
		return snap.LongNotional
	case MetricShortNotional:
		return snap.ShortNotional
	}
	return 0
}
