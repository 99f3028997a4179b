// Package metrics provides real-time metrics tracking for the engine.
package metrics

import (
	"sync"
	"time"
)

// CoinActivity tracks ingest activity for a single coin.
type CoinActivity struct {
	Coin       string
	FillCount  int
	Volume     float64
	LastPrice  float64
	LastUpdate time.Time
}

// Snapshot is a point-in-time view of engine metrics.
type Snapshot struct {
	FillsTotal        int64
	MalformedFills    int64
	AlertsByType      map[string]int64
	DeltasByClass     map[string]int64
	FillRate          float64 // fills per second
	CoinActivities    map[string]*CoinActivity
	Uptime            time.Duration
	FeedStatus        string
	ChannelBufferUsed int
	ChannelBufferCap  int
}

// Tracker provides thread-safe metrics tracking.
type Tracker struct {
	mu                sync.RWMutex
	fillsTotal        int64
	malformedFills    int64
	alertsByType      map[string]int64
	deltasByClass     map[string]int64
	coinActivity      map[string]*CoinActivity
	startTime         time.Time
	fillTimestamps    []time.Time // for rate calculation
	feedStatus        string
	channelBufferUsed int
	channelBufferCap  int
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		alertsByType:   make(map[string]int64),
		deltasByClass:  make(map[string]int64),
		coinActivity:   make(map[string]*CoinActivity),
		startTime:      time.Now(),
		fillTimestamps: make([]time.Time, 0, 1000),
		feedStatus:     "disconnected",
	}
}

// IncrementFills increments the total fill counter.
func (t *Tracker) IncrementFills() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fillsTotal++
	now := time.Now()
	t.fillTimestamps = append(t.fillTimestamps, now)

	// Keep only last 60 seconds of timestamps
	cutoff := now.Add(-60 * time.Second)
	validIdx := 0
	for i, ts := range t.fillTimestamps {
		if ts.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		t.fillTimestamps = t.fillTimestamps[validIdx:]
	}
}

// IncrementMalformed increments the dropped-record counter.
func (t *Tracker) IncrementMalformed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.malformedFills++
}

// IncrementAlert increments the counter for a whale alert type.
func (t *Tracker) IncrementAlert(alertType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alertsByType[alertType]++
}

// IncrementDelta increments the counter for a delta classification.
func (t *Tracker) IncrementDelta(classification string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deltasByClass[classification]++
}

// RecordCoinActivity updates per-coin ingest stats.
func (t *Tracker) RecordCoinActivity(coin string, price, notional float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	activity, exists := t.coinActivity[coin]
	if !exists {
		activity = &CoinActivity{Coin: coin}
		t.coinActivity[coin] = activity
	}

	activity.FillCount++
	activity.Volume += notional
	activity.LastPrice = price
	activity.LastUpdate = time.Now()
}

// SetFeedStatus sets the upstream feed connection status.
func (t *Tracker) SetFeedStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feedStatus = status
}

// SetChannelBuffer sets the fill channel buffer usage.
func (t *Tracker) SetChannelBuffer(used, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channelBufferUsed = used
	t.channelBufferCap = capacity
}

// Snapshot returns a point-in-time snapshot of metrics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Calculate fill rate (fills per second over last 60s)
	fillRate := 0.0
	if len(t.fillTimestamps) > 0 {
		oldest := t.fillTimestamps[0]
		duration := time.Since(oldest).Seconds()
		if duration > 0 {
			fillRate = float64(len(t.fillTimestamps)) / duration
		}
	}

	alertsCopy := make(map[string]int64, len(t.alertsByType))
	for k, v := range t.alertsByType {
		alertsCopy[k] = v
	}

	deltasCopy := make(map[string]int64, len(t.deltasByClass))
	for k, v := range t.deltasByClass {
		deltasCopy[k] = v
	}

	activitiesCopy := make(map[string]*CoinActivity, len(t.coinActivity))
	for k, v := range t.coinActivity {
		activityCopy := *v
		activitiesCopy[k] = &activityCopy
	}

	return Snapshot{
		FillsTotal:        t.fillsTotal,
		MalformedFills:    t.malformedFills,
		AlertsByType:      alertsCopy,
		DeltasByClass:     deltasCopy,
		FillRate:          fillRate,
		CoinActivities:    activitiesCopy,
		Uptime:            time.Since(t.startTime),
		FeedStatus:        t.feedStatus,
		ChannelBufferUsed: t.channelBufferUsed,
		ChannelBufferCap:  t.channelBufferCap,
	}
}
