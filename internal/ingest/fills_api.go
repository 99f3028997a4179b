// Package ingest provides fill data polling functionality.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/perpscope/engine/internal/metrics"
	"github.com/perpscope/engine/internal/store"
)

const (
	// DefaultPollInterval is the default polling interval
	DefaultPollInterval = 5 * time.Second
)

// FillsPoller polls the venue info endpoint for recent trades, covering
// gaps in the WebSocket feed. Duplicates are absorbed downstream by the
// dispatcher's seen-fill set and the store's insert-or-ignore discipline.
type FillsPoller struct {
	infoURL  string
	coins    []string
	client   *http.Client
	interval time.Duration
	fillChan chan<- store.Fill
	tracker  *metrics.Tracker
}

// NewFillsPoller creates a new FillsPoller.
func NewFillsPoller(infoURL string, coins []string, interval time.Duration, fillChan chan<- store.Fill, tracker *metrics.Tracker) *FillsPoller {
	if interval == 0 {
		interval = DefaultPollInterval
	}

	return &FillsPoller{
		infoURL:  infoURL,
		coins:    coins,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: interval,
		fillChan: fillChan,
		tracker:  tracker,
	}
}

// Start begins polling for fills.
func (p *FillsPoller) Start(ctx context.Context) {
	slog.Info("starting_fills_poller", "info_url", p.infoURL, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("fills_poller_stopped")
			return
		case <-ticker.C:
			for _, coin := range p.coins {
				if err := p.poll(ctx, coin); err != nil {
					slog.Debug("poll_failed", "coin", coin, "error", err)
				}
			}
		}
	}
}

// poll fetches recent trades for one coin and dispatches them.
func (p *FillsPoller) poll(ctx context.Context, coin string) error {
	raws, err := p.fetchRecentTrades(ctx, coin)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if len(raws) == 0 {
		return nil
	}
	slog.Debug("fills_fetched", "coin", coin, "count", len(raws))

	for _, raw := range raws {
		fill, err := Normalize(raw)
		if err != nil {
			p.tracker.IncrementMalformed()
			slog.Debug("fill_dropped", "error", err, "coin", raw.Coin)
			continue
		}

		select {
		case p.fillChan <- fill:
			// Successfully sent
		default:
			slog.Warn("fill_channel_full_api", "dropped_fill", fill.ID)
		}
	}

	return nil
}

// fetchRecentTrades fetches the venue's recent public trades for a coin.
func (p *FillsPoller) fetchRecentTrades(ctx context.Context, coin string) ([]RawFill, error) {
	body, err := json.Marshal(map[string]string{
		"type": "recentTrades",
		"coin": coin,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.infoURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var raws []RawFill
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	return raws, nil
}
