// Package ingest provides venue metadata fetching functionality.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// PerpMeta describes one listed perp market from the venue meta endpoint.
type PerpMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted,omitempty"`
}

type metaResponse struct {
	Universe []PerpMeta `json:"universe"`
}

// FetchPerpMeta fetches the listed perp universe from the venue.
func FetchPerpMeta(infoURL string) ([]PerpMeta, error) {
	body, err := json.Marshal(map[string]string{"type": "meta"})
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(infoURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var meta metaResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta: %w", err)
	}

	return meta.Universe, nil
}

// FilterListedCoins drops configured coins the venue does not list, logging
// each one. An empty result means the config and the venue disagree entirely.
func FilterListedCoins(coins []string, universe []PerpMeta) []string {
	listed := make(map[string]bool, len(universe))
	for _, m := range universe {
		if !m.IsDelisted {
			listed[strings.ToUpper(m.Name)] = true
		}
	}

	var kept []string
	for _, coin := range coins {
		if listed[coin] {
			kept = append(kept, coin)
		} else {
			slog.Warn("coin_not_listed", "coin", coin)
		}
	}
	return kept
}
