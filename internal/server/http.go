// Package server exposes the positioning API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/perpscope/engine/internal/metrics"
	"github.com/perpscope/engine/internal/series"
	"github.com/perpscope/engine/internal/store"
)

const (
	// MaxSeriesLimit caps the number of points a single query may request.
	MaxSeriesLimit = 10000

	// DefaultSeriesLimit applies when the caller omits limit.
	DefaultSeriesLimit = 100

	// fetchMultiplier over-fetches snapshot rows ahead of deduplication.
	fetchMultiplier = 3
)

type Params struct {
	Port          int
	BucketMinutes int
}

type Server struct {
	p       Params
	store   *store.Store
	tracker *metrics.Tracker
}

func NewServer(p Params, st *store.Store, tracker *metrics.Tracker) *Server {
	if p.BucketMinutes <= 0 {
		p.BucketMinutes = series.DefaultBucketMinutes
	}
	return &Server{p: p, store: st, tracker: tracker}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/positioning", s.positioningHandler)
	mux.HandleFunc("/api/fills", s.fillsHandler)
	mux.HandleFunc("/api/whales", s.whalesHandler)
	mux.HandleFunc("/healthz", s.healthHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.p.Port),
		Handler: middleware(mux),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("http_server_started", "port", s.p.Port)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shCtx)
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// positioningHandler serves deduplicated positioning time series.
//
// GET /api/positioning?coin=BTC&metric=longShortRatio&limit=100&format=timeseries
func (s *Server) positioningHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	coin := getParam(r, "coin")
	if coin == "" {
		http.Error(w, "coin is required", http.StatusBadRequest)
		return
	}

	format := getParamOr(r, "format", "timeseries")
	if format != "timeseries" && format != "json" {
		http.Error(w, fmt.Sprintf("invalid format %q", format), http.StatusBadRequest)
		return
	}

	metric := getParamOr(r, "metric", series.MetricLongShortRatio)
	// Metric validation happens before any storage access.
	if format == "timeseries" {
		if err := series.ValidateMetric(metric); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	limit, err := parseLimit(getParamOr(r, "limit", ""))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.store.SnapshotHistory(r.Context(), coin, limit*fetchMultiplier)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resampled := series.Resample(history, s.p.BucketMinutes, limit)

	if format == "json" {
		writeJSON(w, struct {
			Coin       string             `json:"coin"`
			DataPoints int                `json:"dataPoints"`
			Points     []series.FullPoint `json:"points"`
		}{
			Coin:       coin,
			DataPoints: len(resampled),
			Points:     series.ProjectAll(resampled),
		})
		return
	}

	ts, err := series.Project(coin, resampled, metric)
	if err != nil {
		// Already validated above; treat a late failure as internal.
		slog.Error("projection_failed", "metric", metric, "error", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, ts)
}

// fillView is the wire shape for raw fill rows.
type fillView struct {
	ID          string `json:"id"`
	Trader      string `json:"trader"`
	Coin        string `json:"coin"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	Notional    string `json:"notional"`
	Fee         string `json:"fee"`
	ClosedPnL   string `json:"closedPnl"`
	Direction   string `json:"direction"`
	Liquidation bool   `json:"liquidation"`
	Timestamp   int64  `json:"timestamp"`
	TxHash      string `json:"txHash,omitempty"`
}

// fillsHandler serves the most recent raw fills for a coin.
//
// GET /api/fills?coin=BTC&limit=50
func (s *Server) fillsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	coin := getParam(r, "coin")
	if coin == "" {
		http.Error(w, "coin is required", http.StatusBadRequest)
		return
	}

	limit, err := parseLimit(getParamOr(r, "limit", "50"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fills, err := s.store.RecentFills(r.Context(), coin, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	views := make([]fillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, fillView{
			ID:          f.ID,
			Trader:      f.Trader,
			Coin:        f.Coin,
			Price:       f.Price.String(),
			Size:        f.Size.String(),
			Side:        f.Side,
			Notional:    f.Notional.String(),
			Fee:         f.Fee.String(),
			ClosedPnL:   f.ClosedPnL.String(),
			Direction:   f.Direction,
			Liquidation: f.Liquidation,
			Timestamp:   f.Timestamp.UnixMilli(),
			TxHash:      f.TxHash,
		})
	}

	writeJSON(w, views)
}

// whaleView is the wire shape for whale alert rows.
type whaleView struct {
	Coin      string  `json:"coin"`
	Trader    string  `json:"trader"`
	AlertType string  `json:"alertType"`
	Notional  float64 `json:"notional"`
	Direction string  `json:"direction"`
	Timestamp int64   `json:"timestamp"`
}

// whalesHandler serves recent whale alerts for a coin.
//
// GET /api/whales?coin=BTC&limit=50
func (s *Server) whalesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	coin := getParam(r, "coin")
	if coin == "" {
		http.Error(w, "coin is required", http.StatusBadRequest)
		return
	}

	limit, err := parseLimit(getParamOr(r, "limit", "50"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	alerts, err := s.store.RecentWhaleAlerts(r.Context(), coin, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	views := make([]whaleView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, whaleView{
			Coin:      a.Coin,
			Trader:    a.Trader,
			AlertType: a.AlertType,
			Notional:  a.Notional,
			Direction: a.Direction,
			Timestamp: a.Timestamp.UnixMilli(),
		})
	}

	writeJSON(w, views)
}

// healthHandler reports process liveness and feed status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, struct {
		Status         string  `json:"status"`
		FeedStatus     string  `json:"feedStatus"`
		UptimeSeconds  float64 `json:"uptimeSeconds"`
		FillsTotal     int64   `json:"fillsTotal"`
		MalformedFills int64   `json:"malformedFills"`
	}{
		Status:         "ok",
		FeedStatus:     snap.FeedStatus,
		UptimeSeconds:  snap.Uptime.Seconds(),
		FillsTotal:     snap.FillsTotal,
		MalformedFills: snap.MalformedFills,
	})
}

// writeStoreError maps storage failures onto response codes: an unavailable
// or unconfigured store is a 503, anything else a generic 500. No partial
// data is ever returned.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	slog.Error("storage_query_failed", "error", err)
	http.Error(w, "Internal Error", http.StatusInternalServerError)
}

// parseLimit parses and caps the limit parameter.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultSeriesLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > MaxSeriesLimit {
		limit = MaxSeriesLimit
	}
	return limit, nil
}

// writeJSON serializes the response and writes it back to the client.
func writeJSON(w http.ResponseWriter, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("response_marshal_failed", "error", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		slog.Debug("response_write_failed", "error", err)
	}
}

// getParam retrieves a query parameter from the request URL.
func getParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// getParamOr retrieves a query parameter, falling back to a default.
func getParamOr(r *http.Request, key, defVal string) string {
	val := getParam(r, key)
	if val == "" {
		return defVal
	}
	return val
}

// Simple request logging middleware.
func middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http_request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
