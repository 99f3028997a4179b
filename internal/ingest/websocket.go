package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perpscope/engine/internal/metrics"
	"github.com/perpscope/engine/internal/store"
)

// Reconnection constants
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2

	// Heartbeat constants
	HeartbeatTimeout = 60 * time.Second
	PongTimeout      = 10 * time.Second

	// Write timeout
	WriteTimeout = 10 * time.Second
)

// Listener manages the WebSocket connection to the fill feed.
type Listener struct {
	url       string
	coins     []string
	fillChan  chan<- store.Fill
	tracker   *metrics.Tracker
	conn      *websocket.Conn
	connMu    sync.Mutex
	backoff   time.Duration
	lastMsg   time.Time
	lastMsgMu sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewListener creates a new WebSocket listener subscribing to trade fills
// for the given coins.
func NewListener(url string, coins []string, fillChan chan<- store.Fill, tracker *metrics.Tracker) *Listener {
	return &Listener{
		url:      url,
		coins:    coins,
		fillChan: fillChan,
		tracker:  tracker,
		backoff:  InitialBackoff,
		stopChan: make(chan struct{}),
	}
}

// Start begins the WebSocket listener with automatic reconnection.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.runLoop(ctx)

	l.wg.Add(1)
	go l.heartbeatMonitor(ctx)
}

// Stop gracefully shuts down the listener.
func (l *Listener) Stop() {
	close(l.stopChan)
	l.closeConnection()
	l.wg.Wait()
}

// runLoop handles connection, reading, and reconnection.
func (l *Listener) runLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ws_loop_stopping", "reason", "context cancelled")
			return
		case <-l.stopChan:
			slog.Info("ws_loop_stopping", "reason", "stop signal")
			return
		default:
		}

		// Attempt connection
		if err := l.connect(ctx); err != nil {
			slog.Error("ws_connect_failed", "error", err, "backoff", l.backoff)
			l.tracker.SetFeedStatus("disconnected")
			l.waitBackoff(ctx)
			continue
		}

		// Read messages until error
		if err := l.readLoop(ctx); err != nil {
			slog.Warn("ws_read_error", "error", err)
		}

		l.closeConnection()
		l.tracker.SetFeedStatus("disconnected")

		// Check if we should stop
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		default:
			l.waitBackoff(ctx)
		}
	}
}

// connect establishes the WebSocket connection and subscribes to the trade
// channel for every tracked coin.
func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	// Reset backoff on successful connection
	l.backoff = InitialBackoff

	slog.Info("ws_connected", "endpoint", l.url)
	l.tracker.SetFeedStatus("connected")

	if err := l.subscribe(); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	l.updateLastMsg()
	return nil
}

// subscribe sends one trade-channel subscription per coin.
func (l *Listener) subscribe() error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	for _, coin := range l.coins {
		msg := map[string]interface{}{
			"method": "subscribe",
			"subscription": map[string]string{
				"type": "trades",
				"coin": coin,
			},
		}

		l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := l.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("failed to send subscribe for %s: %w", coin, err)
		}
	}

	slog.Info("ws_subscribed", "channel", "trades", "coin_count", len(l.coins))
	return nil
}

// readLoop reads messages from the WebSocket.
func (l *Listener) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopChan:
			return nil
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		// Set read deadline
		conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout + PongTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		l.updateLastMsg()

		// Parse and dispatch fills
		l.handleMessage(message)
	}
}

// handleMessage parses a message, normalizes each raw record, and dispatches
// the resulting fills. Malformed records are dropped and counted; one bad
// record never aborts the batch.
func (l *Listener) handleMessage(data []byte) {
	raws, channel, err := ParseMessage(data)
	if err != nil {
		slog.Debug("ws_parse_error", "error", err, "raw", string(data))
		return
	}

	if len(raws) == 0 {
		if channel != "" {
			slog.Debug("ws_message", "channel", channel)
		}
		return
	}

	for _, raw := range raws {
		fill, err := Normalize(raw)
		if err != nil {
			l.tracker.IncrementMalformed()
			slog.Debug("fill_dropped", "error", err, "coin", raw.Coin)
			continue
		}

		select {
		case l.fillChan <- fill:
			slog.Debug("fill_received",
				"coin", fill.Coin,
				"trader", truncate(fill.Trader, 10),
				"side", fill.Side,
				"size", fill.Size,
				"price", fill.Price,
				"notional", fill.Notional,
			)
		default:
			slog.Warn("fill_channel_full", "dropped_fill", fill.ID)
		}
	}
}

// heartbeatMonitor checks for connection health.
func (l *Listener) heartbeatMonitor(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.checkHeartbeat()
		}
	}
}

// checkHeartbeat verifies we've received messages recently.
func (l *Listener) checkHeartbeat() {
	l.lastMsgMu.RLock()
	lastMsg := l.lastMsg
	l.lastMsgMu.RUnlock()

	if lastMsg.IsZero() {
		return
	}

	elapsed := time.Since(lastMsg)
	if elapsed > HeartbeatTimeout {
		slog.Warn("ws_heartbeat_timeout", "elapsed", elapsed)

		// Send ping
		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn != nil {
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Warn("ws_ping_failed", "error", err)
				l.closeConnection()
			}
		}
	}
}

// updateLastMsg updates the last message timestamp.
func (l *Listener) updateLastMsg() {
	l.lastMsgMu.Lock()
	l.lastMsg = time.Now()
	l.lastMsgMu.Unlock()
}

// closeConnection safely closes the WebSocket connection.
func (l *Listener) closeConnection() {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
		slog.Info("ws_disconnected")
	}
}

// waitBackoff waits for the backoff duration with jitter.
func (l *Listener) waitBackoff(ctx context.Context) {
	// Add jitter
	jitter := time.Duration(float64(l.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := l.backoff + jitter

	slog.Debug("ws_waiting_backoff", "duration", wait)

	select {
	case <-ctx.Done():
	case <-l.stopChan:
	case <-time.After(wait):
	}

	// Increase backoff for next attempt
	l.backoff = time.Duration(float64(l.backoff) * BackoffFactor)
	if l.backoff > MaxBackoff {
		l.backoff = MaxBackoff
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
