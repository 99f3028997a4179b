// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/perpscope/engine/internal/metrics"
	"github.com/perpscope/engine/internal/store"
)

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	coinOverview   *CoinOverviewView
	whaleFeed      *WhaleFeedView
	liveFills      *LiveFillsView
	statsDashboard *StatsDashboardView

	// Data channels
	fillChan  <-chan store.Fill
	alertChan <-chan store.WhaleAlert
	tracker   *metrics.Tracker

	refreshRate time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application.
func NewApp(fillChan <-chan store.Fill, alertChan <-chan store.WhaleAlert, tracker *metrics.Tracker, refreshRate time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}

	app := &App{
		app:         tview.NewApplication(),
		fillChan:    fillChan,
		alertChan:   alertChan,
		tracker:     tracker,
		refreshRate: refreshRate,
		ctx:         ctx,
		cancel:      cancel,
	}

	// Initialize views
	app.coinOverview = NewCoinOverviewView()
	app.whaleFeed = NewWhaleFeedView()
	app.liveFills = NewLiveFillsView()
	app.statsDashboard = NewStatsDashboardView()

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the panel layout.
func (a *App) setupLayout() {
	// Top row: Coin Overview (left) | Whale Alerts (right)
	topRow := tview.NewFlex().
		AddItem(a.coinOverview.Widget(), 0, 1, false).
		AddItem(a.whaleFeed.Widget(), 0, 2, false)

	// Middle row: Live Fills (full width)
	middleRow := a.liveFills.Widget()

	// Bottom row: Stats Dashboard (full width)
	bottomRow := a.statsDashboard.Widget()

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 2, false).
		AddItem(middleRow, 0, 3, false).
		AddItem(bottomRow, 0, 1, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.processFills()
	go a.processAlerts()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// processFills reads from the fill channel and updates views.
func (a *App) processFills() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case fill, ok := <-a.fillChan:
			if !ok {
				return
			}

			a.app.QueueUpdateDraw(func() {
				a.liveFills.AddFill(fill)
			})
		}
	}
}

// processAlerts reads from the alert channel and updates the whale feed.
func (a *App) processAlerts() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case alert, ok := <-a.alertChan:
			if !ok {
				return
			}

			a.app.QueueUpdateDraw(func() {
				a.whaleFeed.AddAlert(alert)
			})
		}
	}
}

// updateLoop periodically refreshes views with metrics data.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.tracker.Snapshot()

			a.app.QueueUpdateDraw(func() {
				a.statsDashboard.Update(snapshot)
				a.coinOverview.Update(snapshot)
			})
		}
	}
}

// refresh manually refreshes all views.
func (a *App) refresh() {
	snapshot := a.tracker.Snapshot()

	a.app.QueueUpdateDraw(func() {
		a.coinOverview.Update(snapshot)
		a.whaleFeed.Refresh()
		a.liveFills.Refresh()
		a.statsDashboard.Update(snapshot)
	})
}
