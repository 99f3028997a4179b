package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/perpscope/engine/internal/store"
)

// WhaleFeedView displays detected whale alerts.
type WhaleFeedView struct {
	list     *tview.List
	alerts   []store.WhaleAlert
	maxItems int
}

// NewWhaleFeedView creates a new whale alert view.
func NewWhaleFeedView() *WhaleFeedView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" 🐋 Whale Alerts ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	return &WhaleFeedView{
		list:     list,
		alerts:   make([]store.WhaleAlert, 0, 50),
		maxItems: 50,
	}
}

// Widget returns the tview primitive.
func (v *WhaleFeedView) Widget() tview.Primitive {
	return v.list
}

// AddAlert adds a new alert to the feed.
func (v *WhaleFeedView) AddAlert(alert store.WhaleAlert) {
	// Add to front of list
	v.alerts = append([]store.WhaleAlert{alert}, v.alerts...)

	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}

	v.rebuildList()
}

// Refresh redraws the list.
func (v *WhaleFeedView) Refresh() {
	v.rebuildList()
}

// rebuildList rebuilds the entire list from alerts.
func (v *WhaleFeedView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No whale alerts yet", "", 0, nil)
		return
	}

	for _, alert := range v.alerts {
		mainText, secondaryText := formatAlert(alert)
		v.list.AddItem(mainText, secondaryText, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" 🐋 Whale Alerts (%d) ", len(v.alerts)))
}

// formatAlert formats an alert for display.
func formatAlert(alert store.WhaleAlert) (string, string) {
	var icon string
	switch alert.AlertType {
	case store.AlertNewWhale:
		icon = "🆕"
	case store.AlertWhaleAdd:
		icon = "➕"
	case store.AlertWhaleClose:
		icon = "❌"
	default:
		icon = "❓"
	}

	mainText := fmt.Sprintf("%s %s %s %s",
		alert.Timestamp.Format("15:04:05"), icon, alert.AlertType, alert.Coin)

	secondaryText := fmt.Sprintf("Trader: %s | $%.0f | %s",
		truncateAddress(alert.Trader), alert.Notional, alert.Direction)

	return mainText, secondaryText
}

// truncateAddress truncates a wallet address for display.
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
