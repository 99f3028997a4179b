package ui

import (
	"fmt"
	"sort"

	"github.com/rivo/tview"

	"github.com/perpscope/engine/internal/metrics"
)

// CoinOverviewView displays per-coin ingest activity.
type CoinOverviewView struct {
	table *tview.Table
}

// NewCoinOverviewView creates a new coin overview view.
func NewCoinOverviewView() *CoinOverviewView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Coins ").SetBorder(true)

	return &CoinOverviewView{table: table}
}

// Widget returns the tview primitive.
func (v *CoinOverviewView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the table from a metrics snapshot.
func (v *CoinOverviewView) Update(snapshot metrics.Snapshot) {
	v.table.Clear()

	headers := []string{"Coin", "Fills", "Volume", "Last Px"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}

	coins := make([]string, 0, len(snapshot.CoinActivities))
	for coin := range snapshot.CoinActivities {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	for i, coin := range coins {
		activity := snapshot.CoinActivities[coin]
		row := i + 1

		cells := []string{
			activity.Coin,
			fmt.Sprintf("%d", activity.FillCount),
			fmt.Sprintf("$%.0f", activity.Volume),
			fmt.Sprintf("%.2f", activity.LastPrice),
		}

		for col, text := range cells {
			v.table.SetCell(row, col, tview.NewTableCell(text).SetAlign(tview.AlignLeft))
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Coins (%d) ", len(coins)))
}
