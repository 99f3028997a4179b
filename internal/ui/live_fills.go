package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/perpscope/engine/internal/store"
)

// LiveFillsView displays a scrolling feed of incoming fills.
type LiveFillsView struct {
	table   *tview.Table
	fills   []store.Fill
	maxRows int
}

// NewLiveFillsView creates a new live fills view.
func NewLiveFillsView() *LiveFillsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Fills ").SetBorder(true)

	for col, header := range fillHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		table.SetCell(0, col, cell)
	}

	return &LiveFillsView{
		table:   table,
		fills:   make([]store.Fill, 0, 100),
		maxRows: 100,
	}
}

var fillHeaders = []string{"Time", "Coin", "Side", "Price", "Size", "Notional", "Trader"}

// Widget returns the tview primitive.
func (v *LiveFillsView) Widget() tview.Primitive {
	return v.table
}

// AddFill adds a new fill to the view.
func (v *LiveFillsView) AddFill(fill store.Fill) {
	// Add to front of ring buffer
	v.fills = append([]store.Fill{fill}, v.fills...)

	if len(v.fills) > v.maxRows {
		v.fills = v.fills[:v.maxRows]
	}

	v.updateTable()
}

// Refresh redraws the table.
func (v *LiveFillsView) Refresh() {
	v.updateTable()
}

// updateTable updates the table with current fills.
func (v *LiveFillsView) updateTable() {
	v.table.Clear()

	for col, header := range fillHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}

	for i, fill := range v.fills {
		row := i + 1

		side := fill.Side
		if fill.Liquidation {
			side = "LIQ"
		}

		notional, _ := fill.Notional.Float64()

		cells := []string{
			fill.Timestamp.Format("15:04:05"),
			fill.Coin,
			side,
			fill.Price.String(),
			fill.Size.String(),
			fmt.Sprintf("$%.0f", notional),
			truncateAddress(fill.Trader),
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft)
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Live Fills (%d) ", len(v.fills)))
}
