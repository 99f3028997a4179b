package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rivo/tview"

	"github.com/perpscope/engine/internal/metrics"
)

// StatsDashboardView displays engine-level counters.
type StatsDashboardView struct {
	text *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	text := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)

	text.SetTitle(" Engine Stats ").SetBorder(true)

	return &StatsDashboardView{text: text}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.text
}

// Update refreshes the dashboard from a metrics snapshot.
func (v *StatsDashboardView) Update(snapshot metrics.Snapshot) {
	var b strings.Builder

	fmt.Fprintf(&b, "Feed: %s | Uptime: %s | Rate: %.1f fills/s\n",
		snapshot.FeedStatus,
		snapshot.Uptime.Round(1e9),
		snapshot.FillRate,
	)

	fmt.Fprintf(&b, "Fills: %d | Malformed: %d | Buffer: %d/%d\n",
		snapshot.FillsTotal,
		snapshot.MalformedFills,
		snapshot.ChannelBufferUsed,
		snapshot.ChannelBufferCap,
	)

	fmt.Fprintf(&b, "Alerts: %s\n", formatCounts(snapshot.AlertsByType))
	fmt.Fprintf(&b, "Deltas: %s", formatCounts(snapshot.DeltasByClass))

	v.text.SetText(b.String())
}

// formatCounts renders a counter map as "k=v k=v" in stable order.
func formatCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return "none"
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
