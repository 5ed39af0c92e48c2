package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/risk"
)

// printMarkdown renders md for the terminal, falling back to the raw text
// when rendering fails.
func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(120),
	)
	if err == nil {
		if out, err := r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Fprintln(os.Stderr, "warning: could not render markdown")
	fmt.Print(md)
}

// summaryMarkdown formats a holdings summary and its top active weights
func summaryMarkdown(title string, s *risk.Summary, warnings []domain.Warning, top int) string {
	var b strings.Builder
	m := s.Metrics

	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("| Metric | Value |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Capital | %.2f |\n", m.Capital)
	fmt.Fprintf(&b, "| Dollars allocated | %.2f |\n", m.DollarsAllocated)
	fmt.Fprintf(&b, "| Utilization | %.2f%% |\n", m.Utilization*100)
	fmt.Fprintf(&b, "| Gross exposure | %.4f |\n", m.GrossExposure)
	fmt.Fprintf(&b, "| Net exposure | %.4f |\n", m.NetExposure)
	fmt.Fprintf(&b, "| Positions (long / short) | %d (%d / %d) |\n", m.NumPositions, m.NumLong, m.NumShort)
	fmt.Fprintf(&b, "| Total risk | %.2f%% |\n", m.TotalRisk*100)
	fmt.Fprintf(&b, "| Active risk | %.2f%% |\n", m.ActiveRisk*100)

	active := append([]risk.ActiveWeight(nil), s.Active...)
	sort.SliceStable(active, func(i, j int) bool {
		return math.Abs(active[i].Active) > math.Abs(active[j].Active)
	})
	if len(active) > top {
		active = active[:top]
	}
	if len(active) > 0 {
		b.WriteString("\n## Largest active weights\n\n")
		b.WriteString("| Ticker | Holding | Benchmark | Active |\n|---|---:|---:|---:|\n")
		for _, a := range active {
			name := string(a.Ticker)
			if name == "" {
				name = string(a.RiskID)
			}
			fmt.Fprintf(&b, "| %s | %.2f%% | %.2f%% | %+.2f%% |\n", name, a.Holding*100, a.Benchmark*100, a.Active*100)
		}
	}

	if len(warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "- `%s` %s\n", w.Code, w.String())
		}
	}
	return b.String()
}
