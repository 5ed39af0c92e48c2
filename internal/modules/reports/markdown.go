package reports

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/aristath/sftrader/internal/domain"
)

//go:embed templates/*.md
var templates embed.FS

// Summary is a labelled set of portfolio metrics.
type Summary struct {
	Label   string
	Metrics domain.PortfolioMetrics
}

// Report is everything printed after a rebalance.
type Report struct {
	RunID     string
	TradeDate time.Time
	DryRun    bool
	Summaries []Summary
	Positions []PositionRow
	Buys      []OrderRow
	Sells     []OrderRow
	Submitted []domain.OrderOutcome
	Warnings  map[domain.WarningCode]int
}

var funcs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", v*100) },
	"optPct": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", *v)
	},
	"money":  func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"shares": func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"date":   func(t time.Time) string { return t.Format("2006-01-02") },
}

// RenderMarkdown renders r as a Markdown document.
func RenderMarkdown(r *Report) (string, error) {
	tmpl, err := template.New("report.md").Funcs(funcs).ParseFS(templates, "templates/*.md")
	if err != nil {
		return "", fmt.Errorf("failed to parse report templates: %w", err)
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, "report.md", r); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return b.String(), nil
}
