package rebalancing

import (
	"time"

	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/risk"
)

// Run statuses. Dry runs and executed runs both finish as a status of
// their own so the history can tell them apart.
const (
	StatusDryRun    = "dry_run"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Summary labels used in results and reports.
const (
	LabelCurrent   = "Current"
	LabelTarget    = "Target"
	LabelPostTrade = "Post-trade"
)

// Result is everything one rebalance produced.
type Result struct {
	RunID     string    `json:"run_id"`
	TradeDate time.Time `json:"trade_date"`
	DryRun    bool      `json:"dry_run"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`

	Signals      []string        `json:"signals"`
	Alphas       []domain.Alpha  `json:"alphas"`
	Weights      []domain.Weight `json:"weights"`
	AccountValue float64         `json:"account_value"`
	Capital      float64         `json:"capital"`

	Current []domain.Holding      `json:"current"`
	Targets []domain.Holding      `json:"targets"`
	Orders  []domain.Order        `json:"orders"`
	Outcome []domain.OrderOutcome `json:"outcome,omitempty"`

	Summaries map[string]*risk.Summary `json:"summaries"`
	Warnings  []domain.Warning         `json:"warnings"`
	Report    string                   `json:"report,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Buys returns the number of BUY orders.
func (r *Result) Buys() int {
	return r.count(domain.ActionBuy)
}

// Sells returns the number of SELL orders.
func (r *Result) Sells() int {
	return r.count(domain.ActionSell)
}

func (r *Result) count(action domain.Action) int {
	n := 0
	for _, o := range r.Orders {
		if o.Action == action {
			n++
		}
	}
	return n
}

// RunRecord is the stored header of a run.
type RunRecord struct {
	ID          string    `json:"id"`
	TradeDate   string    `json:"trade_date"`
	DryRun      bool      `json:"dry_run"`
	Status      string    `json:"status"`
	NumOrders   int       `json:"num_orders"`
	NumWarnings int       `json:"num_warnings"`
	CreatedAt   time.Time `json:"created_at"`
}
