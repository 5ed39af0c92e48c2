package domain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Column names a nullable observation column.
type Column string

const (
	ColumnReturn        Column = "return"
	ColumnPredictedBeta Column = "predicted_beta"
	ColumnSpecificRisk  Column = "specific_risk"
)

// Observation is one instrument's data on one date.
// Nil pointers are missing values.
type Observation struct {
	Date          time.Time `json:"date"`
	RiskID        RiskID    `json:"risk_id"`
	Ticker        Ticker    `json:"ticker"`
	Return        float64   `json:"return"`
	PredictedBeta *float64  `json:"predicted_beta,omitempty"`
	SpecificRisk  *float64  `json:"specific_risk,omitempty"`
}

// Observations is the observation relation together with the set of
// columns the source actually populates.
type Observations struct {
	Columns []Column
	Rows    []Observation
}

// HasColumn reports whether the relation carries column c.
func (o Observations) HasColumn(c Column) bool {
	for _, col := range o.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// Alpha is the blended expected-return forecast for one instrument.
type Alpha struct {
	RiskID RiskID  `json:"risk_id"`
	Alpha  float64 `json:"alpha"`
}

// Beta is the predicted market beta for one instrument on the trade date.
type Beta struct {
	RiskID        RiskID  `json:"risk_id"`
	PredictedBeta float64 `json:"predicted_beta"`
}

// RiskWeight is a signed weight keyed by risk ID (optimizer output, benchmark).
type RiskWeight struct {
	RiskID RiskID  `json:"risk_id"`
	Weight float64 `json:"weight"`
}

// Weight is a signed portfolio weight keyed by ticker.
type Weight struct {
	Ticker Ticker  `json:"ticker"`
	Weight float64 `json:"weight"`
}

// Holding is a share count for one ticker. Current holdings may be
// negative (short); targets are non-negative.
type Holding struct {
	Ticker Ticker  `json:"ticker"`
	Shares float64 `json:"shares"`
}

// Prices maps tickers to their last price. An absent key or NaN is a
// missing price.
type Prices map[Ticker]float64

// Get returns the price for t and whether it is present.
func (p Prices) Get(t Ticker) (float64, bool) {
	v, ok := p[t]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Tickers returns the priced tickers sorted.
func (p Prices) Tickers() []Ticker {
	out := make([]Ticker, 0, len(p))
	for t := range p {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Action is the side of an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Order is an executable instruction. Shares is always positive and
// Action is never HOLD.
type Order struct {
	Ticker Ticker  `json:"ticker"`
	Price  float64 `json:"price"`
	Shares float64 `json:"shares"`
	Action Action  `json:"action"`
}

// Dollars returns the notional value of the order.
func (o Order) Dollars() float64 {
	return o.Price * o.Shares
}

// OrderStatus is the broker-side state of a submitted order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// SubmitRequest is an order with the limit price it is sent at.
type SubmitRequest struct {
	Order
	LimitPrice float64 `json:"limit_price"`
}

// OrderOutcome is the per-order result of a submission.
type OrderOutcome struct {
	OrderID    string      `json:"order_id,omitempty"`
	Ticker     Ticker      `json:"ticker"`
	Action     Action      `json:"action"`
	Shares     float64     `json:"shares"`
	LimitPrice float64     `json:"limit_price"`
	Status     OrderStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
}

// CancelOutcome is the per-order result of a cancellation.
type CancelOutcome struct {
	OrderID string      `json:"order_id"`
	Ticker  Ticker      `json:"ticker"`
	Status  OrderStatus `json:"status"`
	Error   string      `json:"error,omitempty"`
}

// Covariance is a symmetric matrix whose rows and columns are ordered as IDs.
type Covariance struct {
	IDs    []RiskID
	Matrix *mat.SymDense
}

// PortfolioMetrics summarizes exposures and risk of a set of holdings.
type PortfolioMetrics struct {
	GrossExposure    float64 `json:"gross_exposure"`
	NetExposure      float64 `json:"net_exposure"`
	NumLong          int     `json:"num_long"`
	NumShort         int     `json:"num_short"`
	NumPositions     int     `json:"num_positions"`
	ActiveRisk       float64 `json:"active_risk"`
	TotalRisk        float64 `json:"total_risk"`
	Utilization      float64 `json:"utilization"`
	Capital          float64 `json:"capital"`
	DollarsAllocated float64 `json:"dollars_allocated"`
}
