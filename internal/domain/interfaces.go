package domain

import (
	"context"
	"time"
)

// DataProvider supplies observations, benchmark weights, identifier
// mappings, prices and covariance for the pipeline.
type DataProvider interface {
	// Observations returns every observation with start <= date <= end.
	Observations(ctx context.Context, start, end time.Time) (Observations, error)

	// Benchmark returns benchmark weights on date.
	Benchmark(ctx context.Context, date time.Time) ([]RiskWeight, error)

	// IDMap returns the ticker/risk-id bijection valid on date.
	IDMap(ctx context.Context, date time.Time) (*IDMap, error)

	// Prices returns end-of-day prices on date for the whole universe.
	Prices(ctx context.Context, date time.Time) (Prices, error)

	// Covariance returns the covariance of the requested instruments.
	// IDs the provider cannot cover are left out of the result, which is
	// otherwise ordered like ids.
	Covariance(ctx context.Context, date time.Time, ids []RiskID) (*Covariance, error)
}

// CovarianceProvider is the subset of DataProvider the risk summarizer needs.
type CovarianceProvider interface {
	Covariance(ctx context.Context, date time.Time, ids []RiskID) (*Covariance, error)
}

// Constraint is a named optimizer constraint policy.
type Constraint interface {
	ConstraintName() string
}

// OptimizeRequest is the input to a portfolio optimizer. Alphas, Betas and
// the covariance are all ordered like RiskIDs.
type OptimizeRequest struct {
	RiskIDs     []RiskID
	Alphas      []float64
	Betas       []float64
	Covariance  *Covariance
	Gamma       float64
	Constraints []Constraint
}

// Optimizer turns alphas and risk into raw portfolio weights.
type Optimizer interface {
	Optimize(ctx context.Context, req OptimizeRequest) ([]RiskWeight, error)
}
