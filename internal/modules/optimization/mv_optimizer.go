package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/sftrader/internal/domain"
)

// DefaultGamma is the default risk aversion.
const DefaultGamma = 500.0

// DefaultPenaltyWeight scales constraint violations in the objective.
const DefaultPenaltyWeight = 1000.0

// MVOptimizer performs mean-variance portfolio optimization.
type MVOptimizer struct {
	penaltyWeight float64
	log           zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(log zerolog.Logger) *MVOptimizer {
	return &MVOptimizer{
		penaltyWeight: DefaultPenaltyWeight,
		log:           log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Optimize solves the mean-variance problem.
//
// Mathematical formulation:
//   - maximize α'w - (γ/2)·w'Σw
//   - subject to the requested constraints, each added to the objective as
//     penaltyWeight × squared violation
//
// The final solution is clamped at zero under LongOnly, normalized to sum
// to one under FullInvestment and scaled down to sum at most one under
// NoBuyingOnMargin.
func (mvo *MVOptimizer) Optimize(ctx context.Context, req domain.OptimizeRequest) ([]domain.RiskWeight, error) {
	n := len(req.RiskIDs)
	if n == 0 {
		return nil, fmt.Errorf("no instruments provided")
	}
	if len(req.Alphas) != n {
		return nil, fmt.Errorf("got %d alphas for %d instruments", len(req.Alphas), n)
	}
	if req.Gamma <= 0 {
		return nil, fmt.Errorf("gamma must be positive, got %v", req.Gamma)
	}
	if err := checkCovariance(req.RiskIDs, req.Covariance); err != nil {
		return nil, err
	}

	constraints, err := fromDomain(req.Constraints)
	if err != nil {
		return nil, err
	}

	betas := req.Betas
	if len(betas) == 0 {
		betas = make([]float64, n)
	}
	if len(betas) != n {
		return nil, fmt.Errorf("got %d betas for %d instruments", len(betas), n)
	}
	if hasConstraint(constraints, UnitBeta{}) && allZero(betas) {
		return nil, fmt.Errorf("unit-beta constraint requires predicted betas")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	alpha := mat.NewVecDense(n, append([]float64(nil), req.Alphas...))
	sigma := req.Covariance.Matrix
	gamma := req.Gamma
	penaltyWeight := mvo.penaltyWeight
	sigmaW := mat.NewVecDense(n, nil)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := mat.NewVecDense(n, x)
			sigmaW.MulVec(sigma, w)

			// Objective: minimize -(α'w - γ/2·w'Σw)
			obj := -mat.Dot(alpha, w) + 0.5*gamma*mat.Dot(w, sigmaW)

			for _, c := range constraints {
				obj += penaltyWeight * c.penalty(x, betas)
			}
			return obj
		},
		Grad: func(grad, x []float64) {
			w := mat.NewVecDense(n, x)
			sigmaW.MulVec(sigma, w)

			for i := 0; i < n; i++ {
				grad[i] = -alpha.AtVec(i) + gamma*sigmaW.AtVec(i)
			}

			scaled := make([]float64, n)
			for _, c := range constraints {
				for i := range scaled {
					scaled[i] = 0
				}
				c.addGradient(scaled, x, betas)
				for i := range grad {
					grad[i] += penaltyWeight * scaled[i]
				}
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := mvo.solve(problem, initial)
	if err != nil {
		return nil, err
	}

	// Project final solution and normalize
	x := append([]float64(nil), result.X...)
	if hasConstraint(constraints, LongOnly{}) {
		for i := range x {
			x[i] = math.Max(0, x[i])
		}
	}
	total := sum(x)
	switch {
	case hasConstraint(constraints, FullInvestment{}) && total > 0:
		for i := range x {
			x[i] /= total
		}
	case hasConstraint(constraints, NoBuyingOnMargin{}) && total > 1:
		for i := range x {
			x[i] /= total
		}
	}

	weights := make([]domain.RiskWeight, n)
	for i, id := range req.RiskIDs {
		weights[i] = domain.RiskWeight{RiskID: id, Weight: x[i]}
	}

	mvo.log.Debug().
		Int("instruments", n).
		Float64("objective", result.F).
		Str("status", result.Status.String()).
		Float64("sum_weights", sum(x)).
		Msg("Optimization complete")

	return weights, nil
}

// solve minimizes problem with L-BFGS, falling back to BFGS when the first
// attempt does not report convergence.
func (mvo *MVOptimizer) solve(problem optimize.Problem, initial []float64) (*optimize.Result, error) {
	// Accept various successful convergence statuses
	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.LBFGS{})
	if err == nil && result != nil && successStatuses[result.Status] {
		return result, nil
	}

	fallback, fbErr := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if fbErr == nil && fallback != nil && successStatuses[fallback.Status] {
		return fallback, nil
	}

	// Neither method reported convergence. Keep the better finite location.
	best := result
	if best == nil || (fallback != nil && fallback.F < best.F) {
		best = fallback
	}
	if best == nil || !finite(best.X) {
		if err == nil {
			err = fbErr
		}
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	mvo.log.Warn().
		Str("status", best.Status.String()).
		Msg("Optimizer did not report convergence, using best location found")
	return best, nil
}

func checkCovariance(ids []domain.RiskID, cov *domain.Covariance) error {
	if cov == nil || cov.Matrix == nil {
		return fmt.Errorf("covariance matrix is required")
	}
	if len(cov.IDs) != len(ids) {
		return fmt.Errorf("%w: %d instruments, %d covariance ids", domain.ErrCovarianceMisaligned, len(ids), len(cov.IDs))
	}
	for i := range ids {
		if ids[i] != cov.IDs[i] {
			return fmt.Errorf("%w: position %d is %s, covariance has %s", domain.ErrCovarianceMisaligned, i, ids[i], cov.IDs[i])
		}
	}
	if dim := cov.Matrix.SymmetricDim(); dim != len(ids) {
		return fmt.Errorf("%w: covariance matrix size %d doesn't match instrument count %d",
			domain.ErrCovarianceMisaligned, dim, len(ids))
	}
	return nil
}

func fromDomain(in []domain.Constraint) ([]Constraint, error) {
	out := make([]Constraint, 0, len(in))
	for _, c := range in {
		typed, ok := c.(Constraint)
		if !ok {
			return nil, fmt.Errorf("unsupported constraint %q", c.ConstraintName())
		}
		out = append(out, typed)
	}
	return out, nil
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
