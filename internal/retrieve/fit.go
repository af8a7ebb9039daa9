// Package retrieve inverts observed bulk optical coefficients into
// log-normal distribution parameters. The fit is a damped
// Gauss-Newton iteration fed by the engine's analytic Jacobian, so
// each step costs one quadrature pass per observation instead of a
// cloud of perturbation runs.
package retrieve

import (
	"context"
	"fmt"
	"math"

	"github.com/atmret/mielab/internal/lognormal"
)

// Observation pairs measured extinction and scattering coefficients
// with the wavenumber they were measured at.
type Observation struct {
	Wavenumber float64
	Bext       float64
	Bsca       float64
}

type Options struct {
	// MaxIter caps Gauss-Newton iterations. 0 means 50.
	MaxIter int
	// Tol is the relative step size below which the fit is declared
	// converged. 0 means 1e-8.
	Tol float64
	// Npts overrides the engine's quadrature point count; retrievals
	// usually trade a little forward-model accuracy for speed here.
	Npts int
}

type Result struct {
	Params     lognormal.Params
	Iterations int
	// Residual is the root-mean-square relative misfit at the
	// returned parameters.
	Residual  float64
	Converged bool
}

// The fit steps in (ln N, ln Rm, ln(S-1)) so every iterate stays in
// the valid parameter domain.
type logParams [3]float64

func toLog(p lognormal.Params) logParams {
	return logParams{math.Log(p.N), math.Log(p.Rm), math.Log(p.S - 1)}
}

func (u logParams) params(tmpl lognormal.Params) lognormal.Params {
	tmpl.N = math.Exp(u[0])
	tmpl.Rm = math.Exp(u[1])
	tmpl.S = 1 + math.Exp(u[2])
	return tmpl
}

// maxStep bounds a single update in log space; larger proposals are
// scaled back onto the trust region.
const maxStep = 2.0

// Fit recovers (N, Rm, S) from observations, starting at init (whose
// RefIndex is used for every forward run). The context is checked
// between iterations; cancellation abandons the fit.
func Fit(ctx context.Context, eng *lognormal.Engine, init lognormal.Params, obs []Observation, opts Options) (*Result, error) {
	if err := init.Validate(); err != nil {
		return nil, err
	}
	if len(obs) < 2 {
		return nil, fmt.Errorf("retrieve: need at least 2 observations for 3 parameters, got %d", len(obs))
	}
	for i, o := range obs {
		if o.Wavenumber <= 0 {
			return nil, fmt.Errorf("retrieve: observation %d: wavenumber must be positive, got %g", i, o.Wavenumber)
		}
		if o.Bext <= 0 || o.Bsca <= 0 {
			return nil, fmt.Errorf("retrieve: observation %d: coefficients must be positive", i)
		}
	}

	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = 50
	}
	tol := opts.Tol
	if tol <= 0 {
		tol = 1e-8
	}

	u := toLog(init)
	res, jac, err := forward(eng, u.params(init), obs, opts.Npts)
	if err != nil {
		return nil, err
	}
	cost := sumSquares(res)

	lambda := 1e-3
	converged := false
	iter := 0

	for ; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		step, ok := solveDamped(jac, res, lambda)
		if !ok {
			lambda *= 10
			continue
		}
		if n := stepNorm(step); n > maxStep {
			for k := range step {
				step[k] *= maxStep / n
			}
		}

		trial := logParams{u[0] - step[0], u[1] - step[1], u[2] - step[2]}
		trialRes, trialJac, err := forward(eng, trial.params(init), obs, opts.Npts)
		if err != nil {
			return nil, err
		}
		trialCost := sumSquares(trialRes)

		if trialCost >= cost {
			// Reject and damp harder.
			lambda *= 10
			if lambda > 1e10 {
				break
			}
			continue
		}

		u = trial
		res, jac, cost = trialRes, trialJac, trialCost
		if lambda > 1e-12 {
			lambda /= 4
		}

		if stepNorm(step) < tol {
			converged = true
			break
		}
	}

	return &Result{
		Params:     u.params(init),
		Iterations: iter,
		Residual:   math.Sqrt(cost / float64(len(res))),
		Converged:  converged,
	}, nil
}

// forward runs the engine at p for every observation, returning
// relative residuals and their Jacobian with respect to the log
// parameters.
func forward(eng *lognormal.Engine, p lognormal.Params, obs []Observation, npts int) ([]float64, [][3]float64, error) {
	res := make([]float64, 2*len(obs))
	jac := make([][3]float64, 2*len(obs))

	for i, o := range obs {
		pp := p
		pp.Wavenumber = o.Wavenumber

		c, err := eng.Average(pp, lognormal.Options{Npts: npts})
		if err != nil {
			return nil, nil, fmt.Errorf("retrieve: forward model at k=%g: %w", o.Wavenumber, err)
		}

		res[2*i] = (c.Bext - o.Bext) / o.Bext
		res[2*i+1] = (c.Bsca - o.Bsca) / o.Bsca

		// Chain rule onto (ln N, ln Rm, ln(S-1)).
		jac[2*i] = [3]float64{
			c.Bext / o.Bext,
			pp.Rm * c.DBextDRm / o.Bext,
			(pp.S - 1) * c.DBextDS / o.Bext,
		}
		jac[2*i+1] = [3]float64{
			c.Bsca / o.Bsca,
			pp.Rm * c.DBscaDRm / o.Bsca,
			(pp.S - 1) * c.DBscaDS / o.Bsca,
		}
	}
	return res, jac, nil
}

// solveDamped solves (J^T J + lambda diag(J^T J)) step = J^T r.
func solveDamped(jac [][3]float64, res []float64, lambda float64) ([3]float64, bool) {
	var jtj [3][3]float64
	var jtr [3]float64

	for i, row := range jac {
		for a := 0; a < 3; a++ {
			jtr[a] += row[a] * res[i]
			for b := 0; b < 3; b++ {
				jtj[a][b] += row[a] * row[b]
			}
		}
	}
	for a := 0; a < 3; a++ {
		jtj[a][a] *= 1 + lambda
	}
	return solve3(jtj, jtr)
}

// solve3 is Gaussian elimination with partial pivoting on a 3x3
// system.
func solve3(m [3][3]float64, v [3]float64) ([3]float64, bool) {
	for col := 0; col < 3; col++ {
		pivot := col
		for row := col + 1; row < 3; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if m[pivot][col] == 0 {
			return [3]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]

		for row := col + 1; row < 3; row++ {
			f := m[row][col] / m[col][col]
			for k := col; k < 3; k++ {
				m[row][k] -= f * m[col][k]
			}
			v[row] -= f * v[col]
		}
	}

	var out [3]float64
	for row := 2; row >= 0; row-- {
		sum := v[row]
		for k := row + 1; k < 3; k++ {
			sum -= m[row][k] * out[k]
		}
		out[row] = sum / m[row][row]
	}
	return out, true
}

func sumSquares(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

func stepNorm(s [3]float64) float64 {
	return math.Sqrt(s[0]*s[0] + s[1]*s[1] + s[2]*s[2])
}
