// Package quad provides Gauss-Legendre quadrature rules on [-1, 1],
// affine shifting onto arbitrary intervals, and a point-count-keyed
// rule cache for repeated integrations.
package quad

import (
	"fmt"
	"math"
)

// Rule holds paired abscissas and weights. A freshly generated rule is
// valid on the canonical interval [-1, 1]; Shift produces rules valid
// on other intervals.
type Rule struct {
	X []float64
	W []float64
}

// Len returns the number of quadrature points.
func (r *Rule) Len() int { return len(r.X) }

const (
	nodeTol     = 1e-15
	maxNewtonIt = 100
)

// GaussLegendre computes the n-point Gauss-Legendre rule on [-1, 1]
// by Newton iteration on the Legendre polynomial P_n. Deterministic
// for a given n.
func GaussLegendre(n int) (*Rule, error) {
	if n < 1 {
		return nil, fmt.Errorf("quad: point count must be positive, got %d", n)
	}

	x := make([]float64, n)
	w := make([]float64, n)

	// Roots come in +/- pairs; solve the upper half and mirror.
	m := (n + 1) / 2
	for i := 0; i < m; i++ {
		// Chebyshev-based initial guess for the i-th root.
		z := math.Cos(math.Pi * (float64(i) + 0.75) / (float64(n) + 0.5))

		var dp float64
		converged := false
		for it := 0; it < maxNewtonIt; it++ {
			p, pPrev := legendre(n, z)
			dp = float64(n) * (z*p - pPrev) / (z*z - 1)
			z1 := z
			z = z1 - p/dp
			if math.Abs(z-z1) <= nodeTol {
				converged = true
				break
			}
		}
		if !converged {
			return nil, fmt.Errorf("quad: node %d of %d-point rule did not converge", i, n)
		}

		x[i] = -z
		x[n-1-i] = z
		w[i] = 2 / ((1 - z*z) * dp * dp)
		w[n-1-i] = w[i]
	}

	return &Rule{X: x, W: w}, nil
}

// legendre evaluates P_n(z) by the three-term recurrence, returning
// P_n and P_{n-1} (the pair needed for the derivative formula).
func legendre(n int, z float64) (p, pPrev float64) {
	p = 1.0
	pPrev = 0.0
	for j := 0; j < n; j++ {
		p2 := pPrev
		pPrev = p
		p = ((2*float64(j)+1)*z*pPrev - float64(j)*p2) / (float64(j) + 1)
	}
	return p, pPrev
}

// Shift maps a canonical rule onto [a, b] via the affine transform
// x' = ((a+b) + (b-a)x)/2, w' = (b-a)w/2. Ordering and pairing are
// preserved; the input rule is not modified. The interval must be
// non-degenerate: a >= b is a caller error, not a rule with negative
// weights.
func Shift(r *Rule, a, b float64) (*Rule, error) {
	if len(r.X) != len(r.W) {
		return nil, fmt.Errorf("quad: mismatched rule: %d abscissas, %d weights", len(r.X), len(r.W))
	}
	if a >= b {
		return nil, fmt.Errorf("quad: invalid interval [%g, %g]", a, b)
	}

	mid := (a + b) / 2
	half := (b - a) / 2

	out := &Rule{
		X: make([]float64, len(r.X)),
		W: make([]float64, len(r.W)),
	}
	for i := range r.X {
		out.X[i] = mid + half*r.X[i]
		out.W[i] = half * r.W[i]
	}
	return out, nil
}
