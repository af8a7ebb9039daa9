package lognormal

import (
	"fmt"
	"math"

	"github.com/atmret/mielab/internal/mie"
	"github.com/atmret/mielab/internal/quad"
)

const (
	// zQuantile is the two-sided 99.9th-percentile quantile of the
	// standard normal distribution; the integration window spans this
	// many spread-decades either side of the median.
	zQuantile = 3.0902323061678132

	// sizeStep is the target average spacing of quadrature nodes in
	// size-parameter space.
	sizeStep = 0.1

	// minPoints floors the automatic point count so narrow
	// distributions keep enough nodes for an accurate sum.
	minPoints = 200
)

// Engine performs distribution-weighted quadrature over particle
// radius. It owns a rule cache shared across calls, so repeated
// invocations with a recurring point count skip rule generation.
type Engine struct {
	solver Solver
	cache  *quad.Cache
}

func NewEngine(solver Solver) *Engine {
	return &Engine{solver: solver, cache: quad.NewCache()}
}

// bounds selects the radius integration window [rl, ru]. The window
// covers zQuantile spread-decades either side of the median; the
// upper bound then widens by a factor 4 because the log-normal is
// right-skewed and the symmetric quantile under-covers the tail that
// dominates the area-weighted integrand. If the resulting upper size
// parameter would reach the solver ceiling, ru is clamped just below
// it and truncated is set.
func bounds(p Params) (rl, ru float64, truncated bool) {
	lnRm := math.Log(p.Rm)
	lnS := math.Log(p.S)

	rl = math.Exp(lnRm - zQuantile*lnS)
	ru = math.Exp(lnRm + zQuantile*lnS + math.Log(4))

	if 2*math.Pi*ru*p.Wavenumber >= mie.MaxSizeParam {
		ru = (mie.MaxSizeParam - 1) / (2 * math.Pi * p.Wavenumber)
		truncated = true
	}
	return rl, ru, truncated
}

// pointCount picks enough nodes for an average step of sizeStep in
// size-parameter space. Cost of an Average call is linear in the
// returned count.
func pointCount(rl, ru, wavenumber float64) int {
	n := int(2 * math.Pi * (ru - rl) * wavenumber / sizeStep)
	if n < minPoints {
		n = minPoints
	}
	return n
}

// Average computes the bulk optical coefficients and their analytic
// parameter derivatives for the distribution p. A solver error or
// non-finite result aborts the whole call: the quadrature sum needs
// every term.
func (e *Engine) Average(p Params, opts Options) (*Coefficients, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	rl, ru, truncated := bounds(p)

	npts := opts.Npts
	if npts <= 0 {
		npts = pointCount(rl, ru, p.Wavenumber)
	}

	base, err := e.cache.Get(npts)
	if err != nil {
		return nil, err
	}
	grid, err := quad.Shift(base, rl, ru)
	if err != nil {
		return nil, err
	}

	// Number-density-weighted log-normal kernel, plus the quantities
	// reused by every reduction below.
	lnS := math.Log(p.S)
	norm := math.Sqrt(2*math.Pi) * lnS

	w1 := make([]float64, npts)
	dx := make([]float64, npts)
	lr := make([]float64, npts)
	for i, r := range grid.X {
		l := math.Log(r / p.Rm)
		z := l / lnS
		lr[i] = l
		w1[i] = p.N * math.Exp(-0.5*z*z) / (norm * r)
		dx[i] = 2 * math.Pi * r * p.Wavenumber
	}

	single, err := e.solver.Scatter(dx, p.RefIndex, opts.Mu)
	if err != nil {
		return nil, fmt.Errorf("lognormal: solver: %w", err)
	}

	c := &Coefficients{Truncated: truncated}
	if truncated {
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"upper radius bound truncated to %g to keep the size parameter below %g", ru, mie.MaxSizeParam))
	}

	var extRm, extS, scaRm, scaS float64
	for i, r := range grid.X {
		wt := grid.W[i] * w1[i]
		geo := math.Pi * r * r

		ext := wt * single.Qext[i] * geo
		sca := wt * single.Qsca[i] * geo
		c.Bext += ext
		c.Bsca += sca
		extRm += ext * lr[i]
		extS += ext * lr[i] * lr[i]
		scaRm += sca * lr[i]
		scaS += sca * lr[i] * lr[i]
	}

	lnS2 := lnS * lnS
	c.DBextDN = c.Bext / p.N
	c.DBscaDN = c.Bsca / p.N
	c.DBextDRm = extRm / (lnS2 * p.Rm)
	c.DBscaDRm = scaRm / (lnS2 * p.Rm)
	c.DBextDS = (extS/lnS2 - c.Bext) / (p.S * lnS)
	// The scattering form is carried expanded, quadratic term over
	// ln^3(S), following the closed form in Grainger et al.
	c.DBscaDS = scaS/(lnS2*lnS*p.S) - c.Bsca/(p.S*lnS)

	if !isFinite(c.Bext) || !isFinite(c.Bsca) {
		return nil, fmt.Errorf("lognormal: non-finite coefficients (Bext=%g, Bsca=%g)", c.Bext, c.Bsca)
	}

	if len(opts.Mu) > 0 {
		in, err := e.reduceIntensity(p, grid, w1, lr, single, opts.Mu)
		if err != nil {
			return nil, err
		}
		c.Intensity = in
	}

	if opts.Diagnostics {
		c.Info = &Diagnostics{Npts: npts, Xmin: dx[0], Xmax: dx[npts-1]}
	}
	return c, nil
}

// reduceIntensity folds the squared amplitudes through the same
// weighted sums as the bulk coefficients, one angle at a time.
func (e *Engine) reduceIntensity(p Params, grid *quad.Rule, w1, lr []float64, single *mie.Single, mu []float64) (*Intensity, error) {
	n := len(mu)
	in := &Intensity{
		I1:     make([]float64, n),
		I2:     make([]float64, n),
		DI1DN:  make([]float64, n),
		DI1DRm: make([]float64, n),
		DI1DS:  make([]float64, n),
		DI2DN:  make([]float64, n),
		DI2DRm: make([]float64, n),
		DI2DS:  make([]float64, n),
	}

	lnS := math.Log(p.S)
	lnS2 := lnS * lnS

	for a := range mu {
		var i1, i1Rm, i1S float64
		var i2, i2Rm, i2S float64

		for i := range grid.X {
			wt := grid.W[i] * w1[i]
			s1 := single.S1[a][i]
			s2 := single.S2[a][i]
			p1 := wt * (real(s1)*real(s1) + imag(s1)*imag(s1))
			p2 := wt * (real(s2)*real(s2) + imag(s2)*imag(s2))

			i1 += p1
			i2 += p2
			i1Rm += p1 * lr[i]
			i2Rm += p2 * lr[i]
			i1S += p1 * lr[i] * lr[i]
			i2S += p2 * lr[i] * lr[i]
		}

		if !isFinite(i1) || !isFinite(i2) {
			return nil, fmt.Errorf("lognormal: non-finite intensity at angle cosine %g", mu[a])
		}

		in.I1[a] = i1
		in.I2[a] = i2
		in.DI1DN[a] = i1 / p.N
		in.DI2DN[a] = i2 / p.N
		in.DI1DRm[a] = i1Rm / (lnS2 * p.Rm)
		in.DI2DRm[a] = i2Rm / (lnS2 * p.Rm)
		in.DI1DS[a] = (i1S/lnS2 - i1) / (p.S * lnS)
		in.DI2DS[a] = (i2S/lnS2 - i2) / (p.S * lnS)
	}
	return in, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
