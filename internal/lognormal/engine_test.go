package lognormal

import (
	"fmt"
	"math"
	"testing"

	"github.com/atmret/mielab/internal/mie"
)

func validParams() Params {
	return Params{N: 1.0, Rm: 0.5, S: 1.5, Wavenumber: 2.0, RefIndex: complex(1.5, 0.01)}
}

// flatSolver returns constant efficiencies, which makes the averaged
// integrals analytic and keeps derivative checks smooth.
type flatSolver struct {
	qext, qsca float64
}

func (f flatSolver) Scatter(x []float64, _ complex128, mu []float64) (*mie.Single, error) {
	s := &mie.Single{
		Qext: make([]float64, len(x)),
		Qsca: make([]float64, len(x)),
		Qbk:  make([]float64, len(x)),
		G:    make([]float64, len(x)),
	}
	for i := range x {
		s.Qext[i] = f.qext
		s.Qsca[i] = f.qsca
	}
	if len(mu) > 0 {
		s.S1 = make([][]complex128, len(mu))
		s.S2 = make([][]complex128, len(mu))
		for j := range mu {
			s.S1[j] = make([]complex128, len(x))
			s.S2[j] = make([]complex128, len(x))
			for i := range x {
				s.S1[j][i] = complex(1, 0)
				s.S2[j][i] = complex(0, 2)
			}
		}
	}
	return s, nil
}

type failingSolver struct{}

func (failingSolver) Scatter([]float64, complex128, []float64) (*mie.Single, error) {
	return nil, fmt.Errorf("did not converge")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		valid  bool
	}{
		{"valid", func(*Params) {}, true},
		{"zero N", func(p *Params) { p.N = 0 }, false},
		{"negative N", func(p *Params) { p.N = -1 }, false},
		{"zero Rm", func(p *Params) { p.Rm = 0 }, false},
		{"degenerate S", func(p *Params) { p.S = 1.0 }, false},
		{"S below 1", func(p *Params) { p.S = 0.8 }, false},
		{"zero wavenumber", func(p *Params) { p.Wavenumber = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBoundsShape(t *testing.T) {
	p := validParams()
	rl, ru, truncated := bounds(p)

	if truncated {
		t.Fatal("no truncation expected at these parameters")
	}
	if rl <= 0 || ru <= rl {
		t.Fatalf("malformed window [%g, %g]", rl, ru)
	}

	// Lower bound sits zQuantile spread-decades below the median; the
	// upper bound mirrors it and widens by a factor 4.
	wantRl := p.Rm * math.Pow(p.S, -zQuantile)
	wantRu := p.Rm * math.Pow(p.S, zQuantile) * 4
	if math.Abs(rl-wantRl)/wantRl > 1e-12 {
		t.Errorf("rl = %g, want %g", rl, wantRl)
	}
	if math.Abs(ru-wantRu)/wantRu > 1e-12 {
		t.Errorf("ru = %g, want %g", ru, wantRu)
	}
}

func TestBoundsWidenWithSpread(t *testing.T) {
	p := validParams()

	prev := 0.0
	for _, s := range []float64{1.1, 1.3, 1.5, 2.0, 3.0} {
		p.S = s
		rl, ru, _ := bounds(p)
		width := ru - rl
		if width <= prev {
			t.Errorf("S=%g: window width %g did not grow (previous %g)", s, width, prev)
		}
		prev = width
	}
}

func TestBoundsClamp(t *testing.T) {
	p := validParams()
	p.Rm = 1.0
	p.S = 2.0

	// Below the ceiling: untouched.
	p.Wavenumber = 1.0
	_, ru, truncated := bounds(p)
	if truncated {
		t.Fatalf("unexpected truncation: x(ru) = %g", 2*math.Pi*ru*p.Wavenumber)
	}

	// Push the upper size parameter past the ceiling.
	p.Wavenumber = 60.0
	if x := 2 * math.Pi * p.Rm * math.Pow(p.S, zQuantile) * 4 * p.Wavenumber; x < mie.MaxSizeParam {
		t.Fatalf("test setup: pre-clamp x = %g should exceed the ceiling", x)
	}
	_, ru, truncated = bounds(p)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if x := 2 * math.Pi * ru * p.Wavenumber; math.Abs(x-(mie.MaxSizeParam-1)) > 1e-8 {
		t.Errorf("post-clamp size parameter = %.12f, want %g", x, mie.MaxSizeParam-1)
	}
}

func TestPointCountFloor(t *testing.T) {
	p := validParams()
	p.S = 1.01

	for _, k := range []float64{0.5, 1.0, 2.0} {
		p.Wavenumber = k
		rl, ru, _ := bounds(p)
		if n := pointCount(rl, ru, k); n != minPoints {
			t.Errorf("k=%g: point count %d, want floor %d", k, n, minPoints)
		}
	}
}

func TestPointCountScales(t *testing.T) {
	// Wide distribution at a high wavenumber needs more than the floor.
	p := validParams()
	p.S = 2.0
	p.Wavenumber = 5.0

	rl, ru, _ := bounds(p)
	n := pointCount(rl, ru, p.Wavenumber)
	want := int(2 * math.Pi * (ru - rl) * p.Wavenumber / sizeStep)
	if n != want {
		t.Errorf("point count %d, want %d", n, want)
	}
	if n <= minPoints {
		t.Errorf("point count %d should exceed the floor here", n)
	}
}

func TestTruncationWarning(t *testing.T) {
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})

	p := validParams()
	p.Rm = 1.0
	p.S = 2.0
	p.Wavenumber = 60.0

	c, err := eng.Average(p, Options{Npts: 200})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Truncated {
		t.Error("expected Truncated flag")
	}
	if len(c.Warnings) == 0 {
		t.Error("expected a truncation warning")
	}
}

func TestSecondMomentAgainstClosedForm(t *testing.T) {
	// With constant efficiencies the integral collapses to the second
	// moment of the distribution: Bext = Qext * pi * N * Rm^2 *
	// exp(2 ln^2 S).
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})
	p := validParams()

	c, err := eng.Average(p, Options{Npts: 400})
	if err != nil {
		t.Fatal(err)
	}

	lnS := math.Log(p.S)
	want := 2 * math.Pi * p.N * p.Rm * p.Rm * math.Exp(2*lnS*lnS)
	if rel := math.Abs(c.Bext-want) / want; rel > 5e-3 {
		t.Errorf("Bext = %g, closed form %g (rel err %g)", c.Bext, want, rel)
	}
	if rel := math.Abs(c.Bsca-want/2) / (want / 2); rel > 5e-3 {
		t.Errorf("Bsca = %g, closed form %g", c.Bsca, want/2)
	}
}

func TestNumberDensityLinearity(t *testing.T) {
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})

	p1 := validParams()
	p2 := validParams()
	p2.N = 3.5

	c1, err := eng.Average(p1, Options{Npts: 300})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := eng.Average(p2, Options{Npts: 300})
	if err != nil {
		t.Fatal(err)
	}

	if rel := math.Abs(c2.Bext-3.5*c1.Bext) / c2.Bext; rel > 1e-12 {
		t.Errorf("Bext not linear in N: %g vs %g", c2.Bext, 3.5*c1.Bext)
	}

	// Structural identity, not an approximation.
	if c1.DBextDN != c1.Bext/p1.N || c2.DBextDN != c2.Bext/p2.N {
		t.Error("dBext/dN must equal Bext/N")
	}
	if c1.DBscaDN != c1.Bsca/p1.N || c2.DBscaDN != c2.Bsca/p2.N {
		t.Error("dBsca/dN must equal Bsca/N")
	}
}

func TestDerivativesMatchFiniteDifference(t *testing.T) {
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})
	opts := Options{Npts: 600}
	p := validParams()

	base, err := eng.Average(p, opts)
	if err != nil {
		t.Fatal(err)
	}

	// Median radius.
	h := 1e-6 * p.Rm
	pp, pm := p, p
	pp.Rm += h
	pm.Rm -= h
	cp, err := eng.Average(pp, opts)
	if err != nil {
		t.Fatal(err)
	}
	cm, err := eng.Average(pm, opts)
	if err != nil {
		t.Fatal(err)
	}
	fd := (cp.Bext - cm.Bext) / (2 * h)
	if rel := math.Abs(base.DBextDRm-fd) / math.Abs(fd); rel > 5e-3 {
		t.Errorf("dBext/dRm = %g, finite difference %g (rel err %g)", base.DBextDRm, fd, rel)
	}

	// Spread.
	h = 1e-6 * p.S
	pp, pm = p, p
	pp.S += h
	pm.S -= h
	cp, err = eng.Average(pp, opts)
	if err != nil {
		t.Fatal(err)
	}
	cm, err = eng.Average(pm, opts)
	if err != nil {
		t.Fatal(err)
	}
	fd = (cp.Bext - cm.Bext) / (2 * h)
	if rel := math.Abs(base.DBextDS-fd) / math.Abs(fd); rel > 5e-3 {
		t.Errorf("dBext/dS = %g, finite difference %g (rel err %g)", base.DBextDS, fd, rel)
	}

	fd = (cp.Bsca - cm.Bsca) / (2 * h)
	if rel := math.Abs(base.DBscaDS-fd) / math.Abs(fd); rel > 5e-3 {
		t.Errorf("dBsca/dS = %g, finite difference %g (rel err %g)", base.DBscaDS, fd, rel)
	}
}

func TestExtinctionScatteringDerivativeFormsAgree(t *testing.T) {
	// The expanded dBsca/dS form and the factored dBext/dS form are
	// the same expression; with identical efficiencies the two
	// derivatives must coincide.
	eng := NewEngine(flatSolver{qext: 1, qsca: 1})

	c, err := eng.Average(validParams(), Options{Npts: 300})
	if err != nil {
		t.Fatal(err)
	}
	if rel := math.Abs(c.DBextDS-c.DBscaDS) / math.Abs(c.DBextDS); rel > 1e-12 {
		t.Errorf("dBext/dS = %g, dBsca/dS = %g", c.DBextDS, c.DBscaDS)
	}
}

func TestSolverFailurePropagates(t *testing.T) {
	eng := NewEngine(failingSolver{})
	if _, err := eng.Average(validParams(), Options{Npts: 200}); err == nil {
		t.Error("expected solver failure to propagate")
	}
}

func TestInvalidParamsRejectedBeforeSolver(t *testing.T) {
	eng := NewEngine(failingSolver{})

	p := validParams()
	p.S = 0.9
	_, err := eng.Average(p, Options{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	// failingSolver always errors with its own message; a validation
	// failure must surface instead, proving the solver was never
	// reached.
	if got := err.Error(); got == "did not converge" {
		t.Error("solver ran before validation")
	}
}

func TestDiagnostics(t *testing.T) {
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})
	p := validParams()

	c, err := eng.Average(p, Options{Npts: 250, Diagnostics: true})
	if err != nil {
		t.Fatal(err)
	}
	if c.Info == nil {
		t.Fatal("expected diagnostics")
	}
	if c.Info.Npts != 250 {
		t.Errorf("Npts = %d, want 250", c.Info.Npts)
	}
	if c.Info.Xmin <= 0 || c.Info.Xmax <= c.Info.Xmin {
		t.Errorf("malformed size-parameter range [%g, %g]", c.Info.Xmin, c.Info.Xmax)
	}

	c, err = eng.Average(p, Options{Npts: 250})
	if err != nil {
		t.Fatal(err)
	}
	if c.Info != nil {
		t.Error("diagnostics must be nil unless requested")
	}
}

func TestCacheReuseAcrossCalls(t *testing.T) {
	eng := NewEngine(flatSolver{qext: 2, qsca: 1})
	p := validParams()

	for i := 0; i < 3; i++ {
		if _, err := eng.Average(p, Options{Npts: 222}); err != nil {
			t.Fatal(err)
		}
	}
	if got := eng.cache.Len(); got != 1 {
		t.Errorf("cache holds %d rules after repeated identical calls, want 1", got)
	}
}

func TestIntensityDerivativesMatchFiniteDifference(t *testing.T) {
	eng := NewEngine(mie.New())
	opts := Options{Npts: 300, Mu: []float64{0.5}}
	p := validParams()

	base, err := eng.Average(p, opts)
	if err != nil {
		t.Fatal(err)
	}

	h := 1e-6 * p.Rm
	pp, pm := p, p
	pp.Rm += h
	pm.Rm -= h
	cp, err := eng.Average(pp, opts)
	if err != nil {
		t.Fatal(err)
	}
	cm, err := eng.Average(pm, opts)
	if err != nil {
		t.Fatal(err)
	}

	fd := (cp.Intensity.I1[0] - cm.Intensity.I1[0]) / (2 * h)
	if rel := math.Abs(base.Intensity.DI1DRm[0]-fd) / math.Abs(fd); rel > 1e-2 {
		t.Errorf("di1/dRm = %g, finite difference %g (rel err %g)", base.Intensity.DI1DRm[0], fd, rel)
	}
}
