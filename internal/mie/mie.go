// Package mie computes single-sphere Mie scattering quantities:
// efficiency factors for extinction, scattering and backscatter, the
// asymmetry parameter, and complex scattering amplitudes at requested
// angles.
//
// The implementation follows the Bohren & Huffman series with a
// downward recurrence for the logarithmic derivative and an upward
// recurrence for the Riccati-Bessel functions.
package mie

import (
	"fmt"
	"math"
	"math/cmplx"
)

// MaxSizeParam is the numerical-stability ceiling on the size
// parameter x = 2*pi*r/lambda. The upward Riccati-Bessel recurrence
// degrades beyond it; inputs at or above the ceiling are rejected.
const MaxSizeParam = 12000.0

// Single holds per-sphere outputs, parallel to the input size
// parameters. S1 and S2 are indexed [angle][sphere] and are nil when
// no angles were requested.
type Single struct {
	Qext []float64
	Qsca []float64
	Qbk  []float64
	G    []float64
	S1   [][]complex128
	S2   [][]complex128
}

// Solver evaluates the Mie series. Spheres are independent, so a
// Scatter call fans the work out over Workers goroutines; results do
// not depend on the worker count. Safe for concurrent use.
type Solver struct {
	// Workers caps the evaluation goroutines; 0 means one per CPU.
	Workers int
}

func New() *Solver { return &Solver{} }

// Scatter evaluates all spheres in one call. x holds size parameters,
// m the complex refractive index, mu optional cosines of scattering
// angles. Any per-sphere failure aborts the whole call.
func (s *Solver) Scatter(x []float64, m complex128, mu []float64) (*Single, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("mie: no size parameters given")
	}
	for i, xi := range x {
		if xi <= 0 {
			return nil, fmt.Errorf("mie: size parameter %d must be positive, got %g", i, xi)
		}
		if xi >= MaxSizeParam {
			return nil, fmt.Errorf("mie: size parameter %d is %g, exceeds stability ceiling %g", i, xi, MaxSizeParam)
		}
	}
	for j, c := range mu {
		if c < -1 || c > 1 {
			return nil, fmt.Errorf("mie: scattering cosine %d out of range: %g", j, c)
		}
	}

	out := &Single{
		Qext: make([]float64, len(x)),
		Qsca: make([]float64, len(x)),
		Qbk:  make([]float64, len(x)),
		G:    make([]float64, len(x)),
	}
	if len(mu) > 0 {
		out.S1 = make([][]complex128, len(mu))
		out.S2 = make([][]complex128, len(mu))
		for j := range mu {
			out.S1[j] = make([]complex128, len(x))
			out.S2[j] = make([]complex128, len(x))
		}
	}

	errs := make([]error, len(x))
	parallelFor(len(x), minChunk, s.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			errs[i] = sphere(x[i], m, mu, out, i)
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// nstop is the Wiscombe series truncation order.
func nstop(x float64) int {
	return int(x + 4.05*math.Cbrt(x) + 2)
}

// sphere runs the Mie series for one size parameter, writing results
// at index i of the output arrays.
func sphere(x float64, m complex128, mu []float64, out *Single, i int) error {
	ns := nstop(x)
	y := m * complex(x, 0)

	nmx := ns
	if ay := int(cmplx.Abs(y)); ay > nmx {
		nmx = ay
	}
	nmx += 16

	// Logarithmic derivative D_n(y) by downward recurrence.
	d := make([]complex128, nmx+1)
	for n := nmx; n >= 1; n-- {
		en := complex(float64(n), 0) / y
		d[n-1] = en - 1/(d[n]+en)
	}

	// Riccati-Bessel seeds: psi_{-1}, psi_0 and chi_{-1}, chi_0.
	psi0, psi1 := math.Cos(x), math.Sin(x)
	chi0, chi1 := -math.Sin(x), math.Cos(x)
	xi1 := complex(psi1, -chi1)

	// Angle recurrence state: pi_{n-1} and pi_n per angle.
	piPrev := make([]float64, len(mu))
	piCur := make([]float64, len(mu))
	for j := range piCur {
		piCur[j] = 1
	}
	s1 := make([]complex128, len(mu))
	s2 := make([]complex128, len(mu))

	var (
		qscaSum, qextSum, gSum float64
		back                   complex128
		anPrev, bnPrev         complex128
		sign                   = -1.0 // (-1)^n, starting at n=1
	)

	for n := 1; n <= ns; n++ {
		en := float64(n)

		psi := (2*en-1)*psi1/x - psi0
		chi := (2*en-1)*chi1/x - chi0
		xi := complex(psi, -chi)

		enx := complex(en/x, 0)
		da := d[n]/m + enx
		db := d[n]*m + enx
		an := (da*complex(psi, 0) - complex(psi1, 0)) / (da*xi - xi1)
		bn := (db*complex(psi, 0) - complex(psi1, 0)) / (db*xi - xi1)

		qscaSum += (2*en + 1) * (real(an)*real(an) + imag(an)*imag(an) +
			real(bn)*real(bn) + imag(bn)*imag(bn))
		qextSum += (2*en + 1) * (real(an) + real(bn))
		gSum += (2*en + 1) / (en * (en + 1)) *
			(real(an)*real(bn) + imag(an)*imag(bn))
		if n > 1 {
			gSum += (en - 1) * (en + 1) / en *
				(real(anPrev)*real(an) + imag(anPrev)*imag(an) +
					real(bnPrev)*real(bn) + imag(bnPrev)*imag(bn))
		}
		back += complex((2*en+1)*sign, 0) * (an - bn)

		fn := complex((2*en+1)/(en*(en+1)), 0)
		for j, c := range mu {
			pi := piCur[j]
			tau := en*c*pi - (en+1)*piPrev[j]
			s1[j] += fn * (an*complex(pi, 0) + bn*complex(tau, 0))
			s2[j] += fn * (an*complex(tau, 0) + bn*complex(pi, 0))

			piNext := ((2*en+1)*c*pi - (en+1)*piPrev[j]) / en
			piPrev[j] = pi
			piCur[j] = piNext
		}

		anPrev, bnPrev = an, bn
		sign = -sign
		psi0, psi1 = psi1, psi
		chi0, chi1 = chi1, chi
		xi1 = complex(psi1, -chi1)
	}

	x2 := x * x
	out.Qsca[i] = 2 / x2 * qscaSum
	out.Qext[i] = 2 / x2 * qextSum
	out.Qbk[i] = (real(back)*real(back) + imag(back)*imag(back)) / x2
	if qscaSum != 0 {
		out.G[i] = 2 * gSum / qscaSum
	}

	if !isFinite(out.Qext[i]) || !isFinite(out.Qsca[i]) {
		return fmt.Errorf("mie: series diverged at x=%g, m=%v", x, m)
	}
	for j := range mu {
		out.S1[j][i] = s1[j]
		out.S2[j][i] = s2[j]
		if !isFiniteC(s1[j]) || !isFiniteC(s2[j]) {
			return fmt.Errorf("mie: non-finite amplitude at x=%g, angle cosine %g", x, mu[j])
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isFiniteC(v complex128) bool {
	return isFinite(real(v)) && isFinite(imag(v))
}
