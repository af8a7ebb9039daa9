// Package lognormal averages single-sphere Mie quantities over a
// log-normal particle-size distribution and differentiates the bulk
// coefficients analytically with respect to the distribution
// parameters: number density N, median radius Rm and geometric
// spread S.
//
// The analytic derivatives are what make the package useful inside a
// retrieval loop; a fitting iteration gets the full Jacobian from a
// single quadrature pass instead of repeated perturbation runs.
package lognormal

import (
	"fmt"

	"github.com/atmret/mielab/internal/mie"
)

// Params describes a log-normal size distribution and the optical
// setting it is evaluated in. Immutable per call.
//
// N is the particle number density (count per volume), Rm the median
// radius, S the dimensionless geometric spread (S > 1 for a
// non-degenerate distribution). Wavenumber is 1/wavelength in the
// same length unit as Rm. RefIndex is the complex refractive index
// passed through to the sphere solver.
type Params struct {
	N          float64
	Rm         float64
	S          float64
	Wavenumber float64
	RefIndex   complex128
}

// Validate rejects parameters outside their physical domains. It runs
// before any quadrature work.
func (p Params) Validate() error {
	switch {
	case p.N <= 0:
		return fmt.Errorf("lognormal: number density must be positive, got %g", p.N)
	case p.Rm <= 0:
		return fmt.Errorf("lognormal: median radius must be positive, got %g", p.Rm)
	case p.S <= 1:
		return fmt.Errorf("lognormal: spread must exceed 1, got %g", p.S)
	case p.Wavenumber <= 0:
		return fmt.Errorf("lognormal: wavenumber must be positive, got %g", p.Wavenumber)
	}
	return nil
}

// Options control a single Average call.
type Options struct {
	// Mu lists cosines of scattering angles at which intensity
	// functions and their derivatives are wanted. Empty means bulk
	// coefficients only.
	Mu []float64
	// Npts overrides the automatic quadrature point count. Lower
	// counts trade accuracy for speed; 0 selects automatically.
	Npts int
	// Diagnostics asks for the Info block on the result.
	Diagnostics bool
}

// Intensity holds distribution-averaged intensity functions and their
// parameter derivatives, indexed parallel to Options.Mu. I1 derives
// from the perpendicular amplitude S1, I2 from the parallel S2.
type Intensity struct {
	I1, I2 []float64

	DI1DN, DI1DRm, DI1DS []float64
	DI2DN, DI2DRm, DI2DS []float64
}

// Diagnostics reports how an Average call discretized the integral.
type Diagnostics struct {
	Npts int
	Xmin float64
	Xmax float64
}

// Coefficients is the result of one Average call. Bext and Bsca are
// the bulk extinction and scattering coefficients; the D* fields are
// their analytic partial derivatives. Intensity is nil unless angles
// were requested, Info nil unless diagnostics were.
type Coefficients struct {
	Bext, Bsca float64

	DBextDN, DBextDRm, DBextDS float64
	DBscaDN, DBscaDRm, DBscaDS float64

	Intensity *Intensity
	Info      *Diagnostics

	// Truncated records that the upper integration bound was clamped
	// to keep the size parameter below the solver ceiling. Non-fatal;
	// Warnings carries the user-visible message.
	Truncated bool
	Warnings  []string
}

// Solver is the single-sphere collaborator. It must evaluate all size
// parameters in one call; see mie.Solver for the reference
// implementation.
type Solver interface {
	Scatter(x []float64, m complex128, mu []float64) (*mie.Single, error)
}
