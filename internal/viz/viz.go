// Package viz renders engine results for the terminal: lipgloss
// tables for coefficients and derivatives, asciigraph plots for phase
// functions and size distributions.
package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/atmret/mielab/internal/lognormal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
)

// ParamsTable renders the distribution parameters of a run.
func ParamsTable(p lognormal.Params) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("distribution") + "\n")
	rows := []struct {
		label string
		value string
	}{
		{"N", fmt.Sprintf("%.6g", p.N)},
		{"Rm", fmt.Sprintf("%.6g", p.Rm)},
		{"S", fmt.Sprintf("%.6g", p.S)},
		{"wavenumber", fmt.Sprintf("%.6g", p.Wavenumber)},
		{"m", fmt.Sprintf("%.4g%+.4gi", real(p.RefIndex), imag(p.RefIndex))},
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", r.label)), valueStyle.Render(r.value)))
	}
	return b.String()
}

// CoefficientsTable renders bulk coefficients and their derivatives.
func CoefficientsTable(c *lognormal.Coefficients) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("bulk coefficients") + "\n")
	rows := []struct {
		label string
		value float64
	}{
		{"Bext", c.Bext},
		{"Bsca", c.Bsca},
		{"dBext/dN", c.DBextDN},
		{"dBext/dRm", c.DBextDRm},
		{"dBext/dS", c.DBextDS},
		{"dBsca/dN", c.DBscaDN},
		{"dBsca/dRm", c.DBscaDRm},
		{"dBsca/dS", c.DBscaDS},
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", r.label)), valueStyle.Render(fmt.Sprintf("%.6e", r.value))))
	}
	if c.Info != nil {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", "npts")), valueStyle.Render(fmt.Sprintf("%d", c.Info.Npts))))
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", "x range")), valueStyle.Render(fmt.Sprintf("%.4g .. %.4g", c.Info.Xmin, c.Info.Xmax))))
	}
	return b.String()
}

// Warnings renders non-fatal warnings, or "" when there are none.
func Warnings(c *lognormal.Coefficients) string {
	if len(c.Warnings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range c.Warnings {
		b.WriteString(warnStyle.Render("warning: "+w) + "\n")
	}
	return b.String()
}

// PhasePlot draws log10 of the averaged intensity against scattering
// angle in degrees. i1 entries must parallel angles.
func PhasePlot(angles, i1 []float64, width, height int) string {
	if len(i1) == 0 {
		return ""
	}

	data := make([]float64, len(i1))
	for i, v := range i1 {
		if v <= 0 {
			v = 1e-300
		}
		data[i] = math.Log10(v)
	}

	caption := fmt.Sprintf("log10 i1 over %.0f..%.0f deg", angles[0], angles[len(angles)-1])
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

// DistributionPlot samples the log-normal number density over the
// central range of the distribution.
func DistributionPlot(p lognormal.Params, width, height int) string {
	lnS := math.Log(p.S)
	norm := math.Sqrt(2*math.Pi) * lnS

	const samples = 120
	lo := p.Rm * math.Pow(p.S, -3)
	hi := p.Rm * math.Pow(p.S, 3)

	data := make([]float64, samples)
	for i := range data {
		r := lo * math.Exp(float64(i)/float64(samples-1)*math.Log(hi/lo))
		z := math.Log(r/p.Rm) / lnS
		data[i] = p.N * math.Exp(-0.5*z*z) / (norm * r)
	}

	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("n(r), r = %.3g .. %.3g", lo, hi)),
	)
}
