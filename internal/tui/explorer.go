// Package tui is an interactive parameter explorer: adjust the
// distribution with the arrow keys and watch the bulk coefficients
// and phase function respond.
package tui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atmret/mielab/internal/lognormal"
	"github.com/atmret/mielab/internal/mie"
	"github.com/atmret/mielab/internal/viz"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// explorerNpts keeps recomputation fast enough for interactive use at
// the cost of quadrature accuracy.
const explorerNpts = 200

const phaseAngles = 91

type param struct {
	name string
	get  func(*lognormal.Params) float64
	set  func(*lognormal.Params, float64)
	// step is the multiplicative factor applied per keypress.
	step float64
	min  float64
}

var editable = []param{
	{"N", func(p *lognormal.Params) float64 { return p.N },
		func(p *lognormal.Params, v float64) { p.N = v }, 1.25, 1e-12},
	{"Rm", func(p *lognormal.Params) float64 { return p.Rm },
		func(p *lognormal.Params, v float64) { p.Rm = v }, 1.1, 1e-6},
	{"S", func(p *lognormal.Params) float64 { return p.S },
		func(p *lognormal.Params, v float64) { p.S = v }, 1.02, 1.001},
	{"wavenumber", func(p *lognormal.Params) float64 { return p.Wavenumber },
		func(p *lognormal.Params, v float64) { p.Wavenumber = v }, 1.1, 1e-6},
}

type model struct {
	eng    *lognormal.Engine
	params lognormal.Params
	mu     []float64
	angles []float64

	cursor int
	coeffs *lognormal.Coefficients
	err    error

	width  int
	height int
}

// New builds the explorer around an engine and a starting scenario.
func New(eng *lognormal.Engine, params lognormal.Params) tea.Model {
	angles := make([]float64, phaseAngles)
	mu := make([]float64, phaseAngles)
	for i := range angles {
		angles[i] = float64(i) * 180 / float64(phaseAngles-1)
		mu[i] = math.Cos(angles[i] * math.Pi / 180)
	}

	m := &model{
		eng:    eng,
		params: params,
		mu:     mu,
		angles: angles,
		width:  80,
		height: 24,
	}
	m.recompute()
	return m
}

func (m *model) recompute() {
	m.coeffs, m.err = m.eng.Average(m.params, lognormal.Options{
		Mu:          m.mu,
		Npts:        explorerNpts,
		Diagnostics: true,
	})
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(editable)-1 {
				m.cursor++
			}
		case "left", "h":
			p := editable[m.cursor]
			v := p.get(&m.params) / p.step
			if v < p.min {
				v = p.min
			}
			p.set(&m.params, v)
			m.recompute()
		case "right", "l":
			p := editable[m.cursor]
			p.set(&m.params, p.get(&m.params)*p.step)
			m.recompute()
		}
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(cyan.Render("mielab explorer") + "\n\n")

	for i, p := range editable {
		marker := "  "
		style := white
		if i == m.cursor {
			marker = green.Render("> ")
			style = green
		}
		b.WriteString(fmt.Sprintf("%s%s %s\n",
			marker,
			dim.Render(fmt.Sprintf("%-11s", p.name)),
			style.Render(fmt.Sprintf("%.6g", p.get(&m.params)))))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(red.Render("error: "+m.err.Error()) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s    %s %s\n",
			dim.Render("Bext"), white.Render(fmt.Sprintf("%.6e", m.coeffs.Bext)),
			dim.Render("Bsca"), white.Render(fmt.Sprintf("%.6e", m.coeffs.Bsca))))
		b.WriteString(fmt.Sprintf("%s %s    %s %s\n",
			dim.Render("dBext/dRm"), white.Render(fmt.Sprintf("%.3e", m.coeffs.DBextDRm)),
			dim.Render("dBext/dS"), white.Render(fmt.Sprintf("%.3e", m.coeffs.DBextDS))))

		if m.coeffs.Truncated {
			b.WriteString(yellow.Render("warning: upper bound truncated") + "\n")
		}
		b.WriteString("\n")

		plotWidth := m.width - 12
		if plotWidth < 30 {
			plotWidth = 30
		}
		plotHeight := m.height - len(editable) - 10
		if plotHeight < 6 {
			plotHeight = 6
		}
		if m.coeffs.Intensity != nil {
			b.WriteString(viz.PhasePlot(m.angles, m.coeffs.Intensity.I1, plotWidth, plotHeight))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n" + dim.Render("up/down select   left/right adjust   q quit"))
	return b.String()
}

// Run starts the explorer with the reference Mie solver.
func Run(params lognormal.Params) error {
	eng := lognormal.NewEngine(mie.New())
	_, err := tea.NewProgram(New(eng, params), tea.WithAltScreen()).Run()
	return err
}
