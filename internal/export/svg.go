// Package export renders averaged phase functions as standalone SVG
// documents, for reports where the terminal plots don't travel.
package export

import (
	"fmt"
	"math"
	"os"
	"strings"
)

const pad = 0.1

// PhaseToSVG draws log10 of the intensity functions against
// scattering angle: i1 in green, i2 in orange. Both series must
// parallel angles; i2 may be nil.
func PhaseToSVG(angles, i1, i2 []float64, width, height int) (string, error) {
	if len(angles) < 2 {
		return "", fmt.Errorf("export: need at least 2 angles, got %d", len(angles))
	}
	if len(i1) != len(angles) || (i2 != nil && len(i2) != len(angles)) {
		return "", fmt.Errorf("export: intensity series must parallel the angle grid")
	}

	logs := func(v []float64) []float64 {
		out := make([]float64, len(v))
		for i, x := range v {
			if x <= 0 {
				x = 1e-300
			}
			out[i] = math.Log10(x)
		}
		return out
	}
	l1 := logs(i1)
	var l2 []float64
	if i2 != nil {
		l2 = logs(i2)
	}

	minY, maxY := l1[0], l1[0]
	for _, v := range l1 {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}
	for _, v := range l2 {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}
	if maxY == minY {
		maxY = minY + 1
	}

	rangeY := maxY - minY
	minY -= rangeY * pad
	maxY += rangeY * pad

	minX, maxX := angles[0], angles[len(angles)-1]

	toPx := func(a, v float64) (float64, float64) {
		px := (a - minX) / (maxX - minX) * float64(width)
		py := float64(height) - (v-minY)/(maxY-minY)*float64(height)
		return px, py
	}

	polyline := func(vals []float64, color string) string {
		var pts strings.Builder
		for i, v := range vals {
			px, py := toPx(angles[i], v)
			fmt.Fprintf(&pts, "%.1f,%.1f ", px, py)
		}
		return fmt.Sprintf(`<polyline fill="none" stroke="%s" stroke-width="1.5" points="%s"/>`,
			color, strings.TrimSpace(pts.String()))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
	sb.WriteString(polyline(l1, "#00cc66") + "\n")
	if l2 != nil {
		sb.WriteString(polyline(l2, "#ff9933") + "\n")
	}
	fmt.Fprintf(&sb, `<text x="6" y="14" fill="#888899" font-family="monospace" font-size="11">log10 i over %.0f..%.0f deg</text>
`, minX, maxX)
	sb.WriteString("</svg>\n")
	return sb.String(), nil
}

// WritePhaseSVG renders and writes in one step.
func WritePhaseSVG(path string, angles, i1, i2 []float64, width, height int) error {
	doc, err := PhaseToSVG(angles, i1, i2, width, height)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc), 0644)
}
