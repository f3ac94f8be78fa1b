// Package plotting renders evaluation results as images.
package plotting

import (
	"bytes"
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/forge-ml/forge/internal/output"
)

// matrixGrid adapts a dense matrix to the heat map's grid interface. Rows
// are flipped so row 0 (true class 0) renders at the top.
type matrixGrid struct {
	m *mat.Dense
}

func (g matrixGrid) Dims() (int, int) {
	r, c := g.m.Dims()
	return c, r
}

func (g matrixGrid) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g matrixGrid) X(c int) float64 { return float64(c) }
func (g matrixGrid) Y(r int) float64 { return float64(r) }

// ConfusionHeatmap renders a confusion matrix as a heat map image in the
// given format ("png" or "svg"). The matrix is expected row-normalized,
// true classes on rows and predicted classes on columns.
func ConfusionHeatmap(m *mat.Dense, title, format string) (*output.Artifact, error) {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("render confusion heat map: empty matrix")
	}

	pal := moreland.SmoothBlueRed().Palette(255)
	hm := plotter.NewHeatMap(matrixGrid{m: m}, pal)
	hm.Min, hm.Max = 0, 1

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "predicted label"
	p.Y.Label.Text = "true label"
	p.Add(hm)

	xTicks := make([]plot.Tick, cols)
	for i := range xTicks {
		xTicks[i] = plot.Tick{Value: float64(i), Label: strconv.Itoa(i)}
	}
	yTicks := make([]plot.Tick, rows)
	for i := range yTicks {
		// Mirror the row flip applied by the grid.
		yTicks[i] = plot.Tick{Value: float64(i), Label: strconv.Itoa(rows - 1 - i)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	wt, err := p.WriterTo(4*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return nil, fmt.Errorf("render confusion heat map: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode confusion heat map: %w", err)
	}
	return &output.Artifact{Format: format, Data: buf.Bytes()}, nil
}
