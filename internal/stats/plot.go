package stats

import (
	"errors"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const trendMargin = 2

// PlotTrend renders the per-cycle similarity spread as a PNG at path. Solid
// lines trace the best selected sequence, dashed lines the worst.
func PlotTrend(points []TrendPoint, path string) error {
	if len(points) == 0 {
		return errors.New("no cycles to plot")
	}

	p := plot.New()
	p.Title.Text = "Similarity Trend Across Cycles"
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Similarity (%)"
	p.Add(plotter.NewGrid())

	series := []struct {
		label  string
		color  color.Color
		dashed bool
		value  func(TrendPoint) float64
	}{
		{label: "target max", color: color.RGBA{R: 31, G: 119, B: 180, A: 255}, value: func(tp TrendPoint) float64 { return tp.TargetMax }},
		{label: "target min", color: color.RGBA{R: 31, G: 119, B: 180, A: 255}, dashed: true, value: func(tp TrendPoint) float64 { return tp.TargetMin }},
		{label: "input max", color: color.RGBA{R: 255, G: 127, B: 14, A: 255}, value: func(tp TrendPoint) float64 { return tp.InputMax }},
		{label: "input min", color: color.RGBA{R: 255, G: 127, B: 14, A: 255}, dashed: true, value: func(tp TrendPoint) float64 { return tp.InputMin }},
	}

	lo, hi := 100.0, 0.0
	for _, s := range series {
		pts := make(plotter.XYs, len(points))
		for i, tp := range points {
			v := s.value(tp)
			pts[i].X = float64(tp.Cycle)
			pts[i].Y = v
			lo = min(lo, v)
			hi = max(hi, v)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.LineStyle.Color = s.color
		line.LineStyle.Width = vg.Points(1)
		if s.dashed {
			line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(s.label, line)
	}

	p.Y.Min = max(0, lo-trendMargin)
	p.Y.Max = min(100, hi+trendMargin)
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
