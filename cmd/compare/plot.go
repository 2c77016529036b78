package main

import (
	"image/color"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var methodColors = map[string]color.RGBA{
	methodMemoryNetwork: {R: 20, G: 80, B: 200, A: 220},
	methodKNN:           {R: 200, G: 30, B: 30, A: 180},
	methodKNNSim:        {R: 230, G: 140, B: 20, A: 160},
	methodMLP:           {R: 40, G: 150, B: 40, A: 200},
}

// plotCompare draws destinations (grey) and every method's predictions on a
// longitude/latitude scatter, with a faint line from each prefix's last point
// to its true destination.
func plotCompare(outDir string, rows []resultRow) error {
	p := plot.New()
	p.Title.Text = "Destinations: truth (grey) and predictions"
	p.X.Label.Text = "longitude"
	p.Y.Label.Text = "latitude"

	truth := make(plotter.XYs, len(rows))
	for i, r := range rows {
		truth[i] = plotter.XY{X: float64(r.Destination[1]), Y: float64(r.Destination[0])}
	}
	gr, err := plotter.NewScatter(truth)
	if err != nil {
		return err
	}
	gr.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	gr.GlyphStyle.Radius = vg.Points(1.8)
	p.Add(gr)
	p.Legend.Add("truth", gr)

	all := append(plotter.XYs(nil), truth...)
	for _, m := range methods {
		xys := make(plotter.XYs, 0, len(rows))
		for _, r := range rows {
			if pr, ok := r.Predictions[m]; ok {
				xys = append(xys, plotter.XY{X: float64(pr[1]), Y: float64(pr[0])})
			}
		}
		if len(xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = methodColors[m]
		sc.GlyphStyle.Radius = vg.Points(2.2)
		p.Add(sc)
		p.Legend.Add(m, sc)
		all = append(all, xys...)
	}

	// A few remaining-trip segments, last seen point to destination.
	for i, r := range rows {
		if i == 25 {
			break
		}
		line, err := plotter.NewLine(plotter.XYs{
			{X: float64(r.Last[1]), Y: float64(r.Last[0])},
			{X: float64(r.Destination[1]), Y: float64(r.Destination[0])},
		})
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 40, G: 40, B: 40, A: uint8(60 + (i%3)*20)}
		line.Width = vg.Points(0.6)
		p.Add(line)
		if i == 0 {
			p.Legend.Add("remaining trip (sample)", line)
		}
	}

	p.Add(plotter.NewGrid())
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)

	if err := ensureDir(outDir); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, filepath.Join(outDir, "compare_destinations.png"))
}

// autoRange returns the bounds of xs with a 6% margin.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 0.01
	}
	if pady == 0 {
		pady = 0.01
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
