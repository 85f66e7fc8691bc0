package bench

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// PlotTimings saves a bar chart of elapsed seconds per backend to path.
// Failed backends are left out.
func PlotTimings(results []Result, path string) error {
	var (
		values plotter.Values
		names  []string
	)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		values = append(values, r.Elapsed.Seconds())
		names = append(names, r.Name)
	}
	if len(values) == 0 {
		return errors.NewValueError("PlotTimings", "no successful results to plot")
	}

	p := plot.New()
	p.Title.Text = "Optimization wall time by backend"
	p.Y.Label.Text = "seconds"

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return errors.Wrap(err, "timing bars")
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	width := vg.Length(len(values)+2) * vg.Inch
	if width < 4*vg.Inch {
		width = 4 * vg.Inch
	}
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
