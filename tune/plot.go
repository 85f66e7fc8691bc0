package tune

import (
	"context"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// PlotHistory renders each COMPLETE trial's value and the running best to
// path. The image format follows the extension (.png, .svg, .pdf).
func PlotHistory(ctx context.Context, s *Study, path string) error {
	trials, err := s.Trials(ctx, TrialComplete)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return errors.Wrapf(errors.ErrNoCompletedTrials, "study %q", s.name)
	}

	values := make(plotter.XYs, len(trials))
	best := make(plotter.XYs, len(trials))
	for i, t := range trials {
		values[i] = plotter.XY{X: float64(t.Number), Y: t.Value}
		best[i] = values[i]
		if i > 0 && !s.direction.better(t.Value, best[i-1].Y) {
			best[i].Y = best[i-1].Y
		}
	}

	p := plot.New()
	p.Title.Text = "Optimization history: " + s.name
	p.X.Label.Text = "trial"
	p.Y.Label.Text = "objective value"

	scatter, err := plotter.NewScatter(values)
	if err != nil {
		return errors.Wrap(err, "history scatter")
	}
	line, err := plotter.NewLine(best)
	if err != nil {
		return errors.Wrap(err, "history line")
	}
	line.LineStyle.Width = vg.Points(2)

	p.Add(scatter, line)
	p.Legend.Add("value", scatter)
	p.Legend.Add("best", line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
