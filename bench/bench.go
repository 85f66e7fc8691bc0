// Package bench times several optimization backends on the same workload
// and reports their relative speed.
package bench

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/tune"
)

// Outcome summarizes one finished configuration. Trials and Failed count
// only the trials of the timed run; TotalTrials also counts earlier runs of
// a resumed study. BestValue is the study-wide best.
type Outcome struct {
	BestValue   float64
	BestParams  map[string]any
	Trials      int
	Failed      int
	TotalTrials int
}

// Configuration is one backend to time.
type Configuration struct {
	Name string
	Run  func(ctx context.Context) (Outcome, error)
}

// Result is the timing of one configuration. Err is set when Run failed.
type Result struct {
	Name    string
	Elapsed time.Duration
	Outcome Outcome
	Err     error
}

// Run executes configs one after another so that timings do not interfere.
// A failing configuration is recorded in its Result and does not stop the
// others; only cancellation of ctx ends the run early.
func Run(ctx context.Context, logger log.Logger, configs ...Configuration) []Result {
	if logger == nil {
		logger = log.GetLoggerWithName("bench")
	}
	results := make([]Result, 0, len(configs))
	for _, c := range configs {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		out, err := c.Run(ctx)
		r := Result{Name: c.Name, Elapsed: time.Since(start), Outcome: out, Err: err}
		results = append(results, r)

		if err != nil {
			logger.Error("backend failed", err, log.BackendKey, c.Name, log.DurationSecondsKey, r.Elapsed.Seconds())
			continue
		}
		logger.Info("backend timed",
			log.BackendKey, c.Name,
			log.DurationSecondsKey, r.Elapsed.Seconds(),
			log.TrialValueKey, out.BestValue,
			"trials", out.Trials,
		)
	}
	return results
}

// StudyOutcome collects an Outcome from a finished study. Trials numbered
// below since belong to earlier runs and only count towards TotalTrials.
func StudyOutcome(ctx context.Context, s *tune.Study, since int) (Outcome, error) {
	trials, err := s.Trials(ctx)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{BestValue: math.NaN()}
	for _, t := range trials {
		if t.State == tune.TrialComplete {
			out.TotalTrials++
		}
		if t.Number < since {
			continue
		}
		switch t.State {
		case tune.TrialComplete:
			out.Trials++
		case tune.TrialFail:
			out.Failed++
		}
	}
	best, err := s.BestTrial(ctx)
	if errors.Is(err, errors.ErrNoCompletedTrials) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.BestValue = best.Value
	out.BestParams = best.ExternalParams()
	return out, nil
}

// Speedup returns baseline/elapsed for every result, using the first
// successful result as the baseline. Failed results get NaN.
func Speedup(results []Result) []float64 {
	out := make([]float64, len(results))
	var base time.Duration
	for _, r := range results {
		if r.Err == nil {
			base = r.Elapsed
			break
		}
	}
	for i, r := range results {
		if r.Err != nil || base == 0 || r.Elapsed == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(base) / float64(r.Elapsed)
	}
	return out
}

// WriteReport writes an aligned table of results.
func WriteReport(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tELAPSED\tSPEEDUP\tTRIALS\tFAILED\tTOTAL\tBEST\tPARAMS")
	speedups := Speedup(results)
	for i, r := range results {
		if r.Err != nil {
			fmt.Fprintf(tw, "%s\t%.2fs\t-\t-\t-\t-\t-\terror: %v\n", r.Name, r.Elapsed.Seconds(), r.Err)
			continue
		}
		best := "-"
		if !math.IsNaN(r.Outcome.BestValue) {
			best = fmt.Sprintf("%.4f", r.Outcome.BestValue)
		}
		fmt.Fprintf(tw, "%s\t%.2fs\t%.2fx\t%d\t%d\t%d\t%s\t%s\n",
			r.Name, r.Elapsed.Seconds(), speedups[i], r.Outcome.Trials, r.Outcome.Failed,
			r.Outcome.TotalTrials, best, formatParams(r.Outcome.BestParams))
	}
	return tw.Flush()
}

func formatParams(p map[string]any) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}
