package tune

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// AcquisitionParams tunes the exploration/exploitation trade-off.
type AcquisitionParams struct {
	// Beta は UCB の探索重み
	Beta float64
	// Xi は PI/EI で要求する最小改善量
	Xi float64
	// BestSoFar は標準化済みの現在の最良値 (SampleRelative が設定)
	BestSoFar float64
	// RandomState は Thompson sampling 用 (SampleRelative が設定)
	RandomState *rand.Rand
}

// AcquisitionFunc scores a candidate from the GP posterior. Higher is better.
type AcquisitionFunc func(mean, variance float64, p AcquisitionParams) float64

// UCB is the upper confidence bound mean + beta*sd.
func UCB(mean, variance float64, p AcquisitionParams) float64 {
	return mean + p.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement is P(f(x) > best + xi).
func ProbabilityOfImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	return normalCDF((mean - p.BestSoFar - p.Xi) / sd)
}

// ExpectedImprovement is E[max(f(x) - best - xi, 0)].
func ExpectedImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	imp := mean - p.BestSoFar - p.Xi
	z := imp / sd
	return imp*normalCDF(z) + sd*normalPDF(z)
}

// ThompsonSampling draws one sample from the posterior at the candidate.
func ThompsonSampling(mean, variance float64, p AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*p.RandomState.NormFloat64()
}

// ParseAcquisition maps "ucb", "pi", "ei" and "thompson" to their functions.
func ParseAcquisition(name string) (AcquisitionFunc, error) {
	switch strings.ToLower(name) {
	case "ucb":
		return UCB, nil
	case "pi", "poi":
		return ProbabilityOfImprovement, nil
	case "ei", "":
		return ExpectedImprovement, nil
	case "thompson", "ts":
		return ThompsonSampling, nil
	}
	return nil, errors.NewValidationError("acquisition", "must be ucb, pi, ei or thompson", name)
}

func normalCDF(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func normalPDF(x float64) float64 { return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi) }

// gaussianProcess is a zero-mean GP with an RBF kernel over inputs in [0,1]^d.
type gaussianProcess struct {
	x     [][]float64
	sigma float64
	chol  mat.Cholesky
	alpha *mat.VecDense
}

func (gp *gaussianProcess) kernel(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// fitGP factorizes K + noise*I. ok is false when K is not positive definite
// even after adding jitter.
func fitGP(x [][]float64, y []float64, sigma, noise float64) (*gaussianProcess, bool) {
	gp := &gaussianProcess{x: x, sigma: sigma}
	n := len(x)
	for jitter := noise; jitter < 1; jitter *= 10 {
		k := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := gp.kernel(x[i], x[j])
				if i == j {
					v += jitter
				}
				k.SetSym(i, j, v)
			}
		}
		if gp.chol.Factorize(k) {
			gp.alpha = mat.NewVecDense(n, nil)
			if err := gp.chol.SolveVecTo(gp.alpha, mat.NewVecDense(n, y)); err != nil {
				return nil, false
			}
			return gp, true
		}
	}
	return nil, false
}

// predict returns the posterior mean and variance at x.
func (gp *gaussianProcess) predict(x []float64) (mean, variance float64) {
	n := len(gp.x)
	ks := mat.NewVecDense(n, nil)
	for i := range gp.x {
		ks.SetVec(i, gp.kernel(x, gp.x[i]))
	}
	mean = mat.Dot(ks, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, ks); err != nil {
		return mean, 1
	}
	variance = 1 - mat.Dot(ks, v)
	return mean, math.Max(variance, 1e-12)
}

// GPSampler is a Bayesian sampler: after NStartupTrials random trials it
// fits a Gaussian process on the completed trials and picks, among
// NumCandidates random points, the one maximizing the acquisition function.
type GPSampler struct {
	NStartupTrials int
	NumCandidates  int
	Acquisition    AcquisitionFunc
	Params         AcquisitionParams
	// Sigma is the RBF length scale in normalized parameter space.
	Sigma float64
	Noise float64

	mu     sync.Mutex
	rng    *rand.Rand
	random *RandomSampler
}

// GPOption configures a GPSampler.
type GPOption func(*GPSampler)

func WithStartupTrials(n int) GPOption { return func(s *GPSampler) { s.NStartupTrials = n } }

func WithCandidates(n int) GPOption { return func(s *GPSampler) { s.NumCandidates = n } }

func WithAcquisition(f AcquisitionFunc) GPOption { return func(s *GPSampler) { s.Acquisition = f } }

func WithAcquisitionParams(p AcquisitionParams) GPOption {
	return func(s *GPSampler) { s.Params = p }
}

func WithLengthScale(sigma float64) GPOption { return func(s *GPSampler) { s.Sigma = sigma } }

// NewGPSampler creates a GP sampler; a negative seed uses the clock.
func NewGPSampler(seed int64, opts ...GPOption) *GPSampler {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	s := &GPSampler{
		NStartupTrials: 5,
		NumCandidates:  256,
		Acquisition:    ExpectedImprovement,
		Params:         AcquisitionParams{Beta: 2.0, Xi: 0.01},
		Sigma:          0.25,
		Noise:          1e-6,
		rng:            rand.New(rand.NewSource(seed)),
		random:         NewRandomSampler(seed + 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GPSampler) SampleIndependent(history []FrozenTrial, name string, d Distribution, dir Direction) (float64, error) {
	return s.random.SampleIndependent(history, name, d, dir)
}

func (s *GPSampler) SampleRelative(history []FrozenTrial, space map[string]Distribution, dir Direction) (map[string]float64, error) {
	if len(space) == 0 || len(history) < s.NStartupTrials {
		return nil, nil
	}
	names := sortedNames(space)

	x := make([][]float64, 0, len(history))
	y := make([]float64, 0, len(history))
	for _, t := range history {
		row, ok := encodeParams(t, names, space)
		if !ok {
			continue
		}
		v := t.Value
		if dir == Minimize {
			v = -v
		}
		x = append(x, row)
		y = append(y, v)
	}
	if len(x) < max(1, s.NStartupTrials) {
		return nil, nil
	}

	mean, std := stat.MeanStdDev(y, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	best := math.Inf(-1)
	for i := range y {
		y[i] = (y[i] - mean) / std
		best = math.Max(best, y[i])
	}

	gp, ok := fitGP(x, y, s.Sigma, s.Noise)
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params := s.Params
	params.BestSoFar = best
	params.RandomState = s.rng

	var (
		bestScore = math.Inf(-1)
		bestPoint []float64
		cand      = make([]float64, len(names))
	)
	for c := 0; c < s.NumCandidates; c++ {
		for j, name := range names {
			d := space[name]
			// 整数・カテゴリは正規化前に値へスナップする
			cand[j] = d.normalize(d.denormalize(s.rng.Float64()))
		}
		m, v := gp.predict(cand)
		if score := s.Acquisition(m, v, params); score > bestScore || bestPoint == nil {
			bestScore = score
			bestPoint = append(bestPoint[:0], cand...)
		}
	}

	out := make(map[string]float64, len(names))
	for j, name := range names {
		out[name] = space[name].denormalize(bestPoint[j])
	}
	return out, nil
}

func encodeParams(t FrozenTrial, names []string, space map[string]Distribution) ([]float64, bool) {
	row := make([]float64, len(names))
	for j, name := range names {
		v, ok := t.Params[name]
		if !ok || !SameDistribution(t.Distributions[name], space[name]) {
			return nil, false
		}
		row[j] = space[name].normalize(v)
	}
	return row, true
}
