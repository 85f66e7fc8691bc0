package tune

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Sampler proposes parameter values.
//
// SampleRelative is called once per trial with the study's relative search
// space and may return values for any subset of it. Parameters it leaves out
// are drawn one by one through SampleIndependent. history only contains
// COMPLETE trials. Samplers are shared by concurrent trials.
type Sampler interface {
	SampleRelative(history []FrozenTrial, space map[string]Distribution, direction Direction) (map[string]float64, error)
	SampleIndependent(history []FrozenTrial, name string, d Distribution, direction Direction) (float64, error)
}

// RandomSampler draws every parameter uniformly (log-uniformly for log distributions).
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler; a negative seed uses the clock.
func NewRandomSampler(seed int64) *RandomSampler {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSampler) SampleRelative([]FrozenTrial, map[string]Distribution, Direction) (map[string]float64, error) {
	return nil, nil
}

func (s *RandomSampler) SampleIndependent(_ []FrozenTrial, _ string, d Distribution, _ Direction) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.sample(s.rng), nil
}

// IntersectionSearchSpace returns the parameters present with the same
// distribution in every trial. Single-valued distributions are dropped.
func IntersectionSearchSpace(trials []FrozenTrial) map[string]Distribution {
	var space map[string]Distribution
	for _, t := range trials {
		if space == nil {
			space = make(map[string]Distribution, len(t.Distributions))
			for k, d := range t.Distributions {
				space[k] = d
			}
			continue
		}
		for k, d := range space {
			if other, ok := t.Distributions[k]; !ok || !SameDistribution(d, other) {
				delete(space, k)
			}
		}
	}
	for k, d := range space {
		if d.Single() {
			delete(space, k)
		}
	}
	return space
}

func sortedNames(space map[string]Distribution) []string {
	names := make([]string, 0, len(space))
	for k := range space {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
