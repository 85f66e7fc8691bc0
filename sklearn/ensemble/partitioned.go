package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/core/parallel"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/sklearn/tree"
)

// PartitionedForest trains a random forest the way multi-device estimators
// do: rows are shuffled and cut into Partitions shards, every worker fits
// ceil(n_estimators/partitions) trees on its own shard only, and the trees
// are merged into a single forest.
type PartitionedForest struct {
	*RandomForestClassifier

	partitions int
	workers    int
}

// PartitionOption configures a PartitionedForest.
type PartitionOption func(*PartitionedForest)

// WithPartitions sets the number of data shards.
func WithPartitions(n int) PartitionOption { return func(p *PartitionedForest) { p.partitions = n } }

// WithWorkers sets how many shards are fitted concurrently. Values <= 0 mean one per partition.
func WithWorkers(n int) PartitionOption { return func(p *PartitionedForest) { p.workers = n } }

// WithForestOptions applies RandomForestClassifier options to the merged forest.
func WithForestOptions(opts ...Option) PartitionOption {
	return func(p *PartitionedForest) {
		for _, opt := range opts {
			opt(p.RandomForestClassifier)
		}
	}
}

// NewPartitionedForest creates a forest with two partitions by default.
func NewPartitionedForest(opts ...PartitionOption) *PartitionedForest {
	p := &PartitionedForest{
		RandomForestClassifier: NewRandomForestClassifier(),
		partitions:             2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Partitions returns the configured number of shards.
func (p *PartitionedForest) Partitions() int { return p.partitions }

// Fit shards X and fits each shard's trees on a separate worker.
func (p *PartitionedForest) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "PartitionedForest.Fit")

	if p.partitions < 1 {
		return errors.NewValidationError("partitions", "must be positive", p.partitions)
	}
	if err := p.validate(); err != nil {
		return err
	}
	dense, labels, err := tree.CheckXy("Fit", X, y)
	if err != nil {
		return err
	}
	classes, yIdx := tree.EncodeLabels(labels)
	nRows, nFeatures := dense.Dims()
	if nRows < 2*p.partitions {
		return errors.NewValidationError("partitions",
			fmt.Sprintf("need at least 2 samples per partition, have %d samples", nRows), p.partitions)
	}

	shards := p.shard(nRows)
	perShard := (p.nEstimators + p.partitions - 1) / p.partitions
	workers := p.workers
	if workers <= 0 {
		workers = p.partitions
	}

	start := time.Now()
	trees := make([]*tree.DecisionTreeClassifier, p.partitions*perShard)
	err = parallel.ForEach(p.partitions, workers, "partition", func(s int) error {
		for k := 0; k < perShard; k++ {
			i := s*perShard + k
			seed := p.randomState + int64(i)
			t := p.newTree(seed, nFeatures)
			if err := t.FitIndices(dense, yIdx, len(classes), p.sampleIndices(shards[s], rand.New(rand.NewSource(seed)))); err != nil {
				return err
			}
			trees[i] = t
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.setFitted(trees, classes, nFeatures, nRows)
	log.GetLoggerWithName("ensemble").Debug("Partitioned forest fitted",
		log.ModelNameKey, "PartitionedForest",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nRows,
		"partitions", p.partitions,
		"trees", len(trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// shard shuffles row indices with the forest seed and cuts them into
// contiguous, near-equal shards.
func (p *PartitionedForest) shard(nRows int) [][]int {
	perm := rand.New(rand.NewSource(p.randomState)).Perm(nRows)
	shards := make([][]int, p.partitions)
	size := nRows / p.partitions
	rem := nRows % p.partitions
	offset := 0
	for s := range shards {
		n := size
		if s < rem {
			n++
		}
		shards[s] = perm[offset : offset+n]
		offset += n
	}
	return shards
}

// GetParams adds the partitioning parameters to the forest parameters.
func (p *PartitionedForest) GetParams() map[string]interface{} {
	params := p.RandomForestClassifier.GetParams()
	params["partitions"] = p.partitions
	params["workers"] = p.workers
	return params
}

// SetParams accepts forest parameters plus "partitions" and "workers".
func (p *PartitionedForest) SetParams(params map[string]interface{}) error {
	rest := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch k {
		case "partitions", "workers":
			n, err := tree.ToInt(k, v)
			if err != nil {
				return err
			}
			if k == "partitions" {
				p.partitions = n
			} else {
				p.workers = n
			}
		default:
			rest[k] = v
		}
	}
	return p.RandomForestClassifier.SetParams(rest)
}

type partitionedSnapshot struct {
	Forest     []byte
	Partitions int
	Workers    int
}

// GobEncode stores the merged forest together with the partitioning
// parameters. Without it the promoted RandomForestClassifier methods would
// drop them.
func (p *PartitionedForest) GobEncode() ([]byte, error) {
	forest, err := p.RandomForestClassifier.GobEncode()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(partitionedSnapshot{
		Forest:     forest,
		Partitions: p.partitions,
		Workers:    p.workers,
	})
	return buf.Bytes(), err
}

// GobDecode works on a zero PartitionedForest.
func (p *PartitionedForest) GobDecode(data []byte) error {
	var s partitionedSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	forest := NewRandomForestClassifier()
	if err := forest.GobDecode(s.Forest); err != nil {
		return err
	}
	p.RandomForestClassifier = forest
	p.partitions = s.Partitions
	p.workers = s.Workers
	return nil
}
