// Package tree implements a CART decision tree classifier on gonum matrices.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/core/model"
	"github.com/YuminosukeSato/scitune/pkg/errors"
)

const modelName = "DecisionTreeClassifier"

// Node is a single node of a fitted tree. Leaves have Left == Right == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value holds the class distribution of the training samples that reached this node.
	Value    []float64
	NSamples int
	Impurity float64
}

func (n *Node) isLeaf() bool { return n.Left < 0 }

// DecisionTreeClassifier はCARTアルゴリズムによる決定木分類器
type DecisionTreeClassifier struct {
	state *model.FitState

	// ハイパーパラメータ
	criterion       string
	maxDepth        int // 0 以下は制限なし
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 以下は全特徴量
	randomState     int64

	// 学習結果
	nodes              []Node
	classes            []float64
	nClasses           int
	featureImportances []float64
	depth              int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the split quality measure: "gini" or "entropy".
func WithCriterion(c string) Option { return func(t *DecisionTreeClassifier) { t.criterion = c } }

// WithMaxDepth limits the depth of the tree. Values <= 0 mean unlimited.
func WithMaxDepth(d int) Option { return func(t *DecisionTreeClassifier) { t.maxDepth = d } }

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeClassifier) { t.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples required in a leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeClassifier) { t.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many features are considered per split. Values <= 0 mean all.
func WithMaxFeatures(k int) Option { return func(t *DecisionTreeClassifier) { t.maxFeatures = k } }

// WithRandomState seeds feature sub-sampling. Negative seeds use the clock.
func WithRandomState(seed int64) Option {
	return func(t *DecisionTreeClassifier) { t.randomState = seed }
}

// NewDecisionTreeClassifier creates a tree with sklearn-like defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	t := &DecisionTreeClassifier{
		state:           model.NewFitState(),
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *DecisionTreeClassifier) validate() error {
	if t.criterion != "gini" && t.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", t.criterion)
	}
	if t.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", t.minSamplesSplit)
	}
	if t.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", t.minSamplesLeaf)
	}
	return nil
}

// Fit builds the tree from X (n×p) and class labels y (n×1).
func (t *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	dense, labels, err := CheckXy("Fit", X, y)
	if err != nil {
		return err
	}
	classes, yIdx := EncodeLabels(labels)

	indices := make([]int, len(yIdx))
	for i := range indices {
		indices[i] = i
	}
	if err := t.FitIndices(dense, yIdx, len(classes), indices); err != nil {
		return err
	}
	t.classes = classes
	return nil
}

// FitIndices builds the tree from the rows of X selected by indices.
// yClass holds class indices in [0, nClasses) for every row of X. Indices may
// repeat, which is how bootstrap samples are passed without copying X.
func (t *DecisionTreeClassifier) FitIndices(X *mat.Dense, yClass []int, nClasses int, indices []int) error {
	if err := t.validate(); err != nil {
		return err
	}
	if len(indices) == 0 {
		return errors.ErrEmptyData
	}
	nRows, nFeatures := X.Dims()
	if len(yClass) != nRows {
		return errors.NewDimensionError("FitIndices", nRows, len(yClass), 0)
	}

	seed := t.randomState
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	b := &builder{
		tree:      t,
		X:         X,
		y:         yClass,
		nClasses:  nClasses,
		nFeatures: nFeatures,
		rng:       rand.New(rand.NewSource(seed)),
		gain:      make([]float64, nFeatures),
	}
	if t.criterion == "entropy" {
		b.impurity = entropy
	} else {
		b.impurity = gini
	}

	t.state.Reset()
	t.nodes = t.nodes[:0]
	t.depth = 0
	t.nClasses = nClasses
	t.classes = make([]float64, nClasses)
	for i := range t.classes {
		t.classes[i] = float64(i)
	}

	work := append([]int(nil), indices...)
	b.build(work, 0)

	var total float64
	for _, g := range b.gain {
		total += g
	}
	t.featureImportances = make([]float64, nFeatures)
	if total > 0 {
		for i, g := range b.gain {
			t.featureImportances[i] = g / total
		}
	}

	t.state.MarkFitted(nFeatures, len(indices))
	return nil
}

type builder struct {
	tree      *DecisionTreeClassifier
	X         *mat.Dense
	y         []int
	nClasses  int
	nFeatures int
	rng       *rand.Rand
	impurity  func(counts []float64, total float64) float64
	gain      []float64
}

func (b *builder) counts(idx []int) []float64 {
	c := make([]float64, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

// build appends the subtree for idx and returns its node index.
func (b *builder) build(idx []int, depth int) int {
	t := b.tree
	counts := b.counts(idx)
	n := float64(len(idx))
	imp := b.impurity(counts, n)

	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / n
	}
	self := len(t.nodes)
	t.nodes = append(t.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value, NSamples: len(idx), Impurity: imp})
	if depth > t.depth {
		t.depth = depth
	}

	if imp <= 0 || len(idx) < t.minSamplesSplit || len(idx) < 2*t.minSamplesLeaf {
		return self
	}
	if t.maxDepth > 0 && depth >= t.maxDepth {
		return self
	}

	feature, threshold, childImp, ok := b.bestSplit(idx, counts, n)
	if !ok {
		return self
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.gain[feature] += n*imp - childImp

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	t.nodes[self].Feature = feature
	t.nodes[self].Threshold = threshold
	t.nodes[self].Left = l
	t.nodes[self].Right = r
	return self
}

// bestSplit returns the split with the lowest weighted child impurity
// (n_left*imp_left + n_right*imp_right). Splits with zero gain are accepted
// so that XOR-like patterns can still be separated deeper in the tree.
func (b *builder) bestSplit(idx []int, parent []float64, n float64) (feature int, threshold, childImp float64, ok bool) {
	features := b.candidateFeatures()
	childImp = math.Inf(1)
	minLeaf := b.tree.minSamplesLeaf

	type pair struct {
		v float64
		c int
	}
	pairs := make([]pair, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	for _, f := range features {
		for j, i := range idx {
			pairs[j] = pair{v: b.X.At(i, f), c: b.y[i]}
		}
		sort.Slice(pairs, func(a, c int) bool { return pairs[a].v < pairs[c].v })
		if pairs[0].v == pairs[len(pairs)-1].v {
			continue
		}

		for k := range left {
			left[k] = 0
			right[k] = parent[k]
		}
		for j := 0; j < len(pairs)-1; j++ {
			left[pairs[j].c]++
			right[pairs[j].c]--
			if pairs[j].v == pairs[j+1].v {
				continue
			}
			nl := j + 1
			nr := len(pairs) - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			w := float64(nl)*b.impurity(left, float64(nl)) + float64(nr)*b.impurity(right, float64(nr))
			if w < childImp {
				childImp = w
				feature = f
				threshold = (pairs[j].v + pairs[j+1].v) / 2
				ok = true
			}
		}
	}
	return feature, threshold, childImp, ok
}

func (b *builder) candidateFeatures() []int {
	k := b.tree.maxFeatures
	if k <= 0 || k >= b.nFeatures {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(b.nFeatures)[:k]
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := c / total
		s -= p * p
	}
	return s
}

func entropy(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c > 0 {
			p := c / total
			h -= p * math.Log2(p)
		}
	}
	return h
}

func (t *DecisionTreeClassifier) leaf(x []float64) *Node {
	n := &t.nodes[0]
	for !n.isLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = &t.nodes[n.Left]
		} else {
			n = &t.nodes[n.Right]
		}
	}
	return n
}

// PredictProba returns an n×nClasses matrix of class probabilities.
func (t *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	rows, cols := X.Dims()
	if err := t.state.Check(modelName, "PredictProba", cols); err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, t.nClasses, nil)
	x := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(x, i, X)
		out.SetRow(i, t.leaf(x).Value)
	}
	return out, nil
}

// Predict returns an n×1 matrix of predicted class labels.
func (t *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, t.classes[ArgmaxRow(proba, i)])
	}
	return out, nil
}

// Score returns the mean accuracy on X and y.
func (t *DecisionTreeClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return 0, err
	}
	return accuracy(y, pred)
}

// Classes returns the class labels seen during Fit.
func (t *DecisionTreeClassifier) Classes() []int {
	out := make([]int, len(t.classes))
	for i, c := range t.classes {
		out[i] = int(c)
	}
	return out
}

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (t *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), t.featureImportances...)
}

// GetDepth returns the depth of the fitted tree.
func (t *DecisionTreeClassifier) GetDepth() int { return t.depth }

// GetNLeaves returns the number of leaves of the fitted tree.
func (t *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for i := range t.nodes {
		if t.nodes[i].isLeaf() {
			leaves++
		}
	}
	return leaves
}

// GetParams returns the hyperparameters of the tree.
func (t *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         t.criterion,
		"max_depth":         t.maxDepth,
		"min_samples_split": t.minSamplesSplit,
		"min_samples_leaf":  t.minSamplesLeaf,
		"max_features":      t.maxFeatures,
		"random_state":      t.randomState,
	}
}

// SetParams updates hyperparameters. Unknown keys are rejected.
func (t *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "criterion":
			s, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			t.criterion = s
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			n, err := ToInt(k, v)
			if err != nil {
				return err
			}
			switch k {
			case "max_depth":
				t.maxDepth = n
			case "min_samples_split":
				t.minSamplesSplit = n
			case "min_samples_leaf":
				t.minSamplesLeaf = n
			default:
				t.maxFeatures = n
			}
		case "random_state":
			n, err := ToInt(k, v)
			if err != nil {
				return err
			}
			t.randomState = int64(n)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	return t.validate()
}

// ToInt converts an integer-valued parameter from the usual numeric types.
func ToInt(name string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(n), nil
	default:
		return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", v), v)
	}
}

// treeSnapshot is the gob representation of a fitted tree.
type treeSnapshot struct {
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	MaxFeatures        int
	RandomState        int64
	Nodes              []Node
	Classes            []float64
	FeatureImportances []float64
	Depth              int
	State              *model.FitState
}

// GobEncode implements gob.GobEncoder so fitted trees can be persisted
// with model.SaveFile.
func (t *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeSnapshot{
		Criterion:          t.criterion,
		MaxDepth:           t.maxDepth,
		MinSamplesSplit:    t.minSamplesSplit,
		MinSamplesLeaf:     t.minSamplesLeaf,
		MaxFeatures:        t.maxFeatures,
		RandomState:        t.randomState,
		Nodes:              t.nodes,
		Classes:            t.classes,
		FeatureImportances: t.featureImportances,
		Depth:              t.depth,
		State:              t.state,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (t *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	t.criterion = s.Criterion
	t.maxDepth = s.MaxDepth
	t.minSamplesSplit = s.MinSamplesSplit
	t.minSamplesLeaf = s.MinSamplesLeaf
	t.maxFeatures = s.MaxFeatures
	t.randomState = s.RandomState
	t.nodes = s.Nodes
	t.classes = s.Classes
	t.nClasses = len(s.Classes)
	t.featureImportances = s.FeatureImportances
	t.depth = s.Depth
	t.state = s.State
	if t.state == nil {
		t.state = model.NewFitState()
	}
	return nil
}
