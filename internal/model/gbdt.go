package model

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptyDataset means there were no rows to fit.
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrSchemaMismatch means rows or feature names disagree in width.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)

// Params are the gradient boosting hyperparameters.
type Params struct {
	NumTrees       int     `json:"num_trees"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	MaxBins        int     `json:"max_bins"`
	Subsample      float64 `json:"subsample"`
	Seed           uint64  `json:"seed"`
}

// DefaultParams mirrors the batch defaults.
func DefaultParams() Params {
	return Params{
		NumTrees:       500,
		LearningRate:   0.1,
		MaxDepth:       6,
		MinSamplesLeaf: 20,
		MaxBins:        255,
		Subsample:      1.0,
		Seed:           42,
	}
}

// Regressor is a histogram-based gradient-boosted tree ensemble with squared
// loss. Split thresholds are stored as raw feature values, so prediction does
// not need the training bins.
type Regressor struct {
	Params    Params   `json:"params"`
	Features  []string `json:"features"`
	BaseScore float64  `json:"base_score"`
	Trees     []Tree   `json:"trees"`
}

// Tree is a flat array of nodes; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is either a split (x[Feature] <= Threshold goes Left) or a leaf.
// Leaf values already include the learning rate.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// NewRegressor returns an unfitted regressor.
func NewRegressor(params Params) *Regressor {
	return &Regressor{Params: params}
}

// Fit trains the ensemble. X is row-major with one column per feature name.
// Fitting is deterministic for a fixed Params.Seed.
func (r *Regressor) Fit(features []string, X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrEmptyDataset
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrSchemaMismatch, len(X), len(y))
	}
	if len(features) == 0 {
		return fmt.Errorf("%w: no features", ErrSchemaMismatch)
	}
	for i, row := range X {
		if len(row) != len(features) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrSchemaMismatch, i, len(row), len(features))
		}
	}

	p := r.Params
	if p.MaxBins < 2 || p.MaxBins > 256 {
		return fmt.Errorf("max_bins %d out of range", p.MaxBins)
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}

	n, d := len(X), len(features)
	edges := make([][]float64, d)
	bins := make([][]uint8, d)
	for f := range d {
		col := make([]float64, n)
		for i := range n {
			col[i] = X[i][f]
		}
		edges[f] = binEdges(col, p.MaxBins)
		bins[f] = make([]uint8, n)
		for i, v := range col {
			bins[f][i] = uint8(sort.SearchFloat64s(edges[f], v))
		}
	}

	b := &builder{
		params:   p,
		edges:    edges,
		bins:     bins,
		residual: make([]float64, n),
	}

	r.Features = slices.Clone(features)
	r.BaseScore = floats.Sum(y) / float64(n)
	r.Trees = make([]Tree, 0, p.NumTrees)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = r.BaseScore
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for range p.NumTrees {
		for i := range n {
			b.residual[i] = y[i] - pred[i]
		}

		idx := all
		if p.Subsample < 1 {
			idx = subsample(rng, n, p.Subsample)
		}

		tree := b.build(idx)
		r.Trees = append(r.Trees, tree)
		for i := range n {
			pred[i] += tree.predict(X[i])
		}
	}
	return nil
}

// Predict returns the predicted target for one feature row.
func (r *Regressor) Predict(x []float64) (float64, error) {
	if len(x) != len(r.Features) {
		return 0, fmt.Errorf("%w: got %d values, want %d", ErrSchemaMismatch, len(x), len(r.Features))
	}
	out := r.BaseScore
	for i := range r.Trees {
		out += r.Trees[i].predict(x)
	}
	return out, nil
}

// PredictBatch predicts every row of X.
func (r *Regressor) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := r.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// MeanAbsoluteError is the mean of |pred-actual|.
func MeanAbsoluteError(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	return floats.Distance(pred, actual, 1) / float64(len(pred))
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		node := &t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// binEdges returns at most maxBins-1 ascending cut points. A value v falls in
// bin SearchFloat64s(edges, v), so bin k holds values in (edges[k-1], edges[k]].
func binEdges(col []float64, maxBins int) []float64 {
	sorted := slices.Clone(col)
	slices.Sort(sorted)
	uniq := slices.Compact(sorted)

	if len(uniq) <= maxBins {
		// Every distinct value gets its own bin. The last value needs no edge.
		return slices.Clone(uniq[:len(uniq)-1])
	}

	edges := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		v := uniq[k*len(uniq)/maxBins-1]
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

func subsample(rng *rand.Rand, n int, fraction float64) []int {
	idx := make([]int, 0, int(float64(n)*fraction)+1)
	for i := range n {
		if rng.Float64() < fraction {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		idx = append(idx, rng.IntN(n))
	}
	return idx
}

type builder struct {
	params   Params
	edges    [][]float64
	bins     [][]uint8
	residual []float64
}

type split struct {
	feature int
	bin     int
	gain    float64
}

func (b *builder) build(idx []int) Tree {
	var t Tree
	b.grow(&t, idx, 0)
	return t
}

// grow appends the subtree for idx to t and returns its node index.
func (b *builder) grow(t *Tree, idx []int, depth int) int {
	self := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{})

	sum := 0.0
	for _, i := range idx {
		sum += b.residual[i]
	}

	best, ok := b.bestSplit(idx, sum, depth)
	if !ok {
		t.Nodes[self] = Node{Leaf: true, Value: b.params.LearningRate * sum / float64(len(idx))}
		return self
	}

	var left, right []int
	for _, i := range idx {
		if int(b.bins[best.feature][i]) <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[self] = Node{
		Feature:   best.feature,
		Threshold: b.edges[best.feature][best.bin],
		Left:      l,
		Right:     r,
	}
	return self
}

// bestSplit scans the residual histogram of every feature for the split with
// the largest squared-loss gain. Ties keep the lowest feature and bin.
func (b *builder) bestSplit(idx []int, sum float64, depth int) (split, bool) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf
	if depth >= b.params.MaxDepth || n < 2*minLeaf {
		return split{}, false
	}

	parent := sum * sum / float64(n)
	best := split{gain: 1e-12}
	found := false

	for f, edges := range b.edges {
		if len(edges) == 0 {
			continue
		}
		nb := len(edges) + 1
		sums := make([]float64, nb)
		counts := make([]int, nb)
		for _, i := range idx {
			k := b.bins[f][i]
			sums[k] += b.residual[i]
			counts[k]++
		}

		leftSum, leftN := 0.0, 0
		for k := 0; k < nb-1; k++ {
			leftSum += sums[k]
			leftN += counts[k]
			rightN := n - leftN
			if leftN < minLeaf {
				continue
			}
			if rightN < minLeaf {
				break
			}
			rightSum := sum - leftSum
			gain := leftSum*leftSum/float64(leftN) + rightSum*rightSum/float64(rightN) - parent
			if gain > best.gain {
				best = split{feature: f, bin: k, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
