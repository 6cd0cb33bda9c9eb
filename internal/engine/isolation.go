package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/talentstack/talent-risk/internal/models"
)

const forestSampleSize = 256

// detectForest scores employees with an isolation forest and flags the
// top contamination fraction. The forest is seeded from configuration,
// so repeated runs over the same population flag the same employees.
func (e *Ensemble) detectForest(m featureMatrix, contamination float64) []models.AnomalyFinding {
	points, rows := m.standardizedPoints()
	if len(points) < e.cfg.MinPopulation {
		return nil
	}

	forest := growForest(points, e.cfg.ForestTrees, e.cfg.ForestSeed)
	scores := forest.scoreAll(points)

	k := int(math.Floor(contamination * float64(len(points))))
	if k == 0 {
		return nil
	}

	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var findings []models.AnomalyFinding
	for _, idx := range order[:k] {
		v := m.vectors[rows[idx]]
		findings = append(findings, models.AnomalyFinding{
			EmployeeID:   v.EmployeeID,
			EmployeeName: v.EmployeeName,
			Method:       models.MethodIsolationForest,
			Score:        scores[idx],
			Detail:       fmt.Sprintf("isolation score %.3f in top %.0f%% of population", scores[idx], contamination*100),
		})
	}
	return findings
}

// isoNode is one node of an isolation tree. Leaves record the number of
// samples that reached them.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

type isoForest struct {
	trees      []*isoNode
	sampleSize int
}

func growForest(points [][]float64, trees int, seed int64) *isoForest {
	rng := rand.New(rand.NewSource(seed))
	sampleSize := forestSampleSize
	if len(points) < sampleSize {
		sampleSize = len(points)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	f := &isoForest{sampleSize: sampleSize}
	for t := 0; t < trees; t++ {
		sample := make([][]float64, sampleSize)
		for i, idx := range rng.Perm(len(points))[:sampleSize] {
			sample[i] = points[idx]
		}
		f.trees = append(f.trees, growTree(sample, 0, heightLimit, rng))
	}
	return f
}

func growTree(sample [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}

	dims := len(sample[0])
	feature := rng.Intn(dims)
	lo, hi := sample[0][feature], sample[0][feature]
	for _, p := range sample {
		if p[feature] < lo {
			lo = p[feature]
		}
		if p[feature] > hi {
			hi = p[feature]
		}
	}
	if lo == hi {
		return &isoNode{size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range sample {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    growTree(left, depth+1, limit, rng),
		right:   growTree(right, depth+1, limit, rng),
	}
}

// pathLength walks a point down the tree, extending leaf depth by the
// expected path length of an unsplit subtree.
func pathLength(node *isoNode, point []float64, depth float64) float64 {
	if node.left == nil {
		return depth + avgPathLength(node.size)
	}
	if point[node.feature] < node.split {
		return pathLength(node.left, point, depth+1)
	}
	return pathLength(node.right, point, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// scoreAll returns the anomaly score of each point in [0, 1]; values
// near 1 isolate quickly and are anomalous.
func (f *isoForest) scoreAll(points [][]float64) []float64 {
	c := avgPathLength(f.sampleSize)
	scores := make([]float64, len(points))
	for i, p := range points {
		sum := 0.0
		for _, tree := range f.trees {
			sum += pathLength(tree, p, 0)
		}
		mean := sum / float64(len(f.trees))
		scores[i] = math.Pow(2, -mean/c)
	}
	return scores
}
