package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	apperrors "trialpulse/internal/errors"
)

const (
	// iforestMinSample is the method's own observation floor
	iforestMinSample = 20
	// iforestTrees and iforestSubsample follow the standard isolation
	// forest parameterization
	iforestTrees     = 100
	iforestSubsample = 256
	// iforestScoreFloor keeps the contamination quantile from flagging
	// points that the forest itself considers unremarkable
	iforestScoreFloor = 0.5

	eulerGamma = 0.5772156649015329
)

// isolationForestStrategy isolates {value, age, visit} feature vectors with
// random axis-aligned splits; points that isolate in short paths score high.
// It catches cross-feature anomalies the single-value tests miss, such as a
// plausible lab value occurring at an implausible visit or age.
type isolationForestStrategy struct {
	contamination float64
	minSample     int
	seed          int64
}

func (s *isolationForestStrategy) Method() Method { return MethodIsolationForest }

func (s *isolationForestStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	min := s.minSample
	if min < iforestMinSample {
		min = iforestMinSample
	}
	if cell.Len() < min {
		return skipped(MethodIsolationForest, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodIsolationForest), min, cell.Len()))
	}

	names, rows := cellFeatures(cell)
	if len(names) < 2 {
		return skipped(MethodIsolationForest, cell.Key,
			apperrors.NewComputationError(string(MethodIsolationForest),
				fmt.Sprintf("needs at least 2 varying features, found %d", len(names))))
	}

	scores := isolationScores(rows, s.seed)

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	cutoff := stat.Quantile(1-s.contamination, stat.Empirical, sorted, nil)

	var records []Record
	for i, o := range cell.Observations {
		if scores[i] < cutoff || scores[i] <= iforestScoreFloor {
			continue
		}
		rec := newCellRecord(o, MethodIsolationForest, KindMultivariate,
			scores[i], 2*(scores[i]-0.5))
		rec.Description = fmt.Sprintf("subject %s %s result isolates quickly across features %s (score %.2f)",
			o.SubjectID, o.TestCode, strings.Join(names, ", "), scores[i])
		rec.SetMeta("features", strings.Join(names, ","))
		rec.SetMeta("cutoff", fmtFloat(cutoff))
		rec.SetMeta("contamination", fmtFloat(s.contamination))
		records = append(records, rec)
	}
	return ran(MethodIsolationForest, cell.Key, records)
}

// cellFeatures assembles the usable feature columns for a cell. A column is
// usable when it varies; age additionally requires a known age on every
// observation so missing ages cannot masquerade as anomalies.
func cellFeatures(cell *Cell) ([]string, [][]float64) {
	n := cell.Len()
	valueCol := make([]float64, n)
	visitCol := make([]float64, n)
	ageCol := make([]float64, n)
	ageComplete := true
	for i, o := range cell.Observations {
		valueCol[i] = o.Value
		visitCol[i] = float64(o.VisitNumber)
		ageCol[i] = o.AgeYears
		if o.AgeYears <= 0 {
			ageComplete = false
		}
	}

	var names []string
	var cols [][]float64
	if varies(valueCol) {
		names = append(names, "value")
		cols = append(cols, valueCol)
	}
	if varies(visitCol) {
		names = append(names, "visit_number")
		cols = append(cols, visitCol)
	}
	if ageComplete && varies(ageCol) {
		names = append(names, "age_years")
		cols = append(cols, ageCol)
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col[i]
		}
		rows[i] = row
	}
	return names, rows
}

func varies(col []float64) bool {
	for _, v := range col[1:] {
		if v != col[0] {
			return true
		}
	}
	return false
}

// iNode is one node of an isolation tree
type iNode struct {
	left, right *iNode
	splitFeat   int
	splitVal    float64
	size        int
}

// isolationScores fits a small forest and returns the standard
// 2^(-E[h]/c(psi)) anomaly score per row, in (0, 1]
func isolationScores(rows [][]float64, seed int64) []float64 {
	n := len(rows)
	rng := rand.New(rand.NewSource(seed))

	psi := iforestSubsample
	if psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	trees := make([]*iNode, iforestTrees)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for t := 0; t < iforestTrees; t++ {
		rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		sample := make([]int, psi)
		copy(sample, idx[:psi])
		trees[t] = buildIsolationTree(rows, sample, 0, maxDepth, rng)
	}

	norm := avgPathLength(psi)
	scores := make([]float64, n)
	for i, row := range rows {
		var total float64
		for _, tree := range trees {
			total += pathLength(row, tree, 0)
		}
		scores[i] = math.Pow(2, -(total/float64(iforestTrees))/norm)
	}
	return scores
}

func buildIsolationTree(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *iNode {
	if len(idx) <= 1 || depth >= maxDepth {
		return &iNode{size: len(idx)}
	}

	// Pick among features that still vary within this node
	nFeat := len(rows[idx[0]])
	splittable := make([]int, 0, nFeat)
	for f := 0; f < nFeat; f++ {
		lo, hi := featureRange(rows, idx, f)
		if hi > lo {
			splittable = append(splittable, f)
		}
	}
	if len(splittable) == 0 {
		return &iNode{size: len(idx)}
	}

	feat := splittable[rng.Intn(len(splittable))]
	lo, hi := featureRange(rows, idx, feat)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if rows[i][feat] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{size: len(idx)}
	}

	return &iNode{
		splitFeat: feat,
		splitVal:  split,
		left:      buildIsolationTree(rows, left, depth+1, maxDepth, rng),
		right:     buildIsolationTree(rows, right, depth+1, maxDepth, rng),
	}
}

func featureRange(rows [][]float64, idx []int, feat int) (float64, float64) {
	lo, hi := rows[idx[0]][feat], rows[idx[0]][feat]
	for _, i := range idx[1:] {
		v := rows[i][feat]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func pathLength(row []float64, node *iNode, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.splitFeat] < node.splitVal {
		return pathLength(row, node.left, depth+1)
	}
	return pathLength(row, node.right, depth+1)
}

// avgPathLength is c(m), the expected path length of an unsuccessful
// binary search tree lookup over m points
func avgPathLength(m int) float64 {
	if m <= 1 {
		return 0
	}
	mf := float64(m)
	return 2*(math.Log(mf-1)+eulerGamma) - 2*(mf-1)/mf
}
