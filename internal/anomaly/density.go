package anomaly

import (
	"context"
	"fmt"
	"sort"

	apperrors "trialpulse/internal/errors"
)

const (
	// dbscanMinSample is the method's own observation floor
	dbscanMinSample = 30
	// dbscanEps is the neighborhood radius in standardized units
	dbscanEps = 0.5
	// dbscanMinPts is the neighbor count, point included, that makes a
	// core point
	dbscanMinPts = 5
)

// dbscanStrategy clusters the standardized one-dimensional value space by
// density and flags whatever no cluster absorbs. Unlike the z-score it has
// no single-center assumption, so it catches stragglers between the modes
// of a multi-modal cell.
type dbscanStrategy struct {
	minSample int
}

func (s *dbscanStrategy) Method() Method { return MethodDBSCAN }

func (s *dbscanStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	min := s.minSample
	if min < dbscanMinSample {
		min = dbscanMinSample
	}
	if cell.Len() < min {
		return skipped(MethodDBSCAN, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodDBSCAN), min, cell.Len()))
	}

	std, ok := standardize(cell.Values())
	if !ok {
		return skipped(MethodDBSCAN, cell.Key,
			apperrors.NewComputationError(string(MethodDBSCAN), "cell has zero variance"))
	}

	noise, clusters := dbscan1D(std, dbscanEps, dbscanMinPts)
	if clusters == 0 {
		return skipped(MethodDBSCAN, cell.Key,
			apperrors.NewComputationError(string(MethodDBSCAN), "no density clusters formed"))
	}

	var records []Record
	for _, i := range noise {
		o := cell.Observations[i]
		dist := absFloat(std[i])
		rec := newCellRecord(o, MethodDBSCAN, KindLabValue, dist, normalTailConfidence(dist))
		rec.Description = fmt.Sprintf("%s result %.4g for subject %s falls outside every density cluster (%d clusters, eps %.2f)",
			o.TestCode, o.Value, o.SubjectID, clusters, dbscanEps)
		rec.SetMeta("standardized_value", fmtFloat(std[i]))
		rec.SetMeta("clusters", fmt.Sprintf("%d", clusters))
		records = append(records, rec)
	}
	return ran(MethodDBSCAN, cell.Key, records)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// dbscan1D labels the points of a one-dimensional sample and returns the
// original indexes of noise points plus the number of clusters found. The
// sorted order makes neighborhoods contiguous, so the usual region queries
// reduce to a sliding window.
func dbscan1D(values []float64, eps float64, minPts int) ([]int, int) {
	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	sorted := make([]float64, n)
	for pos, i := range order {
		sorted[pos] = values[i]
	}

	// Core points have minPts neighbors within eps, themselves included
	core := make([]bool, n)
	lo, hi := 0, 0
	for pos := 0; pos < n; pos++ {
		for sorted[lo] < sorted[pos]-eps {
			lo++
		}
		if hi < pos {
			hi = pos
		}
		for hi < n && sorted[hi] <= sorted[pos]+eps {
			hi++
		}
		core[pos] = hi-lo >= minPts
	}

	// Chain core points into clusters, then attach border points to the
	// nearest core within eps
	cluster := make([]int, n)
	for i := range cluster {
		cluster[i] = -1
	}
	clusters := 0
	lastCorePos := -1
	for pos := 0; pos < n; pos++ {
		if !core[pos] {
			continue
		}
		if lastCorePos < 0 || sorted[pos]-sorted[lastCorePos] > eps {
			clusters++
		}
		cluster[pos] = clusters - 1
		lastCorePos = pos
	}
	if clusters == 0 {
		return nil, 0
	}

	for pos := 0; pos < n; pos++ {
		if core[pos] || cluster[pos] >= 0 {
			continue
		}
		if prev := nearestCore(core, pos, -1); prev >= 0 && sorted[pos]-sorted[prev] <= eps {
			cluster[pos] = cluster[prev]
		} else if next := nearestCore(core, pos, +1); next >= 0 && sorted[next]-sorted[pos] <= eps {
			cluster[pos] = cluster[next]
		}
	}

	var noise []int
	for pos := 0; pos < n; pos++ {
		if cluster[pos] < 0 {
			noise = append(noise, order[pos])
		}
	}
	return noise, clusters
}

func nearestCore(core []bool, pos, dir int) int {
	for p := pos + dir; p >= 0 && p < len(core); p += dir {
		if core[p] {
			return p
		}
	}
	return -1
}
