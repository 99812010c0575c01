package dpmm

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Stats holds the sufficient statistics of a set of points: the point count,
// the per-dimension sum, and the sum of outer products x·xᵀ. Together these
// determine the Normal-inverse-Wishart posterior of the set exactly, so
// partial Stats over disjoint point subsets can be combined without revisiting
// the points themselves.
type Stats struct {
	N     int
	Sum   []float64
	SumSq *mat.SymDense
}

// NewStats returns empty statistics for dims-dimensional points.
func NewStats(dims int) Stats {
	return Stats{
		Sum:   make([]float64, dims),
		SumSq: mat.NewSymDense(dims, nil),
	}
}

// Add folds one point into the statistics.
func (s *Stats) Add(x []float64) {
	s.N++
	for i, v := range x {
		s.Sum[i] += v
		for j := i; j < len(x); j++ {
			s.SumSq.SetSym(i, j, s.SumSq.At(i, j)+v*x[j])
		}
	}
}

// Combine merges other into s. Combine is associative and commutative, so
// per-chunk partial reductions may be merged pairwise in any order.
func (s *Stats) Combine(other Stats) {
	s.N += other.N
	for i, v := range other.Sum {
		s.Sum[i] += v
	}
	s.SumSq.AddSym(s.SumSq, other.SumSq)
}

// Clone returns a deep copy of s.
func (s Stats) Clone() Stats {
	c := NewStats(len(s.Sum))
	c.Combine(s)
	return c
}

// Mean returns the sample mean, or nil when the statistics are empty.
func (s Stats) Mean() []float64 {
	if s.N == 0 {
		return nil
	}
	m := make([]float64, len(s.Sum))
	for i, v := range s.Sum {
		m[i] = v / float64(s.N)
	}
	return m
}

// statsPair is the per-cluster reduction target: statistics of the two
// sub-cluster halves. The parent statistics are their combination.
type statsPair [2]Stats

func newStatsPair(dims int) statsPair {
	return statsPair{NewStats(dims), NewStats(dims)}
}

// ReduceStats reduces points [start, end) into per-slot sub-cluster
// statistics. data is flat row-major with dims columns; labels[i] selects the
// output slot, subLabels[i] the half. out must have one statsPair per
// possible label value.
func ReduceStats(data []float64, dims int, labels []int, subLabels []uint8, start, end int, out []statsPair) {
	for i := start; i < end; i++ {
		out[labels[i]][subLabels[i]&1].Add(data[i*dims : (i+1)*dims])
	}
}

// ReduceStatsParallel computes the same result as ReduceStats over all points
// using numWorkers goroutines. Each worker reduces a contiguous point range
// into private partials; the partials are then combined pairwise on the
// calling goroutine. Since Combine is associative over disjoint ranges, the
// result matches the sequential reduction up to floating-point ordering.
func ReduceStatsParallel(data []float64, dims int, labels []int, subLabels []uint8, slots, numWorkers int) []statsPair {
	n := len(labels)
	out := make([]statsPair, slots)
	for k := range out {
		out[k] = newStatsPair(dims)
	}
	if numWorkers <= 1 || n < 2*numWorkers {
		ReduceStats(data, dims, labels, subLabels, 0, n, out)
		return out
	}

	partials := make([][]statsPair, numWorkers)
	var wg sync.WaitGroup
	perWorker := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := min(start+perWorker, n)
		if start >= n {
			break
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			part := make([]statsPair, slots)
			for k := range part {
				part[k] = newStatsPair(dims)
			}
			ReduceStats(data, dims, labels, subLabels, start, end, part)
			partials[w] = part
		}(w, start, end)
	}

	wg.Wait()

	for _, part := range partials {
		if part == nil {
			continue
		}
		for k := range out {
			out[k][0].Combine(part[k][0])
			out[k][1].Combine(part[k][1])
		}
	}
	return out
}
