package dpmm

import (
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
)

// Phase tags mixed into per-worker generator seeds so that no two parallel
// passes of a run share a random stream.
const (
	phaseAssign = 1
	phaseSub    = 2
)

// workerRNG derives a deterministic generator for one worker of one parallel
// pass. Streams are keyed by (run seed, iteration, phase, worker index), so a
// run is reproducible regardless of goroutine scheduling.
func workerRNG(seed uint64, iter, phase, worker int) *rand.Rand {
	stream := uint64(iter)<<16 | uint64(phase)<<12 | uint64(worker)
	return rand.New(rand.NewPCG(seed, stream))
}

// assignPhase resamples every point's cluster label from the categorical
// distribution implied by the current weights and sampled Gaussian
// parameters. Each worker owns a disjoint point range, so label writes never
// contend. Cluster state is read-only for the duration of the pass.
//
// Returns the total data log-likelihood under the current mixture, which
// falls out of the per-point normalizers for free.
func (m *Model) assignPhase() float64 {
	ids := m.arena.activeIDs()
	k := len(ids)
	logW := make([]float64, k)
	dists := make([]*distmv.Normal, k)
	for j, id := range ids {
		c := m.arena.get(id)
		if c.weight > 0 {
			logW[j] = math.Log(c.weight)
		} else {
			logW[j] = math.Inf(-1)
		}
		dists[j] = c.dist
	}

	numWorkers := m.workersFor(m.n)
	perWorker := (m.n + numWorkers - 1) / numWorkers
	logLiks := make([]float64, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := min(start+perWorker, m.n)
		if start >= m.n {
			break
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			rng := workerRNG(m.cfg.RandomSeed, m.iter, phaseAssign, w)
			scores := make([]float64, k)
			var ll float64
			for i := start; i < end; i++ {
				x := m.data[i*m.dims : (i+1)*m.dims]
				for j := range scores {
					scores[j] = logW[j] + dists[j].LogProb(x)
				}
				lse := floats.LogSumExp(scores)
				if math.IsInf(lse, -1) || math.IsNaN(lse) {
					// No cluster can explain the point this round; keep the
					// current label rather than corrupting the array.
					continue
				}
				ll += lse
				m.labels[i] = ids[sampleLogCategorical(scores, lse, rng.Float64())]
			}
			logLiks[w] = ll
		}(w, start, end)
	}
	wg.Wait()

	var total float64
	for _, ll := range logLiks {
		total += ll
	}
	return total
}

// sampleLogCategorical draws an index from normalized log scores using a
// uniform variate u in [0, 1).
func sampleLogCategorical(scores []float64, lse, u float64) int {
	var cum float64
	for j, s := range scores {
		cum += math.Exp(s - lse)
		if u < cum {
			return j
		}
	}
	return len(scores) - 1
}

// subPhase resamples every point's binary sub-label from the two sub-cluster
// posteriors of its current cluster. Runs strictly after assignPhase has
// finished for all points, so it always observes a complete label array.
// Clusters flagged freshSub get uniformly random sub-labels instead, seeding
// brand-new halves.
func (m *Model) subPhase() {
	numWorkers := m.workersFor(m.n)
	perWorker := (m.n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := min(start+perWorker, m.n)
		if start >= m.n {
			break
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			rng := workerRNG(m.cfg.RandomSeed, m.iter, phaseSub, w)
			for i := start; i < end; i++ {
				c := m.arena.get(m.labels[i])
				if c.freshSub || c.subDists[0] == nil || c.subDists[1] == nil {
					m.subLabels[i] = uint8(rng.IntN(2))
					continue
				}
				x := m.data[i*m.dims : (i+1)*m.dims]
				s0 := math.Log(c.subWeights[0]) + c.subDists[0].LogProb(x)
				s1 := math.Log(c.subWeights[1]) + c.subDists[1].LogProb(x)
				hi := math.Max(s0, s1)
				if math.IsInf(hi, -1) || math.IsNaN(hi) {
					m.subLabels[i] = uint8(rng.IntN(2))
					continue
				}
				p0 := math.Exp(s0-hi) / (math.Exp(s0-hi) + math.Exp(s1-hi))
				if rng.Float64() < p0 {
					m.subLabels[i] = 0
				} else {
					m.subLabels[i] = 1
				}
			}
		}(w, start, end)
	}
	wg.Wait()
}

// workersFor caps the configured worker count for a pass over n items.
func (m *Model) workersFor(n int) int {
	w := m.cfg.Workers
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}
	return w
}
