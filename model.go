package dpmm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Model is a DPMM sampler over a fixed in-memory dataset. It owns every
// cluster record; callers observe state through the query methods and must
// not retain references across iterations.
//
// Model is not safe for concurrent use. One Step at a time.
type Model struct {
	cfg   Config
	prior NIWParams

	data []float64 // flat row-major, n rows of dims columns
	n    int
	dims int

	labels    []int
	subLabels []uint8
	arena     *arena
	alpha     float64

	rng    *rand.Rand
	logger logrus.FieldLogger

	iter     int
	stallRun int
	trace    []IterationStats
}

// newModel seeds InitialClusters clusters by random assignment and prepares
// the weights and sampled parameters the first assignment pass needs.
func newModel(flat []float64, n, dims int, cfg Config) *Model {
	m := &Model{
		cfg:       cfg,
		data:      flat,
		n:         n,
		dims:      dims,
		labels:    make([]int, n),
		subLabels: make([]uint8, n),
		arena:     newArena(),
		alpha:     cfg.Concentration,
		rng:       rand.New(rand.NewPCG(cfg.RandomSeed, 0x64706d6d)),
		logger:    cfg.Logger,
	}

	if priorIsZero(cfg.Prior) {
		m.prior = empiricalPrior(flat, n, dims)
	} else {
		m.prior = cfg.Prior
	}

	for k := 0; k < cfg.InitialClusters; k++ {
		m.arena.alloc()
	}
	for i := range m.labels {
		m.labels[i] = m.rng.IntN(cfg.InitialClusters)
		m.subLabels[i] = uint8(m.rng.IntN(2))
	}

	m.refreshStats()
	m.dropEmptyClusters()
	m.reweightPhase()
	return m
}

// empiricalPrior centers the prior on the dataset: mean at the data mean,
// diagonal scatter at the per-dimension variance, weak strength.
func empiricalPrior(flat []float64, n, dims int) NIWParams {
	all := NewStats(dims)
	for i := 0; i < n; i++ {
		all.Add(flat[i*dims : (i+1)*dims])
	}
	mu0 := all.Mean()

	p := NIWParams{
		Mu0:    mu0,
		Kappa0: 1,
		Nu0:    float64(dims) + 2,
		Psi0:   mat.NewSymDense(dims, nil),
	}
	for i := 0; i < dims; i++ {
		v := all.SumSq.At(i, i)/float64(n) - mu0[i]*mu0[i]
		if v < 1e-6 {
			v = 1e-6
		}
		p.Psi0.SetSym(i, i, v)
	}
	return p
}

// Step advances one full phase cycle: Assigning, SubAssigning,
// ProposingMoves, Reweighting. It returns the iteration summary appended to
// the trace. The only error condition is an already-cancelled context;
// cancellation is honored between iterations, never mid-phase.
func (m *Model) Step(ctx context.Context) (IterationStats, error) {
	if err := ctx.Err(); err != nil {
		return IterationStats{}, errors.Wrap(err, "dpmm: sampling interrupted")
	}
	m.iter++

	ll := m.assignPhase()
	m.subPhase()
	m.refreshStats()

	m.dropEmptyClusters()
	var splits []SplitRecord
	var merges []MergeRecord
	if m.iter > m.cfg.BurnInIterations {
		splits, merges = m.structuralPhase()
	}

	m.reweightPhase()

	st := IterationStats{
		Iteration:     m.iter,
		LogLikelihood: ll,
		Clusters:      m.arena.count(),
		Splits:        splits,
		Merges:        merges,
	}
	m.trace = append(m.trace, st)
	if st.Accepted() {
		m.stallRun = 0
	} else {
		m.stallRun++
	}

	m.logger.WithFields(logrus.Fields{
		"iteration": st.Iteration,
		"clusters":  st.Clusters,
		"loglik":    st.LogLikelihood,
		"splits":    len(st.Splits),
		"merges":    len(st.Merges),
	}).Debug("dpmm iteration")
	if st.Clusters*4 > m.n {
		m.logger.WithFields(logrus.Fields{
			"iteration": st.Iteration,
			"clusters":  st.Clusters,
			"points":    m.n,
		}).Warn("dpmm cluster count approaching point count; check prior and concentration")
	}

	if m.cfg.Callback != nil {
		m.cfg.Callback(st)
	}
	return st, nil
}

// Run iterates until the MaxIterations budget is spent or, when
// StallIterations is set, until that many consecutive iterations accept no
// structural move. On cancellation it returns the state reached so far along
// with the context error.
func (m *Model) Run(ctx context.Context) (*Result, error) {
	converged := false
	for m.iter < m.cfg.MaxIterations {
		if _, err := m.Step(ctx); err != nil {
			return m.result(false), err
		}
		if m.cfg.StallIterations > 0 && m.stallRun >= m.cfg.StallIterations {
			converged = true
			break
		}
	}
	return m.result(converged), nil
}

func (m *Model) result(converged bool) *Result {
	return &Result{
		Labels:     m.ClusterAssignments(),
		Clusters:   m.Clusters(),
		Trace:      m.Trace(),
		Iterations: m.iter,
		Converged:  converged,
	}
}

// ClusterAssignments returns a copy of the current label array, mapping
// point index to cluster ID.
func (m *Model) ClusterAssignments() []int {
	out := make([]int, m.n)
	copy(out, m.labels)
	return out
}

// ClusterCount returns the number of live clusters.
func (m *Model) ClusterCount() int {
	return m.arena.count()
}

// Concentration returns the current concentration parameter; it moves over
// the run only when Config.SampleConcentration is set.
func (m *Model) Concentration() float64 {
	return m.alpha
}

// Clusters describes each live cluster, ordered by ID.
func (m *Model) Clusters() []ClusterInfo {
	ids := m.arena.activeIDs()
	out := make([]ClusterInfo, 0, len(ids))
	for _, id := range ids {
		c := m.arena.get(id)
		mean, cov := m.prior.postMean(c.stats)
		out = append(out, ClusterInfo{
			ID:         id,
			Weight:     c.weight,
			Count:      c.stats.N,
			Mean:       mean,
			Covariance: cov,
		})
	}
	return out
}

// Trace returns a copy of the per-iteration summaries recorded so far.
func (m *Model) Trace() []IterationStats {
	out := make([]IterationStats, len(m.trace))
	copy(out, m.trace)
	return out
}

// refreshStats recomputes every cluster's sub-cluster statistics from the
// point arrays with a parallel reduction, then rebuilds each parent's
// statistics as the exact combination of its halves so the consistency
// invariant holds by construction.
func (m *Model) refreshStats() {
	pairs := ReduceStatsParallel(m.data, m.dims, m.labels, m.subLabels, m.arena.size(), m.cfg.Workers)
	for _, id := range m.arena.activeIDs() {
		c := m.arena.get(id)
		c.sub[0] = pairs[id][0]
		c.sub[1] = pairs[id][1]
		s := c.sub[0].Clone()
		s.Combine(c.sub[1])
		c.stats = s
	}
	if m.cfg.CheckInvariants {
		m.verifyInvariants()
	}
}

// dropEmptyClusters retires clusters the assignment pass left with no
// points. Removal is deferred to here so the parallel passes stay
// allocation-free and never mutate cluster state.
func (m *Model) dropEmptyClusters() {
	for _, id := range m.arena.activeIDs() {
		if m.arena.get(id).stats.N == 0 {
			m.arena.retire(id)
		}
	}
	m.arena.flushRetired()
}

// verifyInvariants panics when internal state is inconsistent. Violations
// here are defects in the sampler, not user-facing conditions.
func (m *Model) verifyInvariants() {
	const tol = 1e-6
	for i, lab := range m.labels {
		if lab < 0 || lab >= m.arena.size() || m.arena.get(lab) == nil {
			panic(fmt.Sprintf("dpmm: point %d labeled with dead cluster %d", i, lab))
		}
	}
	total := 0
	for _, id := range m.arena.activeIDs() {
		c := m.arena.get(id)
		if c.stats.N != c.sub[0].N+c.sub[1].N {
			panic(fmt.Sprintf("dpmm: cluster %d count %d != sub counts %d+%d",
				id, c.stats.N, c.sub[0].N, c.sub[1].N))
		}
		for i := 0; i < m.dims; i++ {
			if math.Abs(c.stats.Sum[i]-(c.sub[0].Sum[i]+c.sub[1].Sum[i])) > tol {
				panic(fmt.Sprintf("dpmm: cluster %d sum[%d] inconsistent with sub-cluster sums", id, i))
			}
			for j := i; j < m.dims; j++ {
				if math.Abs(c.stats.SumSq.At(i, j)-(c.sub[0].SumSq.At(i, j)+c.sub[1].SumSq.At(i, j))) > tol {
					panic(fmt.Sprintf("dpmm: cluster %d sumsq[%d,%d] inconsistent with sub-cluster sums", id, i, j))
				}
			}
		}
		total += c.stats.N
	}
	if total != m.n {
		panic(fmt.Sprintf("dpmm: cluster counts sum to %d, want %d", total, m.n))
	}
}
