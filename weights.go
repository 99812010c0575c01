package dpmm

import (
	"math"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// reweightPhase resamples the mixture weights, the per-cluster sub-weights,
// and the sampled Gaussian parameters every cluster carries into the next
// assignment pass. Runs single-threaded; the work is proportional to the
// cluster count, not the point count.
func (m *Model) reweightPhase() {
	ids := m.arena.activeIDs()
	if len(ids) == 0 {
		return
	}

	// Stick-breaking form: Dirichlet over the occupancy counts with the
	// concentration as the unrepresented residual mass. The residual is
	// dropped (new clusters are born only from splits), leaving the active
	// weights summing to slightly less than one.
	alphaVec := make([]float64, len(ids)+1)
	for j, id := range ids {
		n := float64(m.arena.get(id).stats.N)
		if n == 0 {
			n = 1e-3
		}
		alphaVec[j] = n
	}
	alphaVec[len(ids)] = m.alpha
	weights := distmv.NewDirichlet(alphaVec, m.rng).Rand(nil)

	for j, id := range ids {
		c := m.arena.get(id)
		c.weight = weights[j]

		w0 := distuv.Beta{
			Alpha: 0.5*m.alpha + float64(c.sub[0].N),
			Beta:  0.5*m.alpha + float64(c.sub[1].N),
			Src:   m.rng,
		}.Rand()
		w0 = math.Min(math.Max(w0, 1e-12), 1-1e-12)
		c.subWeights = [2]float64{w0, 1 - w0}

		c.dist = m.prior.sampleGaussian(c.stats, m.rng)
		c.subDists[0] = m.prior.sampleGaussian(c.sub[0], m.rng)
		c.subDists[1] = m.prior.sampleGaussian(c.sub[1], m.rng)
		c.mean, _ = m.prior.postMean(c.stats)

		// A collapsed half cannot seed a split; restart its sub-labels.
		if c.stats.N > 1 && (c.sub[0].N == 0 || c.sub[1].N == 0) {
			c.freshSub = true
		} else {
			c.freshSub = false
		}
	}

	if m.cfg.SampleConcentration {
		m.resampleConcentration(len(ids))
	}
}

// resampleConcentration applies the Escobar-West auxiliary-variable Gibbs
// update for the Dirichlet process concentration under a Gamma(1, 1)
// hyperprior, given k active clusters.
func (m *Model) resampleConcentration(k int) {
	const a, b = 1.0, 1.0
	n := float64(m.n)

	eta := distuv.Beta{Alpha: m.alpha + 1, Beta: n, Src: m.rng}.Rand()
	logEta := math.Log(eta)
	if math.IsInf(logEta, -1) {
		return
	}

	odds := (a + float64(k) - 1) / (n * (b - logEta))
	shape := a + float64(k)
	if m.rng.Float64() >= odds/(1+odds) {
		shape--
	}
	m.alpha = distuv.Gamma{Alpha: shape, Beta: b - logEta, Src: m.rng}.Rand()
}
