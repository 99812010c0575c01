package dpmm

import (
	"math"
)

// SplitRecord describes an accepted split: Parent was replaced by the two
// fresh clusters Left and Right.
type SplitRecord struct {
	Parent int
	Left   int
	Right  int
}

// MergeRecord describes an accepted merge: Retired was absorbed into Kept.
type MergeRecord struct {
	Kept    int
	Retired int
}

// labelMove is one entry of the relabeling plan built while applying
// structural moves; the plan is executed in a single pass over the points.
type labelMove struct {
	split       bool
	left, right int // split targets
	kept        int // merge target
	sub         uint8
}

// structuralPhase evaluates split and merge proposals against a snapshot of
// the sufficient statistics and applies the accepted ones. Splits are
// evaluated first; a cluster consumed by an accepted move is ineligible for
// any further move in the same pass. All decisions are single-threaded; only
// the final relabeling and statistics refresh touch the point arrays.
func (m *Model) structuralPhase() ([]SplitRecord, []MergeRecord) {
	var splits []SplitRecord
	var merges []MergeRecord
	consumed := make(map[int]bool)
	moves := make(map[int]labelMove)

	ids := m.arena.activeIDs()

	// Split proposals.
	for _, id := range ids {
		c := m.arena.get(id)
		if !m.acceptMove(m.splitLogRatio(c)) {
			continue
		}
		left := m.arena.alloc()
		right := m.arena.alloc()
		left.stats = c.sub[0].Clone()
		right.stats = c.sub[1].Clone()
		left.weight = c.weight * c.subWeights[0]
		right.weight = c.weight * c.subWeights[1]
		left.freshSub = true
		right.freshSub = true
		m.arena.retire(id)

		moves[id] = labelMove{split: true, left: left.id, right: right.id}
		consumed[id] = true
		consumed[left.id] = true
		consumed[right.id] = true
		splits = append(splits, SplitRecord{Parent: id, Left: left.id, Right: right.id})
	}

	// Merge proposals over surviving neighbor pairs.
	for i := 0; i < len(ids); i++ {
		if consumed[ids[i]] {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			if consumed[ids[i]] {
				break
			}
			if consumed[ids[j]] {
				continue
			}
			a := m.arena.get(ids[i])
			b := m.arena.get(ids[j])
			if !m.mergeNeighbors(a, b) {
				continue
			}
			if !m.acceptMove(m.mergeLogRatio(a, b)) {
				continue
			}

			// a keeps its id; the halves become the former clusters so a
			// future split can be proposed along the same boundary.
			aStats := a.stats.Clone()
			a.sub[0] = aStats
			a.sub[1] = b.stats.Clone()
			merged := aStats.Clone()
			merged.Combine(b.stats)
			a.stats = merged
			a.weight += b.weight
			a.freshSub = false
			m.arena.retire(b.id)

			moves[a.id] = labelMove{kept: a.id, sub: 0}
			moves[b.id] = labelMove{kept: a.id, sub: 1}
			consumed[a.id] = true
			consumed[b.id] = true
			merges = append(merges, MergeRecord{Kept: a.id, Retired: b.id})
		}
	}

	if len(moves) > 0 {
		m.applyMoves(moves, len(splits) > 0)
	}
	m.arena.flushRetired()
	return splits, merges
}

// splitLogRatio is the log Hastings ratio for replacing cluster c with its
// two sub-clusters. NaN (empty half, degenerate statistics) means reject.
func (m *Model) splitLogRatio(c *cluster) float64 {
	n0, n1 := c.sub[0].N, c.sub[1].N
	if n0 == 0 || n1 == 0 {
		return math.NaN()
	}
	l := m.prior.logMarginal(c.stats)
	l0 := m.prior.logMarginal(c.sub[0])
	l1 := m.prior.logMarginal(c.sub[1])
	return math.Log(m.alpha) +
		lgammaInt(n0) + lgammaInt(n1) - lgammaInt(n0+n1) +
		l0 + l1 - l
}

// mergeLogRatio is the log Hastings ratio for collapsing clusters a and b
// into one, treating the pair as candidate halves of the merged cluster.
func (m *Model) mergeLogRatio(a, b *cluster) float64 {
	na, nb := a.stats.N, b.stats.N
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	merged := a.stats.Clone()
	merged.Combine(b.stats)
	return -math.Log(m.alpha) +
		lgammaInt(na+nb) - lgammaInt(na) - lgammaInt(nb) +
		m.prior.logMarginal(merged) - m.prior.logMarginal(a.stats) - m.prior.logMarginal(b.stats)
}

// acceptMove draws a Metropolis-Hastings decision from a log acceptance
// ratio. A non-finite ratio that cannot be compared (NaN, -Inf from
// degenerate likelihoods) rejects; it never propagates as an error.
func (m *Model) acceptMove(logRatio float64) bool {
	if math.IsNaN(logRatio) {
		return false
	}
	if logRatio >= 0 {
		return true
	}
	return m.rng.Float64() < math.Exp(logRatio)
}

// acceptanceProbability converts a log Hastings ratio into the probability
// min(1, exp(r)), mapping non-finite ratios to 0.
func acceptanceProbability(logRatio float64) float64 {
	if math.IsNaN(logRatio) || math.IsInf(logRatio, -1) {
		return 0
	}
	if logRatio >= 0 {
		return 1
	}
	return math.Exp(logRatio)
}

// mergeNeighbors reports whether a and b are close enough to propose a
// merge. With a zero radius every pair is a candidate; otherwise the proxy
// is the Euclidean distance between posterior-mean centroids. The proxy only
// prunes proposals, it never affects the acceptance test itself.
func (m *Model) mergeNeighbors(a, b *cluster) bool {
	r := m.cfg.MergeNeighborRadius
	if r <= 0 {
		return true
	}
	if a.mean == nil || b.mean == nil {
		return true
	}
	var sum float64
	for i := range a.mean {
		d := a.mean[i] - b.mean[i]
		sum += d * d
	}
	return sum <= r*r
}

// applyMoves rewrites the label and sub-label arrays according to the move
// plan, then refreshes sufficient statistics when splits created clusters
// whose halves are not yet known.
func (m *Model) applyMoves(moves map[int]labelMove, hadSplits bool) {
	for i, lab := range m.labels {
		mv, ok := moves[lab]
		if !ok {
			continue
		}
		if mv.split {
			if m.subLabels[i] == 0 {
				m.labels[i] = mv.left
			} else {
				m.labels[i] = mv.right
			}
			// Fresh sub-clusters for the new cluster.
			m.subLabels[i] = uint8(m.rng.IntN(2))
		} else {
			m.labels[i] = mv.kept
			m.subLabels[i] = mv.sub
		}
	}
	if hadSplits {
		m.refreshStats()
	}
}

func lgammaInt(n int) float64 {
	lg, _ := math.Lgamma(float64(n))
	return lg
}
