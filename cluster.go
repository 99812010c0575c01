package dpmm

import (
	"sort"

	"gonum.org/v1/gonum/stat/distmv"
)

// cluster is one active mixture component. It owns the component's sufficient
// statistics, the statistics of its two sub-cluster halves, the sampled
// Gaussian parameters used by the assignment pass, and the mixture weight.
// The two halves exist only to evaluate split viability; their ids (0 and 1)
// are local to the cluster.
type cluster struct {
	id    int
	stats Stats
	sub   [2]Stats

	weight     float64
	subWeights [2]float64

	// Sampled-parameter Gaussians, refreshed every reweighting pass.
	dist     *distmv.Normal
	subDists [2]*distmv.Normal

	// Posterior mean, used as the centroid proxy for merge candidates.
	mean []float64

	// freshSub requests re-randomized sub-labels on the next sub-assignment
	// pass: set for split products and for clusters whose half emptied.
	freshSub bool
}

// arena owns every cluster record. Clusters are addressed by a stable small
// integer id into a dense slot slice; retired ids go on a free list for
// reuse. Ids retired mid-pass are held back until the pass releases them, so
// moves applied within one pass never see an id on both sides.
type arena struct {
	slots   []*cluster
	free    []int
	pending []int
}

func newArena() *arena {
	return &arena{}
}

// alloc returns a fresh cluster with an id no live cluster holds.
func (a *arena) alloc() *cluster {
	var id int
	if k := len(a.free); k > 0 {
		id = a.free[k-1]
		a.free = a.free[:k-1]
	} else {
		id = len(a.slots)
		a.slots = append(a.slots, nil)
	}
	c := &cluster{id: id}
	a.slots[id] = c
	return c
}

// retire removes the cluster with the given id. The id becomes reusable only
// after the next flushRetired call.
func (a *arena) retire(id int) {
	a.slots[id] = nil
	a.pending = append(a.pending, id)
}

// flushRetired releases ids retired since the last flush for reuse.
func (a *arena) flushRetired() {
	a.free = append(a.free, a.pending...)
	a.pending = a.pending[:0]
}

// get returns the cluster with the given id, or nil if it is retired.
func (a *arena) get(id int) *cluster {
	return a.slots[id]
}

// size is the number of id slots ever allocated; labels are always < size.
func (a *arena) size() int {
	return len(a.slots)
}

// count is the number of live clusters.
func (a *arena) count() int {
	n := 0
	for _, c := range a.slots {
		if c != nil {
			n++
		}
	}
	return n
}

// activeIDs returns the ids of live clusters in ascending order.
func (a *arena) activeIDs() []int {
	ids := make([]int, 0, len(a.slots))
	for id, c := range a.slots {
		if c != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
