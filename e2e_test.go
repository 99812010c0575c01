package dpmm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// agreement measures the fraction of points whose label matches the ground
// truth under the best per-cluster mapping: each found cluster votes for the
// truth label it mostly contains. Label values themselves are arbitrary, so
// comparison must be permutation-invariant.
func agreement(got, truth []int) float64 {
	votes := make(map[int]map[int]int)
	for i, g := range got {
		if votes[g] == nil {
			votes[g] = make(map[int]int)
		}
		votes[g][truth[i]]++
	}
	mapping := make(map[int]int)
	for g, byTruth := range votes {
		best, bestN := -1, -1
		for tl, n := range byTruth {
			if n > bestN {
				best, bestN = tl, n
			}
		}
		mapping[g] = best
	}
	matches := 0
	for i, g := range got {
		if mapping[g] == truth[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(got))
}

// Three well-separated unit-covariance blobs, started from a single cluster:
// the sampler must discover exactly three components via splits.
func TestRun_ThreeBlobsRecovered(t *testing.T) {
	centers := [][]float64{{0, 0}, {10, 0}, {5, 10}}
	data, truth := blobData([]uint64{101, 102, 103}, centers, 100)

	cfg := DefaultConfig()
	cfg.InitialClusters = 1
	cfg.Concentration = 1.0
	cfg.MaxIterations = 50
	cfg.RandomSeed = 1
	cfg.Workers = 4
	cfg.CheckInvariants = true

	m, err := New(data, cfg)
	require.NoError(t, err)
	result, err := m.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, len(result.Clusters),
		"expected exactly 3 active clusters, trace: %+v", clusterCounts(result.Trace))

	// Every true center must be recovered within 1.0.
	for _, center := range centers {
		bestDist := math.Inf(1)
		for _, c := range result.Clusters {
			d := euclidean(center, c.Mean)
			if d < bestDist {
				bestDist = d
			}
		}
		assert.Less(t, bestDist, 1.0, "no recovered center near %v", center)
	}

	assert.GreaterOrEqual(t, agreement(result.Labels, truth), 0.95)
}

// Fifty points from one Gaussian, started from five clusters: merges must
// dominate until a single cluster remains.
func TestRun_SingleBlobCollapsesToOneCluster(t *testing.T) {
	data, _ := blobData([]uint64{201}, [][]float64{{2, -1}}, 50)

	cfg := DefaultConfig()
	cfg.InitialClusters = 5
	cfg.Concentration = 1.0
	cfg.MaxIterations = 30
	cfg.RandomSeed = 1
	cfg.Workers = 2
	cfg.CheckInvariants = true

	m, err := New(data, cfg)
	require.NoError(t, err)
	result, err := m.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, len(result.Clusters),
		"expected merges to leave one cluster, trace: %+v", clusterCounts(result.Trace))
	assert.Equal(t, 50, result.Clusters[0].Count)
}

// With the stall rule enabled, a stationary configuration stops the run
// before the iteration budget and reports convergence.
func TestRun_StallRuleStopsEarly(t *testing.T) {
	data, _ := blobData([]uint64{301}, [][]float64{{0, 0}}, 60)

	cfg := DefaultConfig()
	cfg.InitialClusters = 1
	cfg.MaxIterations = 200
	cfg.StallIterations = 10
	cfg.RandomSeed = 3
	cfg.Workers = 2

	m, err := New(data, cfg)
	require.NoError(t, err)
	result, err := m.Run(context.Background())
	require.NoError(t, err)

	if result.Converged {
		assert.Less(t, result.Iterations, cfg.MaxIterations)
		tail := result.Trace[len(result.Trace)-cfg.StallIterations:]
		for _, st := range tail {
			assert.False(t, st.Accepted(), "stall tail must contain no accepted moves")
		}
	} else {
		t.Logf("run used the full budget without stalling; trace: %+v", clusterCounts(result.Trace))
	}
}

// The merge-neighbor radius prunes proposals only, so it can strand a
// redundant cluster whose centroid sits farther than the radius from every
// neighbor, but it must never collapse well-separated blobs together: each
// true center still gets its own recovered cluster.
func TestRun_ThreeBlobsWithMergeRadius(t *testing.T) {
	centers := [][]float64{{0, 0}, {10, 0}, {5, 10}}
	data, _ := blobData([]uint64{401, 402, 403}, centers, 100)

	cfg := DefaultConfig()
	cfg.InitialClusters = 1
	cfg.MaxIterations = 50
	cfg.MergeNeighborRadius = 6
	cfg.RandomSeed = 2
	cfg.Workers = 4

	m, err := New(data, cfg)
	require.NoError(t, err)
	result, err := m.Run(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(result.Clusters), 3,
		"pruned merges must not collapse separated blobs, trace: %+v", clusterCounts(result.Trace))

	nearest := make([]int, len(centers))
	for b, center := range centers {
		bestID, bestDist := -1, math.Inf(1)
		for _, c := range result.Clusters {
			if d := euclidean(center, c.Mean); d < bestDist {
				bestID, bestDist = c.ID, d
			}
		}
		require.Less(t, bestDist, 1.0, "no recovered center near %v", center)
		nearest[b] = bestID
	}
	assert.NotEqual(t, nearest[0], nearest[1])
	assert.NotEqual(t, nearest[0], nearest[2])
	assert.NotEqual(t, nearest[1], nearest[2])
}

func clusterCounts(trace []IterationStats) []int {
	out := make([]int, len(trace))
	for i, st := range trace {
		out[i] = st.Clusters
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
