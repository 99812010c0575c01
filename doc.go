// Package dpmm implements a Dirichlet Process Mixture Model (DPMM) sampler
// with parallel split/merge moves.
//
// The sampler infers both the number of Gaussian clusters and their
// parameters from data: the caller never fixes a cluster count. Each cluster
// carries two continuously maintained "sub-clusters" whose sufficient
// statistics seed split proposals, so structural moves are evaluated from
// state that is already mixed rather than from a fresh re-clustering pass.
//
// Basic usage:
//
//	cfg := dpmm.DefaultConfig()
//	cfg.Concentration = 1.0
//	model, err := dpmm.New(data, cfg)
//	if err != nil { ... }
//	result, err := model.Run(context.Background())
//	// result.Labels[i] is the cluster ID for point i
//	// result.Clusters describes each surviving cluster
//	// result.Trace records log-likelihood and moves per iteration
//
// Step-by-step control:
//
//	for i := 0; i < 100; i++ {
//		stats, err := model.Step(ctx)
//		...
//	}
//
// Per-point work (label sampling, sub-label sampling, statistics reduction)
// runs on Config.Workers goroutines over disjoint point ranges. Cross-cluster
// decisions (split/merge proposals, weight resampling) are single-threaded;
// cluster counts are small relative to point counts so this costs little.
package dpmm
