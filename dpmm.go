package dpmm

import (
	"io"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Config controls the sampler. Start with [DefaultConfig] and override the
// fields you need.
type Config struct {
	// InitialClusters is the number of clusters seeded by random assignment
	// before the first iteration. The sampler grows and shrinks the count
	// from there. Must be >= 1. Default: 1.
	InitialClusters int

	// Concentration is the Dirichlet process concentration parameter (alpha).
	// Larger values favor more clusters. Must be > 0. Default: 1.0.
	Concentration float64

	// Prior holds the Normal-inverse-Wishart hyperparameters. Leave zero to
	// derive an empirical prior from the data (mean at the data mean, scatter
	// at the per-dimension data variance).
	Prior NIWParams

	// MaxIterations is the iteration budget for Run. Must be >= 1.
	// Default: 100.
	MaxIterations int

	// BurnInIterations is the number of initial iterations during which
	// split/merge proposals are skipped, letting label state settle first.
	// Default: 2.
	BurnInIterations int

	// StallIterations stops Run early once this many consecutive iterations
	// accept no structural move. 0 disables the stopping rule. Default: 0.
	StallIterations int

	// MergeNeighborRadius restricts merge proposals to cluster pairs whose
	// posterior-mean centroids are within this Euclidean distance, avoiding
	// all-pairs cost on large cluster counts. 0 proposes every pair.
	// Default: 0.
	MergeNeighborRadius float64

	// RandomSeed seeds every generator in the run, including the per-worker
	// generators of the parallel passes. Runs with the same seed, data,
	// config, and worker count are reproducible. Default: 1.
	RandomSeed uint64

	// Workers is the number of goroutines for the per-point passes
	// (assignment, sub-assignment, statistics reduction). 0 means
	// runtime.NumCPU(). Default: 0 (auto).
	Workers int

	// SampleConcentration enables resampling of the concentration parameter
	// each iteration under a Gamma(1, 1) hyperprior. Default: false.
	SampleConcentration bool

	// CheckInvariants verifies after every iteration that sub-cluster
	// statistics sum to their parent's and that every label points at a live
	// cluster, panicking on violation. Meant for tests and debugging; it adds
	// a full pass over the state. Default: false.
	CheckInvariants bool

	// Callback, if set, is invoked after every completed iteration with that
	// iteration's summary. Called on the sampling goroutine.
	Callback func(IterationStats)

	// Logger receives one debug entry per iteration and warnings on runaway
	// cluster growth. Default: discard.
	Logger logrus.FieldLogger
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		InitialClusters:  1,
		Concentration:    1.0,
		MaxIterations:    100,
		BurnInIterations: 2,
		RandomSeed:       1,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.InitialClusters == 0 {
		cfg.InitialClusters = 1
	}
	if cfg.Concentration == 0 {
		cfg.Concentration = 1.0
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 100
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
}

// validateConfig checks cfg against the dataset shape and returns a
// descriptive error if the run must not start.
func validateConfig(cfg *Config, n, dims int) error {
	if cfg.InitialClusters < 1 {
		return errors.Errorf("dpmm: InitialClusters must be >= 1, got %d", cfg.InitialClusters)
	}
	if cfg.InitialClusters > n {
		return errors.Errorf("dpmm: InitialClusters %d exceeds dataset size %d", cfg.InitialClusters, n)
	}
	if cfg.Concentration <= 0 {
		return errors.Errorf("dpmm: Concentration must be > 0, got %f", cfg.Concentration)
	}
	if cfg.MaxIterations < 1 {
		return errors.Errorf("dpmm: MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.BurnInIterations < 0 {
		return errors.Errorf("dpmm: BurnInIterations must be >= 0, got %d", cfg.BurnInIterations)
	}
	if cfg.StallIterations < 0 {
		return errors.Errorf("dpmm: StallIterations must be >= 0, got %d", cfg.StallIterations)
	}
	if cfg.MergeNeighborRadius < 0 {
		return errors.Errorf("dpmm: MergeNeighborRadius must be >= 0, got %f", cfg.MergeNeighborRadius)
	}
	if cfg.Workers < 1 {
		return errors.Errorf("dpmm: Workers must be >= 1 after defaulting, got %d", cfg.Workers)
	}
	if err := validatePrior(cfg.Prior, dims); err != nil {
		return err
	}
	return nil
}

// validatePrior checks explicitly set NIW hyperparameters. A fully zero
// prior is valid and replaced by the empirical prior.
func validatePrior(p NIWParams, dims int) error {
	if priorIsZero(p) {
		return nil
	}
	if len(p.Mu0) != dims {
		return errors.Errorf("dpmm: prior mean has dimension %d, data has %d", len(p.Mu0), dims)
	}
	if p.Psi0 == nil {
		return errors.New("dpmm: prior scatter Psi0 must be set when the prior is explicit")
	}
	if r := p.Psi0.SymmetricDim(); r != dims {
		return errors.Errorf("dpmm: prior scatter is %dx%d, data has dimension %d", r, r, dims)
	}
	if p.Kappa0 <= 0 {
		return errors.Errorf("dpmm: prior Kappa0 must be > 0, got %f", p.Kappa0)
	}
	if p.Nu0 < float64(dims)+2 {
		return errors.Errorf("dpmm: prior Nu0 must be >= dims+2 = %d, got %f", dims+2, p.Nu0)
	}
	return nil
}

func priorIsZero(p NIWParams) bool {
	return p.Mu0 == nil && p.Psi0 == nil && p.Kappa0 == 0 && p.Nu0 == 0
}

// ClusterInfo is the externally visible description of one live cluster.
type ClusterInfo struct {
	ID     int
	Weight float64
	Count  int
	// Mean and Covariance are the posterior expected Gaussian parameters.
	Mean       []float64
	Covariance *mat.SymDense
}

// Result contains the final state of a run.
type Result struct {
	// Labels assigns each point to a cluster ID. IDs are stable across the
	// run but not dense; match them against Clusters.
	Labels []int

	// Clusters describes each live cluster, ordered by ID.
	Clusters []ClusterInfo

	// Trace holds one summary per completed iteration.
	Trace []IterationStats

	// Iterations is the number of completed iterations.
	Iterations int

	// Converged is true when Run stopped on the stall rule rather than the
	// iteration budget.
	Converged bool
}

// New validates the configuration and builds a sampler over data. Each
// element of data is one point; all points must share the same
// dimensionality, which must also match an explicitly set prior.
func New(data [][]float64, cfg Config) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.New("dpmm: empty dataset")
	}
	dims := len(data[0])
	if dims == 0 {
		return nil, errors.New("dpmm: zero-dimensional points")
	}
	for i, row := range data {
		if len(row) != dims {
			return nil, errors.Errorf("dpmm: point %d has dimension %d, want %d", i, len(row), dims)
		}
	}

	applyDefaults(&cfg)
	if err := validateConfig(&cfg, len(data), dims); err != nil {
		return nil, err
	}

	flat := make([]float64, len(data)*dims)
	for i, row := range data {
		copy(flat[i*dims:], row)
	}

	return newModel(flat, len(data), dims, cfg), nil
}
