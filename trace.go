package dpmm

// IterationStats summarizes one full sampling cycle. The orchestrator
// appends one entry per iteration to the model trace; callers read them to
// monitor mixing, detect runaway cluster growth, or drive a callback.
type IterationStats struct {
	// Iteration counts full cycles, starting at 1.
	Iteration int

	// LogLikelihood is the total data log-likelihood under the mixture
	// parameters the assignment pass sampled against.
	LogLikelihood float64

	// Clusters is the number of live clusters after structural moves.
	Clusters int

	// Splits and Merges list the structural moves accepted this iteration.
	Splits []SplitRecord
	Merges []MergeRecord
}

// Accepted reports whether any structural move was accepted this iteration.
func (s IterationStats) Accepted() bool {
	return len(s.Splits) > 0 || len(s.Merges) > 0
}
