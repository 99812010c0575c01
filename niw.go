package dpmm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmat"
	"gonum.org/v1/gonum/stat/distmv"
)

// NIWParams are the hyperparameters of a Normal-inverse-Wishart prior over
// the mean and covariance of a Gaussian cluster: prior mean Mu0 with strength
// Kappa0, and prior scatter Psi0 with Nu0 degrees of freedom.
//
// A zero-valued NIWParams passed through Config is replaced by an empirical
// prior derived from the dataset (mean at the data mean, scatter at the data
// variance). When set explicitly, Nu0 must be at least dims+2 so that the
// prior covariance expectation Psi0/(Nu0-dims-1) exists.
type NIWParams struct {
	Mu0    []float64
	Kappa0 float64
	Nu0    float64
	Psi0   *mat.SymDense
}

// niwPosterior holds the closed-form posterior hyperparameters given a
// cluster's sufficient statistics.
type niwPosterior struct {
	mu    []float64
	kappa float64
	nu    float64
	psi   *mat.SymDense
}

// posterior computes the conjugate posterior hyperparameters from sufficient
// statistics. With empty statistics it returns the prior itself, so clusters
// passing through very small counts always have a well-defined posterior.
func (p NIWParams) posterior(s Stats) niwPosterior {
	d := len(p.Mu0)
	n := float64(s.N)
	kappa := p.Kappa0 + n
	nu := p.Nu0 + n

	mu := make([]float64, d)
	for i := range mu {
		mu[i] = (p.Kappa0*p.Mu0[i] + s.Sum[i]) / kappa
	}

	psi := mat.NewSymDense(d, nil)
	psi.CopySym(p.Psi0)
	psi.AddSym(psi, s.SumSq)
	psi.SymRankOne(psi, p.Kappa0, mat.NewVecDense(d, p.Mu0))
	psi.SymRankOne(psi, -kappa, mat.NewVecDense(d, mu))

	return niwPosterior{mu: mu, kappa: kappa, nu: nu, psi: psi}
}

// postMean returns the posterior expected mean and covariance. Used for
// reporting and for the merge-candidate centroid proxy, not for sampling.
func (p NIWParams) postMean(s Stats) ([]float64, *mat.SymDense) {
	post := p.posterior(s)
	d := len(post.mu)
	denom := post.nu - float64(d) - 1
	if denom < 1 {
		denom = 1
	}
	sigma := mat.NewSymDense(d, nil)
	sigma.ScaleSym(1/denom, post.psi)
	return post.mu, sigma
}

// logMarginal returns the log marginal likelihood (evidence) of the points
// summarized by s, with the Gaussian parameters integrated out under the
// prior. Empty statistics yield 0 (log of an empty product). A posterior
// scatter that fails Cholesky factorization yields -Inf rather than an error:
// near-singular scatter is a transient condition during sampling and callers
// treat -Inf as "reject".
func (p NIWParams) logMarginal(s Stats) float64 {
	if s.N == 0 {
		return 0
	}
	d := len(p.Mu0)
	post := p.posterior(s)

	var chol0, cholN mat.Cholesky
	if !chol0.Factorize(p.Psi0) || !cholN.Factorize(post.psi) {
		return math.Inf(-1)
	}

	return -0.5*float64(s.N*d)*math.Log(math.Pi) +
		multiLgamma(0.5*post.nu, d) - multiLgamma(0.5*p.Nu0, d) +
		0.5*p.Nu0*chol0.LogDet() - 0.5*post.nu*cholN.LogDet() +
		0.5*float64(d)*(math.Log(p.Kappa0)-math.Log(post.kappa))
}

// multiLgamma is the log multivariate gamma function log Γ_d(a).
func multiLgamma(a float64, d int) float64 {
	out := float64(d*(d-1)) / 4 * math.Log(math.Pi)
	for j := 0; j < d; j++ {
		lg, _ := math.Lgamma(a - float64(j)/2)
		out += lg
	}
	return out
}

// sampleGaussian draws Gaussian parameters (mean, covariance) from the NIW
// posterior given s and returns the corresponding distribution for likelihood
// evaluation. Degenerate posteriors (too few points for a well-conditioned
// scatter, failed factorizations) fall back to the posterior-mean parameters
// with diagonal jitter instead of erroring.
func (p NIWParams) sampleGaussian(s Stats, src rand.Source) *distmv.Normal {
	post := p.posterior(s)
	if dist := drawNIW(post, src); dist != nil {
		return dist
	}
	return meanGaussian(post, src)
}

// drawNIW attempts an exact draw from the posterior: covariance from the
// inverse-Wishart via a Wishart precision draw, then the mean from a Normal
// with covariance Sigma/kappa. Returns nil on any numerical failure.
func drawNIW(post niwPosterior, src rand.Source) *distmv.Normal {
	d := len(post.mu)

	var cholPsi mat.Cholesky
	if !cholPsi.Factorize(post.psi) {
		return nil
	}
	psiInv := mat.NewSymDense(d, nil)
	if err := cholPsi.InverseTo(psiInv); err != nil {
		return nil
	}

	wish, ok := distmat.NewWishart(psiInv, post.nu, src)
	if !ok {
		return nil
	}
	prec := mat.NewSymDense(d, nil)
	wish.RandSymTo(prec)

	var cholPrec mat.Cholesky
	if !cholPrec.Factorize(prec) {
		return nil
	}
	sigma := mat.NewSymDense(d, nil)
	if err := cholPrec.InverseTo(sigma); err != nil {
		return nil
	}

	meanCov := mat.NewSymDense(d, nil)
	meanCov.ScaleSym(1/post.kappa, sigma)
	meanDist, ok := distmv.NewNormal(post.mu, meanCov, src)
	if !ok {
		return nil
	}
	mu := meanDist.Rand(nil)

	dist, ok := distmv.NewNormal(mu, sigma, src)
	if !ok {
		return nil
	}
	return dist
}

// meanGaussian builds a Gaussian at the posterior expected parameters,
// adding diagonal jitter until the covariance is positive definite.
func meanGaussian(post niwPosterior, src rand.Source) *distmv.Normal {
	d := len(post.mu)
	denom := post.nu - float64(d) - 1
	if denom < 1 {
		denom = 1
	}
	sigma := mat.NewSymDense(d, nil)
	sigma.ScaleSym(1/denom, post.psi)

	jitter := 1e-9
	for t := 0; t < 10; t++ {
		if dist, ok := distmv.NewNormal(post.mu, sigma, src); ok {
			return dist
		}
		for i := 0; i < d; i++ {
			sigma.SetSym(i, i, sigma.At(i, i)+jitter)
		}
		jitter *= 10
	}

	// Identity covariance as the final fallback; always positive definite.
	eye := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		eye.SetSym(i, i, 1)
	}
	dist, _ := distmv.NewNormal(post.mu, eye, src)
	return dist
}
