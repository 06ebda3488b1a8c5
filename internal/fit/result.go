// Package fit estimates the four nested regression structures for a
// repeated-measures dataset: full pooling and per-subject no pooling via
// ordinary least squares, and random-intercept / random-intercept+slope
// linear mixed models via profiled maximum likelihood.
package fit

import (
	"gonum.org/v1/gonum/mat"

	"mixedfit/internal/dataset"
)

// Criterion selects the estimation criterion for mixed models.
type Criterion int

const (
	// REML maximizes the restricted likelihood; variance estimates are less
	// biased but log-likelihoods of models with different fixed effects are
	// not comparable.
	REML Criterion = iota
	// ML maximizes the full likelihood; required when log-likelihoods feed a
	// likelihood-ratio test.
	ML
)

func (c Criterion) String() string {
	if c == ML {
		return "ML"
	}
	return "REML"
}

// FixedEffect is one fixed-effect coefficient with its standard error.
type FixedEffect struct {
	Name     string
	Estimate float64
	StdErr   float64
}

// RandomEffects holds the estimated subject-level variability. SlopeSD and
// Corr are zero for the random-intercept-only structure.
type RandomEffects struct {
	InterceptSD float64
	SlopeSD     float64
	Corr        float64
}

// Fit is the immutable result of one model fit.
type Fit struct {
	Label      string
	Fixed      []FixedEffect
	Random     *RandomEffects // nil for pooled fits
	ResidualSD float64
	LogLik     float64
	NumParams  int
	Criterion  Criterion
	Converged  bool
	NumObs     int

	// Relative covariance factor at the optimum, kept so fitted-value
	// projections can reconstruct the subject-level predictions.
	q      int
	lambda [3]float64
}

// Slope returns the fixed slope effect, the quantity the comparison is about.
func (f *Fit) Slope() FixedEffect {
	for _, fe := range f.Fixed {
		if fe.Name == "session" {
			return fe
		}
	}
	return FixedEffect{}
}

// FittedValues computes the model's prediction for every observation in ds,
// aligned with ds.Observations. For mixed fits the predictions include the
// subject-level best linear unbiased predictors, so they show the shrinkage
// toward the population line. The dataset itself is not touched.
func (f *Fit) FittedValues(ds *dataset.Dataset) []float64 {
	out := make([]float64, ds.Len())
	if f.q == 0 {
		b0, b1 := f.Fixed[0].Estimate, f.Fixed[1].Estimate
		for i, obs := range ds.Observations {
			out[i] = b0 + b1*float64(obs.Session)
		}
		return out
	}

	lam := lowerFactor(f.q, f.lambda)
	var g mat.Dense
	g.Mul(lam, lam.T())

	b0, b1 := f.Fixed[0].Estimate, f.Fixed[1].Estimate

	// One predictor pair per subject, keyed by ID so the output stays aligned
	// with ds.Observations whatever order the flat slice uses.
	blups := make(map[int][2]float64, ds.NumSubjects())
	for _, grp := range ds.Groups() {
		n := len(grp.Observations)
		z := zMatrix(grp, f.q)
		res := mat.NewVecDense(n, nil)
		for i, obs := range grp.Observations {
			res.SetVec(i, obs.Value-(b0+b1*float64(obs.Session)))
		}

		v := marginalCov(z, &g)
		var chol mat.Cholesky
		blup := mat.NewVecDense(f.q, nil)
		if chol.Factorize(v) {
			vinvRes := mat.NewVecDense(n, nil)
			_ = chol.SolveVecTo(vinvRes, res)
			var ztr mat.VecDense
			ztr.MulVec(z.T(), vinvRes)
			blup.MulVec(&g, &ztr)
		}

		pair := [2]float64{blup.AtVec(0), 0}
		if f.q == 2 {
			pair[1] = blup.AtVec(1)
		}
		blups[grp.SubjectID] = pair
	}

	for i, obs := range ds.Observations {
		b := blups[obs.SubjectID]
		out[i] = b0 + b1*float64(obs.Session) + b[0] + b[1]*float64(obs.Session)
	}
	return out
}

// SubjectFit is the outcome of one group's independent fit in the no-pooling
// structure. Exactly one of Fit and Err is set.
type SubjectFit struct {
	SubjectID int
	Fit       *Fit
	Err       error
}

// NoPoolingResult aggregates the per-subject fits. LogLik and NumParams are
// only meaningful when every group fit succeeded.
type NoPoolingResult struct {
	Label      string
	PerSubject []SubjectFit
	LogLik     float64
	NumParams  int
	NumObs     int
}

// Failed returns the subject fits that ended in an error.
func (r *NoPoolingResult) Failed() []SubjectFit {
	var failed []SubjectFit
	for _, sf := range r.PerSubject {
		if sf.Err != nil {
			failed = append(failed, sf)
		}
	}
	return failed
}
