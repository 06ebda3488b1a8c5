package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mixedfit/internal/dataset"
)

const numFixed = 2 // intercept, session slope

// FullPooling regresses value on session index across all observations,
// ignoring subject identity: one global intercept and slope.
func FullPooling(ds *dataset.Dataset) (*Fit, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("full pooling: empty dataset")
	}
	f, err := olsFit(ds.Observations)
	if err != nil {
		return nil, fmt.Errorf("full pooling: %w", err)
	}
	f.Label = "full pooling"
	return f, nil
}

// NoPooling fits an independent intercept/slope pair per subject. A group
// with fewer observations than free parameters yields an
// InsufficientDataError for that subject; other groups are unaffected. The
// returned error is non-nil when any group failed, while the result still
// carries every group's outcome.
func NoPooling(ds *dataset.Dataset) (*NoPoolingResult, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("no pooling: empty dataset")
	}

	res := &NoPoolingResult{Label: "no pooling", NumObs: ds.Len()}
	var firstErr error
	for _, g := range ds.Groups() {
		sf := SubjectFit{SubjectID: g.SubjectID}
		if len(g.Observations) < numFixed {
			sf.Err = &InsufficientDataError{
				SubjectID:    g.SubjectID,
				Observations: len(g.Observations),
				Required:     numFixed,
			}
		} else {
			f, err := olsFit(g.Observations)
			if err != nil {
				sf.Err = fmt.Errorf("subject %d: %w", g.SubjectID, err)
			} else {
				f.Label = fmt.Sprintf("subject %d", g.SubjectID)
				sf.Fit = f
			}
		}
		if sf.Err != nil && firstErr == nil {
			firstErr = sf.Err
		}
		res.PerSubject = append(res.PerSubject, sf)
		if sf.Fit != nil {
			res.LogLik += sf.Fit.LogLik
			res.NumParams += sf.Fit.NumParams
		}
	}

	if firstErr != nil {
		return res, fmt.Errorf("no pooling: %w", firstErr)
	}
	return res, nil
}

// olsFit runs ordinary least squares of value on session for one set of
// observations: normal equations first, SVD-based least squares when the
// cross-product matrix is singular.
func olsFit(obs []dataset.Observation) (*Fit, error) {
	n := len(obs)
	x := mat.NewDense(n, numFixed, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range obs {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(o.Session))
		y.SetVec(i, o.Value)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)

	beta := mat.NewVecDense(numFixed, nil)
	var xtxInv mat.Dense
	haveInv := false
	if err := xtxInv.Inverse(&xtx); err == nil {
		haveInv = true
		var xty mat.VecDense
		xty.MulVec(x.T(), y)
		beta.MulVec(&xtxInv, &xty)
	} else {
		var svd mat.SVD
		if !svd.Factorize(x, mat.SVDThin) {
			return nil, fmt.Errorf("design matrix singular and SVD factorization failed: %w", err)
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			return nil, fmt.Errorf("design matrix has rank 0")
		}
		var b mat.Dense
		yMat := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			yMat.Set(i, 0, y.AtVec(i))
		}
		svd.SolveTo(&b, yMat, rank)
		for i := 0; i < numFixed; i++ {
			beta.SetVec(i, b.At(i, 0))
		}
	}

	var fittedVec mat.VecDense
	fittedVec.MulVec(x, beta)
	rss := 0.0
	for i := 0; i < n; i++ {
		r := y.AtVec(i) - fittedVec.AtVec(i)
		rss += r * r
	}

	dof := n - numFixed
	se := [numFixed]float64{math.NaN(), math.NaN()}
	if dof > 0 && haveInv {
		sigma2 := rss / float64(dof)
		for j := 0; j < numFixed; j++ {
			se[j] = math.Sqrt(sigma2 * xtxInv.At(j, j))
		}
	}

	// Gaussian maximum likelihood at the OLS solution. A zero-residual fit
	// has no finite Gaussian likelihood; NaN marks the likelihood, and any
	// AIC built on it, as unavailable.
	logLik := math.NaN()
	if rss > 0 {
		logLik = -0.5 * float64(n) * (math.Log(2*math.Pi) + math.Log(rss/float64(n)) + 1)
	}

	residSD := 0.0
	if dof > 0 {
		residSD = math.Sqrt(rss / float64(dof))
	}

	return &Fit{
		Fixed: []FixedEffect{
			{Name: "intercept", Estimate: beta.AtVec(0), StdErr: se[0]},
			{Name: "session", Estimate: beta.AtVec(1), StdErr: se[1]},
		},
		ResidualSD: residSD,
		LogLik:     logLik,
		NumParams:  numFixed + 1, // two coefficients plus the residual SD
		Criterion:  ML,
		Converged:  true,
		NumObs:     n,
	}, nil
}
