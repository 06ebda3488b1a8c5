package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"mixedfit/internal/dataset"
)

// Options controls the mixed-model optimization. The zero value fits by REML
// with default iteration limits.
type Options struct {
	Criterion Criterion
	MaxIter   int
}

// RandomIntercept fits a mixed model with one shared slope and a
// subject-level random intercept.
func RandomIntercept(ds *dataset.Dataset, opts Options) (*Fit, error) {
	return fitLME(ds, 1, opts, "random intercept")
}

// RandomSlopes fits a mixed model where both intercept and slope vary by
// subject, drawn from a bivariate distribution whose covariance (including
// the intercept-slope correlation) is estimated jointly with the fixed
// effects.
func RandomSlopes(ds *dataset.Dataset, opts Options) (*Fit, error) {
	return fitLME(ds, 2, opts, "random intercept + slope")
}

// lmeGroup is one subject's block of the likelihood.
type lmeGroup struct {
	x *mat.Dense    // n_i x 2 fixed design [1, session]
	z *mat.Dense    // n_i x q random design
	y *mat.VecDense // n_i responses
}

// profileState carries everything recoverable at a given covariance
// parameter value once beta and sigma^2 have been profiled out.
type profileState struct {
	beta   [numFixed]float64
	seBeta [numFixed]float64
	sigma2 float64
	g      *mat.Dense // relative covariance G = Lambda Lambda'
}

// fitLME maximizes the profiled log-likelihood over the q(q+1)/2 free
// entries of the relative covariance factor Lambda, where the marginal
// covariance of group i is sigma^2 (I + Z_i Lambda Lambda' Z_i'). Beta and
// sigma^2 have closed forms given Lambda, so the optimizer only sees the
// covariance parameters.
func fitLME(ds *dataset.Dataset, q int, opts Options, label string) (*Fit, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("%s: empty dataset", label)
	}
	n := ds.Len()
	if n <= numFixed {
		return nil, fmt.Errorf("%s: %d observations cannot support %d fixed effects plus variance components",
			label, n, numFixed)
	}

	groups := make([]lmeGroup, 0, ds.NumSubjects())
	for _, g := range ds.Groups() {
		ni := len(g.Observations)
		x := mat.NewDense(ni, numFixed, nil)
		y := mat.NewVecDense(ni, nil)
		for i, obs := range g.Observations {
			x.Set(i, 0, 1)
			x.Set(i, 1, float64(obs.Session))
			y.SetVec(i, obs.Value)
		}
		groups = append(groups, lmeGroup{x: x, z: zMatrix(g, q), y: y})
	}

	nTheta := q * (q + 1) / 2
	x0 := make([]float64, nTheta)
	x0[0] = 1
	if q == 2 {
		x0[2] = 1
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			dev, _ := profileDeviance(theta, groups, n, q, opts.Criterion)
			return dev
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 100},
	}
	if opts.MaxIter > 0 {
		settings.MajorIterations = opts.MaxIter
	}

	result, optErr := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})

	// Non-convergence is a warning-level outcome: keep the best point the
	// optimizer reached and flag the fit, never fail silently or hard. Only a
	// status the optimizer itself declares optimal counts as converged; an
	// iteration or evaluation cap does not.
	converged := optErr == nil && result != nil &&
		(result.Status == optimize.FunctionConvergence || result.Status == optimize.MethodConverge)
	theta := x0
	if result != nil && len(result.X) == nTheta {
		theta = result.X
	}

	dev, st := profileDeviance(theta, groups, n, q, opts.Criterion)
	if st == nil || math.IsInf(dev, 1) {
		return nil, fmt.Errorf("%s: likelihood not evaluable at the optimizer's solution", label)
	}

	sigma := math.Sqrt(st.sigma2)
	random := &RandomEffects{
		InterceptSD: sigma * math.Sqrt(math.Max(0, st.g.At(0, 0))),
	}
	if q == 2 {
		random.SlopeSD = sigma * math.Sqrt(math.Max(0, st.g.At(1, 1)))
		denom := math.Sqrt(st.g.At(0, 0) * st.g.At(1, 1))
		if denom > 0 {
			random.Corr = clamp(st.g.At(0, 1)/denom, -1, 1)
		}
	}

	var lambda [3]float64
	copy(lambda[:], theta)

	return &Fit{
		Label: label,
		Fixed: []FixedEffect{
			{Name: "intercept", Estimate: st.beta[0], StdErr: st.seBeta[0]},
			{Name: "session", Estimate: st.beta[1], StdErr: st.seBeta[1]},
		},
		Random:     random,
		ResidualSD: sigma,
		LogLik:     -0.5 * dev,
		NumParams:  numFixed + nTheta + 1,
		Criterion:  opts.Criterion,
		Converged:  converged,
		NumObs:     n,
		q:          q,
		lambda:     lambda,
	}, nil
}

// profileDeviance evaluates -2 log L (ML) or -2 log L_R (REML) at theta with
// beta and sigma^2 profiled out. Returns +Inf with a nil state when the
// marginal covariance cannot be factorized at theta.
func profileDeviance(theta []float64, groups []lmeGroup, n, q int, crit Criterion) (float64, *profileState) {
	inf := math.Inf(1)
	for _, t := range theta {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return inf, nil
		}
	}

	var lambda [3]float64
	copy(lambda[:], theta)
	lam := lowerFactor(q, lambda)
	var g mat.Dense
	g.Mul(lam, lam.T())

	// Accumulate the 2x2 Fisher cross-product A = sum X' V^{-1} X and
	// u = sum X' V^{-1} y across groups; V factors are kept for the residual
	// pass once beta is known.
	var a00, a01, a11 float64
	var u0, u1 float64
	logdet := 0.0
	chols := make([]*mat.Cholesky, len(groups))
	for gi, grp := range groups {
		ni, _ := grp.x.Dims()
		v := marginalCov(grp.z, &g)
		chol := &mat.Cholesky{}
		if !chol.Factorize(v) {
			return inf, nil
		}
		chols[gi] = chol
		logdet += chol.LogDet()

		var w mat.Dense
		if err := chol.SolveTo(&w, grp.x); err != nil {
			return inf, nil
		}
		wy := mat.NewVecDense(ni, nil)
		if err := chol.SolveVecTo(wy, grp.y); err != nil {
			return inf, nil
		}
		for r := 0; r < ni; r++ {
			x0 := grp.x.At(r, 0)
			x1 := grp.x.At(r, 1)
			a00 += x0 * w.At(r, 0)
			a01 += x0 * w.At(r, 1)
			a11 += x1 * w.At(r, 1)
			u0 += x0 * wy.AtVec(r)
			u1 += x1 * wy.AtVec(r)
		}
	}

	det := a00*a11 - a01*a01
	if det <= 0 || math.IsNaN(det) {
		return inf, nil
	}
	beta0 := (a11*u0 - a01*u1) / det
	beta1 := (a00*u1 - a01*u0) / det

	rss := 0.0
	for gi, grp := range groups {
		ni, _ := grp.x.Dims()
		res := mat.NewVecDense(ni, nil)
		for r := 0; r < ni; r++ {
			res.SetVec(r, grp.y.AtVec(r)-beta0*grp.x.At(r, 0)-beta1*grp.x.At(r, 1))
		}
		vres := mat.NewVecDense(ni, nil)
		if err := chols[gi].SolveVecTo(vres, res); err != nil {
			return inf, nil
		}
		rss += mat.Dot(res, vres)
	}
	if rss <= 0 || math.IsNaN(rss) {
		return inf, nil
	}

	var dev, sigma2 float64
	switch crit {
	case ML:
		sigma2 = rss / float64(n)
		dev = float64(n)*math.Log(2*math.Pi*sigma2) + logdet + float64(n)
	default: // REML
		dof := float64(n - numFixed)
		sigma2 = rss / dof
		dev = dof*math.Log(2*math.Pi*sigma2) + logdet + math.Log(det) + dof
	}

	st := &profileState{
		beta:   [numFixed]float64{beta0, beta1},
		sigma2: sigma2,
		g:      &g,
	}
	// cov(beta) = sigma^2 A^{-1}; A is 2x2 so invert directly.
	st.seBeta[0] = math.Sqrt(sigma2 * a11 / det)
	st.seBeta[1] = math.Sqrt(sigma2 * a00 / det)
	return dev, st
}

// lowerFactor builds the q x q lower-triangular relative covariance factor
// from its packed entries.
func lowerFactor(q int, lambda [3]float64) *mat.TriDense {
	t := mat.NewTriDense(q, mat.Lower, nil)
	t.SetTri(0, 0, lambda[0])
	if q == 2 {
		t.SetTri(1, 0, lambda[1])
		t.SetTri(1, 1, lambda[2])
	}
	return t
}

// zMatrix builds one group's random-effect design: an intercept column,
// plus the session column when slopes vary.
func zMatrix(g dataset.Group, q int) *mat.Dense {
	ni := len(g.Observations)
	z := mat.NewDense(ni, q, nil)
	for i, obs := range g.Observations {
		z.Set(i, 0, 1)
		if q == 2 {
			z.Set(i, 1, float64(obs.Session))
		}
	}
	return z
}

// marginalCov returns V = I + Z G Z' for one group, symmetrized against
// floating-point drift.
func marginalCov(z *mat.Dense, g *mat.Dense) *mat.SymDense {
	ni, _ := z.Dims()
	var zg, zgz mat.Dense
	zg.Mul(z, g)
	zgz.Mul(&zg, z.T())

	v := mat.NewSymDense(ni, nil)
	for i := 0; i < ni; i++ {
		for j := i; j < ni; j++ {
			val := 0.5 * (zgz.At(i, j) + zgz.At(j, i))
			if i == j {
				val++
			}
			v.SetSym(i, j, val)
		}
	}
	return v
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
