// Package compare fits the four nested structural hypotheses (full pooling,
// no pooling, random intercept, random intercept + slope) to one dataset and
// reports comparative fit statistics: AIC on a common maximum-likelihood
// scale and a likelihood-ratio test between the two mixed structures.
package compare

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"mixedfit/internal/dataset"
	"mixedfit/internal/fit"
)

// Options configures a comparison run.
type Options struct {
	// Parallel runs the independent fits concurrently. The fits share no
	// state, so no locking is involved; results land in independent slots.
	Parallel bool
	// MaxIter caps the mixed-model optimizer iterations.
	MaxIter int
	// Logger receives progress and convergence warnings; nil disables logging.
	Logger *zap.Logger
}

// VariantResult is one structural hypothesis' outcome. Exactly one of Fit and
// NoPooling is set on success; Err records a failed variant without
// suppressing the others.
type VariantResult struct {
	Label     string
	Fit       *fit.Fit             // pooled and mixed fits (REML for mixed)
	MLFit     *fit.Fit             // maximum-likelihood refit of the mixed fits
	NoPooling *fit.NoPoolingResult // per-subject detail for the no-pooling variant
	AIC       float64
	Err       error
}

// Converged reports whether the variant's optimization reached a stable
// optimum. OLS variants always converge.
func (v *VariantResult) Converged() bool {
	if v.Err != nil {
		return false
	}
	if v.Fit != nil && !v.Fit.Converged {
		return false
	}
	if v.MLFit != nil && !v.MLFit.Converged {
		return false
	}
	return true
}

// LRT is the likelihood-ratio test of random intercept + slope against
// random intercept only, computed on the maximum-likelihood refits.
type LRT struct {
	Statistic float64
	DF        int
	PValue    float64
}

// Report is the comparator's output: every requested variant's outcome plus
// the mixed-model likelihood-ratio test. RunID correlates the report with
// log output.
type Report struct {
	RunID    string
	Variants []VariantResult
	LRT      *LRT
}

// Variant returns the result with the given label, or nil.
func (r *Report) Variant(label string) *VariantResult {
	for i := range r.Variants {
		if r.Variants[i].Label == label {
			return &r.Variants[i]
		}
	}
	return nil
}

// Run fits all four variants against ds. Per-variant failures are recorded in
// the report, not returned; the error return covers only an unusable dataset.
func Run(ds *dataset.Dataset, opts Options) (*Report, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("compare: empty dataset")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	report := &Report{RunID: uuid.NewString()}
	log.Info("comparing nested model structures",
		zap.String("run_id", report.RunID),
		zap.Int("subjects", ds.NumSubjects()),
		zap.Int("observations", ds.Len()),
		zap.Bool("parallel", opts.Parallel))

	var pooled *fit.Fit
	var pooledErr error
	var noPool *fit.NoPoolingResult
	var noPoolErr error
	var intREML, intML *fit.Fit
	var intREMLErr, intMLErr error
	var slopeREML, slopeML *fit.Fit
	var slopeREMLErr, slopeMLErr error

	remlOpts := fit.Options{Criterion: fit.REML, MaxIter: opts.MaxIter}
	mlOpts := fit.Options{Criterion: fit.ML, MaxIter: opts.MaxIter}

	tasks := []func(){
		func() { pooled, pooledErr = fit.FullPooling(ds) },
		func() { noPool, noPoolErr = fit.NoPooling(ds) },
		func() { intREML, intREMLErr = fit.RandomIntercept(ds, remlOpts) },
		func() { intML, intMLErr = fit.RandomIntercept(ds, mlOpts) },
		func() { slopeREML, slopeREMLErr = fit.RandomSlopes(ds, remlOpts) },
		func() { slopeML, slopeMLErr = fit.RandomSlopes(ds, mlOpts) },
	}
	if opts.Parallel {
		var g errgroup.Group
		for _, task := range tasks {
			task := task
			g.Go(func() error {
				task()
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, task := range tasks {
			task()
		}
	}

	report.Variants = []VariantResult{
		pooledVariant(pooled, pooledErr),
		noPoolingVariant(noPool, noPoolErr),
		mixedVariant("random intercept", intREML, intREMLErr, intML, intMLErr),
		mixedVariant("random intercept + slope", slopeREML, slopeREMLErr, slopeML, slopeMLErr),
	}

	for i := range report.Variants {
		v := &report.Variants[i]
		switch {
		case v.Err != nil:
			log.Warn("variant failed", zap.String("run_id", report.RunID),
				zap.String("variant", v.Label), zap.Error(v.Err))
		case !v.Converged():
			log.Warn("variant did not converge; estimates may be unreliable",
				zap.String("run_id", report.RunID), zap.String("variant", v.Label))
		default:
			log.Info("variant fitted", zap.String("run_id", report.RunID),
				zap.String("variant", v.Label), zap.Float64("aic", v.AIC))
		}
	}

	if intMLErr == nil && slopeMLErr == nil {
		report.LRT = likelihoodRatio(intML, slopeML)
		log.Info("likelihood-ratio test",
			zap.String("run_id", report.RunID),
			zap.Float64("statistic", report.LRT.Statistic),
			zap.Int("df", report.LRT.DF),
			zap.Float64("p_value", report.LRT.PValue))
	}

	return report, nil
}

func pooledVariant(f *fit.Fit, err error) VariantResult {
	v := VariantResult{Label: "full pooling", Fit: f, Err: err, AIC: math.NaN()}
	if err == nil {
		v.AIC = aic(f.LogLik, f.NumParams)
	}
	return v
}

func noPoolingVariant(r *fit.NoPoolingResult, err error) VariantResult {
	v := VariantResult{Label: "no pooling", NoPooling: r, Err: err, AIC: math.NaN()}
	if err == nil && r != nil {
		v.AIC = aic(r.LogLik, r.NumParams)
	}
	return v
}

func mixedVariant(label string, reml *fit.Fit, remlErr error, ml *fit.Fit, mlErr error) VariantResult {
	v := VariantResult{Label: label, Fit: reml, MLFit: ml, AIC: math.NaN()}
	switch {
	case remlErr != nil:
		v.Err = remlErr
	case mlErr != nil:
		v.Err = fmt.Errorf("maximum-likelihood refit: %w", mlErr)
	default:
		v.AIC = aic(ml.LogLik, ml.NumParams)
	}
	return v
}

// aic is -2 logLik + 2 numParams.
func aic(logLik float64, numParams int) float64 {
	return -2*logLik + 2*float64(numParams)
}

// likelihoodRatio tests the richer structure against the simpler one on the
// same estimation criterion. The statistic is clamped at zero: the richer
// model's parameters are a strict superset, so a negative difference can only
// be numerical noise.
func likelihoodRatio(simpler, richer *fit.Fit) *LRT {
	stat := 2 * (richer.LogLik - simpler.LogLik)
	if stat < 0 {
		stat = 0
	}
	df := richer.NumParams - simpler.NumParams
	chi2 := distuv.ChiSquared{K: float64(df)}
	return &LRT{
		Statistic: stat,
		DF:        df,
		PValue:    chi2.Survival(stat),
	}
}
