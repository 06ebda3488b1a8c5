package compare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"mixedfit/internal/dataset"
	"mixedfit/internal/simulate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func scenarioDataset(t *testing.T, mutate func(*simulate.Config)) *dataset.Dataset {
	t.Helper()
	cfg := simulate.Config{
		Subjects:    30,
		Sessions:    5,
		Baseline:    600,
		Slope:       -10,
		InterceptSD: 50,
		SlopeSD:     25,
		Correlation: 0.2,
		ResidualSD:  30,
		Seed:        314,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	gen, err := simulate.New(cfg)
	require.NoError(t, err)
	return gen.Dataset()
}

func TestRunEndToEnd(t *testing.T) {
	ds := scenarioDataset(t, nil)

	report, err := Run(ds, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	labels := []string{"full pooling", "no pooling", "random intercept", "random intercept + slope"}
	require.Len(t, report.Variants, len(labels))
	for i, label := range labels {
		v := report.Variants[i]
		assert.Equal(t, label, v.Label)
		assert.NoError(t, v.Err, "variant %q", label)
		assert.False(t, math.IsNaN(v.AIC), "variant %q has no AIC", label)
	}

	ri := report.Variant("random intercept")
	rs := report.Variant("random intercept + slope")
	require.NotNil(t, ri)
	require.NotNil(t, rs)
	require.NotNil(t, ri.Fit)
	require.NotNil(t, rs.Fit)

	t.Run("slope point estimates agree", func(t *testing.T) {
		assert.InDelta(t, ri.Fit.Slope().Estimate, rs.Fit.Slope().Estimate, 0.1)
		assert.InDelta(t, -10, rs.Fit.Slope().Estimate, 15)
	})

	t.Run("slope SE inflates under random slopes", func(t *testing.T) {
		seRI := ri.Fit.Slope().StdErr
		seRS := rs.Fit.Slope().StdErr
		assert.Greater(t, seRS, seRI)
		assert.InDelta(t, 2.65, seRI, 1.2)
		assert.InDelta(t, 4.7, seRS, 1.8)
	})

	t.Run("AIC strongly favors random slopes", func(t *testing.T) {
		assert.Less(t, rs.AIC, ri.AIC-20)
	})

	t.Run("likelihood-ratio test", func(t *testing.T) {
		require.NotNil(t, report.LRT)
		assert.Equal(t, 2, report.LRT.DF)
		assert.Greater(t, report.LRT.Statistic, 25.0)
		assert.Less(t, report.LRT.PValue, 1e-4)
	})
}

func TestRunParallelMatchesSequential(t *testing.T) {
	ds := scenarioDataset(t, nil)

	seq, err := Run(ds, Options{})
	require.NoError(t, err)
	par, err := Run(ds, Options{Parallel: true})
	require.NoError(t, err)

	require.Len(t, par.Variants, len(seq.Variants))
	for i := range seq.Variants {
		s, p := seq.Variants[i], par.Variants[i]
		assert.Equal(t, s.Label, p.Label)
		assert.InDelta(t, s.AIC, p.AIC, 1e-9)
		if s.Fit != nil && p.Fit != nil {
			assert.InDelta(t, s.Fit.Slope().Estimate, p.Fit.Slope().Estimate, 1e-9)
			assert.InDelta(t, s.Fit.Slope().StdErr, p.Fit.Slope().StdErr, 1e-9)
		}
	}
	require.NotNil(t, seq.LRT)
	require.NotNil(t, par.LRT)
	assert.InDelta(t, seq.LRT.Statistic, par.LRT.Statistic, 1e-9)
}

func TestRunWithoutSlopeVariability(t *testing.T) {
	ds := scenarioDataset(t, func(c *simulate.Config) {
		c.SlopeSD = 0
		c.Correlation = 0
	})

	report, err := Run(ds, Options{})
	require.NoError(t, err)

	ri := report.Variant("random intercept")
	rs := report.Variant("random intercept + slope")
	require.NotNil(t, ri.Fit)
	require.NotNil(t, rs.Fit)

	// Without true slope variability the two structures tell the same story.
	assert.InEpsilon(t, ri.Fit.Slope().StdErr, rs.Fit.Slope().StdErr, 0.15)
	require.NotNil(t, report.LRT)
	assert.Less(t, report.LRT.Statistic, 15.0)
}

func TestRunFlagsCappedOptimizerAsNotConverged(t *testing.T) {
	// An iteration cap low enough to stop the mixed-model optimizer early is
	// a warning-level outcome: the rows stay in the report with their best
	// estimates, flagged as not converged.
	ds := scenarioDataset(t, nil)

	report, err := Run(ds, Options{MaxIter: 2, Logger: zap.NewNop()})
	require.NoError(t, err)

	for _, label := range []string{"random intercept", "random intercept + slope"} {
		v := report.Variant(label)
		require.NotNil(t, v, label)
		assert.NoError(t, v.Err, label)
		require.NotNil(t, v.Fit, label)
		assert.False(t, v.Converged(), label)
	}

	// The OLS variants have no iteration cap to hit.
	assert.True(t, report.Variant("full pooling").Converged())
	assert.True(t, report.Variant("no pooling").Converged())
}

func TestRunReportsInsufficientGroupWithoutSuppression(t *testing.T) {
	ds := scenarioDataset(t, nil)
	// Truncate the last subject to a single observation.
	lastID := ds.Subjects[len(ds.Subjects)-1].ID
	var obs []dataset.Observation
	for _, o := range ds.Observations {
		if o.SubjectID == lastID && o.Session > 0 {
			continue
		}
		obs = append(obs, o)
	}
	truncated := &dataset.Dataset{
		Subjects:     ds.Subjects,
		Observations: obs,
		NumSessions:  ds.NumSessions,
	}

	report, err := Run(truncated, Options{})
	require.NoError(t, err)

	np := report.Variant("no pooling")
	require.NotNil(t, np)
	assert.Error(t, np.Err)
	require.NotNil(t, np.NoPooling)

	failed := np.NoPooling.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, lastID, failed[0].SubjectID)

	// Every other variant's outcome is still present and successful.
	for _, label := range []string{"full pooling", "random intercept", "random intercept + slope"} {
		v := report.Variant(label)
		require.NotNil(t, v, label)
		assert.NoError(t, v.Err, label)
	}
}

func TestRunEmptyDataset(t *testing.T) {
	_, err := Run(&dataset.Dataset{}, Options{})
	assert.Error(t, err)
}
