package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixedfit/internal/dataset"
)

// lineDataset builds a noise-free dataset where subject i follows
// value = intercepts[i-1] + slopes[i-1] * session.
func lineDataset(sessions int, intercepts, slopes []float64) *dataset.Dataset {
	ds := &dataset.Dataset{NumSessions: sessions}
	for i := range intercepts {
		id := i + 1
		ds.Subjects = append(ds.Subjects, dataset.Subject{ID: id})
		for s := 0; s < sessions; s++ {
			ds.Observations = append(ds.Observations, dataset.Observation{
				SubjectID: id,
				Session:   s,
				Value:     intercepts[i] + slopes[i]*float64(s),
			})
		}
	}
	return ds
}

func TestFullPoolingExactLine(t *testing.T) {
	// All subjects on the same line: OLS recovers it exactly.
	ds := lineDataset(4, []float64{5, 5, 5}, []float64{2, 2, 2})

	f, err := FullPooling(ds)
	require.NoError(t, err)

	assert.Equal(t, "full pooling", f.Label)
	assert.InDelta(t, 5, f.Fixed[0].Estimate, 1e-9)
	assert.InDelta(t, 2, f.Fixed[1].Estimate, 1e-9)
	assert.Nil(t, f.Random)
	assert.Equal(t, 3, f.NumParams)
	assert.Equal(t, 12, f.NumObs)
	assert.True(t, f.Converged)
}

func TestFullPoolingZeroResidualHasNoLikelihood(t *testing.T) {
	// A perfect fit has an unbounded Gaussian likelihood; the estimates stay
	// usable while the log-likelihood is reported as unavailable.
	ds := lineDataset(4, []float64{5, 5, 5}, []float64{2, 2, 2})

	f, err := FullPooling(ds)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(f.LogLik))
	assert.False(t, math.IsInf(f.LogLik, 0))
	assert.InDelta(t, 5, f.Fixed[0].Estimate, 1e-9)
	assert.InDelta(t, 2, f.Fixed[1].Estimate, 1e-9)
}

func TestFullPoolingEmptyDataset(t *testing.T) {
	_, err := FullPooling(&dataset.Dataset{})
	assert.Error(t, err)
}

func TestNoPoolingPerSubjectLines(t *testing.T) {
	ds := lineDataset(5, []float64{10, 20, 30}, []float64{-1, 0, 1})

	res, err := NoPooling(ds)
	require.NoError(t, err)
	require.Len(t, res.PerSubject, 3)

	for i, sf := range res.PerSubject {
		require.NoError(t, sf.Err)
		require.NotNil(t, sf.Fit)
		assert.InDelta(t, float64(10*(i+1)), sf.Fit.Fixed[0].Estimate, 1e-9)
		assert.InDelta(t, float64(i-1), sf.Fit.Fixed[1].Estimate, 1e-9)
	}
	assert.Equal(t, 9, res.NumParams) // intercept, slope, residual SD per subject
}

func TestNoPoolingInsufficientGroup(t *testing.T) {
	ds := lineDataset(5, []float64{10, 20, 30}, []float64{-1, 0, 1})
	// Truncate subject 2 to a single observation.
	var obs []dataset.Observation
	for _, o := range ds.Observations {
		if o.SubjectID == 2 && o.Session > 0 {
			continue
		}
		obs = append(obs, o)
	}
	truncated := &dataset.Dataset{
		Subjects:     ds.Subjects,
		Observations: obs,
		NumSessions:  ds.NumSessions,
	}

	res, err := NoPooling(truncated)
	require.Error(t, err)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient), "want InsufficientDataError, got %T", err)
	assert.Equal(t, 2, insufficient.SubjectID)
	assert.Equal(t, 1, insufficient.Observations)
	assert.Equal(t, 2, insufficient.Required)

	// Other subjects' fits are unaffected.
	require.NotNil(t, res)
	require.Len(t, res.PerSubject, 3)
	for _, sf := range res.PerSubject {
		if sf.SubjectID == 2 {
			assert.Error(t, sf.Err)
			assert.Nil(t, sf.Fit)
			continue
		}
		assert.NoError(t, sf.Err)
		require.NotNil(t, sf.Fit)
	}
}

func TestFittedValuesFullPooling(t *testing.T) {
	ds := lineDataset(3, []float64{5, 5}, []float64{2, 2})
	f, err := FullPooling(ds)
	require.NoError(t, err)

	fitted := f.FittedValues(ds)
	require.Len(t, fitted, ds.Len())
	for i, obs := range ds.Observations {
		assert.InDelta(t, obs.Value, fitted[i], 1e-9)
	}
}
