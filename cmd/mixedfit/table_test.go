package main

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixedfit/internal/compare"
	"mixedfit/internal/fit"
)

func TestVariantRowMixedFit(t *testing.T) {
	v := compare.VariantResult{
		Label: "random intercept + slope",
		Fit: &fit.Fit{
			Label: "random intercept + slope",
			Fixed: []fit.FixedEffect{
				{Name: "intercept", Estimate: 601.2, StdErr: 9.8},
				{Name: "session", Estimate: -7.5, StdErr: 4.6},
			},
			Random:    &fit.RandomEffects{InterceptSD: 48.1, SlopeSD: 24.3, Corr: 0.18},
			Converged: true,
		},
		AIC: 1480.2,
	}

	row := variantRow(v)
	require.Len(t, row, len(reportHeaders))
	assert.Equal(t, "random intercept + slope", row[0])
	assert.Contains(t, row[2], "-7.50")
	assert.Contains(t, row[2], "4.60")
	assert.Equal(t, "24.3", row[4])
	assert.Equal(t, "0.18", row[5])
	assert.Equal(t, "yes", row[7])
}

func TestVariantRowError(t *testing.T) {
	v := compare.VariantResult{
		Label: "no pooling",
		Err:   errors.New("subject 3 has 1 observation(s)"),
		AIC:   math.NaN(),
	}

	row := variantRow(v)
	require.Len(t, row, len(reportHeaders))
	assert.Contains(t, row[len(row)-1], "error:")
}

func TestReportTableView(t *testing.T) {
	table := newReportTable("Scenario: demo")
	table.AddRow("full pooling", "600.1 (4.10)", "-9.80 (1.20)", "-", "-", "-", "1550.3", "yes")

	out := table.View()
	for _, h := range reportHeaders {
		assert.Contains(t, out, h)
	}
	assert.Contains(t, out, "Scenario: demo")
	assert.True(t, strings.Contains(out, "full pooling"))
}
