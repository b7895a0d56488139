package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labeled(label Label, scores ...float64) []Attempt {
	out := make([]Attempt, len(scores))
	for i, s := range scores {
		out[i] = Attempt{Label: label, Score: s}
	}
	return out
}

func TestEvaluateSweepShape(t *testing.T) {
	attempts := append(
		labeled(LabelGenuine, 0.9, 0.85, 0.8),
		labeled(LabelImpostor, 0.2, 0.15, 0.3)...,
	)

	report, err := Evaluate(attempts, 0.75)
	require.NoError(t, err)

	// 0.10 through 0.95 inclusive in 0.05 steps.
	require.Len(t, report.Sweep, 18)
	assert.InDelta(t, 0.10, report.Sweep[0].Threshold, 1e-9)
	assert.InDelta(t, 0.95, report.Sweep[len(report.Sweep)-1].Threshold, 1e-9)
	assert.Equal(t, 3, report.GenuineCount)
	assert.Equal(t, 3, report.ImpostorCount)
}

func TestEvaluateMonotonicErrorRates(t *testing.T) {
	attempts := append(
		labeled(LabelGenuine, 0.92, 0.81, 0.77, 0.85, 0.6, 0.71),
		labeled(LabelImpostor, 0.12, 0.33, 0.45, 0.2, 0.55, 0.28)...,
	)

	report, err := Evaluate(attempts, 0.75)
	require.NoError(t, err)

	for i := 1; i < len(report.Sweep); i++ {
		prev, cur := report.Sweep[i-1], report.Sweep[i]
		assert.LessOrEqual(t, cur.FAR, prev.FAR, "FAR must not increase with threshold")
		assert.GreaterOrEqual(t, cur.FRR, prev.FRR, "FRR must not decrease with threshold")
	}
}

func TestEvaluateSeparableScores(t *testing.T) {
	// Genuine clustered near 0.8, impostors near 0.2: a mid threshold
	// separates them perfectly.
	attempts := append(
		labeled(LabelGenuine, 0.78, 0.80, 0.82, 0.79, 0.81, 0.83, 0.77, 0.80, 0.84, 0.79),
		labeled(LabelImpostor, 0.18, 0.20, 0.22, 0.19, 0.21, 0.23, 0.17, 0.20, 0.24, 0.19)...,
	)

	report, err := Evaluate(attempts, 0.75)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, report.Optimal.EER, 1e-9)
	assert.Greater(t, report.Optimal.Threshold, 0.24)
	assert.Less(t, report.Optimal.Threshold, 0.78)
	assert.InDelta(t, 1.0, report.ROCAUC, 1e-9)
}

func TestEvaluateAtThreshold(t *testing.T) {
	attempts := append(
		labeled(LabelGenuine, 0.9, 0.7),
		labeled(LabelImpostor, 0.3, 0.8)...,
	)

	report, err := Evaluate(attempts, 0.75)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, report.AtThreshold.Threshold, 1e-9)
	// At 0.75: genuine 0.9 accepted, 0.7 rejected; impostor 0.8 accepted.
	assert.InDelta(t, 0.5, report.AtThreshold.FAR, 1e-9)
	assert.InDelta(t, 0.5, report.AtThreshold.FRR, 1e-9)
}

func TestEvaluateSingleClass(t *testing.T) {
	report, err := Evaluate(labeled(LabelGenuine, 0.8, 0.9), 0.75)
	require.NoError(t, err)
	assert.True(t, report.NoImpostors)
	assert.False(t, report.NoGenuine)
	assert.Zero(t, report.ROCAUC)
	for _, p := range report.Sweep {
		assert.Zero(t, p.FAR, "FAR must stay 0 with no impostors")
	}

	report, err = Evaluate(labeled(LabelImpostor, 0.1, 0.2), 0.75)
	require.NoError(t, err)
	assert.True(t, report.NoGenuine)
	assert.False(t, report.NoImpostors)
}

func TestEvaluateEmpty(t *testing.T) {
	_, err := Evaluate(nil, 0.75)
	assert.ErrorIs(t, err, ErrNoAttempts)
}

func TestROCEndpoints(t *testing.T) {
	attempts := append(
		labeled(LabelGenuine, 0.9, 0.6, 0.4),
		labeled(LabelImpostor, 0.5, 0.3, 0.1)...,
	)

	points, auc := ROC(attempts)
	require.NotEmpty(t, points)

	first, last := points[0], points[len(points)-1]
	assert.Zero(t, first.FPR)
	assert.Zero(t, first.TPR)
	assert.InDelta(t, 1.0, last.FPR, 1e-9)
	assert.InDelta(t, 1.0, last.TPR, 1e-9)
	assert.Greater(t, auc, 0.5, "mostly-ordered scores should beat chance")
	assert.LessOrEqual(t, auc, 1.0)
}

func TestROCTiedScores(t *testing.T) {
	// One genuine and one impostor share a score; the curve must move
	// diagonally through the tie, giving AUC strictly between the
	// all-or-nothing extremes.
	attempts := []Attempt{
		{Label: LabelGenuine, Score: 0.8},
		{Label: LabelGenuine, Score: 0.5},
		{Label: LabelImpostor, Score: 0.5},
		{Label: LabelImpostor, Score: 0.2},
	}

	_, auc := ROC(attempts)
	assert.InDelta(t, 0.875, auc, 1e-9)
}
