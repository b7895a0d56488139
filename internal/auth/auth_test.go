package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeprint/internal/keystroke"
	"typeprint/internal/profile"
	"typeprint/internal/train"
)

// trainedModel builds a real model from a consistent synthetic typist.
func trainedModel(t *testing.T) *profile.Model {
	t.Helper()

	base := []float64{0.08, 0.02, 0.12, 0.03, 6.5, 7.0}
	positives := make([]keystroke.FeatureVector, 60)
	for i := range positives {
		vals := make([]float64, len(base))
		for j, b := range base {
			vals[j] = b * (1 + 0.03*float64((i*7+j*3)%9-4)/4)
		}
		v, err := keystroke.FromValues(vals)
		require.NoError(t, err)
		positives[i] = v
	}

	model, err := train.New(train.Options{Seed: 42}, nil).TrainVectors(1, positives, 0)
	require.NoError(t, err)
	return model
}

func genuineProbe(t *testing.T) keystroke.FeatureVector {
	t.Helper()
	v, err := keystroke.FromValues([]float64{0.08, 0.02, 0.12, 0.03, 6.5, 7.0})
	require.NoError(t, err)
	return v
}

func impostorProbe(t *testing.T) keystroke.FeatureVector {
	t.Helper()
	// A wildly different typist: every timing several sigma away.
	v, err := keystroke.FromValues([]float64{0.30, 0.10, 0.55, 0.20, 1.8, 28.0})
	require.NoError(t, err)
	return v
}

func TestAuthenticateAcceptsGenuineRhythm(t *testing.T) {
	model := trainedModel(t)

	res, err := New(nil).Authenticate(model, genuineProbe(t), 0)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.GreaterOrEqual(t, res.Confidence, DefaultThreshold)
	assert.Equal(t, DefaultThreshold, res.Threshold)
	assert.InDelta(t, 1.0, res.FeatureScore, 1e-9, "probe at the genuine mean carries no feature penalty")
}

func TestAuthenticateRejectsImpostorRhythm(t *testing.T) {
	model := trainedModel(t)

	res, err := New(nil).Authenticate(model, impostorProbe(t), 0)
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Less(t, res.Confidence, DefaultThreshold)
	// Every feature sits far beyond three sigma, so each pays the
	// maximum per-feature penalty.
	assert.InDelta(t, 0.7, res.FeatureScore, 1e-9)
}

func TestAuthenticateConfidenceBounds(t *testing.T) {
	model := trainedModel(t)

	for _, probe := range []keystroke.FeatureVector{genuineProbe(t), impostorProbe(t)} {
		res, err := New(nil).Authenticate(model, probe, 0)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, res.Confidence, 0.05)
		assert.LessOrEqual(t, res.Confidence, 0.95)
		assert.GreaterOrEqual(t, res.KNNScore, 0.1)
		assert.LessOrEqual(t, res.KNNScore, 0.9)
		assert.GreaterOrEqual(t, res.DistanceScore, 0.1)
		assert.LessOrEqual(t, res.DistanceScore, 0.9)
		assert.GreaterOrEqual(t, res.FeatureScore, 0.2)
		assert.LessOrEqual(t, res.FeatureScore, 1.0)
	}
}

func TestAuthenticateKNNScoreNeverSaturates(t *testing.T) {
	model := trainedModel(t)

	res, err := New(nil).Authenticate(model, genuineProbe(t), 0)
	require.NoError(t, err)

	// A unanimous posterior of 1.0 moderates to 0.5 + 0.4*0.8.
	assert.InDelta(t, 0.82, res.KNNScore, 1e-9)
}

func TestAuthenticateCustomThreshold(t *testing.T) {
	model := trainedModel(t)

	strict, err := New(nil).Authenticate(model, genuineProbe(t), 0.95)
	require.NoError(t, err)
	lax, err := New(nil).Authenticate(model, genuineProbe(t), 0.10)
	require.NoError(t, err)

	assert.Equal(t, strict.Confidence, lax.Confidence, "threshold must not change the score")
	assert.True(t, lax.Accepted)
	if strict.Confidence < 0.95 {
		assert.False(t, strict.Accepted)
	}
}

func TestAuthenticateInvalidInput(t *testing.T) {
	model := trainedModel(t)

	_, err := New(nil).Authenticate(model, keystroke.FeatureVector{}, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(nil).Authenticate(model, genuineProbe(t), 1.5)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(nil).Authenticate(nil, genuineProbe(t), 0)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestWeightsFor(t *testing.T) {
	cases := []struct {
		n    int
		want Weights
	}{
		{5, Weights{KNN: 0.30, Distance: 0.50, Feature: 0.20}},
		{14, Weights{KNN: 0.30, Distance: 0.50, Feature: 0.20}},
		{15, Weights{KNN: 0.35, Distance: 0.40, Feature: 0.25}},
		{29, Weights{KNN: 0.35, Distance: 0.40, Feature: 0.25}},
		{30, Weights{KNN: 0.40, Distance: 0.35, Feature: 0.25}},
		{500, Weights{KNN: 0.40, Distance: 0.35, Feature: 0.25}},
	}
	for _, tc := range cases {
		got := WeightsFor(tc.n)
		assert.Equalf(t, tc.want, got, "weights for %d samples", tc.n)
		assert.InDelta(t, 1.0, got.KNN+got.Distance+got.Feature, 1e-9)
	}
}

func TestFeatureScoreGradual(t *testing.T) {
	mean := []float64{1, 1, 1, 1, 1, 1}
	std := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}

	atMean := featureScore(mean, std, []float64{1, 1, 1, 1, 1, 1})
	assert.InDelta(t, 1.0, atMean, 1e-9)

	// One feature at exactly 2 sigma: penalty 0.05 spread over 6 features.
	oneOff := featureScore(mean, std, []float64{2, 1, 1, 1, 1, 1})
	assert.InDelta(t, 1.0-0.05/6, oneOff, 1e-9)

	// At 2.5 sigma the steeper middle stage applies: 0.05 + 0.1*0.5.
	midOff := featureScore(mean, std, []float64{2.5, 1, 1, 1, 1, 1})
	assert.InDelta(t, 1.0-0.10/6, midOff, 1e-9)

	// Far beyond 3 sigma the per-feature penalty caps at 0.3.
	farOff := featureScore(mean, std, []float64{100, 1, 1, 1, 1, 1})
	assert.InDelta(t, 1.0-0.3/6, farOff, 1e-9)
}
