// Package auth scores an authentication attempt against a trained
// typing-rhythm model.
//
// The confidence is a weighted fusion of three sub-scores: the
// classifier posterior, a distance score against the genuine support
// set, and a per-feature deviation score against the raw genuine
// statistics. The fusion weights adapt to how much genuine data the
// model was trained on.
package auth

import (
	"errors"
	"fmt"
	"math"

	"typeprint/internal/keystroke"
	"typeprint/internal/knn"
	"typeprint/internal/logging"
	"typeprint/internal/profile"
)

// DefaultThreshold is the standard acceptance threshold.
const DefaultThreshold = 0.75

// Authentication errors.
var (
	// ErrNoModel is returned when no trained model exists for the user.
	ErrNoModel = errors.New("no trained model for user")

	// ErrInvalidInput is returned when the presented features cannot be
	// scored.
	ErrInvalidInput = errors.New("invalid authentication input")
)

// Weights are the fusion weights applied to the three sub-scores.
// They sum to 1.
type Weights struct {
	KNN      float64 `json:"knn"`
	Distance float64 `json:"distance"`
	Feature  float64 `json:"feature"`
}

// weightTiers maps training-set size to fusion weights. With little
// genuine data the classifier posterior is noisy, so the distance score
// carries more of the decision; as data grows the posterior takes over.
// Ordered by ascending MinSamples; the last tier whose MinSamples is
// satisfied wins.
var weightTiers = []struct {
	MinSamples int
	Weights    Weights
}{
	{0, Weights{KNN: 0.30, Distance: 0.50, Feature: 0.20}},
	{15, Weights{KNN: 0.35, Distance: 0.40, Feature: 0.25}},
	{30, Weights{KNN: 0.40, Distance: 0.35, Feature: 0.25}},
}

// WeightsFor returns the fusion weights for a model trained on n
// genuine samples.
func WeightsFor(n int) Weights {
	w := weightTiers[0].Weights
	for _, tier := range weightTiers {
		if n >= tier.MinSamples {
			w = tier.Weights
		}
	}
	return w
}

// Result is the outcome of one authentication attempt. All scores are
// in [0,1]; Confidence is additionally clamped to [0.05, 0.95] so no
// decision is ever reported as certain.
type Result struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`

	KNNScore      float64 `json:"knn_score"`
	DistanceScore float64 `json:"distance_score"`
	FeatureScore  float64 `json:"feature_score"`
	Weights       Weights `json:"weights"`
}

// Authenticator scores attempts against models.
type Authenticator struct {
	log *logging.Logger
}

// New creates an authenticator. A nil logger uses the default.
func New(log *logging.Logger) *Authenticator {
	if log == nil {
		log = logging.Default()
	}
	return &Authenticator{log: log.WithComponent("auth")}
}

// Authenticate scores the presented features against the model and
// accepts when the fused confidence reaches the threshold. A threshold
// of 0 means DefaultThreshold.
func (a *Authenticator) Authenticate(model *profile.Model, features keystroke.FeatureVector, threshold float64) (*Result, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoModel, err)
	}
	if features.IsEmpty() || !features.Valid() {
		return nil, fmt.Errorf("%w: empty or non-finite feature vector", ErrInvalidInput)
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidInput, threshold)
	}

	normalized, err := model.Normalizer.TransformVector(features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	knnScore, err := knnScore(model.Classifier, normalized)
	if err != nil {
		return nil, fmt.Errorf("classifier score: %w", err)
	}
	distScore := distanceScore(model.Classifier.GenuineSupport(), normalized)
	featScore := featureScore(model.RawGenuineMean, model.RawGenuineStd, features.Values())

	w := WeightsFor(model.GenuineCount)
	confidence := w.KNN*knnScore + w.Distance*distScore + w.Feature*featScore
	confidence = clamp(confidence, 0.05, 0.95)

	res := &Result{
		Accepted:      confidence >= threshold,
		Confidence:    confidence,
		Threshold:     threshold,
		KNNScore:      knnScore,
		DistanceScore: distScore,
		FeatureScore:  featScore,
		Weights:       w,
	}

	a.log.Info("authentication attempt scored",
		"user_id", model.UserID,
		"accepted", res.Accepted,
		"confidence", confidence,
		"knn_score", knnScore,
		"distance_score", distScore,
		"feature_score", featScore,
	)
	return res, nil
}

// knnScore moderates the classifier posterior: clamp to [0.1, 0.9] and
// shrink 20% toward 0.5, so a handful of neighbors can never saturate
// the fused confidence on its own.
func knnScore(clf *knn.Classifier, x []float64) (float64, error) {
	p, err := clf.Proba(x)
	if err != nil {
		return 0, err
	}
	p = clamp(p, 0.1, 0.9)
	return 0.5 + (p-0.5)*0.8, nil
}

// distanceScore maps the distance to the nearest genuine support vector
// through a sigmoid. The distance is normalized by the mean pairwise
// distance inside the genuine support, so "close" is judged relative to
// the user's own consistency.
func distanceScore(genuine [][]float64, x []float64) float64 {
	if len(genuine) == 0 {
		return 0.1
	}

	nearest := math.Inf(1)
	for _, g := range genuine {
		if d := knn.Euclidean(x, g); d < nearest {
			nearest = d
		}
	}

	intra := meanIntraDistance(genuine)
	normDist := nearest / (intra + 1e-6)

	score := 1.0 / (1.0 + math.Exp(normDist-1.5))
	return clamp(score, 0.1, 0.9)
}

// meanIntraDistance is the mean pairwise Euclidean distance of the
// genuine support. A single support vector yields 0; the caller's
// epsilon keeps the ratio finite.
func meanIntraDistance(genuine [][]float64) float64 {
	if len(genuine) < 2 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i < len(genuine); i++ {
		for j := i + 1; j < len(genuine); j++ {
			sum += knn.Euclidean(genuine[i], genuine[j])
			count++
		}
	}
	return sum / float64(count)
}

// featureScore penalizes per-feature deviation from the raw genuine
// mean. Within one standard deviation a feature contributes no penalty;
// beyond that the penalty steepens in stages and caps at 0.3 so no
// single feature can dominate. The score floors at 0.2 rather than 0
// because raw timing features are individually weak evidence.
func featureScore(mean, std, raw []float64) float64 {
	if len(raw) != len(mean) {
		return 0.2
	}

	var penalty float64
	for i := range raw {
		sigma := std[i]
		if floor := 0.1 * math.Abs(mean[i]); sigma < floor {
			sigma = floor
		}
		if sigma < 1e-8 {
			sigma = 1e-8
		}

		z := math.Abs(raw[i]-mean[i]) / sigma
		var p float64
		switch {
		case z <= 1:
			p = 0
		case z <= 2:
			p = 0.05 * (z - 1)
		case z <= 3:
			p = 0.05 + 0.1*(z-2)
		default:
			p = 0.15 + 0.15*math.Min(z-3, 2)
		}
		if p > 0.3 {
			p = 0.3
		}
		penalty += p
	}

	score := 1 - penalty/float64(len(raw))
	if score < 0.2 {
		score = 0.2
	}
	return score
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
