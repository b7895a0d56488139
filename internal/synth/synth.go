// Package synth generates synthetic impostor feature vectors.
//
// Only the genuine user's samples exist at enrollment time, so a
// discriminative classifier has nothing to discriminate against. The
// synthesizer manufactures a "not this user" class by perturbing the
// genuine distribution with three strategies of increasing distance:
// near variants, coherent style variants, and far/unstable variants.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"typeprint/internal/keystroke"
	"typeprint/internal/logging"
)

// ErrNoPositives is returned when synthesis is attempted with no input.
var ErrNoPositives = errors.New("no positive vectors to synthesize from")

// Strategy produces one synthetic impostor vector from the genuine
// distribution statistics. Strategies are pure given the RNG.
type Strategy func(rng *rand.Rand, mean, std []float64) []float64

// strategyMix pairs a strategy with the fraction of the output it
// contributes. Fractions sum to 1.
type strategyMix struct {
	name     string
	fraction float64
	fn       Strategy
}

// Synthesizer generates impostor vectors from genuine ones.
type Synthesizer struct {
	// Ratio is the number of negatives generated per positive.
	Ratio float64

	rng *rand.Rand
	log *logging.Logger
}

// New creates a synthesizer. seed 0 means a random seed. ratio outside
// (0, 4] falls back to 1:1.
func New(ratio float64, seed int64, log *logging.Logger) *Synthesizer {
	if ratio <= 0 || ratio > 4 {
		ratio = 1.0
	}
	if seed == 0 {
		seed = rand.Int63()
	}
	if log == nil {
		log = logging.Default()
	}
	return &Synthesizer{
		Ratio: ratio,
		rng:   rand.New(rand.NewSource(seed)),
		log:   log.WithComponent("synth"),
	}
}

// QualityReport summarizes how far the synthetic class sits from the
// genuine class. Too-close negatives make the classifier trivially
// perfect; too-far negatives make FAR meaningless.
type QualityReport struct {
	Generated    int     `json:"generated"`
	MinDistance  float64 `json:"min_distance"`
	MeanDistance float64 `json:"mean_distance"`
	MaxDistance  float64 `json:"max_distance"`
}

// Generate produces synthetic impostor vectors from the positives and a
// distance quality report. Every output component is strictly positive.
func (s *Synthesizer) Generate(positives []keystroke.FeatureVector) ([]keystroke.FeatureVector, QualityReport, error) {
	if len(positives) == 0 {
		return nil, QualityReport{}, ErrNoPositives
	}

	mean, std := classStats(positives)
	// Floor the spread so zero-variance features still perturb.
	for i := range std {
		floor := 0.1 * mean[i]
		if std[i] < floor {
			std[i] = floor
		}
	}

	total := int(math.Round(float64(len(positives)) * s.Ratio))
	if total < 1 {
		total = 1
	}

	mixes := []strategyMix{
		{name: "near", fraction: 0.35, fn: nearVariant},
		{name: "style", fraction: 0.35, fn: styleVariant},
		{name: "far", fraction: 0.30, fn: farVariant},
	}

	negatives := make([]keystroke.FeatureVector, 0, total)
	produced := 0
	for i, mix := range mixes {
		count := int(math.Round(float64(total) * mix.fraction))
		if i == len(mixes)-1 {
			count = total - produced // remainder goes to the last strategy
		}
		for j := 0; j < count; j++ {
			vals := mix.fn(s.rng, mean, std)
			clampPositive(vals, mean)
			v, err := keystroke.FromValues(vals)
			if err != nil {
				return nil, QualityReport{}, fmt.Errorf("assemble negative: %w", err)
			}
			negatives = append(negatives, v)
		}
		produced += count
	}

	report := distanceReport(negatives, positives)
	s.log.Info("synthesized impostor class",
		"positives", len(positives),
		"negatives", report.Generated,
		"min_distance", report.MinDistance,
		"mean_distance", report.MeanDistance,
	)

	return negatives, report, nil
}

// nearVariant perturbs 1-3 random dimensions by a moderate factor plus
// noise scaled by the genuine spread. Models a close impostor.
func nearVariant(rng *rand.Rand, mean, std []float64) []float64 {
	out := make([]float64, len(mean))
	copy(out, mean)

	nChanged := 1 + rng.Intn(3)
	for _, idx := range rng.Perm(len(mean))[:nChanged] {
		factor := 0.6 + rng.Float64()*1.2 // 0.6x - 1.8x
		out[idx] = mean[idx] * factor
	}
	for i := range out {
		out[i] += rng.NormFloat64() * std[i] * 0.4
	}
	return out
}

// styleVariant applies a coherent multiplicative profile across all
// dimensions: a systematically faster or slower typist.
func styleVariant(rng *rand.Rand, mean, std []float64) []float64 {
	var factors [keystroke.NumFeatures]float64
	if rng.Float64() < 0.5 {
		// Faster typist: shorter dwell and flight, higher speed.
		factors = [keystroke.NumFeatures]float64{
			uniform(rng, 0.6, 0.9),
			uniform(rng, 0.7, 1.2),
			uniform(rng, 0.5, 0.8),
			uniform(rng, 0.6, 1.3),
			uniform(rng, 1.1, 1.8),
			uniform(rng, 0.6, 0.9),
		}
	} else {
		// Slower typist: the inverse profile.
		factors = [keystroke.NumFeatures]float64{
			uniform(rng, 1.1, 1.6),
			uniform(rng, 0.8, 1.5),
			uniform(rng, 1.2, 2.0),
			uniform(rng, 1.0, 1.8),
			uniform(rng, 0.5, 0.9),
			uniform(rng, 1.1, 1.7),
		}
	}

	out := make([]float64, len(mean))
	for i := range out {
		out[i] = mean[i]*factors[i] + rng.NormFloat64()*std[i]*0.3
	}
	return out
}

// farVariant applies a large multiplicative spread with inflated noise,
// modeling a clearly different typist.
func farVariant(rng *rand.Rand, mean, std []float64) []float64 {
	out := make([]float64, len(mean))
	for i := range out {
		factor := uniform(rng, 0.2, 4.0)
		out[i] = mean[i]*factor + rng.NormFloat64()*std[i]*0.6
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// clampPositive floors every component at 1% of the genuine mean (with a
// small absolute floor) so no synthetic time is zero or negative.
func clampPositive(vals, mean []float64) {
	for i := range vals {
		floor := 0.01 * mean[i]
		if floor < 1e-6 {
			floor = 1e-6
		}
		if vals[i] < floor {
			vals[i] = floor
		}
	}
}

// classStats computes per-dimension mean and population std of a class.
func classStats(vs []keystroke.FeatureVector) (mean, std []float64) {
	n := float64(len(vs))
	mean = make([]float64, keystroke.NumFeatures)
	std = make([]float64, keystroke.NumFeatures)

	for _, v := range vs {
		for i, x := range v.Values() {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= n
	}
	for _, v := range vs {
		for i, x := range v.Values() {
			d := x - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
	}
	return mean, std
}

// distanceReport measures the Euclidean distance from each negative to
// its nearest positive.
func distanceReport(negatives, positives []keystroke.FeatureVector) QualityReport {
	report := QualityReport{
		Generated:   len(negatives),
		MinDistance: math.Inf(1),
	}
	if len(negatives) == 0 {
		report.MinDistance = 0
		return report
	}

	var sum float64
	for _, neg := range negatives {
		nearest := math.Inf(1)
		nv := neg.Values()
		for _, pos := range positives {
			d := euclidean(nv, pos.Values())
			if d < nearest {
				nearest = d
			}
		}
		if nearest < report.MinDistance {
			report.MinDistance = nearest
		}
		if nearest > report.MaxDistance {
			report.MaxDistance = nearest
		}
		sum += nearest
	}
	report.MeanDistance = sum / float64(len(negatives))
	return report
}

func euclidean(a, b []float64) float64 {
	var ss float64
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}
