// Package knn implements the k-nearest-neighbors classifier and the
// feature normalizer that together form the persisted classifier state
// of a typing-rhythm model.
package knn

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Class labels. The genuine user is the positive class.
const (
	LabelImpostor = 0
	LabelGenuine  = 1
)

// Metric selects the distance function.
type Metric string

const (
	// MetricEuclidean is straight-line distance.
	MetricEuclidean Metric = "euclidean"
	// MetricManhattan is city-block distance.
	MetricManhattan Metric = "manhattan"
)

// Weighting selects how neighbor votes are weighted.
type Weighting string

const (
	// WeightUniform counts every neighbor equally.
	WeightUniform Weighting = "uniform"
	// WeightDistance weights neighbors by inverse distance.
	WeightDistance Weighting = "distance"
)

// ErrNotFitted is returned when predicting with an unfitted classifier.
var ErrNotFitted = errors.New("classifier has not been fitted")

// Params are the classifier hyperparameters chosen by the trainer.
type Params struct {
	K         int       `json:"k"`
	Weighting Weighting `json:"weighting"`
	Metric    Metric    `json:"metric"`
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if p.K < 1 {
		return fmt.Errorf("k must be >= 1, got %d", p.K)
	}
	switch p.Weighting {
	case WeightUniform, WeightDistance:
	default:
		return fmt.Errorf("unknown weighting %q", p.Weighting)
	}
	switch p.Metric {
	case MetricEuclidean, MetricManhattan:
	default:
		return fmt.Errorf("unknown metric %q", p.Metric)
	}
	return nil
}

// Classifier is a KNN over a stored support matrix. Fitting stores the
// (normalized) vectors and labels; prediction votes among the k nearest.
// A fitted classifier is immutable and safe for concurrent prediction.
type Classifier struct {
	Params  Params      `json:"params"`
	Support [][]float64 `json:"support"`
	Labels  []int       `json:"labels"`
}

// NewClassifier creates an unfitted classifier with the given parameters.
func NewClassifier(p Params) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{Params: p}, nil
}

// Fit stores the support matrix and labels. K is capped at the support
// size.
func (c *Classifier) Fit(matrix [][]float64, labels []int) error {
	if len(matrix) == 0 {
		return fmt.Errorf("fit: empty training matrix")
	}
	if len(matrix) != len(labels) {
		return fmt.Errorf("fit: %d rows but %d labels", len(matrix), len(labels))
	}
	c.Support = matrix
	c.Labels = labels
	if c.Params.K > len(matrix) {
		c.Params.K = len(matrix)
	}
	return nil
}

// Fitted reports whether the classifier holds support data.
func (c *Classifier) Fitted() bool {
	return len(c.Support) > 0
}

// Proba returns the posterior probability of the genuine class at x.
func (c *Classifier) Proba(x []float64) (float64, error) {
	if !c.Fitted() {
		return 0, ErrNotFitted
	}
	if len(x) != len(c.Support[0]) {
		return 0, fmt.Errorf("proba: want %d components, got %d", len(c.Support[0]), len(x))
	}

	type neighbor struct {
		dist  float64
		label int
	}
	neighbors := make([]neighbor, len(c.Support))
	for i, row := range c.Support {
		neighbors[i] = neighbor{dist: c.distance(x, row), label: c.Labels[i]}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].dist < neighbors[j].dist })

	k := c.Params.K
	if k > len(neighbors) {
		k = len(neighbors)
	}

	var genuine, total float64
	for _, nb := range neighbors[:k] {
		w := 1.0
		if c.Params.Weighting == WeightDistance {
			// An exact hit has infinite weight and decides alone.
			if nb.dist == 0 {
				if nb.label == LabelGenuine {
					return 1, nil
				}
				return 0, nil
			}
			w = 1.0 / nb.dist
		}
		if nb.label == LabelGenuine {
			genuine += w
		}
		total += w
	}
	if total == 0 {
		return 0.5, nil
	}
	return genuine / total, nil
}

// Predict returns the majority-vote label at x.
func (c *Classifier) Predict(x []float64) (int, error) {
	p, err := c.Proba(x)
	if err != nil {
		return 0, err
	}
	if p >= 0.5 {
		return LabelGenuine, nil
	}
	return LabelImpostor, nil
}

// GenuineSupport returns the support rows labeled genuine.
func (c *Classifier) GenuineSupport() [][]float64 {
	var rows [][]float64
	for i, row := range c.Support {
		if c.Labels[i] == LabelGenuine {
			rows = append(rows, row)
		}
	}
	return rows
}

func (c *Classifier) distance(a, b []float64) float64 {
	switch c.Params.Metric {
	case MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(a[i] - b[i])
		}
		return sum
	default:
		var ss float64
		for i := range a {
			d := a[i] - b[i]
			ss += d * d
		}
		return math.Sqrt(ss)
	}
}

// Euclidean is the plain straight-line distance between two vectors.
// Exposed for the distance sub-score, which is always Euclidean
// regardless of the classifier metric.
func Euclidean(a, b []float64) float64 {
	var ss float64
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}
