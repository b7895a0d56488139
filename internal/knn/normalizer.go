package knn

import (
	"errors"
	"fmt"
	"math"

	"typeprint/internal/keystroke"
)

// scaleEpsilon is the absolute floor for a normalizer scale component.
const scaleEpsilon = 1e-8

// ErrDegenerateData is returned when a feature dimension cannot be
// normalized even after flooring. This is an internal invariant
// violation, not an expected user-facing path.
var ErrDegenerateData = errors.New("degenerate data: zero-variance feature survived the scale floor")

// Normalizer holds the fitted per-dimension mean and scale of the
// combined training set. It is persisted with the model: scoring must
// use the normalizer stored with the model that produced the match,
// never a freshly refit one.
type Normalizer struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitNormalizer computes per-dimension mean and standard deviation over
// the combined positive+negative matrix. The scale is floored at
// max(0.1*|mean|, epsilon) to avoid division blow-up on near-constant
// features.
func FitNormalizer(matrix [][]float64) (*Normalizer, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("fit normalizer: empty matrix")
	}
	dim := len(matrix[0])
	n := float64(len(matrix))

	mean := make([]float64, dim)
	scale := make([]float64, dim)

	for _, row := range matrix {
		if len(row) != dim {
			return nil, fmt.Errorf("fit normalizer: ragged matrix")
		}
		for i, x := range row {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= n
	}
	for _, row := range matrix {
		for i, x := range row {
			d := x - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / n)
		floor := 0.1 * math.Abs(mean[i])
		if floor < scaleEpsilon {
			floor = scaleEpsilon
		}
		if scale[i] < floor {
			scale[i] = floor
		}
		if scale[i] <= 0 || math.IsNaN(scale[i]) {
			return nil, fmt.Errorf("%w: dimension %d", ErrDegenerateData, i)
		}
	}

	return &Normalizer{Mean: mean, Scale: scale}, nil
}

// Dim returns the normalizer's dimensionality.
func (n *Normalizer) Dim() int { return len(n.Mean) }

// Transform maps a raw vector into normalized space: (x - mean) / scale.
func (n *Normalizer) Transform(x []float64) ([]float64, error) {
	if len(x) != n.Dim() {
		return nil, fmt.Errorf("transform: want %d components, got %d", n.Dim(), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - n.Mean[i]) / n.Scale[i]
	}
	return out, nil
}

// Inverse maps a normalized vector back to raw space.
func (n *Normalizer) Inverse(z []float64) ([]float64, error) {
	if len(z) != n.Dim() {
		return nil, fmt.Errorf("inverse: want %d components, got %d", n.Dim(), len(z))
	}
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = v*n.Scale[i] + n.Mean[i]
	}
	return out, nil
}

// TransformVector is a convenience for feature vectors.
func (n *Normalizer) TransformVector(v keystroke.FeatureVector) ([]float64, error) {
	return n.Transform(v.Values())
}

// TransformAll transforms every row of a matrix.
func (n *Normalizer) TransformAll(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		z, err := n.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = z
	}
	return out, nil
}
