package knn

import (
	"math"
	"testing"
)

func TestFitNormalizerRoundTrip(t *testing.T) {
	matrix := [][]float64{
		{0.08, 0.02, 0.12},
		{0.10, 0.03, 0.14},
		{0.06, 0.01, 0.10},
		{0.09, 0.02, 0.13},
	}

	n, err := FitNormalizer(matrix)
	if err != nil {
		t.Fatalf("FitNormalizer: %v", err)
	}
	if n.Dim() != 3 {
		t.Fatalf("Dim = %d, want 3", n.Dim())
	}

	for _, row := range matrix {
		z, err := n.Transform(row)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		back, err := n.Inverse(z)
		if err != nil {
			t.Fatalf("Inverse: %v", err)
		}
		for i := range row {
			if math.Abs(back[i]-row[i]) > 1e-12 {
				t.Errorf("round trip dim %d: %v != %v", i, back[i], row[i])
			}
		}
	}
}

func TestFitNormalizerCentersData(t *testing.T) {
	matrix := [][]float64{
		{1, 10},
		{3, 30},
		{5, 50},
	}

	n, err := FitNormalizer(matrix)
	if err != nil {
		t.Fatalf("FitNormalizer: %v", err)
	}

	// The transformed mean must be zero in every dimension.
	sums := make([]float64, 2)
	for _, row := range matrix {
		z, err := n.Transform(row)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		for i, v := range z {
			sums[i] += v
		}
	}
	for i, s := range sums {
		if math.Abs(s) > 1e-9 {
			t.Errorf("transformed dim %d does not center at zero: sum = %v", i, s)
		}
	}
}

func TestFitNormalizerConstantFeatureFloored(t *testing.T) {
	// Second dimension never varies; the scale floor must keep the
	// transform finite.
	matrix := [][]float64{
		{0.1, 5.0},
		{0.2, 5.0},
		{0.3, 5.0},
	}

	n, err := FitNormalizer(matrix)
	if err != nil {
		t.Fatalf("FitNormalizer: %v", err)
	}

	if want := 0.1 * 5.0; math.Abs(n.Scale[1]-want) > 1e-12 {
		t.Errorf("Scale[1] = %v, want floored to %v", n.Scale[1], want)
	}

	z, err := n.Transform([]float64{0.2, 6.0})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("transformed dim %d not finite: %v", i, v)
		}
	}
}

func TestFitNormalizerAllZeroFeature(t *testing.T) {
	matrix := [][]float64{
		{0.1, 0},
		{0.2, 0},
	}

	n, err := FitNormalizer(matrix)
	if err != nil {
		t.Fatalf("FitNormalizer: %v", err)
	}
	if n.Scale[1] != scaleEpsilon {
		t.Errorf("Scale[1] = %v, want absolute floor %v", n.Scale[1], scaleEpsilon)
	}
}

func TestFitNormalizerRejectsBadInput(t *testing.T) {
	if _, err := FitNormalizer(nil); err == nil {
		t.Error("FitNormalizer accepted empty matrix")
	}
	if _, err := FitNormalizer([][]float64{{1, 2}, {1}}); err == nil {
		t.Error("FitNormalizer accepted ragged matrix")
	}
}

func TestTransformDimensionMismatch(t *testing.T) {
	n, err := FitNormalizer([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("FitNormalizer: %v", err)
	}
	if _, err := n.Transform([]float64{1}); err == nil {
		t.Error("Transform accepted wrong dimensionality")
	}
	if _, err := n.Inverse([]float64{1, 2, 3}); err == nil {
		t.Error("Inverse accepted wrong dimensionality")
	}
}
