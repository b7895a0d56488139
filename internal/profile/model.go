// Package profile defines the trained typing-rhythm model artifact and
// its on-disk JSON representation.
//
// A Model is created only by a successful training run and is immutable
// afterwards; concurrent scoring against the same Model is safe.
// Retraining writes a whole new artifact and atomically replaces the old
// file, so no partially-trained model is ever observable.
package profile

import (
	"fmt"
	"time"

	"typeprint/internal/knn"
)

// SchemaVersion is the current model artifact schema version.
const SchemaVersion = 1

// TrainingReport records how the model was trained and how it scored on
// held-out data. It is persisted with the model for audit.
type TrainingReport struct {
	PositiveSamples int `json:"positive_samples"`
	NegativeSamples int `json:"negative_samples"`
	DroppedSamples  int `json:"dropped_samples"`

	// CVAccuracy is the cross-validated accuracy of the selected
	// hyperparameters on the training partition.
	CVAccuracy float64 `json:"cv_accuracy"`

	// SearchDegraded is set when the dataset was too small for a grid
	// search and the trainer fell back to fixed default parameters.
	SearchDegraded bool `json:"search_degraded,omitempty"`

	// Held-out test metrics.
	TestAccuracy  float64 `json:"test_accuracy"`
	TestPrecision float64 `json:"test_precision"`
	TestRecall    float64 `json:"test_recall"`
	TestF1        float64 `json:"test_f1"`

	// ROCAUC is the held-out ROC area; zero when a test class was empty.
	ROCAUC float64 `json:"roc_auc,omitempty"`

	// ROCPoints are (fpr, tpr) pairs of the held-out ROC curve.
	ROCPoints []ROCPoint `json:"roc_points,omitempty"`

	// Negative-synthesis distance quality.
	SynthMinDistance  float64 `json:"synth_min_distance"`
	SynthMeanDistance float64 `json:"synth_mean_distance"`

	TrainedAt time.Time     `json:"trained_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// ROCPoint is one point of a ROC curve.
type ROCPoint struct {
	FPR float64 `json:"fpr"`
	TPR float64 `json:"tpr"`
}

// Model is the trained, persisted artifact: classifier state, the fitted
// normalizer, raw genuine statistics for the feature sub-score, chosen
// hyperparameters, and the training report.
type Model struct {
	SchemaVersion int       `json:"schema_version"`
	UserID        int64     `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`

	Classifier *knn.Classifier `json:"classifier"`
	Normalizer *knn.Normalizer `json:"normalizer"`

	// Raw (un-normalized) genuine-class statistics, used by the
	// feature sub-score at authentication time.
	RawGenuineMean []float64 `json:"raw_genuine_mean"`
	RawGenuineStd  []float64 `json:"raw_genuine_std"`

	// GenuineCount is the number of genuine samples the model was
	// trained on; it keys the adaptive fusion weight tier.
	GenuineCount int `json:"genuine_count"`

	Report TrainingReport `json:"report"`
}

// Validate checks the structural invariants of a loaded model.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("nil model")
	}
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported model schema version %d", m.SchemaVersion)
	}
	if m.Classifier == nil || !m.Classifier.Fitted() {
		return fmt.Errorf("model has no fitted classifier")
	}
	if err := m.Classifier.Params.Validate(); err != nil {
		return fmt.Errorf("classifier params: %w", err)
	}
	if m.Normalizer == nil || m.Normalizer.Dim() == 0 {
		return fmt.Errorf("model has no normalizer")
	}
	if len(m.RawGenuineMean) != m.Normalizer.Dim() || len(m.RawGenuineStd) != m.Normalizer.Dim() {
		return fmt.Errorf("genuine statistics dimension mismatch")
	}
	if m.GenuineCount <= 0 {
		return fmt.Errorf("model trained on no genuine samples")
	}
	if len(m.Classifier.GenuineSupport()) == 0 {
		return fmt.Errorf("classifier support holds no genuine vectors")
	}
	return nil
}
