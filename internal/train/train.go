// Package train builds a typing-rhythm model from recorded sessions:
// feature extraction, synthetic impostor generation, normalization,
// hyperparameter search and a held-out quality report.
package train

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"typeprint/internal/evaluation"
	"typeprint/internal/keystroke"
	"typeprint/internal/knn"
	"typeprint/internal/logging"
	"typeprint/internal/profile"
	"typeprint/internal/synth"
)

// MinTrainingSamples is the default minimum number of usable genuine
// samples required to train.
const MinTrainingSamples = 50

// Training errors.
var (
	// ErrInsufficientData is returned when too few usable genuine
	// samples remain after dropping invalid ones.
	ErrInsufficientData = errors.New("insufficient training samples")

	// ErrNumericalFailure is returned when the pipeline produces
	// non-finite or degenerate intermediate data.
	ErrNumericalFailure = errors.New("numerical failure during training")
)

// Options control the training pipeline. Zero values fall back to the
// defaults from DefaultOptions.
type Options struct {
	// MinSamples is the minimum usable genuine sample count.
	MinSamples int

	// NegativeRatio is the synthetic negatives generated per positive.
	NegativeRatio float64

	// HoldoutFraction of the combined set is reserved for the final
	// quality report and never seen during the grid search.
	HoldoutFraction float64

	// CVFolds is the number of stratified cross-validation folds.
	CVFolds int

	// MaxNeighbors caps the k grid.
	MaxNeighbors int

	// Seed makes training reproducible; 0 draws a random seed.
	Seed int64
}

// DefaultOptions returns the standard training configuration.
func DefaultOptions() Options {
	return Options{
		MinSamples:      MinTrainingSamples,
		NegativeRatio:   1.0,
		HoldoutFraction: 0.25,
		CVFolds:         5,
		MaxNeighbors:    15,
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.MinSamples <= 0 {
		o.MinSamples = d.MinSamples
	}
	if o.NegativeRatio <= 0 {
		o.NegativeRatio = d.NegativeRatio
	}
	if o.HoldoutFraction <= 0 || o.HoldoutFraction >= 1 {
		o.HoldoutFraction = d.HoldoutFraction
	}
	if o.CVFolds < 2 {
		o.CVFolds = d.CVFolds
	}
	if o.MaxNeighbors < 3 {
		o.MaxNeighbors = d.MaxNeighbors
	}
	if o.Seed == 0 {
		o.Seed = rand.Int63()
	}
}

// Trainer runs the training pipeline.
type Trainer struct {
	opts Options
	log  *logging.Logger
}

// New creates a trainer. A nil logger uses the default.
func New(opts Options, log *logging.Logger) *Trainer {
	opts.fillDefaults()
	if log == nil {
		log = logging.Default()
	}
	return &Trainer{opts: opts, log: log.WithComponent("train")}
}

// Train extracts features from the sessions and trains a model.
// Sessions that fail extraction or carry invalid values are dropped
// first; the minimum-sample check runs on what remains, so a batch that
// arrives large enough can still fail here.
func (t *Trainer) Train(userID int64, sessions []*keystroke.RecordingSession) (*profile.Model, error) {
	var positives []keystroke.FeatureVector
	dropped := 0
	for _, s := range sessions {
		v, err := keystroke.ExtractFeatures(s, 0)
		if err != nil || !v.Valid() || v.IsEmpty() {
			dropped++
			continue
		}
		positives = append(positives, v)
	}
	if dropped > 0 {
		t.log.Warn("dropped unusable sessions", "user_id", userID, "dropped", dropped, "usable", len(positives))
	}
	return t.TrainVectors(userID, positives, dropped)
}

// TrainVectors trains a model from already-extracted genuine vectors.
// dropped is carried into the report for audit.
func (t *Trainer) TrainVectors(userID int64, positives []keystroke.FeatureVector, dropped int) (*profile.Model, error) {
	start := time.Now()

	if len(positives) < t.opts.MinSamples {
		return nil, fmt.Errorf("%w: %d usable samples, need %d", ErrInsufficientData, len(positives), t.opts.MinSamples)
	}
	for _, v := range positives {
		if !v.Valid() || v.IsEmpty() {
			return nil, fmt.Errorf("%w: invalid genuine vector", ErrNumericalFailure)
		}
	}

	synthesizer := synth.New(t.opts.NegativeRatio, t.opts.Seed, t.log)
	negatives, quality, err := synthesizer.Generate(positives)
	if err != nil {
		return nil, fmt.Errorf("generate impostor class: %w", err)
	}

	matrix := make([][]float64, 0, len(positives)+len(negatives))
	labels := make([]int, 0, len(positives)+len(negatives))
	for _, v := range positives {
		matrix = append(matrix, v.Values())
		labels = append(labels, knn.LabelGenuine)
	}
	for _, v := range negatives {
		matrix = append(matrix, v.Values())
		labels = append(labels, knn.LabelImpostor)
	}

	normalizer, err := knn.FitNormalizer(matrix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericalFailure, err)
	}
	normalized, err := normalizer.TransformAll(matrix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumericalFailure, err)
	}

	rng := rand.New(rand.NewSource(t.opts.Seed))
	trainIdx, testIdx := stratifiedSplit(labels, t.opts.HoldoutFraction, rng)

	trainX, trainY := gather(normalized, labels, trainIdx)
	testX, testY := gather(normalized, labels, testIdx)

	params, cvAccuracy, degraded := t.searchParams(trainX, trainY, rng)
	if degraded {
		t.log.Warn("dataset too small for grid search, using fixed parameters",
			"user_id", userID, "k", params.K)
	}

	clf, err := knn.NewClassifier(params)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	if err := clf.Fit(trainX, trainY); err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}

	report := profile.TrainingReport{
		PositiveSamples:   len(positives),
		NegativeSamples:   len(negatives),
		DroppedSamples:    dropped,
		CVAccuracy:        cvAccuracy,
		SearchDegraded:    degraded,
		SynthMinDistance:  quality.MinDistance,
		SynthMeanDistance: quality.MeanDistance,
		TrainedAt:         start.UTC(),
	}
	if err := t.evaluateHoldout(clf, testX, testY, &report); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)

	rawMean, rawStd := classStats(positives)

	model := &profile.Model{
		SchemaVersion:  profile.SchemaVersion,
		UserID:         userID,
		CreatedAt:      start.UTC(),
		Classifier:     clf,
		Normalizer:     normalizer,
		RawGenuineMean: rawMean,
		RawGenuineStd:  rawStd,
		GenuineCount:   len(positives),
		Report:         report,
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("trained model failed validation: %w", err)
	}

	t.log.Info("model trained",
		"user_id", userID,
		"positives", len(positives),
		"negatives", len(negatives),
		"k", params.K,
		"weighting", params.Weighting,
		"metric", params.Metric,
		"cv_accuracy", cvAccuracy,
		"test_accuracy", report.TestAccuracy,
		"roc_auc", report.ROCAUC,
		"duration", report.Duration,
	)
	return model, nil
}

// searchParams grid-searches k, weighting and metric with stratified
// cross-validation on the training partition. Ties break toward the
// lower k because the grid is walked in ascending k order and only a
// strictly better score replaces the incumbent. When the partition is
// too small to offer any k candidate, the search degrades to a fixed
// small-k distance-weighted configuration.
func (t *Trainer) searchParams(trainX [][]float64, trainY []int, rng *rand.Rand) (knn.Params, float64, bool) {
	var ks []int
	maxK := t.opts.MaxNeighbors
	if limit := len(trainX) / 3; limit < maxK {
		maxK = limit
	}
	for k := 3; k <= maxK; k += 2 {
		ks = append(ks, k)
	}

	if len(ks) == 0 {
		k := 3
		if len(trainX) < k {
			k = len(trainX)
		}
		if k < 1 {
			k = 1
		}
		return knn.Params{K: k, Weighting: knn.WeightDistance, Metric: knn.MetricEuclidean}, 0, true
	}

	folds := stratifiedFolds(trainY, t.opts.CVFolds, rng)

	best := knn.Params{}
	bestScore := -1.0
	for _, k := range ks {
		for _, w := range []knn.Weighting{knn.WeightUniform, knn.WeightDistance} {
			for _, m := range []knn.Metric{knn.MetricEuclidean, knn.MetricManhattan} {
				p := knn.Params{K: k, Weighting: w, Metric: m}
				score := crossValidate(p, trainX, trainY, folds)
				if score > bestScore {
					best = p
					bestScore = score
				}
			}
		}
	}
	return best, bestScore, false
}

// crossValidate returns the mean validation accuracy of the parameters
// across the folds.
func crossValidate(p knn.Params, x [][]float64, y []int, folds [][]int) float64 {
	var sum float64
	evaluated := 0
	for f := range folds {
		var fitIdx []int
		for g := range folds {
			if g != f {
				fitIdx = append(fitIdx, folds[g]...)
			}
		}
		if len(fitIdx) == 0 || len(folds[f]) == 0 {
			continue
		}

		fitX, fitY := gather(x, y, fitIdx)
		clf, err := knn.NewClassifier(p)
		if err != nil {
			continue
		}
		if err := clf.Fit(fitX, fitY); err != nil {
			continue
		}

		correct := 0
		for _, i := range folds[f] {
			pred, err := clf.Predict(x[i])
			if err == nil && pred == y[i] {
				correct++
			}
		}
		sum += float64(correct) / float64(len(folds[f]))
		evaluated++
	}
	if evaluated == 0 {
		return 0
	}
	return sum / float64(evaluated)
}

// evaluateHoldout fills the held-out metrics of the report. The genuine
// class is positive for precision/recall/F1.
func (t *Trainer) evaluateHoldout(clf *knn.Classifier, testX [][]float64, testY []int, report *profile.TrainingReport) error {
	if len(testX) == 0 {
		return nil
	}

	var tp, fp, tn, fn int
	attempts := make([]evaluation.Attempt, 0, len(testX))
	for i, x := range testX {
		p, err := clf.Proba(x)
		if err != nil {
			return fmt.Errorf("%w: score holdout: %v", ErrNumericalFailure, err)
		}
		label := evaluation.LabelImpostor
		if testY[i] == knn.LabelGenuine {
			label = evaluation.LabelGenuine
		}
		attempts = append(attempts, evaluation.Attempt{Label: label, Score: p})

		pred := knn.LabelImpostor
		if p >= 0.5 {
			pred = knn.LabelGenuine
		}
		switch {
		case testY[i] == knn.LabelGenuine && pred == knn.LabelGenuine:
			tp++
		case testY[i] == knn.LabelGenuine:
			fn++
		case pred == knn.LabelGenuine:
			fp++
		default:
			tn++
		}
	}

	report.TestAccuracy = float64(tp+tn) / float64(len(testX))
	if tp+fp > 0 {
		report.TestPrecision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		report.TestRecall = float64(tp) / float64(tp+fn)
	}
	if report.TestPrecision+report.TestRecall > 0 {
		report.TestF1 = 2 * report.TestPrecision * report.TestRecall / (report.TestPrecision + report.TestRecall)
	}

	if points, auc := evaluation.ROC(attempts); points != nil {
		report.ROCAUC = auc
		report.ROCPoints = make([]profile.ROCPoint, len(points))
		for i, p := range points {
			report.ROCPoints[i] = profile.ROCPoint{FPR: p.FPR, TPR: p.TPR}
		}
	}
	return nil
}

// stratifiedSplit shuffles each class independently and reserves
// testFraction of it, keeping at least one sample of each class on both
// sides when the class has two or more members.
func stratifiedSplit(labels []int, testFraction float64, rng *rand.Rand) (trainIdx, testIdx []int) {
	byClass := map[int][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}

	for _, class := range []int{knn.LabelGenuine, knn.LabelImpostor} {
		idx := byClass[class]
		if len(idx) == 0 {
			continue
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(float64(len(idx)) * testFraction)
		if nTest < 1 && len(idx) >= 2 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	return trainIdx, testIdx
}

// stratifiedFolds deals each class's shuffled indices round-robin into
// the folds so every fold sees both classes.
func stratifiedFolds(labels []int, n int, rng *rand.Rand) [][]int {
	if n > len(labels) {
		n = len(labels)
	}
	if n < 2 {
		n = 2
	}
	folds := make([][]int, n)

	byClass := map[int][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}
	for _, class := range []int{knn.LabelGenuine, knn.LabelImpostor} {
		idx := byClass[class]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, sample := range idx {
			folds[i%n] = append(folds[i%n], sample)
		}
	}
	return folds
}

// gather selects rows and labels at the given indices.
func gather(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i] = x[j]
		outY[i] = y[j]
	}
	return outX, outY
}

// classStats computes per-dimension mean and population standard
// deviation of the raw genuine vectors, persisted for the feature
// deviation sub-score.
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
