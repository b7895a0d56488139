// Package evaluation turns scored authentication attempts into the
// biometric error metrics used to judge and tune the system: FAR, FRR,
// EER, accuracy across a threshold sweep, and the ROC curve with its
// area.
package evaluation

import (
	"errors"
	"math"
	"sort"
)

// Label marks an attempt as made by the enrolled user or anyone else.
type Label int

const (
	// LabelImpostor marks an attempt by someone other than the user.
	LabelImpostor Label = 0
	// LabelGenuine marks an attempt by the enrolled user.
	LabelGenuine Label = 1
)

// Attempt is one scored authentication attempt.
type Attempt struct {
	Label Label   `json:"label"`
	Score float64 `json:"score"`
}

// MetricPoint holds the confusion counts and error rates at one
// threshold. Rates are fractions in [0,1].
type MetricPoint struct {
	Threshold float64 `json:"threshold"`
	FAR       float64 `json:"far"`
	FRR       float64 `json:"frr"`
	// EER is (FAR+FRR)/2 at this threshold; the sweep's reported EER
	// point is the one minimizing it. On a discrete grid a true
	// FAR=FRR crossing may not exist, so this is an approximation.
	EER      float64 `json:"eer"`
	Accuracy float64 `json:"accuracy"`
	TP       int     `json:"tp"`
	FP       int     `json:"fp"`
	TN       int     `json:"tn"`
	FN       int     `json:"fn"`
}

// Report is the full evaluation result over a threshold sweep.
type Report struct {
	Sweep   []MetricPoint `json:"sweep"`
	Optimal MetricPoint   `json:"optimal"`
	// AtThreshold is the sweep point nearest the caller's operating
	// threshold.
	AtThreshold MetricPoint `json:"at_threshold"`
	ROC         []Point     `json:"roc"`
	ROCAUC      float64     `json:"roc_auc"`

	GenuineCount  int `json:"genuine_count"`
	ImpostorCount int `json:"impostor_count"`

	// NoGenuine/NoImpostors flag that FRR resp. FAR are undefined
	// (reported as 0) because the class was empty.
	NoGenuine   bool `json:"no_genuine,omitempty"`
	NoImpostors bool `json:"no_impostors,omitempty"`
}

// Point is one (FPR, TPR) point of a ROC curve.
type Point struct {
	FPR float64 `json:"fpr"`
	TPR float64 `json:"tpr"`
}

// ErrNoAttempts is returned when evaluating an empty attempt list.
var ErrNoAttempts = errors.New("no attempts to evaluate")

// Sweep bounds: every 0.05 from 0.10 to 0.95 inclusive.
const (
	sweepStart = 0.10
	sweepEnd   = 0.95
	sweepStep  = 0.05
)

// Evaluate computes the metric sweep, the minimum-EER operating point,
// the point nearest operatingThreshold, and the ROC curve.
func Evaluate(attempts []Attempt, operatingThreshold float64) (*Report, error) {
	if len(attempts) == 0 {
		return nil, ErrNoAttempts
	}

	report := &Report{}
	for _, a := range attempts {
		if a.Label == LabelGenuine {
			report.GenuineCount++
		} else {
			report.ImpostorCount++
		}
	}
	report.NoGenuine = report.GenuineCount == 0
	report.NoImpostors = report.ImpostorCount == 0

	for t := sweepStart; t <= sweepEnd+sweepStep/2; t += sweepStep {
		report.Sweep = append(report.Sweep, pointAt(attempts, round2(t), report))
	}

	report.Optimal = report.Sweep[0]
	report.AtThreshold = report.Sweep[0]
	for _, p := range report.Sweep[1:] {
		if p.EER < report.Optimal.EER {
			report.Optimal = p
		}
		if math.Abs(p.Threshold-operatingThreshold) < math.Abs(report.AtThreshold.Threshold-operatingThreshold) {
			report.AtThreshold = p
		}
	}

	if !report.NoGenuine && !report.NoImpostors {
		report.ROC, report.ROCAUC = ROC(attempts)
	}

	return report, nil
}

// pointAt computes one MetricPoint. An attempt is accepted when
// score >= threshold.
func pointAt(attempts []Attempt, threshold float64, r *Report) MetricPoint {
	p := MetricPoint{Threshold: threshold}
	for _, a := range attempts {
		accepted := a.Score >= threshold
		switch {
		case a.Label == LabelGenuine && accepted:
			p.TP++
		case a.Label == LabelGenuine && !accepted:
			p.FN++
		case a.Label == LabelImpostor && accepted:
			p.FP++
		default:
			p.TN++
		}
	}

	// Empty classes leave the corresponding rate at 0 rather than
	// dividing by zero; the report's NoGenuine/NoImpostors flags tell
	// callers the value is not meaningful.
	if r.ImpostorCount > 0 {
		p.FAR = float64(p.FP) / float64(r.ImpostorCount)
	}
	if r.GenuineCount > 0 {
		p.FRR = float64(p.FN) / float64(r.GenuineCount)
	}
	p.EER = (p.FAR + p.FRR) / 2
	p.Accuracy = float64(p.TP+p.TN) / float64(len(attempts))
	return p
}

// ROC computes the ROC curve and its trapezoidal area. Requires both
// classes present; callers guard with the report flags.
func ROC(attempts []Attempt) ([]Point, float64) {
	sorted := make([]Attempt, len(attempts))
	copy(sorted, attempts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var totalPos, totalNeg int
	for _, a := range sorted {
		if a.Label == LabelGenuine {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return nil, 0
	}

	points := []Point{{FPR: 0, TPR: 0}}
	var tp, fp int
	var auc float64
	prev := points[0]

	for i := 0; i < len(sorted); {
		// Advance over score ties together so the curve does not
		// depend on tie ordering.
		score := sorted[i].Score
		for i < len(sorted) && sorted[i].Score == score {
			if sorted[i].Label == LabelGenuine {
				tp++
			} else {
				fp++
			}
			i++
		}
		p := Point{
			FPR: float64(fp) / float64(totalNeg),
			TPR: float64(tp) / float64(totalPos),
		}
		auc += (p.FPR - prev.FPR) * (p.TPR + prev.TPR) / 2
		points = append(points, p)
		prev = p
	}

	return points, auc
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
