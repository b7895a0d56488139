package keystroke

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// NumFeatures is the dimensionality of a feature vector.
const NumFeatures = 6

// Feature vector component indexes.
const (
	IdxAvgDwell = iota
	IdxStdDwell
	IdxAvgFlight
	IdxStdFlight
	IdxTypingSpeed
	IdxTotalTime
)

// FeatureNames lists the component names in vector order.
var FeatureNames = [NumFeatures]string{
	"avg_dwell_time",
	"std_dwell_time",
	"avg_flight_time",
	"std_flight_time",
	"typing_speed",
	"total_typing_time",
}

// FeatureVector is the fixed 6-dimensional typing-rhythm descriptor.
// Times are seconds; typing speed is key presses per second.
type FeatureVector struct {
	AvgDwellTime    float64 `json:"avg_dwell_time"`
	StdDwellTime    float64 `json:"std_dwell_time"`
	AvgFlightTime   float64 `json:"avg_flight_time"`
	StdFlightTime   float64 `json:"std_flight_time"`
	TypingSpeed     float64 `json:"typing_speed"`
	TotalTypingTime float64 `json:"total_typing_time"`
}

// Values returns the vector as an ordered slice.
func (v FeatureVector) Values() []float64 {
	return []float64{
		v.AvgDwellTime, v.StdDwellTime,
		v.AvgFlightTime, v.StdFlightTime,
		v.TypingSpeed, v.TotalTypingTime,
	}
}

// FromValues builds a FeatureVector from an ordered slice.
func FromValues(vals []float64) (FeatureVector, error) {
	if len(vals) != NumFeatures {
		return FeatureVector{}, fmt.Errorf("feature vector must have %d components, got %d", NumFeatures, len(vals))
	}
	return FeatureVector{
		AvgDwellTime:    vals[0],
		StdDwellTime:    vals[1],
		AvgFlightTime:   vals[2],
		StdFlightTime:   vals[3],
		TypingSpeed:     vals[4],
		TotalTypingTime: vals[5],
	}, nil
}

// IsEmpty reports whether this is the all-zero sentinel produced by a
// degenerate capture. Empty vectors must never be trained on or scored.
func (v FeatureVector) IsEmpty() bool {
	for _, x := range v.Values() {
		if x != 0 {
			return false
		}
	}
	return true
}

// Valid reports whether every component is finite and non-negative.
func (v FeatureVector) Valid() bool {
	for _, x := range v.Values() {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return false
		}
	}
	return true
}

// Extraction errors.
var (
	// ErrTooFewEvents is returned when fewer than two complete
	// press/release pairs exist in the session.
	ErrTooFewEvents = errors.New("too few completed key pairs for feature extraction")

	// ErrEmptyFeatures is returned when extraction yields the all-zero
	// sentinel. Callers must treat this as a failed capture, not data.
	ErrEmptyFeatures = errors.New("degenerate capture produced empty features")
)

// minKeyPairs is the smallest number of completed press/release pairs a
// session must contain to be extractable.
const minKeyPairs = 2

// ExtractFeatures converts a session's ordered events into a feature
// vector. expectedKeys is the phrase length the caller asked the user to
// type; 0 disables the check.
//
// Extraction is deterministic: identical event sequences always yield
// identical vectors.
func ExtractFeatures(session *RecordingSession, expectedKeys int) (FeatureVector, error) {
	if session == nil {
		return FeatureVector{}, fmt.Errorf("%w: nil session", ErrTooFewEvents)
	}

	dwells := dwellTimes(session.Events)
	if len(dwells) < minKeyPairs {
		return FeatureVector{}, fmt.Errorf("%w: %d pairs, need %d", ErrTooFewEvents, len(dwells), minKeyPairs)
	}
	if expectedKeys > 0 && session.PressCount() < expectedKeys/2 {
		return FeatureVector{}, fmt.Errorf("%w: %d presses for a %d-key phrase",
			ErrTooFewEvents, session.PressCount(), expectedKeys)
	}

	flights := flightTimes(session.Events)

	avgDwell, stdDwell := meanStd(dwells)
	avgFlight, stdFlight := meanStd(flights)

	firstPress, lastRelease, ok := spanTimestamps(session.Events)
	var totalTime, speed float64
	if ok {
		totalTime = lastRelease.Sub(firstPress).Seconds()
		if totalTime > 0 {
			speed = float64(session.PressCount()) / totalTime
		}
	}
	if totalTime < 0 {
		totalTime = 0
	}

	v := FeatureVector{
		AvgDwellTime:    avgDwell,
		StdDwellTime:    stdDwell,
		AvgFlightTime:   avgFlight,
		StdFlightTime:   stdFlight,
		TypingSpeed:     speed,
		TotalTypingTime: totalTime,
	}

	if v.IsEmpty() {
		return FeatureVector{}, ErrEmptyFeatures
	}
	return v, nil
}

// dwellTimes pairs each press with the next release of the same key, in
// arrival order. Unmatched events are discarded.
func dwellTimes(events []KeyEvent) []float64 {
	var dwells []float64
	used := make([]bool, len(events))

	for i, e := range events {
		if e.Kind != KindPress {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			if used[j] || events[j].Kind != KindRelease || events[j].KeyID != e.KeyID {
				continue
			}
			d := events[j].Timestamp.Sub(e.Timestamp).Seconds()
			if d >= 0 {
				dwells = append(dwells, d)
			}
			used[j] = true
			break
		}
	}
	return dwells
}

// flightTimes pairs each release with the next press of any key in
// arrival order. Negative gaps (overlapping keys, auto-repeat) floor at 0.
func flightTimes(events []KeyEvent) []float64 {
	var flights []float64
	for i, e := range events {
		if e.Kind != KindRelease {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			if events[j].Kind != KindPress {
				continue
			}
			f := events[j].Timestamp.Sub(e.Timestamp).Seconds()
			if f < 0 {
				f = 0
			}
			flights = append(flights, f)
			break
		}
	}
	return flights
}

// spanTimestamps returns the first press and last release timestamps.
func spanTimestamps(events []KeyEvent) (first, last time.Time, ok bool) {
	var haveFirst, haveLast bool
	for _, e := range events {
		if e.Kind == KindPress && !haveFirst {
			first = e.Timestamp
			haveFirst = true
		}
		if e.Kind == KindRelease {
			last = e.Timestamp
			haveLast = true
		}
	}
	return first, last, haveFirst && haveLast
}

// meanStd computes the sample mean and population standard deviation
// (ddof=0) of a series. Empty series yield (0, 0).
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
