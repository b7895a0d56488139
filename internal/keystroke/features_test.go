package keystroke

import (
	"errors"
	"math"
	"testing"
	"time"
)

// typeSequence records a press/release pair per key with the given
// dwell and flight times.
func typeSequence(t *testing.T, keys []string, dwell, flight time.Duration) *RecordingSession {
	t.Helper()
	s := NewRecordingSession(1)
	now := time.Unix(0, 0)
	for _, k := range keys {
		if err := s.Record(k, KindPress, now); err != nil {
			t.Fatalf("record press: %v", err)
		}
		if err := s.Record(k, KindRelease, now.Add(dwell)); err != nil {
			t.Fatalf("record release: %v", err)
		}
		now = now.Add(dwell + flight)
	}
	s.Close()
	return s
}

func TestExtractFeaturesUniformRhythm(t *testing.T) {
	dwell := 100 * time.Millisecond
	flight := 150 * time.Millisecond
	s := typeSequence(t, []string{"h", "e", "l", "l", "o"}, dwell, flight)

	v, err := ExtractFeatures(s, 0)
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}

	if got, want := v.AvgDwellTime, 0.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("AvgDwellTime = %v, want %v", got, want)
	}
	if v.StdDwellTime > 1e-9 {
		t.Errorf("StdDwellTime = %v, want 0 for uniform rhythm", v.StdDwellTime)
	}
	if got, want := v.AvgFlightTime, 0.15; math.Abs(got-want) > 1e-9 {
		t.Errorf("AvgFlightTime = %v, want %v", got, want)
	}
	// 5 presses over 4*(dwell+flight)+dwell = 1.1s
	if got, want := v.TotalTypingTime, 1.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("TotalTypingTime = %v, want %v", got, want)
	}
	if got, want := v.TypingSpeed, 5/1.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("TypingSpeed = %v, want %v", got, want)
	}
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	s := typeSequence(t, []string{"a", "b", "c", "d"}, 80*time.Millisecond, 120*time.Millisecond)

	v1, err := ExtractFeatures(s, 0)
	if err != nil {
		t.Fatalf("first extraction: %v", err)
	}
	v2, err := ExtractFeatures(s, 0)
	if err != nil {
		t.Fatalf("second extraction: %v", err)
	}
	if v1 != v2 {
		t.Errorf("extraction not deterministic: %+v != %+v", v1, v2)
	}
}

func TestExtractFeaturesOverlappingKeysFloorsFlight(t *testing.T) {
	// Rollover typing: "b" is pressed before "a" is released.
	s := NewRecordingSession(1)
	now := time.Unix(0, 0)
	s.Record("a", KindPress, now)
	s.Record("b", KindPress, now.Add(50*time.Millisecond))
	s.Record("a", KindRelease, now.Add(90*time.Millisecond))
	s.Record("b", KindRelease, now.Add(160*time.Millisecond))
	s.Record("c", KindPress, now.Add(200*time.Millisecond))
	s.Record("c", KindRelease, now.Add(280*time.Millisecond))
	s.Close()

	v, err := ExtractFeatures(s, 0)
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if !v.Valid() {
		t.Errorf("overlapping keys produced invalid vector: %+v", v)
	}
	if v.AvgFlightTime < 0 {
		t.Errorf("AvgFlightTime = %v, negative gaps must floor at 0", v.AvgFlightTime)
	}
}

func TestExtractFeaturesTooFewEvents(t *testing.T) {
	s := typeSequence(t, []string{"a"}, 80*time.Millisecond, 0)

	_, err := ExtractFeatures(s, 0)
	if !errors.Is(err, ErrTooFewEvents) {
		t.Errorf("err = %v, want ErrTooFewEvents", err)
	}
}

func TestExtractFeaturesIncompletePhrase(t *testing.T) {
	// 3 presses against an expected 10-key phrase.
	s := typeSequence(t, []string{"a", "b", "c"}, 80*time.Millisecond, 100*time.Millisecond)

	if _, err := ExtractFeatures(s, 10); !errors.Is(err, ErrTooFewEvents) {
		t.Errorf("err = %v, want ErrTooFewEvents for incomplete phrase", err)
	}
	if _, err := ExtractFeatures(s, 6); err != nil {
		t.Errorf("half the phrase should be enough, got %v", err)
	}
}

func TestExtractFeaturesUnmatchedEventsDiscarded(t *testing.T) {
	s := typeSequence(t, []string{"a", "b", "c"}, 80*time.Millisecond, 100*time.Millisecond)
	// A press with no matching release.
	s.Closed = false
	s.Record("x", KindPress, time.Unix(10, 0))
	s.Close()

	v, err := ExtractFeatures(s, 0)
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if !v.Valid() {
		t.Errorf("unmatched press corrupted the vector: %+v", v)
	}
}

func TestExtractFeaturesZeroSpanIsEmpty(t *testing.T) {
	// All events at the same instant collapse every feature to zero.
	s := NewRecordingSession(1)
	at := time.Unix(0, 0)
	for _, k := range []string{"a", "b", "c"} {
		s.Record(k, KindPress, at)
		s.Record(k, KindRelease, at)
	}
	s.Close()

	_, err := ExtractFeatures(s, 0)
	if !errors.Is(err, ErrEmptyFeatures) {
		t.Errorf("err = %v, want ErrEmptyFeatures", err)
	}
}

func TestRecordAfterClose(t *testing.T) {
	s := NewRecordingSession(1)
	s.Close()
	if err := s.Record("a", KindPress, time.Now()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestFeatureVectorRoundTrip(t *testing.T) {
	v := FeatureVector{
		AvgDwellTime:    0.08,
		StdDwellTime:    0.02,
		AvgFlightTime:   0.12,
		StdFlightTime:   0.03,
		TypingSpeed:     6.5,
		TotalTypingTime: 7.0,
	}
	got, err := FromValues(v.Values())
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	if got != v {
		t.Errorf("round trip mismatch: %+v != %+v", got, v)
	}

	if _, err := FromValues([]float64{1, 2, 3}); err == nil {
		t.Error("FromValues accepted a short slice")
	}
}

func TestFeatureVectorValid(t *testing.T) {
	good := FeatureVector{AvgDwellTime: 0.1, TypingSpeed: 5}
	if !good.Valid() {
		t.Error("finite non-negative vector reported invalid")
	}

	bad := good
	bad.AvgFlightTime = math.NaN()
	if bad.Valid() {
		t.Error("NaN vector reported valid")
	}

	neg := good
	neg.StdDwellTime = -0.01
	if neg.Valid() {
		t.Error("negative vector reported valid")
	}
}
